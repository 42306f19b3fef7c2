// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"docbrain-go/internal/config"
	"docbrain-go/pkg/log"
)

// Client 包装了 MinIO 客户端和默认存储桶，提供对象的存取删除操作。
type Client struct {
	client     *minio.Client
	bucketName string
}

// New 初始化 MinIO 客户端并确保指定的存储桶存在。
func New(cfg config.MinIOConfig) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	ctx := context.Background()
	exists, err := mc.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("[MinIO] 存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := mc.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("[MinIO] 存储桶 '%s' 创建成功", cfg.BucketName)
	}

	log.Info("[MinIO] 客户端初始化成功")
	return &Client{client: mc, bucketName: cfg.BucketName}, nil
}

// Put 把 reader 的内容写入默认存储桶下的 objectName。
func (c *Client) Put(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucketName, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("写入 MinIO 对象 '%s' 失败: %w", objectName, err)
	}
	return nil
}

// Get 返回 objectName 的读取流，调用方负责关闭。
func (c *Client) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	obj, err := c.client.GetObject(ctx, c.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象 '%s' 失败: %w", objectName, err)
	}
	return obj, nil
}

// Remove 删除默认存储桶下的 objectName。对象不存在不视为错误。
func (c *Client) Remove(ctx context.Context, objectName string) error {
	if err := c.client.RemoveObject(ctx, c.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除 MinIO 对象 '%s' 失败: %w", objectName, err)
	}
	return nil
}
