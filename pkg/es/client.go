// Package es 提供了 Elasticsearch 客户端的构造函数。
package es

import (
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/elastic/go-elasticsearch/v8"

	"docbrain-go/internal/config"
)

// NewClient 根据配置创建 Elasticsearch 客户端。
// 客户端实例由调用方持有并注入到向量存储层，不再使用包级全局变量。
func NewClient(cfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.Addresses},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Elasticsearch 客户端失败: %w", err)
	}
	return client, nil
}
