// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"docbrain-go/internal/chunker"
	"docbrain-go/internal/model"
	"docbrain-go/internal/repository"
	"docbrain-go/internal/vectorstore"
	"docbrain-go/pkg/log"
	"docbrain-go/pkg/storage"
	"docbrain-go/pkg/tasks"
)

// 文档相关的业务错误。
var (
	// ErrDocumentNotFound 表示文档不存在。
	ErrDocumentNotFound = errors.New("文档不存在")
	// ErrDocumentForbidden 表示调用方无权操作该文档。
	ErrDocumentForbidden = errors.New("没有权限操作此文档")
	// ErrEmptyDocument 表示入库请求既没有文本也没有分块。
	ErrEmptyDocument = errors.New("文档内容不能为空")
)

// TaskProducer 投递入库任务。*kafka.Producer 是生产实现。
type TaskProducer interface {
	ProduceIngestionTask(ctx context.Context, task tasks.IngestionTask) error
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	// IngestText 接收原始文本或预分块内容，创建文档记录并投递入库任务。
	IngestText(ctx context.Context, username, scope, docName, text string, chunks []string) (*model.Document, error)
	// UploadDocument 把上传文件存入 MinIO，创建文档记录并投递入库任务。
	UploadDocument(ctx context.Context, username, scope, fileName string, reader io.Reader, size int64, contentType string) (*model.Document, error)
	ListDocuments(username string, page, pageSize int) ([]model.Document, int64, error)
	DeleteDocument(ctx context.Context, docID uint, user *model.User) error
}

type documentService struct {
	docRepo       repository.DocumentRepository
	chunkRepo     repository.ChunkRepository
	chunker       *chunker.Chunker
	producer      TaskProducer
	storageClient *storage.Client
	store         vectorstore.Store
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	ck *chunker.Chunker,
	producer TaskProducer,
	storageClient *storage.Client,
	store vectorstore.Store,
) DocumentService {
	return &documentService{
		docRepo:       docRepo,
		chunkRepo:     chunkRepo,
		chunker:       ck,
		producer:      producer,
		storageClient: storageClient,
		store:         store,
	}
}

// IngestText 处理文本入库：优先使用调用方提供的预分块，否则服务端分块。
func (s *documentService) IngestText(ctx context.Context, username, scope, docName, text string, chunks []string) (*model.Document, error) {
	if len(chunks) == 0 {
		chunks = s.chunker.ChunkText(text)
	}
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}

	doc := &model.Document{
		Username: username,
		Scope:    scope,
		Name:     docName,
		Status:   model.DocStatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	task := tasks.IngestionTask{
		TaskID:       uuid.NewString(),
		DocID:        doc.ID,
		DocumentName: docName,
		Username:     username,
		Scope:        scope,
		Chunks:       chunks,
	}
	if err := s.producer.ProduceIngestionTask(ctx, task); err != nil {
		// 任务投递失败时文档停留在 pending，标记为 aborted 便于前端感知
		_ = s.docRepo.UpdateStatus(doc.ID, model.DocStatusAborted)
		return nil, fmt.Errorf("投递入库任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文本入库任务已投递, DocID: %d, TaskID: %s, 分块数: %d", doc.ID, task.TaskID, len(chunks))
	return doc, nil
}

// UploadDocument 处理文件上传入库：原始文件落 MinIO，消费端负责抽取与分块。
func (s *documentService) UploadDocument(ctx context.Context, username, scope, fileName string, reader io.Reader, size int64, contentType string) (*model.Document, error) {
	objectName := fmt.Sprintf("uploads/%s/%s-%s", username, uuid.NewString(), fileName)
	if err := s.storageClient.Put(ctx, objectName, reader, size, contentType); err != nil {
		return nil, fmt.Errorf("上传文件到对象存储失败: %w", err)
	}

	doc := &model.Document{
		Username:   username,
		Scope:      scope,
		Name:       fileName,
		ObjectName: objectName,
		Status:     model.DocStatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	task := tasks.IngestionTask{
		TaskID:       uuid.NewString(),
		DocID:        doc.ID,
		DocumentName: fileName,
		Username:     username,
		Scope:        scope,
		ObjectName:   objectName,
	}
	if err := s.producer.ProduceIngestionTask(ctx, task); err != nil {
		_ = s.docRepo.UpdateStatus(doc.ID, model.DocStatusAborted)
		return nil, fmt.Errorf("投递入库任务失败: %w", err)
	}

	log.Infof("[DocumentService] 文件入库任务已投递, DocID: %d, TaskID: %s, Object: %s", doc.ID, task.TaskID, objectName)
	return doc, nil
}

// ListDocuments 分页获取用户自己的文档列表。
func (s *documentService) ListDocuments(username string, page, pageSize int) ([]model.Document, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 10
	}
	return s.docRepo.FindByUserWithPagination(username, (page-1)*pageSize, pageSize)
}

// DeleteDocument 删除一个文档：向量记录、分块关联行、MinIO 对象、文档行。
func (s *documentService) DeleteDocument(ctx context.Context, docID uint, user *model.User) error {
	doc, err := s.docRepo.FindByID(docID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrDocumentNotFound
		}
		return err
	}

	if doc.Username != user.Username && user.Role != model.RoleAdmin {
		return ErrDocumentForbidden
	}

	filter := vectorstore.Filter{
		Username:     doc.Username,
		Scope:        doc.Scope,
		DocumentName: doc.Name,
	}
	if err := s.store.DeleteByFilter(ctx, filter); err != nil {
		return fmt.Errorf("删除向量记录失败: %w", err)
	}
	if err := s.chunkRepo.DeleteByDocumentID(doc.ID); err != nil {
		return fmt.Errorf("删除分块关联行失败: %w", err)
	}
	if doc.ObjectName != "" {
		if err := s.storageClient.Remove(ctx, doc.ObjectName); err != nil {
			// 对象清理失败不阻断删除，记录日志后继续
			log.Warnf("[DocumentService] 删除 MinIO 对象失败, Object: %s, Error: %v", doc.ObjectName, err)
		}
	}

	return s.docRepo.Delete(doc.ID)
}
