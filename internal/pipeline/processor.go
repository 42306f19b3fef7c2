// Package pipeline 定义了文档入库的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/panjf2000/ants/v2"

	"docbrain-go/internal/chunker"
	"docbrain-go/internal/model"
	"docbrain-go/internal/repository"
	"docbrain-go/internal/vectorstore"
	"docbrain-go/pkg/embedding"
	"docbrain-go/pkg/log"
	"docbrain-go/pkg/storage"
	"docbrain-go/pkg/tasks"
	"docbrain-go/pkg/tika"
)

// Processor 封装了文档入库的所有依赖和逻辑。
// 每个任务驱动文档状态机: pending -> embedding -> storing -> done，失败终态 aborted。
type Processor struct {
	chunker         *chunker.Chunker
	embeddingClient embedding.Client
	store           vectorstore.Store
	storageClient   *storage.Client
	tikaClient      *tika.Client
	userRepo        repository.UserRepository
	scopeRepo       repository.ScopeRepository
	docRepo         repository.DocumentRepository
	chunkRepo       repository.ChunkRepository
	pool            *ants.Pool
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	ck *chunker.Chunker,
	embeddingClient embedding.Client,
	store vectorstore.Store,
	storageClient *storage.Client,
	tikaClient *tika.Client,
	userRepo repository.UserRepository,
	scopeRepo repository.ScopeRepository,
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	pool *ants.Pool,
) *Processor {
	return &Processor{
		chunker:         ck,
		embeddingClient: embeddingClient,
		store:           store,
		storageClient:   storageClient,
		tikaClient:      tikaClient,
		userRepo:        userRepo,
		scopeRepo:       scopeRepo,
		docRepo:         docRepo,
		chunkRepo:       chunkRepo,
		pool:            pool,
	}
}

// chunkOutcome 记录单个分块的向量化结果，按输入下标归位。
type chunkOutcome struct {
	result *embedding.Result
	err    error
}

// Process 是入库任务的主函数。
// 返回 error 表示任务本次尝试失败，由消费端按重试策略重新投递。
func (p *Processor) Process(ctx context.Context, task tasks.IngestionTask) error {
	log.Infof("[Processor] 开始处理入库任务, TaskID: %s, Document: %s, User: %s, Scope: %s",
		task.TaskID, task.DocumentName, task.Username, task.Scope)

	// 1. 解析分块来源：内联分块或 MinIO 对象
	chunks, err := p.resolveChunks(ctx, task)
	if err != nil {
		p.markAborted(task.DocID)
		return err
	}
	if len(chunks) == 0 {
		log.Warnf("[Processor] 任务未产生任何分块, 视为空文档完成, TaskID: %s", task.TaskID)
		p.updateProgress(task.DocID, model.DocStatusDone, 0, 0)
		return nil
	}
	log.Infof("[Processor] 步骤1: 分块解析完成, 共 %d 个分块", len(chunks))

	// 2. 确保用户与 scope 存在
	if _, err := p.userRepo.GetOrCreate(task.Username); err != nil {
		p.markAborted(task.DocID)
		return fmt.Errorf("确保用户 '%s' 存在失败: %w", task.Username, err)
	}
	if _, err := p.scopeRepo.GetOrCreate(task.Scope); err != nil {
		p.markAborted(task.DocID)
		return fmt.Errorf("确保 scope '%s' 存在失败: %w", task.Scope, err)
	}
	log.Infof("[Processor] 步骤2: 用户与 scope 已就绪")

	// 3. 向量化：所有分块提交到共享协程池，按下标归位保证 chunk_index 与输入顺序一致
	p.updateStatus(task.DocID, model.DocStatusEmbedding)
	log.Infof("[Processor] 步骤3: 开始向量化 %d 个分块", len(chunks))

	outcomes := p.embedChunks(ctx, chunks)

	// 致命错误（连接失败、维度不符）中止整批，本次尝试不落任何数据
	records := make([]vectorstore.Record, 0, len(chunks))
	recordIndexes := make([]int, 0, len(chunks))
	skipped := 0
	for i, out := range outcomes {
		if out.err != nil {
			var connErr *embedding.ConnectionError
			var dimErr *embedding.DimensionError
			if errors.As(out.err, &connErr) || errors.As(out.err, &dimErr) {
				log.Errorf("[Processor] 分块 %d 向量化遇到致命错误, 中止任务: %v", i, out.err)
				p.markAborted(task.DocID)
				return fmt.Errorf("分块 %d 向量化失败: %w", i, out.err)
			}
			// 其余错误（如取消）是致命错误的连带结果，继续扫描找到根因
			continue
		}
		if out.result.Degraded {
			log.Warnf("[Processor] 分块 %d 向量化降级, 跳过该分块", i)
			skipped++
			continue
		}
		records = append(records, vectorstore.Record{
			Content: out.result.Text,
			Vector:  out.result.Vector,
			Meta: vectorstore.Meta{
				Username:     task.Username,
				Scope:        task.Scope,
				DocumentName: task.DocumentName,
				DocumentID:   task.DocID,
				ChunkIndex:   i,
			},
		})
		recordIndexes = append(recordIndexes, i)
	}

	// 扫描中没有命中致命错误但存在失败结果，说明有分块既没成功也没降级
	for i, out := range outcomes {
		if out.err != nil {
			p.markAborted(task.DocID)
			return fmt.Errorf("分块 %d 向量化失败: %w", i, out.err)
		}
	}

	log.Infof("[Processor] 步骤3: 向量化完成, 成功 %d, 降级跳过 %d", len(records), skipped)

	if len(records) == 0 {
		log.Warnf("[Processor] 所有分块均降级跳过, 文档无可入库内容, TaskID: %s", task.TaskID)
		p.updateProgress(task.DocID, model.DocStatusDone, len(chunks), 0)
		return nil
	}

	// 4. 入库：先清理该文档既有的向量与关联行（重跑替换而非累加），再整批写入
	p.updateStatus(task.DocID, model.DocStatusStoring)
	log.Infof("[Processor] 步骤4: 开始写入向量存储, 共 %d 条记录", len(records))

	filter := vectorstore.Filter{
		Username:     task.Username,
		Scope:        task.Scope,
		DocumentName: task.DocumentName,
	}
	if err := p.store.DeleteByFilter(ctx, filter); err != nil {
		p.markAborted(task.DocID)
		return fmt.Errorf("清理既有向量记录失败: %w", err)
	}
	if err := p.chunkRepo.DeleteByDocumentID(task.DocID); err != nil {
		p.markAborted(task.DocID)
		return fmt.Errorf("清理既有分块关联行失败: %w", err)
	}

	ids, err := p.store.Store(ctx, records)
	if err != nil {
		p.markAborted(task.DocID)
		return fmt.Errorf("批量写入向量存储失败: %w", err)
	}

	links := make([]model.DocumentChunk, 0, len(ids))
	for j, id := range ids {
		links = append(links, model.DocumentChunk{
			DocumentID: task.DocID,
			ChunkIndex: recordIndexes[j],
			VectorID:   id,
		})
	}
	if err := p.chunkRepo.BatchCreate(links); err != nil {
		p.markAborted(task.DocID)
		return fmt.Errorf("写入分块关联行失败: %w", err)
	}

	p.updateProgress(task.DocID, model.DocStatusDone, len(chunks), len(records))
	log.Infof("[Processor] 入库任务处理成功, TaskID: %s, 入库 %d/%d 个分块", task.TaskID, len(records), len(chunks))
	return nil
}

// resolveChunks 解析任务的分块来源。内联分块直接使用；
// 否则从 MinIO 下载对象，经 Tika 抽取文本后分块。
func (p *Processor) resolveChunks(ctx context.Context, task tasks.IngestionTask) ([]string, error) {
	if len(task.Chunks) > 0 {
		return task.Chunks, nil
	}
	if task.ObjectName == "" {
		return nil, nil
	}

	log.Infof("[Processor] 从 MinIO 下载对象: %s", task.ObjectName)
	object, err := p.storageClient.Get(ctx, task.ObjectName)
	if err != nil {
		return nil, fmt.Errorf("从 MinIO 下载对象失败: %w", err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	size, err := buf.ReadFrom(object)
	if err != nil {
		return nil, fmt.Errorf("读取 MinIO 对象流失败: %w", err)
	}
	if size == 0 {
		log.Warnf("[Processor] 对象 '%s' 内容为空", task.ObjectName)
		return nil, nil
	}

	textContent, err := p.tikaClient.ExtractText(ctx, bytes.NewReader(buf.Bytes()), task.DocumentName)
	if err != nil {
		return nil, fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	if textContent == "" {
		log.Warnf("[Processor] Tika 提取的文本内容为空, Document: %s", task.DocumentName)
		return nil, nil
	}
	log.Infof("[Processor] 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	return p.chunker.ChunkText(textContent), nil
}

// embedChunks 把所有分块提交到共享协程池并发向量化。
// 第一个致命错误会取消整批剩余工作；结果按输入下标归位。
func (p *Processor) embedChunks(ctx context.Context, chunks []string) []chunkOutcome {
	outcomes := make([]chunkOutcome, len(chunks))

	embedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i, text := range chunks {
		i, text := i, text
		wg.Add(1)
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			if embedCtx.Err() != nil {
				outcomes[i] = chunkOutcome{err: embedCtx.Err()}
				return
			}
			result, err := p.embeddingClient.GenerateEmbedding(embedCtx, text)
			outcomes[i] = chunkOutcome{result: result, err: err}
			if err != nil {
				var connErr *embedding.ConnectionError
				var dimErr *embedding.DimensionError
				if errors.As(err, &connErr) || errors.As(err, &dimErr) {
					cancel()
				}
			}
		})
		if submitErr != nil {
			wg.Done()
			outcomes[i] = chunkOutcome{err: fmt.Errorf("提交向量化任务到协程池失败: %w", submitErr)}
			cancel()
		}
	}
	wg.Wait()

	return outcomes
}

// updateStatus 更新文档状态，失败仅记录日志，不影响任务流转。
func (p *Processor) updateStatus(docID uint, status string) {
	if docID == 0 {
		return
	}
	if err := p.docRepo.UpdateStatus(docID, status); err != nil {
		log.Warnf("[Processor] 更新文档 %d 状态为 '%s' 失败: %v", docID, status, err)
	}
}

// updateProgress 更新文档状态与分块统计，失败仅记录日志。
func (p *Processor) updateProgress(docID uint, status string, chunkCount, storedCount int) {
	if docID == 0 {
		return
	}
	if err := p.docRepo.UpdateProgress(docID, status, chunkCount, storedCount); err != nil {
		log.Warnf("[Processor] 更新文档 %d 处理进度失败: %v", docID, err)
	}
}

// markAborted 把文档标记为终态 aborted。
func (p *Processor) markAborted(docID uint) {
	p.updateStatus(docID, model.DocStatusAborted)
}
