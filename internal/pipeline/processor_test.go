package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbrain-go/internal/chunker"
	"docbrain-go/internal/model"
	"docbrain-go/internal/vectorstore"
	"docbrain-go/pkg/embedding"
	"docbrain-go/pkg/tasks"
)

const testDims = 3

// fakeEmbedder 按可配置函数生成向量，记录调用次数。
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fn    func(text string) (*embedding.Result, error)
}

func (f *fakeEmbedder) GenerateEmbedding(_ context.Context, text string) (*embedding.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(text)
}

func okEmbedder() *fakeEmbedder {
	return &fakeEmbedder{fn: func(text string) (*embedding.Result, error) {
		return &embedding.Result{Text: text, Vector: []float32{1, 0, 0}}, nil
	}}
}

type fakeUserRepo struct {
	mu      sync.Mutex
	created []string
}

func (f *fakeUserRepo) Create(*model.User) error { return nil }
func (f *fakeUserRepo) FindByUsername(string) (*model.User, error) { return nil, nil }
func (f *fakeUserRepo) Update(*model.User) error { return nil }
func (f *fakeUserRepo) FindByID(uint) (*model.User, error) { return nil, nil }
func (f *fakeUserRepo) FindWithPagination(int, int) ([]model.User, int64, error) {
	return nil, 0, nil
}
func (f *fakeUserRepo) GetOrCreate(username string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, username)
	return &model.User{ID: 1, Username: username}, nil
}

type fakeScopeRepo struct {
	mu      sync.Mutex
	created []string
}

func (f *fakeScopeRepo) Create(*model.Scope) error { return nil }
func (f *fakeScopeRepo) FindByName(string) (*model.Scope, error) { return nil, nil }
func (f *fakeScopeRepo) FindAll() ([]model.Scope, error) { return nil, nil }
func (f *fakeScopeRepo) GetOrCreate(name string) (*model.Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, name)
	return &model.Scope{ID: 1, Name: name}, nil
}

type fakeDocRepo struct {
	mu        sync.Mutex
	statuses  []string
	chunkCnt  int
	storedCnt int
}

func (f *fakeDocRepo) Create(*model.Document) error { return nil }
func (f *fakeDocRepo) FindByID(uint) (*model.Document, error) { return nil, nil }
func (f *fakeDocRepo) Delete(uint) error { return nil }
func (f *fakeDocRepo) FindByUserWithPagination(string, int, int) ([]model.Document, int64, error) {
	return nil, 0, nil
}
func (f *fakeDocRepo) UpdateStatus(_ uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}
func (f *fakeDocRepo) UpdateProgress(_ uint, status string, chunkCount, storedCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	f.chunkCnt = chunkCount
	f.storedCnt = storedCount
	return nil
}
func (f *fakeDocRepo) lastStatus() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ""
	}
	return f.statuses[len(f.statuses)-1]
}

type fakeChunkRepo struct {
	mu    sync.Mutex
	links []model.DocumentChunk
}

func (f *fakeChunkRepo) BatchCreate(chunks []model.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = append(f.links, chunks...)
	return nil
}
func (f *fakeChunkRepo) FindByDocumentID(uint) ([]model.DocumentChunk, error) { return nil, nil }
func (f *fakeChunkRepo) DeleteByScope(string) error { return nil }
func (f *fakeChunkRepo) DeleteByDocumentID(uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = nil
	return nil
}

type processorFixture struct {
	processor *Processor
	embedder  *fakeEmbedder
	store     *vectorstore.MemoryStore
	docRepo   *fakeDocRepo
	chunkRepo *fakeChunkRepo
	userRepo  *fakeUserRepo
	scopeRepo *fakeScopeRepo
}

func newFixture(t *testing.T, embedder *fakeEmbedder) *processorFixture {
	t.Helper()
	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)

	f := &processorFixture{
		embedder:  embedder,
		store:     vectorstore.NewMemoryStore(testDims),
		docRepo:   &fakeDocRepo{},
		chunkRepo: &fakeChunkRepo{},
		userRepo:  &fakeUserRepo{},
		scopeRepo: &fakeScopeRepo{},
	}
	f.processor = NewProcessor(
		chunker.New(500, 50),
		embedder,
		f.store,
		nil, // 仅内联分块路径，不触达 MinIO
		nil, // 不触达 Tika
		f.userRepo,
		f.scopeRepo,
		f.docRepo,
		f.chunkRepo,
		pool,
	)
	return f
}

func inlineTask(chunks []string) tasks.IngestionTask {
	return tasks.IngestionTask{
		TaskID:       "task-1",
		DocID:        42,
		DocumentName: "a.txt",
		Username:     "alice",
		Scope:        "eng",
		Chunks:       chunks,
	}
}

func TestProcessorProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("stores every chunk and links vector ids in input order", func(t *testing.T) {
		f := newFixture(t, okEmbedder())

		err := f.processor.Process(ctx, inlineTask([]string{"one", "two", "three"}))
		require.NoError(t, err)

		assert.Equal(t, 3, f.store.Len())
		assert.Equal(t, model.DocStatusDone, f.docRepo.lastStatus())
		assert.Equal(t, 3, f.docRepo.chunkCnt)
		assert.Equal(t, 3, f.docRepo.storedCnt)
		assert.Equal(t, []string{"alice"}, f.userRepo.created)
		assert.Equal(t, []string{"eng"}, f.scopeRepo.created)

		require.Len(t, f.chunkRepo.links, 3)
		for i, link := range f.chunkRepo.links {
			assert.Equal(t, uint(42), link.DocumentID)
			assert.Equal(t, i, link.ChunkIndex)
			assert.NotEmpty(t, link.VectorID)
		}
	})

	t.Run("chunk index follows input order even with concurrent embedding", func(t *testing.T) {
		f := newFixture(t, okEmbedder())

		chunks := make([]string, 16)
		for i := range chunks {
			chunks[i] = fmt.Sprintf("chunk-%02d", i)
		}
		require.NoError(t, f.processor.Process(ctx, inlineTask(chunks)))

		require.Len(t, f.chunkRepo.links, 16)
		for i, link := range f.chunkRepo.links {
			assert.Equal(t, i, link.ChunkIndex)
		}
	})

	t.Run("degraded chunks are skipped while the batch continues", func(t *testing.T) {
		embedder := &fakeEmbedder{fn: func(text string) (*embedding.Result, error) {
			if text == "bad" {
				return &embedding.Result{Text: text, Vector: embedding.ZeroVector(testDims), Degraded: true}, nil
			}
			return &embedding.Result{Text: text, Vector: []float32{1, 0, 0}}, nil
		}}
		f := newFixture(t, embedder)

		err := f.processor.Process(ctx, inlineTask([]string{"good", "bad", "also good"}))
		require.NoError(t, err)

		assert.Equal(t, 2, f.store.Len())
		assert.Equal(t, model.DocStatusDone, f.docRepo.lastStatus())
		assert.Equal(t, 3, f.docRepo.chunkCnt)
		assert.Equal(t, 2, f.docRepo.storedCnt)

		// 跳过的分块不占用 chunk_index，保留原始下标
		require.Len(t, f.chunkRepo.links, 2)
		assert.Equal(t, 0, f.chunkRepo.links[0].ChunkIndex)
		assert.Equal(t, 2, f.chunkRepo.links[1].ChunkIndex)
	})

	t.Run("connection error aborts the task without storing anything", func(t *testing.T) {
		embedder := &fakeEmbedder{fn: func(text string) (*embedding.Result, error) {
			if text == "poison" {
				return nil, &embedding.ConnectionError{Attempts: 3, Err: fmt.Errorf("dial tcp: refused")}
			}
			return &embedding.Result{Text: text, Vector: []float32{1, 0, 0}}, nil
		}}
		f := newFixture(t, embedder)

		err := f.processor.Process(ctx, inlineTask([]string{"ok", "poison", "ok too"}))
		require.Error(t, err)
		var connErr *embedding.ConnectionError
		assert.ErrorAs(t, err, &connErr)

		assert.Zero(t, f.store.Len())
		assert.Empty(t, f.chunkRepo.links)
		assert.Equal(t, model.DocStatusAborted, f.docRepo.lastStatus())
	})

	t.Run("dimension error aborts the task", func(t *testing.T) {
		embedder := &fakeEmbedder{fn: func(string) (*embedding.Result, error) {
			return nil, &embedding.DimensionError{Want: testDims, Got: 768}
		}}
		f := newFixture(t, embedder)

		err := f.processor.Process(ctx, inlineTask([]string{"any"}))
		require.Error(t, err)
		var dimErr *embedding.DimensionError
		assert.ErrorAs(t, err, &dimErr)
		assert.Equal(t, model.DocStatusAborted, f.docRepo.lastStatus())
	})

	t.Run("all chunks degraded completes as a no-op", func(t *testing.T) {
		embedder := &fakeEmbedder{fn: func(text string) (*embedding.Result, error) {
			return &embedding.Result{Text: text, Vector: embedding.ZeroVector(testDims), Degraded: true}, nil
		}}
		f := newFixture(t, embedder)

		err := f.processor.Process(ctx, inlineTask([]string{"a", "b"}))
		require.NoError(t, err)

		assert.Zero(t, f.store.Len())
		assert.Equal(t, model.DocStatusDone, f.docRepo.lastStatus())
		assert.Equal(t, 2, f.docRepo.chunkCnt)
		assert.Zero(t, f.docRepo.storedCnt)
	})

	t.Run("no chunks is a no-op success", func(t *testing.T) {
		f := newFixture(t, okEmbedder())

		err := f.processor.Process(ctx, inlineTask(nil))
		require.NoError(t, err)

		assert.Zero(t, f.embedder.calls)
		assert.Zero(t, f.store.Len())
		assert.Equal(t, model.DocStatusDone, f.docRepo.lastStatus())
	})

	t.Run("re-processing replaces prior records instead of duplicating", func(t *testing.T) {
		f := newFixture(t, okEmbedder())
		task := inlineTask([]string{"one", "two"})

		require.NoError(t, f.processor.Process(ctx, task))
		require.NoError(t, f.processor.Process(ctx, task))

		assert.Equal(t, 2, f.store.Len())
		assert.Len(t, f.chunkRepo.links, 2)
	})
}
