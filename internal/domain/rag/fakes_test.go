package rag

import (
	"context"
	"fmt"
	"sync"
)

// ── 测试替身 ──────────────────────────────────────────────────

type fakeEmbedder struct {
	model string
	dims  int
	err   error
}

func (f *fakeEmbedder) Model() string { return f.model }
func (f *fakeEmbedder) Dims() int     { return f.dims }

// Embed 生成确定性向量：首维为文本 rune 数，便于测试断言。
func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, f.err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(len([]rune(t)))
		for j := 1; j < f.dims; j++ {
			v[j] = 1
		}
		out[i] = v
	}
	return out, nil
}

type fakeIndex struct {
	mu        sync.Mutex
	model     map[string]string
	records   map[string]map[string]ChunkRecord // convID -> chunkID -> record
	hits      []Hit                             // Nearest 固定返回
	upsertErr error
	deleteErr error
	deletes   int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		model:   make(map[string]string),
		records: make(map[string]map[string]ChunkRecord),
	}
}

func (f *fakeIndex) CreateIndex(ctx context.Context, conversationID string, dims int, model string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.model[conversationID] = model
	f.records[conversationID] = make(map[string]ChunkRecord)
	return nil
}

func (f *fakeIndex) DeleteIndex(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.model, conversationID)
	delete(f.records, conversationID)
	return nil
}

func (f *fakeIndex) IndexModel(ctx context.Context, conversationID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.model[conversationID]
	if !ok {
		return "", fmt.Errorf("%w: conversation %s", ErrIndexNotFound, conversationID)
	}
	return m, nil
}

func (f *fakeIndex) Upsert(ctx context.Context, conversationID string, records []ChunkRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.records[conversationID] == nil {
		f.records[conversationID] = make(map[string]ChunkRecord)
	}
	for _, r := range records {
		f.records[conversationID][r.ChunkID] = r
	}
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, conversationID string, chunkIDs []string) error {
	f.mu.Lock()
	f.deletes++
	f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range chunkIDs {
		delete(f.records[conversationID], id)
	}
	return nil
}

func (f *fakeIndex) Nearest(ctx context.Context, conversationID string, vector []float32, k int) ([]Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Count(ctx context.Context, conversationID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records[conversationID]), nil
}

func (f *fakeIndex) ChunkIDs(ctx context.Context, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id := range f.records[conversationID] {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeDocStore struct {
	mu        sync.Mutex
	docs      map[string]*Document
	updateErr error // 第一次失败后清除，模拟单次故障
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string]*Document)}
}

func (f *fakeDocStore) CreateDocument(ctx context.Context, doc *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *doc
	f.docs[doc.ID] = &copied
	return nil
}

func (f *fakeDocStore) UpdateDocument(ctx context.Context, doc *Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil && doc.Status == DocumentStatusProcessed {
		err := f.updateErr
		f.updateErr = nil
		return err
	}
	copied := *doc
	f.docs[doc.ID] = &copied
	return nil
}

func (f *fakeDocStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

func (f *fakeDocStore) ListDocuments(ctx context.Context, conversationID string) ([]*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Document
	for _, doc := range f.docs {
		if doc.ConversationID == conversationID {
			copied := *doc
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeDocStore) DeleteDocuments(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, doc := range f.docs {
		if doc.ConversationID == conversationID {
			delete(f.docs, id)
		}
	}
	return nil
}

// noopLock 串行测试里不需要真锁
type noopLock struct{}

func (noopLock) Acquire(ctx context.Context, conversationID string) (func(), error) {
	return func() {}, nil
}

// mutexLock 进程内真锁，用于并发入库测试
type mutexLock struct {
	mu sync.Mutex
}

func (l *mutexLock) Acquire(ctx context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	return l.mu.Unlock, nil
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = 100
	cfg.ChunkOverlap = 20
	cfg.TextChunkSize = 50
	cfg.TextChunkOverlap = 10
	cfg.EmbeddingModel = "test-embedding"
	cfg.EmbeddingDims = 4
	return cfg
}
