package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"docuchat/internal/domain/rag"
	applog "docuchat/internal/platform/log"
)

// memIndex 单个会话的向量索引
type memIndex struct {
	mu      sync.RWMutex
	dims    int
	model   string
	records map[string]rag.ChunkRecord // key = chunk id
}

// MemoryIndex 进程内向量索引：每个会话一个独立索引，
// 外层 map 按会话 id 做 key 级隔离，暴力余弦检索。
type MemoryIndex struct {
	mu      sync.RWMutex
	indexes map[string]*memIndex
}

// NewMemoryIndex 创建进程内向量索引
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		indexes: make(map[string]*memIndex),
	}
}

// CreateIndex 为会话创建空索引
func (m *MemoryIndex) CreateIndex(ctx context.Context, conversationID string, dims int, model string) error {
	if dims <= 0 {
		return fmt.Errorf("invalid dims %d", dims)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.indexes[conversationID]; ok {
		// 重复创建：同模型视为幂等，不同模型拒绝
		if existing.model == model && existing.dims == dims {
			return nil
		}
		return fmt.Errorf("index for conversation %s already exists with model %q", conversationID, existing.model)
	}

	m.indexes[conversationID] = &memIndex{
		dims:    dims,
		model:   model,
		records: make(map[string]rag.ChunkRecord),
	}
	applog.Debug("[Vector/Memory] Index created", "conversation_id", conversationID, "dims", dims, "model", model)
	return nil
}

// DeleteIndex 删除会话索引
func (m *MemoryIndex) DeleteIndex(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.indexes[conversationID]; !ok {
		return fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	delete(m.indexes, conversationID)
	return nil
}

// IndexModel 返回索引记录的 embedding 模型标识
func (m *MemoryIndex) IndexModel(ctx context.Context, conversationID string) (string, error) {
	idx, err := m.get(conversationID)
	if err != nil {
		return "", err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.model, nil
}

// Upsert 批量写入向量记录
func (m *MemoryIndex) Upsert(ctx context.Context, conversationID string, records []rag.ChunkRecord) error {
	idx, err := m.get(conversationID)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, rec := range records {
		if len(rec.Vector) != idx.dims {
			return fmt.Errorf("chunk %s: vector dims %d, index dims %d", rec.ChunkID, len(rec.Vector), idx.dims)
		}
	}
	for _, rec := range records {
		idx.records[rec.ChunkID] = rec
	}
	return nil
}

// Delete 按 chunk id 批量删除
func (m *MemoryIndex) Delete(ctx context.Context, conversationID string, chunkIDs []string) error {
	idx, err := m.get(conversationID)
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range chunkIDs {
		delete(idx.records, id)
	}
	return nil
}

// Nearest 余弦相似度最近邻。同分时序号小的块优先，保证结果确定。
func (m *MemoryIndex) Nearest(ctx context.Context, conversationID string, vector []float32, k int) ([]rag.Hit, error) {
	idx, err := m.get(conversationID)
	if err != nil {
		return nil, err
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.records) == 0 {
		return nil, nil
	}
	if len(vector) != idx.dims {
		return nil, fmt.Errorf("query vector dims %d, index dims %d", len(vector), idx.dims)
	}

	hits := make([]rag.Hit, 0, len(idx.records))
	for _, rec := range idx.records {
		hits = append(hits, rag.Hit{
			Record: rec,
			Score:  cosineSimilarity(vector, rec.Vector),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Record.Seq != hits[j].Record.Seq {
			return hits[i].Record.Seq < hits[j].Record.Seq
		}
		return hits[i].Record.ChunkID < hits[j].Record.ChunkID
	})

	if k < len(hits) {
		hits = hits[:k]
	}
	return hits, nil
}

// Count 返回索引中的记录数
func (m *MemoryIndex) Count(ctx context.Context, conversationID string) (int, error) {
	idx, err := m.get(conversationID)
	if err != nil {
		return 0, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records), nil
}

// ChunkIDs 返回索引中全部 chunk id
func (m *MemoryIndex) ChunkIDs(ctx context.Context, conversationID string) ([]string, error) {
	idx, err := m.get(conversationID)
	if err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.records))
	for id := range idx.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryIndex) get(conversationID string) (*memIndex, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, ok := m.indexes[conversationID]
	if !ok {
		return nil, fmt.Errorf("%w: conversation %s", rag.ErrIndexNotFound, conversationID)
	}
	return idx, nil
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
