package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	applog "docuchat/internal/platform/log"
)

// Retriever 检索引擎。只读操作，不修改任何共享状态。
type Retriever struct {
	index    VectorIndex
	embedder Embedder
	config   *Config
	cache    QueryCacheStore // 可选
}

// NewRetriever 创建检索引擎
func NewRetriever(index VectorIndex, embedder Embedder, config *Config) *Retriever {
	return &Retriever{
		index:    index,
		embedder: embedder,
		config:   config,
	}
}

// SetCache 设置检索缓存
func (r *Retriever) SetCache(c QueryCacheStore) {
	r.cache = c
}

// DefaultTopK 返回默认 k 值
func (r *Retriever) DefaultTopK() int {
	return r.config.DefaultTopK
}

// Query 检索会话索引中与 query 最相近的 k 个块。
// k 必须在 [1, MaxTopK] 内；空索引返回空结果而不是错误。
func (r *Retriever) Query(ctx context.Context, conversationID, query string, k int) (*QueryResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}
	if k < 1 || k > r.config.MaxTopK {
		return nil, fmt.Errorf("%w: k must be in [1, %d], got %d", ErrInvalidArgument, r.config.MaxTopK, k)
	}

	start := time.Now()

	// 查询缓存
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, conversationID, query, k); ok {
			return cached, nil
		}
	}

	// 模型一致性检查：索引记录的 embedding 模型必须与当前模型一致，
	// 否则相似度分数没有意义
	indexModel, err := r.index.IndexModel(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("check index model: %w", err)
	}
	if indexModel != "" && indexModel != r.embedder.Model() {
		return nil, fmt.Errorf("%w: index built with %q, current embedder is %q",
			ErrEmbedderMismatch, indexModel, r.embedder.Model())
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := r.index.Nearest(ctx, conversationID, vectors[0], k)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	// 分数降序，同分时序号小的块优先
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.Seq < hits[j].Record.Seq
	})

	chunks := make([]ScoredChunk, 0, len(hits))
	for _, h := range hits {
		chunks = append(chunks, ScoredChunk{
			ChunkID:  h.Record.ChunkID,
			DocID:    h.Record.DocID,
			Filename: h.Record.Filename,
			Page:     h.Record.Page,
			Seq:      h.Record.Seq,
			Text:     h.Record.Text,
			Score:    h.Score,
		})
	}

	result := &QueryResult{
		Chunks:    chunks,
		ElapsedMs: time.Since(start).Milliseconds(),
	}

	applog.Info("[RAG] Query",
		"conversation_id", conversationID,
		"top_k", k,
		"hits", len(chunks),
		"elapsed_ms", result.ElapsedMs,
	)

	// 写入缓存
	if r.cache != nil {
		cached := cloneQueryResult(result)
		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			r.cache.Set(cacheCtx, conversationID, query, k, cached)
		}()
	}

	return result, nil
}

func cloneQueryResult(result *QueryResult) *QueryResult {
	if result == nil {
		return nil
	}
	cloned := *result
	if len(result.Chunks) > 0 {
		cloned.Chunks = append([]ScoredChunk(nil), result.Chunks...)
	}
	return &cloned
}

// FormatContext 将检索结果格式化为 LLM 上下文文本
func FormatContext(chunks []ScoredChunk) string {
	if len(chunks) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, c := range chunks {
		sb.WriteString(fmt.Sprintf("[%d] ", i+1))
		sb.WriteString(c.Text)
		if c.Filename != "" {
			sb.WriteString(fmt.Sprintf("\n(来源: %s", c.Filename))
			if c.Page > 0 {
				sb.WriteString(fmt.Sprintf(", 第%d页", c.Page))
			}
			sb.WriteString(")")
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
