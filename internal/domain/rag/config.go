package rag

import "fmt"

// 分块默认参数。完整文档与临时文本使用不同档位。
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	DefaultTextChunkSize    = 500
	DefaultTextChunkOverlap = 50
)

// Config RAG 模块配置
type Config struct {
	// Chunker 配置
	ChunkSize        int `json:"chunk_size"`
	ChunkOverlap     int `json:"chunk_overlap"`
	TextChunkSize    int `json:"text_chunk_size"`
	TextChunkOverlap int `json:"text_chunk_overlap"`

	// 检索配置
	DefaultTopK   int     `json:"default_top_k"`
	MaxTopK       int     `json:"max_top_k"`
	MinSimilarity float64 `json:"min_similarity"`

	// Embedding
	EmbeddingModel          string `json:"embedding_model"`
	EmbeddingDims           int    `json:"embedding_dims"`
	EmbeddingBatchSize      int    `json:"embedding_batch_size"`
	EmbeddingTimeoutSeconds int    `json:"embedding_timeout_seconds"`

	// 向量索引后端：memory | http
	VectorBackend  string `json:"vector_backend"`
	VectorURL      string `json:"vector_url"`
	VectorUsername string `json:"vector_username"`
	VectorPassword string `json:"vector_password"`
	IndexPrefix    string `json:"index_prefix"`

	// 缓存配置
	CacheTTL int `json:"cache_ttl"` // 缓存 TTL（秒），0=禁用

	// 孤儿向量清理间隔（秒），0=禁用
	ReconcileIntervalSeconds int `json:"reconcile_interval_seconds"`

	// 最大文件大小（MB）
	MaxFileSize int `json:"max_file_size"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:               DefaultChunkSize,
		ChunkOverlap:            DefaultChunkOverlap,
		TextChunkSize:           DefaultTextChunkSize,
		TextChunkOverlap:        DefaultTextChunkOverlap,
		DefaultTopK:             5,
		MaxTopK:                 20,
		MinSimilarity:           0.25,
		EmbeddingModel:          "text-embedding-3-small",
		EmbeddingDims:           1536,
		EmbeddingBatchSize:      64,
		EmbeddingTimeoutSeconds: 30,
		VectorBackend:           "memory",
		VectorURL:               "https://localhost:9200",
		IndexPrefix:             "conv",
		CacheTTL:                300, // 5分钟
		MaxFileSize:             50,  // 50MB
	}
}

// Normalize 回填缺省值。
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.TextChunkSize <= 0 {
		c.TextChunkSize = def.TextChunkSize
	}
	if c.TextChunkOverlap < 0 || c.TextChunkOverlap >= c.TextChunkSize {
		c.TextChunkOverlap = c.TextChunkSize / 10
	}
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = def.DefaultTopK
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = def.MaxTopK
	}
	if c.EmbeddingBatchSize <= 0 {
		c.EmbeddingBatchSize = def.EmbeddingBatchSize
	}
	if c.EmbeddingTimeoutSeconds <= 0 {
		c.EmbeddingTimeoutSeconds = def.EmbeddingTimeoutSeconds
	}
	if c.VectorBackend == "" {
		c.VectorBackend = def.VectorBackend
	}
	if c.IndexPrefix == "" {
		c.IndexPrefix = def.IndexPrefix
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = def.MaxFileSize
	}
}

// Validate 校验配置合法性。
func (c *Config) Validate() error {
	if c.EmbeddingDims <= 0 {
		return fmt.Errorf("rag: embedding_dims must be positive, got %d", c.EmbeddingDims)
	}
	if c.DefaultTopK > c.MaxTopK {
		return fmt.Errorf("rag: default_top_k %d exceeds max_top_k %d", c.DefaultTopK, c.MaxTopK)
	}
	switch c.VectorBackend {
	case "memory", "http":
	default:
		return fmt.Errorf("rag: unknown vector_backend %q", c.VectorBackend)
	}
	return nil
}

// HasCache 是否启用缓存
func (c *Config) HasCache() bool {
	return c.CacheTTL > 0
}

// MaxFileBytes 最大文件大小（字节）
func (c *Config) MaxFileBytes() int64 {
	return int64(c.MaxFileSize) << 20
}
