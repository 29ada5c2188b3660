package rag

import "time"

// DocumentStatus 文档处理状态
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusProcessed  DocumentStatus = "processed"
	DocumentStatusError      DocumentStatus = "error"
)

// Document 已入库文档的元数据记录
type Document struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Filename       string            `json:"filename"`
	SizeBytes      int64             `json:"size_bytes"`
	DeclaredType   string            `json:"declared_type"`
	PageCount      int               `json:"page_count,omitempty"`
	Status         DocumentStatus    `json:"status"`
	StatusReason   string            `json:"status_reason,omitempty"`
	ChunkIDs       []string          `json:"chunk_ids"`
	ChunkCount     int               `json:"chunk_count"`
	EmbeddingModel string            `json:"embedding_model"`
	EmbeddingDims  int               `json:"embedding_dims"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Span 分块结果：清洗后文本上的一个带重叠区间
type Span struct {
	Text    string `json:"text"`
	Start   int    `json:"start"` // 清洗后文本中的起始偏移（字节）
	End     int    `json:"end"`   // 结束偏移（开区间）
	Seq     int    `json:"seq"`
	Overlap int    `json:"overlap"` // 与前一块重叠的字符数
}

// ChunkRecord 写入向量索引的单条记录
type ChunkRecord struct {
	ChunkID        string    `json:"chunk_id"`
	DocID          string    `json:"doc_id"`
	ConversationID string    `json:"conversation_id"`
	Filename       string    `json:"filename"`
	UploadDate     time.Time `json:"upload_date"`
	Page           int       `json:"page,omitempty"`
	Seq            int       `json:"seq"`
	Size           int       `json:"size"`
	Overlap        int       `json:"overlap"`
	Text           string    `json:"text"`
	Vector         []float32 `json:"vector,omitempty"`
}

// Hit 最近邻查询的单条命中
type Hit struct {
	Record ChunkRecord `json:"record"`
	Score  float64     `json:"score"` // cosine 相似度，越大越相近
}

// ScoredChunk 检索引擎返回的单条结果
type ScoredChunk struct {
	ChunkID  string  `json:"chunk_id"`
	DocID    string  `json:"doc_id"`
	Filename string  `json:"filename"`
	Page     int     `json:"page,omitempty"`
	Seq      int     `json:"seq"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}

// QueryResult 检索结果
type QueryResult struct {
	Chunks    []ScoredChunk `json:"chunks"`
	ElapsedMs int64         `json:"elapsed_ms"`
}
