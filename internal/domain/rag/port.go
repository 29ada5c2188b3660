package rag

import "context"

// VectorIndex is the per-conversation nearest-neighbor store consumed by
// the ingestion pipeline and the retrieval engine. Implementations keep one
// isolated index per conversation id.
type VectorIndex interface {
	CreateIndex(ctx context.Context, conversationID string, dims int, model string) error
	DeleteIndex(ctx context.Context, conversationID string) error
	IndexModel(ctx context.Context, conversationID string) (string, error)
	Upsert(ctx context.Context, conversationID string, records []ChunkRecord) error
	Delete(ctx context.Context, conversationID string, chunkIDs []string) error
	Nearest(ctx context.Context, conversationID string, vector []float32, k int) ([]Hit, error)
	Count(ctx context.Context, conversationID string) (int, error)
	ChunkIDs(ctx context.Context, conversationID string) ([]string, error)
}

// DocumentStore persists Document metadata records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	UpdateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, conversationID string) ([]*Document, error)
	DeleteDocuments(ctx context.Context, conversationID string) error
}

// IngestLock serializes structural index mutations per conversation.
// Acquire blocks until the lock is held, the context is done, or the
// configured wait budget runs out.
type IngestLock interface {
	Acquire(ctx context.Context, conversationID string) (release func(), err error)
}

// QueryCacheStore caches retrieval results per conversation.
type QueryCacheStore interface {
	Get(ctx context.Context, conversationID, query string, k int) (*QueryResult, bool)
	Set(ctx context.Context, conversationID, query string, k int, result *QueryResult)
	InvalidateConversation(ctx context.Context, conversationID string)
}

// UploadRecorder appends an upload reference to a conversation's current
// turn. Implemented by the conversation store.
type UploadRecorder interface {
	AppendUpload(ctx context.Context, conversationID, documentID, filename string) error
}
