package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"docuchat/internal/domain/chat"
	"docuchat/internal/domain/rag"
)

type Conversation = chat.Conversation
type Turn = chat.Turn
type Citation = chat.Citation
type Upload = chat.Upload

type Document = rag.Document

// Repository PostgreSQL 存储：会话（轮次为 JSONB 追加数组）与文档元数据。
type Repository struct {
	db *sql.DB
}

// NewRepository 创建 PostgreSQL 存储
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// EnsureConversationTable 确保 conversations 表存在
func (r *Repository) EnsureConversationTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS conversations (
		id              UUID PRIMARY KEY,
		title           VARCHAR(255) NOT NULL DEFAULT 'New Chat',
		status          VARCHAR(32) NOT NULL DEFAULT 'active',
		turns           JSONB NOT NULL DEFAULT '[]',
		embedding_model VARCHAR(128) NOT NULL DEFAULT '',
		embedding_dims  INT NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// EnsureDocumentTable 确保 documents 表存在
func (r *Repository) EnsureDocumentTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS documents (
		id              UUID PRIMARY KEY,
		conversation_id UUID NOT NULL,
		filename        VARCHAR(512) NOT NULL,
		size_bytes      BIGINT NOT NULL DEFAULT 0,
		declared_type   VARCHAR(32) NOT NULL DEFAULT '',
		page_count      INT NOT NULL DEFAULT 0,
		status          VARCHAR(32) NOT NULL DEFAULT 'pending',
		status_reason   TEXT NOT NULL DEFAULT '',
		chunk_ids       JSONB NOT NULL DEFAULT '[]',
		chunk_count     INT NOT NULL DEFAULT 0,
		embedding_model VARCHAR(128) NOT NULL DEFAULT '',
		embedding_dims  INT NOT NULL DEFAULT 0,
		metadata        JSONB,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_documents_conversation ON documents(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
	`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// ── 会话存储 ─────────────────────────────────────────────────

// CreateConversation 插入会话记录
func (r *Repository) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
	INSERT INTO conversations (id, title, status, turns, embedding_model, embedding_dims, created_at, updated_at)
	VALUES ($1, $2, $3, '[]', $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		conv.ID, conv.Title, conv.Status,
		conv.EmbeddingModel, conv.EmbeddingDims,
		conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

// GetConversation 读取会话（含轮次）。不存在返回 nil, nil。
func (r *Repository) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
	SELECT id, title, status, turns, embedding_model, embedding_dims, created_at, updated_at
	FROM conversations WHERE id = $1`

	var conv Conversation
	var turnsJSON []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conv.ID, &conv.Title, &conv.Status, &turnsJSON,
		&conv.EmbeddingModel, &conv.EmbeddingDims,
		&conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query conversation: %w", err)
	}

	if len(turnsJSON) > 0 {
		if err := json.Unmarshal(turnsJSON, &conv.Turns); err != nil {
			return nil, fmt.Errorf("unmarshal turns: %w", err)
		}
	}
	return &conv, nil
}

// ListConversations 列出未删除的会话（不带轮次，按更新时间倒序）
func (r *Repository) ListConversations(ctx context.Context, limit, offset int) ([]*Conversation, error) {
	query := `
	SELECT id, title, status, embedding_model, embedding_dims, created_at, updated_at
	FROM conversations
	WHERE status <> 'deleted'
	ORDER BY updated_at DESC
	LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(
			&conv.ID, &conv.Title, &conv.Status,
			&conv.EmbeddingModel, &conv.EmbeddingDims,
			&conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// DeleteConversation 删除会话记录
func (r *Repository) DeleteConversation(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// AppendTurn 原子追加一轮，序号由当前数组长度决定，随记录写入。
func (r *Repository) AppendTurn(ctx context.Context, conversationID string, turn *Turn) (int, error) {
	turnJSON, err := json.Marshal(turn)
	if err != nil {
		return 0, fmt.Errorf("marshal turn: %w", err)
	}

	query := `
	UPDATE conversations
	SET turns = turns || jsonb_build_array(($2::jsonb) || jsonb_build_object('index', jsonb_array_length(turns))),
	    updated_at = NOW()
	WHERE id = $1 AND status <> 'deleted'
	RETURNING jsonb_array_length(turns) - 1`

	var idx int
	err = r.db.QueryRowContext(ctx, query, conversationID, turnJSON).Scan(&idx)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: conversation %s", chat.ErrNotFound, conversationID)
	}
	if err != nil {
		return 0, fmt.Errorf("append turn: %w", err)
	}
	turn.Index = idx
	return idx, nil
}

// AttachAnswer 条件更新：仅当轮次仍处于 awaiting_answer 时写入回答。
func (r *Repository) AttachAnswer(ctx context.Context, conversationID string, turnIndex int, answer string, citations []Citation) error {
	if citations == nil {
		citations = []Citation{}
	}
	citJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	query := `
	UPDATE conversations
	SET turns = jsonb_set(
	        jsonb_set(
	            jsonb_set(turns, ARRAY[$2::text, 'answer'], to_jsonb($3::text)),
	            ARRAY[$2::text, 'state'], '"answered"'),
	        ARRAY[$2::text, 'citations'], $4::jsonb),
	    updated_at = NOW()
	WHERE id = $1 AND status <> 'deleted'
	  AND jsonb_array_length(turns) > $2
	  AND turns->$2->>'state' = 'awaiting_answer'`

	res, err := r.db.ExecContext(ctx, query, conversationID, turnIndex, answer, citJSON)
	if err != nil {
		return fmt.Errorf("attach answer: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach answer rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// 没更新到：区分轮次不存在与已有回答
	var state sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT turns->$2->>'state' FROM conversations WHERE id = $1 AND status <> 'deleted'`,
		conversationID, turnIndex,
	).Scan(&state)
	if err == sql.ErrNoRows || (err == nil && !state.Valid) {
		return fmt.Errorf("%w: turn %d of conversation %s", chat.ErrNotFound, turnIndex, conversationID)
	}
	if err != nil {
		return fmt.Errorf("inspect turn state: %w", err)
	}
	return fmt.Errorf("%w: turn %d already answered", chat.ErrConflict, turnIndex)
}

// AppendUpload 向最后一轮追加上传引用
func (r *Repository) AppendUpload(ctx context.Context, conversationID string, upload Upload) error {
	uploadJSON, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("marshal upload: %w", err)
	}

	query := `
	UPDATE conversations
	SET turns = jsonb_set(
	        turns,
	        ARRAY[(jsonb_array_length(turns) - 1)::text, 'uploads'],
	        COALESCE(turns->(jsonb_array_length(turns) - 1)->'uploads', '[]'::jsonb) || jsonb_build_array($2::jsonb)),
	    updated_at = NOW()
	WHERE id = $1 AND status <> 'deleted' AND jsonb_array_length(turns) > 0`

	res, err := r.db.ExecContext(ctx, query, conversationID, uploadJSON)
	if err != nil {
		return fmt.Errorf("append upload: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append upload rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1 AND status <> 'deleted')`,
		conversationID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check conversation: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: conversation %s", chat.ErrNotFound, conversationID)
	}
	return chat.ErrNoTurns
}

// ── 文档元数据存储 ────────────────────────────────────────────

// CreateDocument 插入文档记录
func (r *Repository) CreateDocument(ctx context.Context, doc *Document) error {
	chunkJSON, metaJSON, err := marshalDocJSON(doc)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO documents (id, conversation_id, filename, size_bytes, declared_type, page_count,
	                       status, status_reason, chunk_ids, chunk_count, embedding_model, embedding_dims,
	                       metadata, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.db.ExecContext(ctx, query,
		doc.ID, doc.ConversationID, doc.Filename, doc.SizeBytes, doc.DeclaredType, doc.PageCount,
		doc.Status, doc.StatusReason, chunkJSON, doc.ChunkCount, doc.EmbeddingModel, doc.EmbeddingDims,
		metaJSON, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// UpdateDocument 按 id 覆盖可变字段
func (r *Repository) UpdateDocument(ctx context.Context, doc *Document) error {
	chunkJSON, metaJSON, err := marshalDocJSON(doc)
	if err != nil {
		return err
	}

	query := `
	UPDATE documents
	SET status = $2, status_reason = $3, chunk_ids = $4, chunk_count = $5,
	    page_count = $6, metadata = $7, updated_at = $8
	WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Status, doc.StatusReason, chunkJSON, doc.ChunkCount,
		doc.PageCount, metaJSON, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("document %s not found", doc.ID)
	}
	return nil
}

// GetDocument 读取文档记录。不存在返回 nil, nil。
func (r *Repository) GetDocument(ctx context.Context, id string) (*Document, error) {
	query := docSelectColumns + ` FROM documents WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListDocuments 列出会话的全部文档（按创建时间）
func (r *Repository) ListDocuments(ctx context.Context, conversationID string) ([]*Document, error) {
	query := docSelectColumns + ` FROM documents WHERE conversation_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// DeleteDocuments 删除会话的全部文档记录
func (r *Repository) DeleteDocuments(ctx context.Context, conversationID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

const docSelectColumns = `
	SELECT id, conversation_id, filename, size_bytes, declared_type, page_count,
	       status, status_reason, chunk_ids, chunk_count, embedding_model, embedding_dims,
	       metadata, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var chunkJSON, metaJSON []byte
	err := row.Scan(
		&doc.ID, &doc.ConversationID, &doc.Filename, &doc.SizeBytes, &doc.DeclaredType, &doc.PageCount,
		&doc.Status, &doc.StatusReason, &chunkJSON, &doc.ChunkCount, &doc.EmbeddingModel, &doc.EmbeddingDims,
		&metaJSON, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(chunkJSON) > 0 {
		if err := json.Unmarshal(chunkJSON, &doc.ChunkIDs); err != nil {
			return nil, fmt.Errorf("unmarshal chunk ids: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

func marshalDocJSON(doc *Document) ([]byte, []byte, error) {
	chunkIDs := doc.ChunkIDs
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	chunkJSON, err := json.Marshal(chunkIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal chunk ids: %w", err)
	}

	var metaJSON []byte
	if doc.Metadata != nil {
		metaJSON, err = json.Marshal(doc.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	return chunkJSON, metaJSON, nil
}
