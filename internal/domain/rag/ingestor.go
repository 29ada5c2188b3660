package rag

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	applog "docuchat/internal/platform/log"
)

// Ingestor 文档入库 Pipeline：校验 → 提取 → 清洗 → 分块 → 向量化 →
// 写索引 → 写元数据 → 记录上传引用。第 6-8 步持有会话级写锁，
// 失败时对已写入的向量执行补偿删除，保证索引与元数据不会部分落盘。
type Ingestor struct {
	index       VectorIndex
	docs        DocumentStore
	embedder    Embedder
	parsers     *ParserRegistry
	lock        IngestLock
	config      *Config
	chunker     *Chunker
	textChunker *Chunker
	uploads     UploadRecorder  // 可选：入库后登记上传引用
	cache       QueryCacheStore // 可选：入库后清缓存
}

// NewIngestor 创建入库 Pipeline
func NewIngestor(index VectorIndex, docs DocumentStore, embedder Embedder, parsers *ParserRegistry, lock IngestLock, cfg *Config) (*Ingestor, error) {
	chunker, err := NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("document chunker: %w", err)
	}
	textChunker, err := NewChunker(cfg.TextChunkSize, cfg.TextChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("text chunker: %w", err)
	}
	return &Ingestor{
		index:       index,
		docs:        docs,
		embedder:    embedder,
		parsers:     parsers,
		lock:        lock,
		config:      cfg,
		chunker:     chunker,
		textChunker: textChunker,
	}, nil
}

// SetUploadRecorder 设置上传引用记录器
func (ing *Ingestor) SetUploadRecorder(u UploadRecorder) {
	ing.uploads = u
}

// SetCache 设置检索缓存（入库后自动失效）
func (ing *Ingestor) SetCache(c QueryCacheStore) {
	ing.cache = c
}

// Parsers 返回解析器注册表
func (ing *Ingestor) Parsers() *ParserRegistry {
	return ing.parsers
}

// Ingest 入库单个文档
func (ing *Ingestor) Ingest(ctx context.Context, conversationID string, raw []byte, filename, declaredType string) (*Document, error) {
	start := time.Now()

	// 1. 校验：类型允许列表与大小限制，任何状态创建之前
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: empty conversation id", ErrInvalidArgument)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrInvalidArgument)
	}
	if int64(len(raw)) > ing.config.MaxFileBytes() {
		return nil, fmt.Errorf("%w: file exceeds %d MB", ErrInvalidArgument, ing.config.MaxFileSize)
	}
	parser, err := ing.parsers.Get(declaredType)
	if err != nil {
		return nil, err
	}

	// 2. 提取：失败时不落任何记录
	parsed, err := parser.Parse(bytes.NewReader(raw), filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExtraction, filename, err)
	}
	if strings.TrimSpace(parsed.Content) == "" {
		return nil, fmt.Errorf("%w: %s: no extractable text", ErrExtraction, filename)
	}

	// 3. 清洗（分页格式按页清洗，保留页码归属）
	cleaned, pageStarts := cleanParsed(parsed)

	doc := &Document{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Filename:       filename,
		SizeBytes:      int64(len(raw)),
		DeclaredType:   declaredType,
		PageCount:      parsed.PageNum,
		Status:         DocumentStatusPending,
		EmbeddingModel: ing.embedder.Model(),
		EmbeddingDims:  ing.embedder.Dims(),
		Metadata:       parsed.Metadata,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := ing.docs.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	ing.setStatus(ctx, doc, DocumentStatusProcessing, "")

	result, err := ing.process(ctx, doc, cleaned, pageStarts, ing.chunker)
	if err != nil {
		return doc, err
	}

	applog.Info("[RAG/Ingest] 📚 Document ingested",
		"conversation_id", conversationID,
		"doc_id", doc.ID,
		"filename", filename,
		"chunks", result,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// IngestText 入库临时文本（较小的分块档位），不经过文件提取步骤。
func (ing *Ingestor) IngestText(ctx context.Context, conversationID, text, title string) (*Document, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, fmt.Errorf("%w: empty conversation id", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidArgument)
	}
	if title == "" {
		title = "pasted text"
	}

	cleaned := CleanText(text)

	doc := &Document{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Filename:       title,
		SizeBytes:      int64(len(text)),
		DeclaredType:   "text",
		Status:         DocumentStatusPending,
		EmbeddingModel: ing.embedder.Model(),
		EmbeddingDims:  ing.embedder.Dims(),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := ing.docs.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	ing.setStatus(ctx, doc, DocumentStatusProcessing, "")

	if _, err := ing.process(ctx, doc, cleaned, nil, ing.textChunker); err != nil {
		return doc, err
	}
	return doc, nil
}

// process 执行分块之后的公共流程。失败时 doc 状态置为 error 并带原因。
func (ing *Ingestor) process(ctx context.Context, doc *Document, cleaned string, pageStarts []pageOffset, chunker *Chunker) (int, error) {
	// 4. 分块
	spans := chunker.Split(cleaned)
	if len(spans) == 0 {
		ing.setStatus(ctx, doc, DocumentStatusError, "no content after cleaning")
		return 0, fmt.Errorf("%w: %s: no content after cleaning", ErrExtraction, doc.Filename)
	}

	// 5. 批量向量化：任一块失败则整体失败，不产生部分文档
	texts := make([]string, len(spans))
	for i, s := range spans {
		texts[i] = s.Text
	}
	vectors, err := ing.embedder.Embed(ctx, texts)
	if err != nil {
		ing.setStatus(ctx, doc, DocumentStatusError, err.Error())
		return 0, err
	}

	records := make([]ChunkRecord, len(spans))
	chunkIDs := make([]string, len(spans))
	for i, s := range spans {
		chunkID := fmt.Sprintf("%s_%d", doc.ID, s.Seq)
		chunkIDs[i] = chunkID
		records[i] = ChunkRecord{
			ChunkID:        chunkID,
			DocID:          doc.ID,
			ConversationID: doc.ConversationID,
			Filename:       doc.Filename,
			UploadDate:     doc.CreatedAt,
			Page:           pageForOffset(pageStarts, s.Start),
			Seq:            s.Seq,
			Size:           len(s.Text),
			Overlap:        s.Overlap,
			Text:           s.Text,
			Vector:         vectors[i],
		}
	}

	// 第 6-8 步：会话级写锁内完成，保证同一会话的结构性写入串行
	release, err := ing.lock.Acquire(ctx, doc.ConversationID)
	if err != nil {
		ing.setStatus(ctx, doc, DocumentStatusError, "ingest lock: "+err.Error())
		return 0, fmt.Errorf("acquire ingest lock: %w", err)
	}
	defer release()

	// 6. 向量批量写入：失败时没有任何元数据落盘
	if err := ing.index.Upsert(ctx, doc.ConversationID, records); err != nil {
		ing.setStatus(ctx, doc, DocumentStatusError, "vector upsert: "+err.Error())
		return 0, fmt.Errorf("upsert vectors: %w", err)
	}

	// 7. 元数据落盘
	doc.ChunkIDs = chunkIDs
	doc.ChunkCount = len(chunkIDs)
	doc.Status = DocumentStatusProcessed
	doc.StatusReason = ""
	doc.UpdatedAt = time.Now()
	if err := ing.docs.UpdateDocument(ctx, doc); err != nil {
		ing.rollbackVectors(doc.ConversationID, chunkIDs)
		doc.ChunkIDs = nil
		doc.ChunkCount = 0
		ing.setStatus(ctx, doc, DocumentStatusError, "persist metadata: "+err.Error())
		return 0, fmt.Errorf("persist document metadata: %w", err)
	}

	// 8. 登记上传引用
	if ing.uploads != nil {
		if err := ing.uploads.AppendUpload(ctx, doc.ConversationID, doc.ID, doc.Filename); err != nil {
			ing.rollbackVectors(doc.ConversationID, chunkIDs)
			doc.ChunkIDs = nil
			doc.ChunkCount = 0
			ing.setStatus(ctx, doc, DocumentStatusError, "record upload: "+err.Error())
			return 0, fmt.Errorf("record upload reference: %w", err)
		}
	}

	if ing.cache != nil {
		ing.cache.InvalidateConversation(ctx, doc.ConversationID)
	}
	return len(chunkIDs), nil
}

// rollbackVectors 补偿删除刚写入的向量。删除失败只能留给后台清扫。
func (ing *Ingestor) rollbackVectors(conversationID string, chunkIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ing.index.Delete(ctx, conversationID, chunkIDs); err != nil {
		applog.Error("[RAG/Ingest] ❌ Compensating vector delete failed, orphans remain until reconcile",
			"conversation_id", conversationID,
			"chunks", len(chunkIDs),
			"error", err,
		)
		return
	}
	applog.Warn("[RAG/Ingest] 🔄 Rolled back vector batch",
		"conversation_id", conversationID,
		"chunks", len(chunkIDs),
	)
}

func (ing *Ingestor) setStatus(ctx context.Context, doc *Document, status DocumentStatus, reason string) {
	doc.Status = status
	doc.StatusReason = reason
	doc.UpdatedAt = time.Now()
	if err := ing.docs.UpdateDocument(ctx, doc); err != nil {
		applog.Warn("[RAG/Ingest] Failed to update document status",
			"doc_id", doc.ID, "status", status, "error", err)
	}
}

// Reconcile 清理会话索引中没有对应已入库文档的向量（孤儿批次）。
// 尽力而为：入库补偿删除与其确认之间崩溃时的兜底。
func (ing *Ingestor) Reconcile(ctx context.Context, conversationID string) (int, error) {
	docs, err := ing.docs.ListDocuments(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	valid := make(map[string]bool)
	for _, d := range docs {
		if d.Status != DocumentStatusProcessed {
			continue
		}
		for _, id := range d.ChunkIDs {
			valid[id] = true
		}
	}

	indexed, err := ing.index.ChunkIDs(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("list indexed chunks: %w", err)
	}

	var orphans []string
	for _, id := range indexed {
		if !valid[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	release, err := ing.lock.Acquire(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("acquire ingest lock: %w", err)
	}
	defer release()

	if err := ing.index.Delete(ctx, conversationID, orphans); err != nil {
		return 0, fmt.Errorf("delete orphan vectors: %w", err)
	}

	applog.Info("[RAG/Ingest] 🧹 Reconciled orphan vectors",
		"conversation_id", conversationID,
		"removed", len(orphans),
	)
	return len(orphans), nil
}

// pageOffset 页码与该页文本在拼接后清洗文本中的起始偏移（rune）
type pageOffset struct {
	start int
	page  int
}

// cleanParsed 清洗解析结果。分页文本逐页清洗后拼接，保留页码归属。
func cleanParsed(parsed *ParseResult) (string, []pageOffset) {
	if len(parsed.Pages) == 0 {
		return CleanText(parsed.Content), nil
	}

	var sb strings.Builder
	offsets := make([]pageOffset, 0, len(parsed.Pages))
	offset := 0
	for _, page := range parsed.Pages {
		text := CleanText(page.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
			offset += 2
		}
		offsets = append(offsets, pageOffset{start: offset, page: page.Page})
		sb.WriteString(text)
		offset += len([]rune(text))
	}
	return sb.String(), offsets
}

// pageForOffset 返回偏移量所属的页码，无分页信息时为 0。
func pageForOffset(pageStarts []pageOffset, offset int) int {
	page := 0
	for _, p := range pageStarts {
		if offset >= p.start {
			page = p.page
		}
	}
	return page
}
