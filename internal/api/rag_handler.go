package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"docuchat/internal/domain/rag"
	applog "docuchat/internal/platform/log"
)

// RAGHandler 文档入库与检索 API
type RAGHandler struct {
	ingestor       *rag.Ingestor
	retriever      *rag.Retriever
	docs           rag.DocumentStore
	maxUploadBytes int64
}

// NewRAGHandler 创建 RAG 处理器
func NewRAGHandler(ingestor *rag.Ingestor, retriever *rag.Retriever, docs rag.DocumentStore, maxUploadBytes int64) *RAGHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	return &RAGHandler{
		ingestor:       ingestor,
		retriever:      retriever,
		docs:           docs,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes 注册 RAG 路由
func (h *RAGHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations/{id}", func(r chi.Router) {
		r.Post("/documents", h.UploadDocument)
		r.Post("/documents/text", h.IngestText)
		r.Get("/documents", h.ListDocuments)
		r.Post("/query", h.Query)
	})
}

// UploadDocument 文件上传入库（multipart/form-data）
func (h *RAGHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("file size exceeds limit (%d bytes)", h.maxUploadBytes))
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	declaredType := r.FormValue("type")
	if declaredType == "" {
		declaredType = filepath.Ext(header.Filename)
	}

	doc, err := h.ingestor.Ingest(r.Context(), conversationID, raw, header.Filename, declaredType)
	if err != nil {
		applog.Error("[API] Document ingest failed", "conversation_id", conversationID, "filename", header.Filename, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// IngestText 直接入库一段文本（无文件）
func (h *RAGHandler) IngestText(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var req struct {
		Text  string `json:"text"`
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := h.ingestor.IngestText(r.Context(), conversationID, req.Text, req.Title)
	if err != nil {
		applog.Error("[API] Text ingest failed", "conversation_id", conversationID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// ListDocuments 列出会话的文档及其处理状态
func (h *RAGHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	docs, err := h.docs.ListDocuments(r.Context(), conversationID)
	if err != nil {
		applog.Error("[API] List documents failed", "conversation_id", conversationID, "error", err)
		writeDomainError(w, err)
		return
	}
	if docs == nil {
		docs = []*rag.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// Query 原始检索（调试用，不经过生成）
func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")

	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TopK == 0 {
		req.TopK = h.retriever.DefaultTopK()
	}

	result, err := h.retriever.Query(r.Context(), conversationID, req.Query, req.TopK)
	if err != nil {
		applog.Error("[API] Query failed", "conversation_id", conversationID, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
