package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"docuchat/internal/domain/chat"
	applog "docuchat/internal/platform/log"
)

// ConversationHandler 会话管理与问答 API
type ConversationHandler struct {
	store        *chat.Store
	orchestrator *chat.Orchestrator
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(store *chat.Store, orchestrator *chat.Orchestrator) *ConversationHandler {
	return &ConversationHandler{
		store:        store,
		orchestrator: orchestrator,
	}
}

// RegisterRoutes 注册会话路由
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
		r.Post("/{id}/answer", h.Answer)
	})
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	// body 可为空，title 缺省为 New Chat
	_ = json.NewDecoder(r.Body).Decode(&req)

	conv, err := h.store.Create(r.Context(), req.Title)
	if err != nil {
		applog.Error("[API] Create conversation failed", "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	convs, err := h.store.List(r.Context(), limit, offset)
	if err != nil {
		applog.Error("[API] List conversations failed", "error", err)
		writeDomainError(w, err)
		return
	}
	if convs == nil {
		convs = []*chat.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.Delete(r.Context(), id); err != nil {
		applog.Error("[API] Delete conversation failed", "conversation_id", id, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *ConversationHandler) Answer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	answer, err := h.orchestrator.Answer(r.Context(), id, req.Prompt)
	if err != nil {
		applog.Error("[API] Answer failed", "conversation_id", id, "error", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
