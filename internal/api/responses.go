package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"docuchat/internal/domain/chat"
	"docuchat/internal/domain/rag"
)

// APIResponse 统一 JSON 响应
type APIResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&APIResponse{
		Code:    status,
		Message: message,
	})
}

// writeDomainError 按领域错误哨兵映射 HTTP 状态码
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, chat.ErrNotFound), errors.Is(err, rag.ErrIndexNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, rag.ErrInvalidArgument), errors.Is(err, chat.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, rag.ErrUnsupportedMediaType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, chat.ErrDependency):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
