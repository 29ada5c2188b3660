package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"docuchat/internal/domain/chat"
	"docuchat/internal/domain/rag"
	applog "docuchat/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64 // multipart 上传大小上限
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute, // 文档入库与生成回答耗时较长
		MaxUploadBytes: 32 << 20,
	}
}

// Server HTTP 服务器
type Server struct {
	config       *ServerConfig
	store        *chat.Store
	orchestrator *chat.Orchestrator
	ingestor     *rag.Ingestor
	retriever    *rag.Retriever
	docs         rag.DocumentStore
	httpSrv      *http.Server
}

// NewServer 创建服务器
func NewServer(config *ServerConfig, store *chat.Store, orchestrator *chat.Orchestrator, ingestor *rag.Ingestor, retriever *rag.Retriever, docs rag.DocumentStore) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:       config,
		store:        store,
		orchestrator: orchestrator,
		ingestor:     ingestor,
		retriever:    retriever,
		docs:         docs,
	}
}

// Start 启动服务器
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 DocuChat API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	convHandler := NewConversationHandler(s.store, s.orchestrator)
	ragHandler := NewRAGHandler(s.ingestor, s.retriever, s.docs, s.config.MaxUploadBytes)

	r.Route("/api", func(r chi.Router) {
		convHandler.RegisterRoutes(r)
		ragHandler.RegisterRoutes(r)
	})
	return r
}

// corsMiddleware CORS 中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
