package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"docuchat/internal/domain/rag"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel   string           `json:"log_level"`
	LogFormat  string           `json:"log_format"`
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	OpenAI     OpenAIConfig     `json:"openai"`
	Generation GenerationConfig `json:"generation"`
	RAG        rag.Config       `json:"rag"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	MaxUploadBytes      int64  `json:"max_upload_bytes"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL                string `json:"url"`
	LockTTLSeconds     int    `json:"lock_ttl_seconds"`
	CacheTTLSeconds    int    `json:"cache_ttl_seconds"`
	LockRetryMillis    int    `json:"lock_retry_millis"`
	LockWaitMaxSeconds int    `json:"lock_wait_max_seconds"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// GenerationConfig 回答生成（Generator 能力）配置。
type GenerationConfig struct {
	Provider          string  `json:"provider"`
	Model             string  `json:"model"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	MaxContextChars   int     `json:"max_context_chars"`
	MaxHistoryTurns   int     `json:"max_history_turns"`
	SystemPromptExtra string  `json:"system_prompt_extra"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	ragCfg := rag.DefaultConfig()
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 300,
			MaxUploadBytes:      32 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		Redis: RedisConfig{
			LockTTLSeconds:     30,
			CacheTTLSeconds:    300,
			LockRetryMillis:    100,
			LockWaitMaxSeconds: 10,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Generation: GenerationConfig{
			Provider:        "openai",
			Model:           "gpt-4o-mini",
			MaxTokens:       1024,
			Temperature:     0.2,
			TimeoutSeconds:  120,
			MaxContextChars: 32000,
			MaxHistoryTurns: 10,
		},
		RAG: *ragCfg,
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)
	applyInt64("SERVER_MAX_UPLOAD_BYTES", &c.Server.MaxUploadBytes)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)
	applyInt("REDIS_LOCK_TTL", &c.Redis.LockTTLSeconds)
	applyInt("REDIS_CACHE_TTL", &c.Redis.CacheTTLSeconds)
	applyInt("REDIS_LOCK_WAIT_MAX", &c.Redis.LockWaitMaxSeconds)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("GENERATION_PROVIDER", &c.Generation.Provider)
	applyString("GENERATION_MODEL", &c.Generation.Model)
	applyInt("GENERATION_MAX_TOKENS", &c.Generation.MaxTokens)
	applyFloat64("GENERATION_TEMPERATURE", &c.Generation.Temperature)
	applyInt("GENERATION_TIMEOUT", &c.Generation.TimeoutSeconds)
	applyInt("GENERATION_MAX_CONTEXT_CHARS", &c.Generation.MaxContextChars)
	applyInt("GENERATION_MAX_HISTORY_TURNS", &c.Generation.MaxHistoryTurns)

	// RAG 环境变量
	applyInt("RAG_CHUNK_SIZE", &c.RAG.ChunkSize)
	applyInt("RAG_CHUNK_OVERLAP", &c.RAG.ChunkOverlap)
	applyInt("RAG_TEXT_CHUNK_SIZE", &c.RAG.TextChunkSize)
	applyInt("RAG_TEXT_CHUNK_OVERLAP", &c.RAG.TextChunkOverlap)
	applyInt("RAG_DEFAULT_TOP_K", &c.RAG.DefaultTopK)
	applyInt("RAG_MAX_TOP_K", &c.RAG.MaxTopK)
	applyFloat64("RAG_MIN_SIMILARITY", &c.RAG.MinSimilarity)
	applyString("RAG_EMBEDDING_MODEL", &c.RAG.EmbeddingModel)
	applyInt("RAG_EMBEDDING_DIMS", &c.RAG.EmbeddingDims)
	applyInt("RAG_EMBEDDING_BATCH_SIZE", &c.RAG.EmbeddingBatchSize)
	applyInt("RAG_EMBEDDING_TIMEOUT", &c.RAG.EmbeddingTimeoutSeconds)
	applyString("RAG_VECTOR_BACKEND", &c.RAG.VectorBackend)
	applyString("RAG_VECTOR_URL", &c.RAG.VectorURL)
	applyString("RAG_VECTOR_USERNAME", &c.RAG.VectorUsername)
	applyString("RAG_VECTOR_PASSWORD", &c.RAG.VectorPassword)
	applyString("RAG_INDEX_PREFIX", &c.RAG.IndexPrefix)
	applyInt("RAG_CACHE_TTL", &c.RAG.CacheTTL)
	applyInt("RAG_RECONCILE_INTERVAL", &c.RAG.ReconcileIntervalSeconds)
}

func (c *AppConfig) normalize() {
	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.Generation.Provider == "" {
		c.Generation.Provider = "openai"
	}
	c.RAG.Normalize()
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	if err := c.RAG.Validate(); err != nil {
		return err
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyInt64(key string, target *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}
