package redisdb

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainrag "docuchat/internal/domain/rag"
	applog "docuchat/internal/platform/log"
)

// QueryCache 检索结果 Redis 缓存。key 带会话前缀，
// 入库/删除时按会话整体失效。
type QueryCache struct {
	redis  *redis.Client
	ttl    time.Duration
	prefix string
}

// NewQueryCache 创建检索缓存
func NewQueryCache(rdb *redis.Client, ttlSeconds int) *QueryCache {
	ttl := 5 * time.Minute
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return &QueryCache{
		redis:  rdb,
		ttl:    ttl,
		prefix: "rag:cache:",
	}
}

// Get 从缓存获取检索结果
func (c *QueryCache) Get(ctx context.Context, conversationID, query string, k int) (*domainrag.QueryResult, bool) {
	key := c.cacheKey(conversationID, query, k)
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}

	var result domainrag.QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		applog.Warn("[RAG/Cache] Failed to unmarshal cached result", "error", err)
		return nil, false
	}

	applog.Debug("[RAG/Cache] Hit", "key", key)
	return &result, true
}

// Set 写入检索结果到缓存
func (c *QueryCache) Set(ctx context.Context, conversationID, query string, k int, result *domainrag.QueryResult) {
	key := c.cacheKey(conversationID, query, k)
	data, err := json.Marshal(result)
	if err != nil {
		return
	}

	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		applog.Warn("[RAG/Cache] Failed to set cache", "key", key, "error", err)
	}
}

// InvalidateConversation 清除指定会话的所有缓存（SCAN 模式匹配删除）
func (c *QueryCache) InvalidateConversation(ctx context.Context, conversationID string) {
	pattern := c.prefix + conversationID + ":*"
	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		c.redis.Del(ctx, keys...)
		applog.Info("[RAG/Cache] Invalidated", "conversation_id", conversationID, "keys_deleted", len(keys))
	}
}

// cacheKey 生成缓存 key = 前缀 + 会话 id + hash(query|k)
func (c *QueryCache) cacheKey(conversationID, query string, k int) string {
	raw := fmt.Sprintf("%s|%d", query, k)
	hash := sha256.Sum256([]byte(raw))
	return c.prefix + conversationID + ":" + fmt.Sprintf("%x", hash[:12])
}
