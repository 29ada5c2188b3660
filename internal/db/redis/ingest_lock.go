package redisdb

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	applog "docuchat/internal/platform/log"
)

// IngestLock 基于 Redis SETNX 的会话级写锁。
// 同一会话的索引结构性写入（入库第 6-8 步）必须串行。
type IngestLock struct {
	client  *redis.Client
	ttl     time.Duration
	retry   time.Duration
	waitMax time.Duration
}

// IngestLockConfig 配置
type IngestLockConfig struct {
	TTL     time.Duration // 锁自动过期时间（持有方崩溃后的兜底）
	Retry   time.Duration // 抢锁失败后的重试间隔
	WaitMax time.Duration // 最长等待时间
}

// NewIngestLock 创建会话写锁
func NewIngestLock(client *redis.Client, cfg IngestLockConfig) *IngestLock {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 100 * time.Millisecond
	}
	if cfg.WaitMax <= 0 {
		cfg.WaitMax = 10 * time.Second
	}
	return &IngestLock{
		client:  client,
		ttl:     cfg.TTL,
		retry:   cfg.Retry,
		waitMax: cfg.WaitMax,
	}
}

// Acquire 阻塞获取会话锁，返回释放函数。
// 等待超过 WaitMax 或 ctx 结束时返回错误。
func (l *IngestLock) Acquire(ctx context.Context, conversationID string) (func(), error) {
	key := fmt.Sprintf("ingest:lock:%s", conversationID)
	deadline := time.Now().Add(l.waitMax)

	for {
		acquired, err := l.client.SetNX(ctx, key, "locked", l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire ingest lock: %w", err)
		}
		if acquired {
			applog.Debug("[IngestLock] Lock acquired", "conversation_id", conversationID)
			return func() { l.release(conversationID, key) }, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("ingest lock wait exceeded %s for conversation %s", l.waitMax, conversationID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// release 释放锁。释放必须发生在所有退出路径上，
// 即使原始 ctx 已取消也要尽力删除。
func (l *IngestLock) release(conversationID, key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.client.Del(ctx, key).Err(); err != nil {
		applog.Warn("[IngestLock] Failed to release lock",
			"conversation_id", conversationID,
			"error", err,
		)
		return
	}
	applog.Debug("[IngestLock] Lock released", "conversation_id", conversationID)
}
