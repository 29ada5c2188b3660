package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docuchat/internal/domain/rag"
	applog "docuchat/internal/platform/log"
)

// requestState 单次问答请求的状态机
type requestState string

const (
	stateReceived   requestState = "RECEIVED"
	stateRetrieving requestState = "RETRIEVING"
	stateGenerating requestState = "GENERATING"
	stateCited      requestState = "CITED"
	statePersisted  requestState = "PERSISTED"
	stateFailed     requestState = "FAILED"
)

// OrchestratorConfig 编排配置
type OrchestratorConfig struct {
	TopK            int     // 检索块数（默认 5）
	MinSimilarity   float64 // 低于该相似度的块不进上下文
	MaxContextChars int     // 上下文 + 历史的字符预算
	MaxHistoryTurns int     // 最多带多少对历史问答
}

// Orchestrator 问答编排器。状态机
// RECEIVED → RETRIEVING → GENERATING → CITED → PERSISTED，
// 任何非终态都可迁移到 FAILED。提问在生成开始前已持久化，
// 生成失败时轮次保持 awaiting_answer，对用户可见而不是被丢弃。
type Orchestrator struct {
	store     *Store
	retriever *rag.Retriever
	generator Generator
	config    OrchestratorConfig
}

// NewOrchestrator 创建问答编排器
func NewOrchestrator(store *Store, retriever *rag.Retriever, generator Generator, cfg OrchestratorConfig) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 10
	}
	return &Orchestrator{
		store:     store,
		retriever: retriever,
		generator: generator,
		config:    cfg,
	}
}

// Answer 处理一次提问：检索 → 生成 → 引用 → 持久化。
func (o *Orchestrator) Answer(ctx context.Context, conversationID, prompt string) (*Answer, error) {
	start := time.Now()
	state := stateReceived

	// RECEIVED：校验并持久化提问，之后崩溃也留有可审计的记录
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	conv, err := o.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	turnIndex, err := o.store.AppendPrompt(ctx, conversationID, prompt)
	if err != nil {
		return nil, err
	}

	// RETRIEVING：空上下文是合法结果（仅凭历史回答）
	state = stateRetrieving
	result, err := o.retriever.Query(ctx, conversationID, prompt, o.config.TopK)
	if err != nil {
		return nil, o.fail(conversationID, turnIndex, state, err)
	}

	var relevant []rag.ScoredChunk
	for _, c := range result.Chunks {
		if c.Score >= o.config.MinSimilarity {
			relevant = append(relevant, c)
		}
	}

	applog.Info("[Chat/Orchestrator] 🔍 Retrieval completed",
		"conversation_id", conversationID,
		"turn_index", turnIndex,
		"hits", len(result.Chunks),
		"relevant", len(relevant),
		"min_similarity", o.config.MinSimilarity,
	)

	// GENERATING：有界上下文窗口，历史从最旧开始丢弃
	state = stateGenerating
	contextText := rag.FormatContext(relevant)
	history := buildHistory(conv.Turns, turnIndex, o.config.MaxHistoryTurns)
	contextText, history = fitWindow(contextText, history, o.config.MaxContextChars)

	answerText, err := o.generator.Generate(ctx, contextText, history, prompt)
	if err != nil {
		return nil, o.fail(conversationID, turnIndex, state, err)
	}

	// CITED：只为回答实际引用到的块生成引用
	state = stateCited
	citations := extractCitations(answerText, relevant)

	// PERSISTED
	state = statePersisted
	if err := o.store.AttachAnswer(ctx, conversationID, turnIndex, answerText, citations); err != nil {
		return nil, o.fail(conversationID, turnIndex, state, err)
	}

	applog.Info("[Chat/Orchestrator] ✅ Answer persisted",
		"conversation_id", conversationID,
		"turn_index", turnIndex,
		"citations", len(citations),
		"context_chunks", len(relevant),
		"history_messages", len(history),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	return &Answer{
		ConversationID: conversationID,
		TurnIndex:      turnIndex,
		Text:           answerText,
		Citations:      citations,
	}, nil
}

// fail 记录失败迁移。已落库的提问轮次保持未回答状态。
func (o *Orchestrator) fail(conversationID string, turnIndex int, from requestState, err error) error {
	applog.Error("[Chat/Orchestrator] ❌ Request failed",
		"conversation_id", conversationID,
		"turn_index", turnIndex,
		"state", from,
		"error", err,
	)
	return fmt.Errorf("answer request failed in %s: %w", from, err)
}
