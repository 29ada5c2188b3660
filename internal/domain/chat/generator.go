package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docuchat/internal/provider"
	applog "docuchat/internal/platform/log"
)

// Generator 回答生成能力。编排器通过该接口调用外部 LLM，
// 失败以 ErrGeneration 上抛，本层不重试。
type Generator interface {
	Generate(ctx context.Context, contextText string, history []provider.Message, prompt string) (string, error)
}

// LLMGenerator 基于 provider 注册表的 Generator 实现
type LLMGenerator struct {
	providerName string
	model        string
	maxTokens    int
	temperature  float64
	timeout      time.Duration
}

// LLMGeneratorConfig 配置
type LLMGeneratorConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// NewLLMGenerator 创建 LLM 回答生成器
func NewLLMGenerator(cfg LLMGeneratorConfig) *LLMGenerator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	applog.Info("[Chat/Generator] Initialized",
		"provider", cfg.Provider,
		"model", cfg.Model,
	)
	return &LLMGenerator{
		providerName: cfg.Provider,
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		temperature:  cfg.Temperature,
		timeout:      cfg.Timeout,
	}
}

const answerSystemPrompt = `你是一个文档问答助手。请根据提供的文档片段回答用户问题。
要求：
1. 优先依据文档片段作答；片段中没有相关内容时，可以结合对话历史回答，并说明信息不来自文档
2. 不要编造文档中不存在的内容
3. 回答中提到文档内容时，尽量保留原文的关键表述，便于溯源
4. 使用与用户提问相同的语言回答`

// Generate 调用 LLM 生成回答
func (g *LLMGenerator) Generate(ctx context.Context, contextText string, history []provider.Message, prompt string) (string, error) {
	llmProvider, err := provider.GetProvider(g.providerName)
	if err != nil {
		return "", fmt.Errorf("%w: get provider: %v", ErrGeneration, err)
	}

	system := answerSystemPrompt
	if contextText != "" {
		system += "\n\n## 文档片段\n\n" + contextText
	}

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, provider.Message{Role: "user", Content: prompt})

	req := &provider.CompletionRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := llmProvider.Complete(callCtx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "", fmt.Errorf("%w: empty completion", ErrGeneration)
	}

	applog.Debug("[Chat/Generator] Answer generated",
		"model", g.model,
		"answer_length", len(answer),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return answer, nil
}
