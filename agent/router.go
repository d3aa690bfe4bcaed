package agent

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/prismlabs/prism/llm"
)

// IntentRouter 将查询分类到执行路径。优先走 LLM 分类，
// 失败时退化为关键词启发式，分类永远不会让整次运行失败。
type IntentRouter struct {
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

// NewIntentRouter creates an intent router. provider 为 nil 时只用启发式。
func NewIntentRouter(provider llm.Provider, model string, logger *zap.Logger) *IntentRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentRouter{
		provider: provider,
		model:    model,
		logger:   logger.With(zap.String("component", "intent_router")),
	}
}

// Classify 对查询做意图分类。
func (r *IntentRouter) Classify(ctx context.Context, query string) Intent {
	if intent, ok := classifyHeuristic(query); ok {
		return intent
	}
	if r.provider == nil {
		return Intent{Intent: IntentDocumentQA, Confidence: 0.5, Reasoning: "heuristic default"}
	}

	resp, err := r.provider.Completion(ctx, &llm.ChatRequest{
		Model: r.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: intentSystemPrompt},
			{Role: llm.RoleUser, Content: "Classify this query: " + query},
		},
		MaxTokens:   200,
		Temperature: 0.0,
	})
	if err != nil {
		r.logger.Warn("intent classification failed, using heuristic default", zap.Error(err))
		return Intent{Intent: IntentDocumentQA, Confidence: 0.5, Reasoning: "classifier unavailable"}
	}

	text, _ := llm.FirstToolCall(resp)
	intent, err := parseIntent(text)
	if err != nil {
		r.logger.Warn("intent response unparseable",
			zap.String("raw", text),
			zap.Error(err))
		return Intent{Intent: IntentDocumentQA, Confidence: 0.5, Reasoning: "unparseable classification"}
	}
	return intent
}

// classifyHeuristic 高置信度的快速通道：问候/比较类查询不需要 LLM。
func classifyHeuristic(query string) (Intent, bool) {
	q := strings.ToLower(strings.TrimSpace(query))

	greetings := []string{"hello", "hi", "hey", "how are you", "who are you", "你好", "您好"}
	for _, g := range greetings {
		if q == g || strings.HasPrefix(q, g+" ") || strings.HasPrefix(q, g+",") || strings.HasPrefix(q, g+"!") {
			return Intent{Intent: IntentDirectAnswer, Confidence: 1.0, Reasoning: "Greeting/Identity"}, true
		}
	}

	complexMarkers := []string{"compare", " vs ", " vs. ", "difference between", "list all", "对比", "比较"}
	for _, m := range complexMarkers {
		if strings.Contains(q, m) {
			return Intent{Intent: IntentComplexReasoning, Confidence: 0.95, Reasoning: "Comparison/aggregation marker"}, true
		}
	}

	return Intent{}, false
}

// parseIntent 解析分类响应，容忍 markdown 代码块包裹。
func parseIntent(raw string) (Intent, error) {
	text := strings.TrimSpace(raw)
	if idx := strings.Index(text, "{"); idx > 0 {
		text = text[idx:]
	}
	if idx := strings.LastIndex(text, "}"); idx >= 0 {
		text = text[:idx+1]
	}

	var intent Intent
	if err := json.Unmarshal([]byte(text), &intent); err != nil {
		return Intent{}, err
	}
	switch intent.Intent {
	case IntentDirectAnswer, IntentDocumentQA, IntentWebSearch, IntentComplexReasoning:
	default:
		intent.Intent = IntentDocumentQA
		intent.Confidence = 0.5
	}
	return intent, nil
}
