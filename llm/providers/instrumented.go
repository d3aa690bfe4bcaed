package providers

import (
	"context"
	"time"

	"github.com/prismlabs/prism/internal/telemetry"
	"github.com/prismlabs/prism/llm"
)

// InstrumentedProvider 包装任意 Provider，把每次补全的结果与 token
// 用量上报 telemetry。放在重试包装之外时记录整次调用，放在之内时
// 记录每次尝试。
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *telemetry.Collector
}

// NewInstrumentedProvider 创建指标包装。metrics 为 nil 时直接返回原 Provider。
func NewInstrumentedProvider(inner llm.Provider, metrics *telemetry.Collector) llm.Provider {
	if metrics == nil {
		return inner
	}
	return &InstrumentedProvider{inner: inner, metrics: metrics}
}

var _ llm.Provider = (*InstrumentedProvider)(nil)

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }
func (p *InstrumentedProvider) SupportsNativeFunctionCalling() bool {
	return p.inner.SupportsNativeFunctionCalling()
}

// Completion 透传请求并记录 llm_requests_total / duration / tokens_used。
func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.inner.Completion(ctx, req)

	model := req.Model
	status := "ok"
	var promptTokens, completionTokens int
	if err != nil {
		status = "error"
	} else {
		if resp.Model != "" {
			model = resp.Model
		}
		promptTokens = resp.Usage.PromptTokens
		completionTokens = resp.Usage.CompletionTokens
	}
	p.metrics.RecordLLMRequest(p.inner.Name(), model, status, time.Since(start), promptTokens, completionTokens)

	return resp, err
}
