package providers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismlabs/prism/llm"
)

type flakyProvider struct {
	failures int
	err      error
	calls    int
}

func (p *flakyProvider) Completion(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return &llm.ChatResponse{Choices: []llm.ChatChoice{{
		Message: llm.Message{Role: llm.RoleAssistant, Content: "ok"},
	}}}, nil
}

func (p *flakyProvider) Name() string                        { return "flaky" }
func (p *flakyProvider) SupportsNativeFunctionCalling() bool { return true }

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		RetryableOnly: true,
	}
}

func TestRetryableProvider_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	inner := &flakyProvider{
		failures: 2,
		err:      &llm.Error{Code: llm.ErrRateLimited, Retryable: true, Provider: "flaky"},
	}
	p := NewRetryableProvider(inner, fastRetryConfig(5), nil)

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Choices[0].Message.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryableProvider_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	inner := &flakyProvider{
		failures: 10,
		err:      &llm.Error{Code: llm.ErrUnauthorized, Retryable: false, Provider: "flaky"},
	}
	p := NewRetryableProvider(inner, fastRetryConfig(5), nil)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls, "auth errors must not burn retry attempts")
}

func TestRetryableProvider_ExhaustsAttempts(t *testing.T) {
	t.Parallel()

	inner := &flakyProvider{
		failures: 10,
		err:      &llm.Error{Code: llm.ErrUpstreamError, Retryable: true, Provider: "flaky"},
	}
	p := NewRetryableProvider(inner, fastRetryConfig(3), nil)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)

	var llmErr *llm.Error
	assert.ErrorAs(t, err, &llmErr, "wrapped error must stay unwrappable")
}

func TestRetryableProvider_ContextCancelStopsRetries(t *testing.T) {
	t.Parallel()

	inner := &flakyProvider{
		failures: 10,
		err:      &llm.Error{Code: llm.ErrUpstreamError, Retryable: true, Provider: "flaky"},
	}
	cfg := fastRetryConfig(5)
	cfg.InitialDelay = time.Hour // 第一次重试前就会撞上取消
	p := NewRetryableProvider(inner, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Completion(ctx, &llm.ChatRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryableProvider_RetriesPlainErrorsWhenAllowed(t *testing.T) {
	t.Parallel()

	// 非 llm.Error 的裸错误：RetryableOnly 下视为可重试（无法判定即保守重试）
	inner := &flakyProvider{failures: 1, err: errors.New("connection reset")}
	p := NewRetryableProvider(inner, fastRetryConfig(3), nil)

	_, err := p.Completion(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCalculateDelay(t *testing.T) {
	t.Parallel()

	p := NewRetryableProvider(&flakyProvider{}, RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  4 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
	}, nil)

	assert.Equal(t, 4*time.Second, p.calculateDelay(2))
	assert.Equal(t, 8*time.Second, p.calculateDelay(3))
	assert.Equal(t, 16*time.Second, p.calculateDelay(4))
	assert.Equal(t, 32*time.Second, p.calculateDelay(5))
	assert.Equal(t, 60*time.Second, p.calculateDelay(6), "delay is capped at max_delay")
}

func TestMapHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		msg       string
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{name: "unauthorized", status: 401, wantCode: llm.ErrUnauthorized},
		{name: "forbidden", status: 403, wantCode: llm.ErrForbidden},
		{name: "rate limited", status: 429, wantCode: llm.ErrRateLimited, retryable: true},
		{name: "bad request", status: 400, msg: "invalid json", wantCode: llm.ErrInvalidRequest},
		{name: "quota in 400", status: 400, msg: "monthly quota exceeded", wantCode: llm.ErrQuotaExceeded},
		{name: "request timeout", status: 408, wantCode: llm.ErrUpstreamTimeout, retryable: true},
		{name: "gateway timeout", status: 504, wantCode: llm.ErrUpstreamTimeout, retryable: true},
		{name: "bad gateway", status: 502, wantCode: llm.ErrUpstreamError, retryable: true},
		{name: "unavailable", status: 503, wantCode: llm.ErrUpstreamError, retryable: true},
		{name: "overloaded", status: 529, wantCode: llm.ErrModelOverloaded, retryable: true},
		{name: "generic 500", status: 500, wantCode: llm.ErrUpstreamError, retryable: true},
		{name: "unknown 4xx", status: 418, wantCode: llm.ErrUpstreamError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := MapHTTPError(tt.status, tt.msg, "test-provider")
			assert.Equal(t, tt.wantCode, err.Code)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.status, err.HTTPStatus)
			assert.Equal(t, "test-provider", err.Provider)
		})
	}
}

func TestMergeRequired(t *testing.T) {
	t.Parallel()

	merged := MergeRequired([]byte(`{"type":"object","properties":{"q":{"type":"string"}}}`), []string{"q"})
	assert.JSONEq(t, `{"type":"object","properties":{"q":{"type":"string"}},"required":["q"]}`, string(merged))

	// schema 已有 required 时保持不变
	withRequired := []byte(`{"type":"object","required":["other"]}`)
	assert.Equal(t, withRequired, []byte(MergeRequired(withRequired, []string{"q"})))

	// 空 required 原样返回
	plain := []byte(`{"type":"object"}`)
	assert.Equal(t, plain, []byte(MergeRequired(plain, nil)))
}
