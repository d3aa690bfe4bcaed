package providers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/prismlabs/prism/llm"
)

// RetryConfig 是显式的重试策略值对象：上限、退避表、可重试谓词
// 都在值里可见，测试无需真实网络调用即可验证行为。
type RetryConfig struct {
	MaxAttempts   int           `json:"max_attempts" yaml:"max_attempts"`     // 总尝试次数上限，默认 5
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`   // 初始退避，默认 4s
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`           // 退避上限，默认 60s
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"` // 指数因子，默认 2.0
	RetryableOnly bool          `json:"retryable_only" yaml:"retryable_only"` // 只重试标记 Retryable 的错误
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  4 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		RetryableOnly: true,
	}
}

// RetryableProvider wraps an llm.Provider with exponential-backoff retry logic.
type RetryableProvider struct {
	inner  llm.Provider
	config RetryConfig
	logger *zap.Logger
}

// NewRetryableProvider creates a retrying wrapper around the given provider.
func NewRetryableProvider(inner llm.Provider, config RetryConfig, logger *zap.Logger) *RetryableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor <= 1 {
		config.BackoffFactor = 2.0
	}
	return &RetryableProvider{
		inner:  inner,
		config: config,
		logger: logger.With(zap.String("component", "retry_provider"), zap.String("provider", inner.Name())),
	}
}

// Compile-time interface check.
var _ llm.Provider = (*RetryableProvider)(nil)

func (p *RetryableProvider) Name() string { return p.inner.Name() }
func (p *RetryableProvider) SupportsNativeFunctionCalling() bool {
	return p.inner.SupportsNativeFunctionCalling()
}

// Completion performs a chat completion with retry on transient errors.
// 非瞬时错误（参数错误、鉴权失败）立即返回，不消耗重试次数。
func (p *RetryableProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := p.calculateDelay(attempt)
			p.logger.Debug("retrying completion",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := p.inner.Completion(ctx, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		if p.config.RetryableOnly {
			var llmErr *llm.Error
			if errors.As(err, &llmErr) && !llmErr.Retryable {
				return nil, err
			}
		}

		p.logger.Warn("completion failed, will retry",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	return nil, fmt.Errorf("completion failed after %d attempts: %w", p.config.MaxAttempts, lastErr)
}

func (p *RetryableProvider) calculateDelay(attempt int) time.Duration {
	delay := float64(p.config.InitialDelay) * math.Pow(p.config.BackoffFactor, float64(attempt-2))
	if delay > float64(p.config.MaxDelay) {
		delay = float64(p.config.MaxDelay)
	}
	return time.Duration(delay)
}
