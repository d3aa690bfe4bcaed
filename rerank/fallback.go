package rerank

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FallbackReranker 主/备组合：先走主重排序器，任何错误都回退到
// 备用重排序器，失败只记日志不向调用方传播。
type FallbackReranker struct {
	primary  Reranker
	fallback Reranker
	logger   *zap.Logger
}

// NewFallbackReranker creates a composite reranker with a fallback chain.
func NewFallbackReranker(primary, fallback Reranker, logger *zap.Logger) *FallbackReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackReranker{primary: primary, fallback: fallback, logger: logger}
}

func (f *FallbackReranker) Name() string {
	return fmt.Sprintf("fallback(%s -> %s)", f.primary.Name(), f.fallback.Name())
}

// Rerank tries the primary reranker and falls back on any error.
func (f *FallbackReranker) Rerank(ctx context.Context, query string, documents []Document, topN int) ([]RerankResult, error) {
	start := time.Now()

	results, err := f.primary.Rerank(ctx, query, documents, topN)
	if err == nil {
		f.logger.Info("rerank completed",
			zap.String("reranker", f.primary.Name()),
			zap.Int("input_docs", len(documents)),
			zap.Int("output_docs", len(results)),
			zap.Float64("duration_ms", sinceMillis(start)))
		return results, nil
	}

	f.logger.Warn("primary reranker failed, using fallback",
		zap.String("primary", f.primary.Name()),
		zap.String("fallback", f.fallback.Name()),
		zap.Error(err))

	return f.fallback.Rerank(ctx, query, documents, topN)
}
