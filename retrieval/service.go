package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prismlabs/prism/cache"
	"github.com/prismlabs/prism/embedding"
	"github.com/prismlabs/prism/internal/telemetry"
	"github.com/prismlabs/prism/rerank"
)

// Mode 检索模式。
type Mode string

const (
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"
)

// RetrieveRequest 检索请求。
type RetrieveRequest struct {
	Query      string `json:"query"`
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id,omitempty"`
	Mode       Mode   `json:"mode"`
	TopK       int    `json:"top_k"`
	Rerank     bool   `json:"rerank"`
	RerankTopN int    `json:"rerank_top_n,omitempty"`
}

// ScoredChunk 检索结果条目。Distance 仅向量模式有值，
// FusedScore 仅混合模式有值，RerankScore 仅启用重排序后有值。
type ScoredChunk struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Distance    float64        `json:"distance,omitempty"`
	FusedScore  float64        `json:"fused_score,omitempty"`
	RerankScore float64        `json:"rerank_score,omitempty"`
}

// ServiceConfig 检索服务配置。
type ServiceConfig struct {
	DefaultTopK   int  `yaml:"default_top_k" json:"default_top_k"`
	RerankEnabled bool `yaml:"rerank_enabled" json:"rerank_enabled"`
	RerankTopN    int  `yaml:"rerank_top_n" json:"rerank_top_n"`
}

// DefaultServiceConfig returns the default retrieval service config.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		DefaultTopK:   10,
		RerankEnabled: true,
		RerankTopN:    5,
	}
}

// Service 检索统一入口：模式选择、查询嵌入、缓存、融合后重排序。
// 所有依赖显式注入，无进程级单例。
type Service struct {
	config      ServiceConfig
	embedder    embedding.Provider
	vectorStore VectorStore
	hybrid      *HybridRetriever
	reranker    rerank.Reranker
	ruleBased   *rerank.RuleBasedReranker
	chunkCache  *cache.ChunkCache
	metrics     *telemetry.Collector
	logger      *zap.Logger
}

// NewService creates the retrieval service. reranker、chunkCache、metrics
// 均可为 nil（对应能力关闭）。
func NewService(
	config ServiceConfig,
	embedder embedding.Provider,
	vectorStore VectorStore,
	hybrid *HybridRetriever,
	reranker rerank.Reranker,
	chunkCache *cache.ChunkCache,
	metrics *telemetry.Collector,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:      config,
		embedder:    embedder,
		vectorStore: vectorStore,
		hybrid:      hybrid,
		reranker:    reranker,
		ruleBased:   rerank.NewRuleBasedReranker(),
		chunkCache:  chunkCache,
		metrics:     metrics,
		logger:      logger.With(zap.String("component", "retrieval_service")),
	}
}

// Embedder 返回服务使用的嵌入 Provider，供索引流程复用。
func (s *Service) Embedder() embedding.Provider {
	return s.embedder
}

// Retrieve 执行一次检索。hybrid 模式缺少 document_id 时静默退化为
// vector 模式并记录日志；重排序只作用于融合/检索后的结果集。
func (s *Service) Retrieve(ctx context.Context, req RetrieveRequest) ([]ScoredChunk, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("retrieve: query is required")
	}
	if req.TopK <= 0 {
		req.TopK = s.config.DefaultTopK
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeVector
	}
	if mode == ModeHybrid && req.DocumentID == "" {
		s.logger.Info("hybrid mode requires document_id, degrading to vector mode",
			zap.String("user_id", req.UserID))
		mode = ModeVector
	}

	start := time.Now()
	var (
		results []ScoredChunk
		err     error
	)
	switch mode {
	case ModeVector:
		results, err = s.retrieveVector(ctx, req)
	case ModeHybrid:
		results, err = s.retrieveHybrid(ctx, req)
	default:
		return nil, fmt.Errorf("retrieve: unknown mode %q", mode)
	}
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.RecordSearch(string(mode), status, time.Since(start))
	}
	if err != nil {
		return nil, err
	}

	if req.Rerank && s.rerankEnabled() {
		results = s.applyRerank(ctx, req, results)
	}

	s.logger.Debug("retrieve completed",
		zap.String("mode", string(mode)),
		zap.String("document_id", req.DocumentID),
		zap.Int("results", len(results)),
		zap.Duration("duration", time.Since(start)))

	return results, nil
}

func (s *Service) rerankEnabled() bool {
	return s.config.RerankEnabled && s.reranker != nil
}

// retrieveVector 纯向量检索，结果走查询缓存。
func (s *Service) retrieveVector(ctx context.Context, req RetrieveRequest) ([]ScoredChunk, error) {
	var cacheKey string
	if s.chunkCache != nil {
		docKey := req.DocumentID
		if docKey == "" {
			docKey = "all"
		}
		cacheKey = cache.Key(docKey, req.Query)

		var cached []ScoredChunk
		if err := s.chunkCache.GetJSON(ctx, cacheKey, &cached); err == nil {
			if s.metrics != nil {
				s.metrics.RecordCacheHit("chunks")
			}
			return cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("chunk cache read failed", zap.Error(err))
		}
		if s.metrics != nil {
			s.metrics.RecordCacheMiss("chunks")
		}
	}

	queryEmbedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.vectorStore.Search(ctx, queryEmbedding, VectorFilter{
		UserID:     req.UserID,
		DocumentID: req.DocumentID,
	}, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		results = append(results, ScoredChunk{
			ID:       hit.Chunk.ID,
			Text:     hit.Chunk.Text,
			Metadata: hit.Chunk.Metadata,
			Distance: 1.0 - hit.Score,
		})
	}

	if s.chunkCache != nil {
		if err := s.chunkCache.SetJSON(ctx, cacheKey, results); err != nil {
			s.logger.Warn("chunk cache write failed", zap.Error(err))
		}
	}
	return results, nil
}

func (s *Service) retrieveHybrid(ctx context.Context, req RetrieveRequest) ([]ScoredChunk, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.hybrid.Search(ctx, req.Query, req.DocumentID, req.UserID, queryEmbedding, req.TopK)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		results = append(results, ScoredChunk{
			ID:         hit.ChunkID,
			Text:       hit.Text,
			Metadata:   hit.Metadata,
			Distance:   1.0 - hit.VectorScore,
			FusedScore: hit.FusedScore,
		})
	}
	return results, nil
}

// applyRerank 对已检索的结果集重排序。远程重排序失败时由
// FallbackReranker 兜底；任何残余错误只降级不冒泡。
func (s *Service) applyRerank(ctx context.Context, req RetrieveRequest, results []ScoredChunk) []ScoredChunk {
	if len(results) == 0 {
		return results
	}
	topN := req.RerankTopN
	if topN <= 0 {
		topN = s.config.RerankTopN
	}
	if topN <= 0 || topN > len(results) {
		topN = len(results)
	}

	docs := make([]rerank.Document, len(results))
	for i, r := range results {
		docs[i] = rerank.Document{ID: r.ID, Text: r.Text}
	}

	ranked, err := s.reranker.Rerank(ctx, req.Query, docs, topN)
	if err != nil {
		s.logger.Warn("rerank failed, falling back to metadata heuristics", zap.Error(err))
		return s.ruleBasedRerank(req.Query, results, topN)
	}

	out := make([]ScoredChunk, 0, len(ranked))
	for _, item := range ranked {
		chunk := results[item.Index]
		chunk.RerankScore = item.RelevanceScore
		out = append(out, chunk)
	}
	return out
}

func (s *Service) ruleBasedRerank(query string, results []ScoredChunk, topN int) []ScoredChunk {
	candidates := make([]rerank.ChunkCandidate, len(results))
	for i, r := range results {
		candidates[i] = rerank.ChunkCandidate{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: r.Metadata,
			Distance: r.Distance,
		}
	}
	ranked := s.ruleBased.RerankChunks(query, candidates, topN)

	byID := make(map[string]ScoredChunk, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}
	out := make([]ScoredChunk, 0, len(ranked))
	for _, c := range ranked {
		chunk, ok := byID[c.ID]
		if !ok {
			continue
		}
		chunk.RerankScore = c.RerankScore
		out = append(out, chunk)
	}
	return out
}
