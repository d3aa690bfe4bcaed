package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HybridConfig 混合检索与 RRF 融合配置。
type HybridConfig struct {
	VectorWeight float64    `json:"vector_weight" yaml:"vector_weight"`
	BM25Weight   float64    `json:"bm25_weight" yaml:"bm25_weight"`
	RRFConstant  float64    `json:"rrf_constant" yaml:"rrf_constant"`   // 标准值 60
	CandidateFan int        `json:"candidate_fan" yaml:"candidate_fan"` // 每路候选 = k × CandidateFan
	BM25         BM25Config `json:"bm25" yaml:"bm25"`
}

// DefaultHybridConfig 返回默认混合检索配置。
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		VectorWeight: 1.0,
		BM25Weight:   1.0,
		RRFConstant:  60,
		CandidateFan: 4,
		BM25:         DefaultBM25Config(),
	}
}

// HybridRetriever 并发执行向量检索与 BM25 检索，
// 用 Reciprocal Rank Fusion 融合两路排名。
type HybridRetriever struct {
	vectorStore VectorStore
	bm25Store   BM25IndexStore
	config      HybridConfig
	logger      *zap.Logger
}

// NewHybridRetriever 创建混合检索器。
func NewHybridRetriever(vectorStore VectorStore, bm25Store BM25IndexStore, config HybridConfig, logger *zap.Logger) *HybridRetriever {
	if config.RRFConstant == 0 {
		config = DefaultHybridConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{
		vectorStore: vectorStore,
		bm25Store:   bm25Store,
		config:      config,
		logger:      logger,
	}
}

// Search 混合检索。BM25 索引按文档存储，documentID 必填；
// 跨文档查询应由上层退化为纯向量检索。
// 两路检索并发执行，其中一路为空时退化为单路排名。
func (r *HybridRetriever) Search(
	ctx context.Context,
	query string,
	documentID string,
	userID string,
	queryEmbedding []float64,
	k int,
) ([]RetrievalResult, error) {
	if documentID == "" {
		return nil, fmt.Errorf("hybrid search requires document_id")
	}
	if k <= 0 {
		return nil, nil
	}

	// 每路取 N = 4k 候选，给 RRF 足够的重叠空间
	n := k * r.config.CandidateFan
	if n < k {
		n = k
	}

	var (
		vectorHits []VectorSearchResult
		bm25Hits   []BM25Hit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.vectorStore.Search(gctx, queryEmbedding,
			VectorFilter{UserID: userID, DocumentID: documentID}, n)
		if err != nil {
			return fmt.Errorf("vector search: %w", err)
		}
		vectorHits = hits
		return nil
	})
	g.Go(func() error {
		data, err := r.bm25Store.Load(gctx, documentID)
		if err == ErrNotFound {
			// 索引缺失不是错误：退化为纯向量排名
			r.logger.Warn("bm25 index missing, degrading to vector-only ranking",
				zap.String("document_id", documentID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("bm25 load: %w", err)
		}
		bm25Hits = NewBM25Engine(data, r.config.BM25).Search(query, n)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results := r.fuse(vectorHits, bm25Hits, k)
	r.backfill(ctx, results)

	r.logger.Debug("hybrid search completed",
		zap.String("document_id", documentID),
		zap.Int("vector_hits", len(vectorHits)),
		zap.Int("bm25_hits", len(bm25Hits)),
		zap.Int("fused", len(results)))
	return results, nil
}

// backfill 为仅 BM25 命中的结果补齐文本与 metadata。
// 向量存储不支持 ChunkFetcher 时保持原样。
func (r *HybridRetriever) backfill(ctx context.Context, results []RetrievalResult) {
	fetcher, ok := r.vectorStore.(ChunkFetcher)
	if !ok {
		return
	}

	var missing []string
	for _, res := range results {
		if res.Text == "" {
			missing = append(missing, res.ChunkID)
		}
	}
	if len(missing) == 0 {
		return
	}

	chunks, err := fetcher.GetChunks(ctx, missing)
	if err != nil {
		r.logger.Warn("chunk backfill failed", zap.Error(err))
		return
	}
	for i := range results {
		if results[i].Text == "" {
			if c, ok := chunks[results[i].ChunkID]; ok {
				results[i].Text = c.Text
				results[i].Metadata = c.Metadata
			}
		}
	}
}

// fuse 按 RRF 融合两路排名：
//
//	score(c) = Σ weight_list / (rrfK + rank_in_list)
//
// 只出现在一路中的 chunk 仅获得该路的分量。
func (r *HybridRetriever) fuse(vectorHits []VectorSearchResult, bm25Hits []BM25Hit, k int) []RetrievalResult {
	type candidate struct {
		result     RetrievalResult
		chunkIndex int
	}
	candidates := make(map[string]*candidate)

	for rank, hit := range vectorHits {
		c := &candidate{
			result: RetrievalResult{
				ChunkID:     hit.Chunk.ID,
				Text:        hit.Chunk.Text,
				Metadata:    hit.Chunk.Metadata,
				VectorScore: hit.Score,
			},
			chunkIndex: hit.Chunk.ChunkIndex(),
		}
		c.result.FusedScore = r.config.VectorWeight / (r.config.RRFConstant + float64(rank+1))
		candidates[hit.Chunk.ID] = c
	}

	for rank, hit := range bm25Hits {
		contribution := r.config.BM25Weight / (r.config.RRFConstant + float64(rank+1))
		if c, ok := candidates[hit.ChunkID]; ok {
			c.result.BM25Score = hit.Score
			c.result.FusedScore += contribution
			continue
		}
		// 仅 BM25 命中：文本与 metadata 不在倒排索引中，由上层按需补齐
		candidates[hit.ChunkID] = &candidate{
			result: RetrievalResult{
				ChunkID:    hit.ChunkID,
				BM25Score:  hit.Score,
				FusedScore: contribution,
			},
			chunkIndex: hit.ChunkIndex,
		}
	}

	fused := make([]*candidate, 0, len(candidates))
	for _, c := range candidates {
		fused = append(fused, c)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].result.FusedScore != fused[j].result.FusedScore {
			return fused[i].result.FusedScore > fused[j].result.FusedScore
		}
		return fused[i].chunkIndex < fused[j].chunkIndex
	})

	if len(fused) > k {
		fused = fused[:k]
	}
	results := make([]RetrievalResult, len(fused))
	for i, c := range fused {
		results[i] = c.result
	}
	return results
}
