package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorEntry 向量存储中的一条记录。
type VectorEntry struct {
	Chunk     Chunk     `json:"chunk"`
	Embedding []float64 `json:"embedding"`
}

// VectorFilter 限定向量搜索的范围。零值字段不参与过滤。
type VectorFilter struct {
	UserID     string
	DocumentID string
}

// VectorSearchResult 向量搜索结果。
type VectorSearchResult struct {
	Chunk    Chunk   `json:"chunk"`
	Score    float64 `json:"score"`    // 余弦相似度，越大越相关
	Distance float64 `json:"distance"` // 1 - Score
}

// VectorStore 向量数据库统一接口。
type VectorStore interface {
	// AddEntries 写入带向量的 chunk
	AddEntries(ctx context.Context, entries []VectorEntry) error

	// Search 按余弦相似度返回 topK 条结果
	Search(ctx context.Context, queryEmbedding []float64, filter VectorFilter, topK int) ([]VectorSearchResult, error)

	// DeleteByDocument 删除某文档的全部条目，返回删除数量
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// CountByDocument 返回某文档的条目数
	CountByDocument(ctx context.Context, documentID string) (int, error)
}

// ChunkFetcher is an optional interface for VectorStore implementations that
// support fetching stored chunks by ID. Use type assertion to check support:
//
//	if f, ok := store.(ChunkFetcher); ok { f.GetChunks(ctx, ids) }
type ChunkFetcher interface {
	GetChunks(ctx context.Context, ids []string) (map[string]Chunk, error)
}

// ====== 内存向量存储（用于测试和小规模应用）======

// InMemoryVectorStore 内存向量存储。
type InMemoryVectorStore struct {
	entries []VectorEntry
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储。
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		entries: make([]VectorEntry, 0),
		logger:  logger,
	}
}

// AddEntries 添加条目。
func (s *InMemoryVectorStore) AddEntries(ctx context.Context, entries []VectorEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e.Embedding == nil {
			return fmt.Errorf("chunk %s has no embedding", e.Chunk.ID)
		}
		s.entries = append(s.entries, e)
	}

	s.logger.Info("entries added to vector store",
		zap.Int("count", len(entries)),
		zap.Int("total", len(s.entries)))
	return nil
}

// Search 搜索相似条目。
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float64, filter VectorFilter, topK int) ([]VectorSearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]VectorSearchResult, 0, len(s.entries))
	for _, e := range s.entries {
		if !matchesFilter(e.Chunk, filter) {
			continue
		}
		similarity := cosineSimilarity(queryEmbedding, e.Embedding)
		results = append(results, VectorSearchResult{
			Chunk:    e.Chunk,
			Score:    similarity,
			Distance: 1.0 - similarity,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkIndex() < results[j].Chunk.ChunkIndex()
	})

	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// DeleteByDocument 删除某文档的全部条目。
func (s *InMemoryVectorStore) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.entries[:0]
	deleted := 0
	for _, e := range s.entries {
		if metaString(e.Chunk.Metadata, MetaDocumentID) == documentID {
			deleted++
			continue
		}
		filtered = append(filtered, e)
	}
	s.entries = filtered

	s.logger.Info("entries deleted from vector store",
		zap.String("document_id", documentID),
		zap.Int("deleted", deleted),
		zap.Int("remaining", len(s.entries)))
	return deleted, nil
}

// CountByDocument 返回某文档的条目数。
func (s *InMemoryVectorStore) CountByDocument(ctx context.Context, documentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.entries {
		if metaString(e.Chunk.Metadata, MetaDocumentID) == documentID {
			count++
		}
	}
	return count, nil
}

// GetChunks 按 ID 批量取回 chunk，未命中的 ID 不出现在结果中。
func (s *InMemoryVectorStore) GetChunks(ctx context.Context, ids []string) (map[string]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	found := make(map[string]Chunk, len(ids))
	for _, e := range s.entries {
		if want[e.Chunk.ID] {
			found[e.Chunk.ID] = e.Chunk
		}
	}
	return found, nil
}

func matchesFilter(c Chunk, f VectorFilter) bool {
	if f.UserID != "" && metaString(c.Metadata, MetaUserID) != f.UserID {
		return false
	}
	if f.DocumentID != "" && metaString(c.Metadata, MetaDocumentID) != f.DocumentID {
		return false
	}
	return true
}

// cosineSimilarity 计算余弦相似度。
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
