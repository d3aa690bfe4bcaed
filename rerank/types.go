// Package rerank 提供统一的重排序接口与主/备链式实现。
package rerank

import (
	"context"
	"time"
)

// Document 代表要重新排序的文档。
type Document struct {
	Text  string `json:"text"`
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
}

// RerankResult 代表单一被重新排序的文档。Index 指向输入列表。
type RerankResult struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"` // 越大越相关
}

// Reranker 定义统一的重排序接口。topN 超出输入长度时被钳制。
type Reranker interface {
	Rerank(ctx context.Context, query string, documents []Document, topN int) ([]RerankResult, error)

	// Name 返回重排序器名称。
	Name() string
}

// ChunkCandidate 是带 metadata 的重排序候选，供规则重排序的
// metadata 感知模式使用。Distance 为向量距离（越小越相关）。
type ChunkCandidate struct {
	ID          string         `json:"id"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Distance    float64        `json:"distance"`
	RerankScore float64        `json:"rerank_score"`
}

func clampTopN(topN, n int) int {
	if topN <= 0 || topN > n {
		return n
	}
	return topN
}

// nowMillis 统一的耗时计量入口。
func sinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
