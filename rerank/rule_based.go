package rerank

import (
	"context"
	"sort"
	"strings"
)

// coreSections 核心章节名称，按规则重排序时给予优先级提升。
var coreSections = []string{"Abstract", "Introduction", "Conclusion", "摘要", "引言", "结论"}

const (
	metaSectionPath = "section_path"
	metaChunkIndex  = "chunk_index"
	metaElementType = "element_type"
)

// RuleBasedReranker 基于规则的本地重排序器。零外部依赖，始终可用，
// 作为远程重排序失败时的兜底。
type RuleBasedReranker struct{}

// NewRuleBasedReranker creates a rule-based local reranker.
func NewRuleBasedReranker() *RuleBasedReranker { return &RuleBasedReranker{} }

func (r *RuleBasedReranker) Name() string { return "rule-based" }

// Rerank 按词汇重叠率评分，命中核心章节名再加分。结果按分数降序。
func (r *RuleBasedReranker) Rerank(_ context.Context, query string, documents []Document, topN int) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	topN = clampTopN(topN, len(documents))

	queryTerms := make(map[string]struct{})
	for _, term := range strings.Fields(strings.ToLower(query)) {
		queryTerms[term] = struct{}{}
	}
	denom := len(queryTerms)
	if denom == 0 {
		denom = 1
	}

	results := make([]RerankResult, 0, len(documents))
	for idx, doc := range documents {
		docLower := strings.ToLower(doc.Text)

		overlap := 0
		docTerms := make(map[string]struct{})
		for _, term := range strings.Fields(docLower) {
			docTerms[term] = struct{}{}
		}
		for term := range queryTerms {
			if _, ok := docTerms[term]; ok {
				overlap++
			}
		}
		score := float64(overlap) / float64(denom)

		for _, section := range coreSections {
			if strings.Contains(docLower, strings.ToLower(section)) {
				score += 0.1
				break
			}
		}

		results = append(results, RerankResult{Index: idx, RelevanceScore: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].RelevanceScore > results[j].RelevanceScore
	})
	return results[:topN], nil
}

// RerankChunks 使用 metadata 做更精细的规则重排序：
// 按章节分组，组内取平均向量距离作为基础分（越小越相关），
// 核心章节 ×0.7，查询明确问表格且组内含表格块时 ×0.8，
// 组间按分数升序、组内按 chunk_index 升序展开。
func (r *RuleBasedReranker) RerankChunks(query string, chunks []ChunkCandidate, topN int) []ChunkCandidate {
	if len(chunks) == 0 {
		return nil
	}
	topN = clampTopN(topN, len(chunks))

	groups := make(map[string][]ChunkCandidate)
	order := make([]string, 0)
	for _, chunk := range chunks {
		section := metaStr(chunk.Metadata, metaSectionPath, "unknown")
		if _, seen := groups[section]; !seen {
			order = append(order, section)
		}
		groups[section] = append(groups[section], chunk)
	}

	type sectionScore struct {
		section string
		score   float64
	}
	scores := make([]sectionScore, 0, len(groups))
	wantsTable := strings.Contains(query, "表格") || strings.Contains(strings.ToLower(query), "table")

	for _, section := range order {
		group := groups[section]

		var sum float64
		for _, chunk := range group {
			sum += chunk.Distance
		}
		score := sum / float64(len(group))

		for _, core := range coreSections {
			if strings.Contains(section, core) {
				score *= 0.7
				break
			}
		}

		if wantsTable {
			hasTable := false
			for _, chunk := range group {
				if metaStr(chunk.Metadata, metaElementType, "") == "table" {
					hasTable = true
					break
				}
			}
			if hasTable {
				score *= 0.8
			}
		}

		scores = append(scores, sectionScore{section: section, score: score})
	}

	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score < scores[j].score })

	reranked := make([]ChunkCandidate, 0, len(chunks))
	for _, entry := range scores {
		group := groups[entry.section]
		sort.SliceStable(group, func(i, j int) bool {
			return metaInt(group[i].Metadata, metaChunkIndex) < metaInt(group[j].Metadata, metaChunkIndex)
		})
		for _, chunk := range group {
			chunk.RerankScore = 1.0 - entry.score
			reranked = append(reranked, chunk)
		}
	}

	return reranked[:topN]
}

func metaStr(meta map[string]any, key, def string) string {
	if meta == nil {
		return def
	}
	if v, ok := meta[key].(string); ok {
		return v
	}
	return def
}

func metaInt(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
