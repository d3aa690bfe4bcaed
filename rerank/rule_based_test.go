package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleBasedReranker_LexicalOverlap(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "a", Text: "quarterly revenue grew fast"},
		{ID: "b", Text: "revenue and profit margins this quarter"},
		{ID: "c", Text: "unrelated marketing material"},
	}

	results, err := NewRuleBasedReranker().Rerank(context.Background(), "revenue profit", docs, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// b 命中两个查询词，排第一；c 零命中排最后
	assert.Equal(t, 1, results[0].Index)
	assert.Equal(t, 2, results[2].Index)
	assert.Greater(t, results[0].RelevanceScore, results[1].RelevanceScore)
}

func TestRuleBasedReranker_CoreSectionBonus(t *testing.T) {
	t.Parallel()

	docs := []Document{
		{ID: "a", Text: "some topic overview"},
		{ID: "b", Text: "abstract: some topic overview"},
	}

	results, err := NewRuleBasedReranker().Rerank(context.Background(), "topic", docs, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Index, "abstract text gets the core-section bonus")
	assert.InDelta(t, 0.1, results[0].RelevanceScore-results[1].RelevanceScore, 1e-9)
}

func TestRuleBasedReranker_TopNClamp(t *testing.T) {
	t.Parallel()

	docs := []Document{{Text: "a"}, {Text: "b"}, {Text: "c"}}
	r := NewRuleBasedReranker()

	results, err := r.Rerank(context.Background(), "a", docs, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = r.Rerank(context.Background(), "a", docs, 100)
	require.NoError(t, err)
	assert.Len(t, results, 3)

	results, err = r.Rerank(context.Background(), "a", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func chunkWith(id, section string, index int, distance float64) ChunkCandidate {
	return ChunkCandidate{
		ID:       id,
		Text:     "text " + id,
		Distance: distance,
		Metadata: map[string]any{
			metaSectionPath: section,
			metaChunkIndex:  index,
		},
	}
}

func TestRerankChunks_SectionGrouping(t *testing.T) {
	t.Parallel()

	// Methods 组平均距离 0.3，Background 组 0.5：Methods 整组排前
	chunks := []ChunkCandidate{
		chunkWith("b1", "Background", 4, 0.5),
		chunkWith("m2", "Methods", 2, 0.4),
		chunkWith("m1", "Methods", 1, 0.2),
		chunkWith("b2", "Background", 5, 0.5),
	}

	out := NewRuleBasedReranker().RerankChunks("how does it work", chunks, 4)
	require.Len(t, out, 4)
	assert.Equal(t, []string{"m1", "m2", "b1", "b2"}, ids(out),
		"groups ordered by mean distance, chunks by chunk_index")

	for _, c := range out {
		assert.NotZero(t, c.RerankScore)
	}
	// rerank_score = 1 - sectionScore，同组内相同
	assert.Equal(t, out[0].RerankScore, out[1].RerankScore)
	assert.Greater(t, out[0].RerankScore, out[2].RerankScore)
}

func TestRerankChunks_CoreSectionBoost(t *testing.T) {
	t.Parallel()

	// 两组同距离，Introduction 享受 ×0.7 提升后排前
	chunks := []ChunkCandidate{
		chunkWith("d1", "Discussion", 1, 0.4),
		chunkWith("i1", "Introduction", 2, 0.4),
	}

	out := NewRuleBasedReranker().RerankChunks("overview", chunks, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "i1", out[0].ID)
}

func TestRerankChunks_TableBoost(t *testing.T) {
	t.Parallel()

	tableChunk := chunkWith("t1", "Results", 1, 0.4)
	tableChunk.Metadata[metaElementType] = "table"
	chunks := []ChunkCandidate{
		chunkWith("p1", "Methods", 1, 0.4),
		tableChunk,
	}

	// 查询不问表格：同分组按出现顺序稳定
	out := NewRuleBasedReranker().RerankChunks("general question", chunks, 2)
	assert.Equal(t, "p1", out[0].ID)

	// 查询问表格：含表格的组 ×0.8 后排前
	out = NewRuleBasedReranker().RerankChunks("show me the table", chunks, 2)
	assert.Equal(t, "t1", out[0].ID)

	out = NewRuleBasedReranker().RerankChunks("这个表格里有什么", chunks, 2)
	assert.Equal(t, "t1", out[0].ID)
}

func TestRerankChunks_MissingMetadata(t *testing.T) {
	t.Parallel()

	chunks := []ChunkCandidate{
		{ID: "a", Text: "no metadata at all", Distance: 0.3},
		{ID: "b", Text: "also none", Distance: 0.4},
	}

	out := NewRuleBasedReranker().RerankChunks("query", chunks, 2)
	require.Len(t, out, 2)
}

func ids(chunks []ChunkCandidate) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}
