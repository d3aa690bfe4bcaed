package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// indexedFixture 在内存向量存储与文件 BM25 存储中写入一个测试文档。
func indexedFixture(t *testing.T, docID string, texts []string, embeddings [][]float64) (*InMemoryVectorStore, *FileBM25Store) {
	t.Helper()

	vectorStore := NewInMemoryVectorStore(nil)
	bm25Store, err := NewFileBM25Store(t.TempDir(), nil)
	require.NoError(t, err)

	manager := NewIndexManager(vectorStore, bm25Store, DefaultBM25Config(), nil)
	_, err = manager.IndexDocument(context.Background(), IndexDocumentRequest{
		DocumentID: docID,
		UserID:     "user1",
		Chunks:     testChunks(docID, texts...),
		Embeddings: embeddings,
	})
	require.NoError(t, err)
	return vectorStore, bm25Store
}

func TestHybridRetriever_RequiresDocumentID(t *testing.T) {
	t.Parallel()

	r := NewHybridRetriever(NewInMemoryVectorStore(nil), nil, DefaultHybridConfig(), nil)
	_, err := r.Search(context.Background(), "query", "", "user1", []float64{1, 0}, 5)
	assert.Error(t, err)
}

func TestHybridRetriever_FusesBothRankings(t *testing.T) {
	t.Parallel()

	// chunk0 向量上最近，chunk1 词法上最强；chunk2 两路都弱。
	vectorStore, bm25Store := indexedFixture(t, "doc1",
		[]string{
			"general introduction text",
			"reciprocal rank fusion combines rankings",
			"unrelated filler content",
		},
		[][]float64{
			{1, 0, 0},
			{0.6, 0.8, 0},
			{0, 0, 1},
		},
	)

	r := NewHybridRetriever(vectorStore, bm25Store, DefaultHybridConfig(), nil)
	results, err := r.Search(context.Background(), "rank fusion rankings", "doc1", "user1", []float64{1, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// chunk1 在两路都有排名，融合分应高于只有单路贡献的 chunk
	byID := map[string]RetrievalResult{}
	for _, res := range results {
		byID[res.ChunkID] = res
	}
	dual := byID[ChunkID("doc1", 1)]
	assert.Greater(t, dual.BM25Score, 0.0)
	assert.Greater(t, dual.FusedScore, byID[ChunkID("doc1", 2)].FusedScore,
		"dual-ranked chunk must outscore single-ranked chunk")
	assert.Equal(t, ChunkID("doc1", 1), results[0].ChunkID)
}

func TestHybridRetriever_DegradesWithoutBM25Index(t *testing.T) {
	t.Parallel()

	vectorStore := NewInMemoryVectorStore(nil)
	require.NoError(t, vectorStore.AddEntries(context.Background(), []VectorEntry{
		{Chunk: Chunk{ID: "doc1_0", Text: "a", Metadata: map[string]any{MetaDocumentID: "doc1", MetaChunkIndex: 0}}, Embedding: []float64{1, 0}},
		{Chunk: Chunk{ID: "doc1_1", Text: "b", Metadata: map[string]any{MetaDocumentID: "doc1", MetaChunkIndex: 1}}, Embedding: []float64{0, 1}},
	}))
	bm25Store, err := NewFileBM25Store(t.TempDir(), nil)
	require.NoError(t, err)

	// BM25 索引不存在：结果顺序等价于纯向量排名
	r := NewHybridRetriever(vectorStore, bm25Store, DefaultHybridConfig(), nil)
	results, err := r.Search(context.Background(), "whatever", "doc1", "", []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc1_0", results[0].ChunkID)
	assert.Equal(t, "doc1_1", results[1].ChunkID)
	assert.Zero(t, results[0].BM25Score)
}

func TestHybridRetriever_BackfillsBM25OnlyHits(t *testing.T) {
	t.Parallel()

	vectorStore, bm25Store := indexedFixture(t, "doc1",
		[]string{"alpha text", "beta text"},
		[][]float64{{1, 0}, {0, 1}},
	)

	cfg := DefaultHybridConfig()
	cfg.CandidateFan = 1
	r := NewHybridRetriever(vectorStore, bm25Store, cfg, nil)

	// k=1、fan=1：向量路只取一条候选，词法命中 beta 只能从 BM25 路进入，
	// 融合后文本需要由 ChunkFetcher 补齐。
	results, err := r.Search(context.Background(), "beta", "doc1", "user1", []float64{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	for _, res := range results {
		assert.NotEmpty(t, res.Text, "every result must carry its text")
	}
}

func TestHybridRetriever_UserFilterExcludesVectorHits(t *testing.T) {
	t.Parallel()

	vectorStore, bm25Store := indexedFixture(t, "doc1",
		[]string{"shared content"},
		[][]float64{{1, 0}},
	)

	r := NewHybridRetriever(vectorStore, bm25Store, DefaultHybridConfig(), nil)
	results, err := r.Search(context.Background(), "shared", "doc1", "other-user", []float64{1, 0}, 5)
	require.NoError(t, err)
	for _, res := range results {
		// 其他用户的向量路为空，命中只能来自 BM25 路
		assert.Zero(t, res.VectorScore)
		assert.Greater(t, res.BM25Score, 0.0)
	}
}
