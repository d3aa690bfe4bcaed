package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testChunks(docID string, texts ...string) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			ID:   ChunkID(docID, i),
			Text: text,
			Metadata: map[string]any{
				MetaDocumentID: docID,
				MetaChunkIndex: i,
			},
		}
	}
	return chunks
}

func TestBuildBM25Index(t *testing.T) {
	t.Parallel()

	chunks := testChunks("doc1",
		"the quick brown fox",
		"the lazy dog sleeps",
		"quick quick quick",
	)
	data := BuildBM25Index("doc1", chunks)

	assert.Equal(t, "doc1", data.DocumentID)
	assert.Equal(t, 3, data.ChunkCount)
	assert.Equal(t, 2, data.DocFreq["quick"], "quick appears in 2 chunks")
	assert.Equal(t, 2, data.DocFreq["the"])
	assert.Len(t, data.Postings["quick"], 2)
	assert.InDelta(t, (4.0+4.0+3.0)/3.0, data.AvgChunkLen, 1e-9)

	// 词频进 postings，不进 doc_freq
	for _, p := range data.Postings["quick"] {
		if p.Chunk == 2 {
			assert.Equal(t, 3, p.TF)
		}
	}
}

func TestBM25Engine_Search(t *testing.T) {
	t.Parallel()

	chunks := testChunks("doc1",
		"machine learning fundamentals and basics",
		"deep learning with neural networks",
		"cooking recipes for beginners",
	)
	engine := NewBM25Engine(BuildBM25Index("doc1", chunks), DefaultBM25Config())

	hits := engine.Search("neural networks", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, ChunkID("doc1", 1), hits[0].ChunkID)
	assert.Greater(t, hits[0].Score, 0.0)

	// 无匹配词元返回空
	assert.Empty(t, engine.Search("quantum physics", 10))
	// k 截断
	assert.Len(t, engine.Search("learning", 1), 1)
}

func TestBM25Engine_TieBreakByChunkIndex(t *testing.T) {
	t.Parallel()

	// 两个完全相同的 chunk 同分，结果按 chunk_index 升序
	chunks := testChunks("doc1", "apple banana", "apple banana")
	engine := NewBM25Engine(BuildBM25Index("doc1", chunks), DefaultBM25Config())

	hits := engine.Search("apple", 10)
	require.Len(t, hits, 2)
	assert.Equal(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, 0, hits[0].ChunkIndex)
	assert.Equal(t, 1, hits[1].ChunkIndex)
}

func TestBM25Engine_EmptyIndex(t *testing.T) {
	t.Parallel()

	engine := NewBM25Engine(BuildBM25Index("doc1", nil), DefaultBM25Config())
	assert.Nil(t, engine.Search("anything", 5))
	assert.Nil(t, NewBM25Engine(nil, DefaultBM25Config()).Search("anything", 5))
}

func TestBM25Engine_CJKQuery(t *testing.T) {
	t.Parallel()

	chunks := testChunks("doc1",
		"向量检索是语义搜索的核心",
		"今天天气很好",
	)
	engine := NewBM25Engine(BuildBM25Index("doc1", chunks), DefaultBM25Config())

	hits := engine.Search("向量检索", 10)
	require.NotEmpty(t, hits)
	assert.Equal(t, ChunkID("doc1", 0), hits[0].ChunkID)
}
