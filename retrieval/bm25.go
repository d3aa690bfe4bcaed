package retrieval

import (
	"math"
	"sort"
	"time"
)

// BM25 索引格式版本，工件格式变更时递增。
const bm25IndexVersion = 1

// BM25Config BM25 打分参数。
type BM25Config struct {
	K1 float64 `json:"k1" yaml:"k1"` // 词频饱和度 (1.2-2.0)
	B  float64 `json:"b" yaml:"b"`   // 长度归一化 (0.75)
}

// DefaultBM25Config 返回标准 BM25 参数。
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

// BM25Hit 单条 BM25 检索命中。
type BM25Hit struct {
	ChunkID    string  `json:"chunk_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// BuildBM25Index 为一个文档的全部 chunk 构建倒排索引。
// O(总词元数)；chunk 序号按输入顺序分配。
func BuildBM25Index(documentID string, chunks []Chunk) *BM25IndexData {
	data := &BM25IndexData{
		DocumentID: documentID,
		ChunkIDs:   make([]string, len(chunks)),
		ChunkIdx:   make([]int, len(chunks)),
		ChunkLens:  make([]int, len(chunks)),
		ChunkCount: len(chunks),
		DocFreq:    make(map[string]int),
		Postings:   make(map[string][]Posting),
		BuiltAt:    time.Now().UTC(),
		Version:    bm25IndexVersion,
	}

	totalLen := 0
	for i, chunk := range chunks {
		data.ChunkIDs[i] = chunk.ID
		data.ChunkIdx[i] = chunk.ChunkIndex()

		terms := Tokenize(chunk.Text)
		data.ChunkLens[i] = len(terms)
		totalLen += len(terms)

		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		for term, freq := range tf {
			data.DocFreq[term]++
			data.Postings[term] = append(data.Postings[term], Posting{Chunk: i, TF: freq})
		}
	}

	if len(chunks) > 0 {
		data.AvgChunkLen = float64(totalLen) / float64(len(chunks))
	}
	return data
}

// BM25Engine 基于单文档索引的内存词法检索器。
type BM25Engine struct {
	data *BM25IndexData
	cfg  BM25Config
}

// NewBM25Engine 在已构建的索引上创建检索器。
func NewBM25Engine(data *BM25IndexData, cfg BM25Config) *BM25Engine {
	if cfg.K1 == 0 {
		cfg = DefaultBM25Config()
	}
	return &BM25Engine{data: data, cfg: cfg}
}

// Search 返回按 BM25 分数降序的前 k 个 chunk。
// 分数相同按 chunk_index 升序（文档顺序），保证结果确定性。
// 查询复杂度 O(查询词数 × 平均 postings 长度)。
func (e *BM25Engine) Search(query string, k int) []BM25Hit {
	if e.data == nil || e.data.ChunkCount == 0 || k <= 0 {
		return nil
	}

	queryTerms := Tokenize(query)
	scores := make(map[int]float64)
	N := float64(e.data.ChunkCount)

	for _, term := range queryTerms {
		postings, ok := e.data.Postings[term]
		if !ok {
			continue
		}
		df := float64(e.data.DocFreq[term])
		idf := math.Log((N-df+0.5)/(df+0.5) + 1.0)

		for _, p := range postings {
			tf := float64(p.TF)
			chunkLen := float64(e.data.ChunkLens[p.Chunk])
			norm := 1.0 - e.cfg.B + e.cfg.B*(chunkLen/e.data.AvgChunkLen)
			scores[p.Chunk] += idf * (tf * (e.cfg.K1 + 1.0)) / (tf + e.cfg.K1*norm)
		}
	}

	hits := make([]BM25Hit, 0, len(scores))
	for ordinal, score := range scores {
		hits = append(hits, BM25Hit{
			ChunkID:    e.data.ChunkIDs[ordinal],
			ChunkIndex: e.data.ChunkIdx[ordinal],
			Score:      score,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
