package retrieval

import (
	"fmt"
	"time"
)

// Chunk 检索的最小单元，由文档摄取管线产生，索引后不可变。
type Chunk struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Chunk metadata 约定键名。
const (
	MetaDocumentID  = "document_id"
	MetaSectionPath = "section_path"
	MetaChunkIndex  = "chunk_index"
	MetaPageNumber  = "page_number"
	MetaElementType = "element_type"
	MetaUserID      = "user_id"
)

// ChunkID 由 (document_id, chunk_index) 确定性派生，
// 向量存储与 BM25 存储依赖同一 ID 规则对齐，无需额外映射表。
func ChunkID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

// ChunkIndex 从 metadata 读取 chunk_index，缺失或类型不符时返回 0。
func (c Chunk) ChunkIndex() int {
	return metaInt(c.Metadata, MetaChunkIndex)
}

func metaInt(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func metaString(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// RetrievalResult 单次查询的瞬态结果，从不持久化。
type RetrievalResult struct {
	ChunkID     string         `json:"chunk_id"`
	Text        string         `json:"text"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	VectorScore float64        `json:"vector_score"` // 相似度，越大越相关
	BM25Score   float64        `json:"bm25_score"`
	FusedScore  float64        `json:"fused_score"` // RRF 融合输出
}

// Posting 单个词元在某个 chunk 内的词频。Chunk 为 BM25IndexData
// 内部的 chunk 序号（非 chunk_index）。
type Posting struct {
	Chunk int `json:"chunk"`
	TF    int `json:"tf"`
}

// BM25IndexData 单文档 BM25 索引工件。由 BM25IndexStore 独占持有，
// 重新摄取时整体重建，不支持增量更新。
type BM25IndexData struct {
	DocumentID  string               `json:"document_id"`
	ChunkIDs    []string             `json:"chunk_ids"`
	ChunkIdx    []int                `json:"chunk_idx"` // chunk_index 原值，用于平手排序
	ChunkLens   []int                `json:"chunk_lens"`
	AvgChunkLen float64              `json:"avg_chunk_len"`
	ChunkCount  int                  `json:"chunk_count"`
	DocFreq     map[string]int       `json:"doc_freq"` // term -> 含该词的 chunk 数
	Postings    map[string][]Posting `json:"postings"`
	BuiltAt     time.Time            `json:"built_at"`
	Version     int                  `json:"version"`
}
