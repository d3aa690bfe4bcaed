package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// IndexDocumentRequest 一次文档索引写入。Chunks 与 Embeddings 一一对应。
type IndexDocumentRequest struct {
	DocumentID string
	UserID     string
	Chunks     []Chunk
	Embeddings [][]float64
}

// IndexResult 索引写入结果。
type IndexResult struct {
	DocumentID     string   `json:"document_id"`
	Succeeded      int      `json:"succeeded"`
	FailedChunkIDs []string `json:"failed_chunk_ids,omitempty"`
}

// DeleteResult 文档删除结果。
type DeleteResult struct {
	DocumentID    string `json:"document_id"`
	VectorDeleted int    `json:"vector_deleted"`
	BM25Deleted   bool   `json:"bm25_deleted"`
}

// IndexManager 独占文档在向量存储与 BM25 存储上的写路径，
// 维护两者的"同生同灭"不变量：任何完成的写入之后，一个文档的
// 两份索引要么都存在要么都不存在。
type IndexManager struct {
	vectorStore VectorStore
	bm25Store   BM25IndexStore
	bm25Cfg     BM25Config
	locks       docLocks
	logger      *zap.Logger
}

// NewIndexManager 创建索引管理器。
func NewIndexManager(vectorStore VectorStore, bm25Store BM25IndexStore, cfg BM25Config, logger *zap.Logger) *IndexManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexManager{
		vectorStore: vectorStore,
		bm25Store:   bm25Store,
		bm25Cfg:     cfg,
		logger:      logger,
	}
}

// IndexDocument 双写一个文档：先向量存储（失败代价低、易检测），
// 后 BM25 构建与持久化。BM25 失败时回滚向量写入；回滚也失败时
// 返回 ErrIndexInconsistent，留给外部修复任务处理。
// 同一文档的并发构建被串行化，不同文档并行。
func (m *IndexManager) IndexDocument(ctx context.Context, req IndexDocumentRequest) (*IndexResult, error) {
	if req.DocumentID == "" {
		return nil, fmt.Errorf("index document: empty document_id")
	}
	if len(req.Chunks) != len(req.Embeddings) {
		return nil, fmt.Errorf("index document %s: %d chunks but %d embeddings",
			req.DocumentID, len(req.Chunks), len(req.Embeddings))
	}

	mu := m.locks.lock(req.DocumentID)
	mu.Lock()
	defer mu.Unlock()

	entries := make([]VectorEntry, len(req.Chunks))
	for i, chunk := range req.Chunks {
		if chunk.Metadata == nil {
			chunk.Metadata = make(map[string]any, 2)
		}
		chunk.Metadata[MetaDocumentID] = req.DocumentID
		if req.UserID != "" {
			chunk.Metadata[MetaUserID] = req.UserID
		}
		if chunk.ID == "" {
			chunk.ID = ChunkID(req.DocumentID, chunk.ChunkIndex())
		}
		entries[i] = VectorEntry{Chunk: chunk, Embedding: req.Embeddings[i]}
		req.Chunks[i] = chunk
	}

	// 第一步：向量写入
	if err := m.vectorStore.AddEntries(ctx, entries); err != nil {
		failed := make([]string, len(req.Chunks))
		for i, c := range req.Chunks {
			failed[i] = c.ID
		}
		return &IndexResult{DocumentID: req.DocumentID, FailedChunkIDs: failed},
			fmt.Errorf("vector write for %s: %w", req.DocumentID, err)
	}

	// 第二步：BM25 构建与持久化
	bm25Data := BuildBM25Index(req.DocumentID, req.Chunks)
	if err := m.bm25Store.Save(ctx, req.DocumentID, bm25Data); err != nil {
		m.logger.Warn("bm25 save failed, rolling back vector write",
			zap.String("document_id", req.DocumentID),
			zap.Error(err))

		if _, rbErr := m.vectorStore.DeleteByDocument(ctx, req.DocumentID); rbErr != nil {
			m.logger.Error("vector rollback failed, document is inconsistent",
				zap.String("document_id", req.DocumentID),
				zap.NamedError("save_error", err),
				zap.NamedError("rollback_error", rbErr))
			return nil, fmt.Errorf("%w: document %s: bm25 save failed (%v) and vector rollback failed (%v)",
				ErrIndexInconsistent, req.DocumentID, err, rbErr)
		}
		return nil, fmt.Errorf("bm25 save for %s (vector write rolled back): %w", req.DocumentID, err)
	}

	m.logger.Info("document indexed",
		zap.String("document_id", req.DocumentID),
		zap.Int("chunks", len(req.Chunks)))
	return &IndexResult{DocumentID: req.DocumentID, Succeeded: len(req.Chunks)}, nil
}

// DeleteDocument 从两个存储中删除文档，顺序与写入对称：先向量后 BM25。
// 向量侧已删而 BM25 删除失败时不回滚，直接报告 ErrIndexInconsistent，
// 调用方重试删除即可收敛。
func (m *IndexManager) DeleteDocument(ctx context.Context, documentID string) (*DeleteResult, error) {
	if documentID == "" {
		return nil, fmt.Errorf("delete document: empty document_id")
	}

	mu := m.locks.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	// 先留存 BM25 索引副本，向量删除后 BM25 删除失败时用于回滚判定
	bm25Data, loadErr := m.bm25Store.Load(ctx, documentID)
	if loadErr != nil && loadErr != ErrNotFound {
		return nil, fmt.Errorf("load bm25 index before delete %s: %w", documentID, loadErr)
	}

	deleted, err := m.vectorStore.DeleteByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("vector delete for %s: %w", documentID, err)
	}

	if err := m.bm25Store.Delete(ctx, documentID); err != nil {
		// 向量侧已删、BM25 侧还在：尝试把 BM25 侧也判定为待修复
		if bm25Data != nil {
			m.logger.Error("bm25 delete failed after vector delete, document is inconsistent",
				zap.String("document_id", documentID),
				zap.Error(err))
			return nil, fmt.Errorf("%w: document %s: bm25 delete failed after vector delete: %v",
				ErrIndexInconsistent, documentID, err)
		}
		return nil, fmt.Errorf("bm25 delete for %s: %w", documentID, err)
	}

	m.logger.Info("document deleted",
		zap.String("document_id", documentID),
		zap.Int("vector_deleted", deleted))
	return &DeleteResult{
		DocumentID:    documentID,
		VectorDeleted: deleted,
		BM25Deleted:   bm25Data != nil,
	}, nil
}
