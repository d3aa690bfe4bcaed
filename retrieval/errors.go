package retrieval

import "errors"

var (
	// ErrNotFound 目标文档没有对应的索引工件。
	// 与"检索到零条结果"严格区分：后者是合法的空结果。
	ErrNotFound = errors.New("retrieval: index not found")

	// ErrIndexInconsistent 双写回滚失败后，向量存储与 BM25 存储
	// 对同一文档的覆盖不一致。该文档需要外部修复任务介入，
	// 调用方不得将其降级为普通错误或空结果。
	ErrIndexInconsistent = errors.New("retrieval: vector/bm25 index inconsistent")
)
