package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// BM25IndexStore 持久化单文档 BM25 索引工件。
//
// 实现必须保证单文档写入的原子性：读者要么看到旧版本要么看到
// 新版本的完整索引，绝不会看到半写状态。同一文档的并发写入被
// 串行化，不同文档可以并行。
type BM25IndexStore interface {
	Save(ctx context.Context, documentID string, data *BM25IndexData) error
	// Load 在索引不存在时返回 ErrNotFound。
	Load(ctx context.Context, documentID string) (*BM25IndexData, error)
	Delete(ctx context.Context, documentID string) error
}

// 按文档 ID 分片的互斥锁，串行化同一文档的写入。
const docLockStripes = 64

type docLocks [docLockStripes]sync.Mutex

func (l *docLocks) lock(documentID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(documentID))
	return &l[h.Sum32()%docLockStripes]
}

// ====== 文件存储 ======

// FileBM25Store 把每个文档的索引存为一个 JSON 工件，
// 通过临时文件 + rename 保证原子提交。
type FileBM25Store struct {
	dir    string
	locks  docLocks
	logger *zap.Logger
}

// NewFileBM25Store 创建文件存储，目录不存在时自动创建。
func NewFileBM25Store(dir string, logger *zap.Logger) (*FileBM25Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bm25 store dir: %w", err)
	}
	return &FileBM25Store{dir: dir, logger: logger}, nil
}

func (s *FileBM25Store) path(documentID string) string {
	// 文档 ID 可能包含路径分隔符，替换后再落盘
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(documentID)
	return filepath.Join(s.dir, safe+".bm25.json")
}

func (s *FileBM25Store) Save(ctx context.Context, documentID string, data *BM25IndexData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := s.locks.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal bm25 index %s: %w", documentID, err)
	}

	target := s.path(documentID)
	tmp, err := os.CreateTemp(s.dir, ".bm25-*")
	if err != nil {
		return fmt.Errorf("create temp index file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // rename 成功后为 no-op

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp index file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp index file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("commit bm25 index %s: %w", documentID, err)
	}

	s.logger.Info("bm25 index saved",
		zap.String("document_id", documentID),
		zap.Int("chunks", data.ChunkCount),
		zap.Int("vocabulary", len(data.Postings)))
	return nil
}

func (s *FileBM25Store) Load(ctx context.Context, documentID string) (*BM25IndexData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(s.path(documentID))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read bm25 index %s: %w", documentID, err)
	}

	var data BM25IndexData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("decode bm25 index %s: %w", documentID, err)
	}
	return &data, nil
}

func (s *FileBM25Store) Delete(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mu := s.locks.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	err := os.Remove(s.path(documentID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete bm25 index %s: %w", documentID, err)
	}
	s.logger.Info("bm25 index deleted", zap.String("document_id", documentID))
	return nil
}
