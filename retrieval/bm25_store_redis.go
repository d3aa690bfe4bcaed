package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBM25Store 把每个文档的索引存为一个 Redis key。
// SET 对单 key 原子，天然满足"全有或全无"的提交语义。
type RedisBM25Store struct {
	rdb    *redis.Client
	prefix string
	locks  docLocks
	logger *zap.Logger
}

// NewRedisBM25Store 创建 Redis 存储。prefix 为空时使用 "bm25:"。
func NewRedisBM25Store(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisBM25Store {
	if prefix == "" {
		prefix = "bm25:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBM25Store{rdb: rdb, prefix: prefix, logger: logger}
}

func (s *RedisBM25Store) key(documentID string) string {
	return s.prefix + documentID
}

func (s *RedisBM25Store) Save(ctx context.Context, documentID string, data *BM25IndexData) error {
	mu := s.locks.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal bm25 index %s: %w", documentID, err)
	}
	if err := s.rdb.Set(ctx, s.key(documentID), payload, 0).Err(); err != nil {
		return fmt.Errorf("save bm25 index %s: %w", documentID, err)
	}

	s.logger.Info("bm25 index saved",
		zap.String("document_id", documentID),
		zap.Int("chunks", data.ChunkCount),
		zap.Int("vocabulary", len(data.Postings)))
	return nil
}

func (s *RedisBM25Store) Load(ctx context.Context, documentID string) (*BM25IndexData, error) {
	payload, err := s.rdb.Get(ctx, s.key(documentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load bm25 index %s: %w", documentID, err)
	}

	var data BM25IndexData
	if err := json.Unmarshal(payload, &data); err != nil {
		return nil, fmt.Errorf("decode bm25 index %s: %w", documentID, err)
	}
	return &data, nil
}

func (s *RedisBM25Store) Delete(ctx context.Context, documentID string) error {
	mu := s.locks.lock(documentID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.rdb.Del(ctx, s.key(documentID)).Err(); err != nil {
		return fmt.Errorf("delete bm25 index %s: %w", documentID, err)
	}
	s.logger.Info("bm25 index deleted", zap.String("document_id", documentID))
	return nil
}
