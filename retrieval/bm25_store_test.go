package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIndexData(t *testing.T) *BM25IndexData {
	t.Helper()
	return BuildBM25Index("doc1", testChunks("doc1",
		"hybrid retrieval combines vector and lexical search",
		"向量检索与词法检索互补",
	))
}

// storeRoundTrip 验证 Save → Load 后索引语义等价，任意实现通用。
func storeRoundTrip(t *testing.T, store BM25IndexStore) {
	t.Helper()
	ctx := context.Background()
	data := sampleIndexData(t)

	require.NoError(t, store.Save(ctx, "doc1", data))

	loaded, err := store.Load(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, data.DocumentID, loaded.DocumentID)
	assert.Equal(t, data.ChunkIDs, loaded.ChunkIDs)
	assert.Equal(t, data.ChunkLens, loaded.ChunkLens)
	assert.Equal(t, data.DocFreq, loaded.DocFreq)
	assert.Equal(t, data.Postings, loaded.Postings)
	assert.InDelta(t, data.AvgChunkLen, loaded.AvgChunkLen, 1e-12)

	// 重新加载的索引必须产生相同的检索结果
	before := NewBM25Engine(data, DefaultBM25Config()).Search("vector search", 10)
	after := NewBM25Engine(loaded, DefaultBM25Config()).Search("vector search", 10)
	assert.Equal(t, before, after)

	require.NoError(t, store.Delete(ctx, "doc1"))
	_, err = store.Load(ctx, "doc1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileBM25Store_RoundTrip(t *testing.T) {
	t.Parallel()

	store, err := NewFileBM25Store(t.TempDir(), nil)
	require.NoError(t, err)
	storeRoundTrip(t, store)
}

func TestFileBM25Store_LoadMissing(t *testing.T) {
	t.Parallel()

	store, err := NewFileBM25Store(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = store.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileBM25Store_SlashInDocumentID(t *testing.T) {
	t.Parallel()

	store, err := NewFileBM25Store(t.TempDir(), nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "tenant/doc..1", sampleIndexData(t)))
	loaded, err := store.Load(ctx, "tenant/doc..1")
	require.NoError(t, err)
	assert.Equal(t, "doc1", loaded.DocumentID)
}

func TestFileBM25Store_Overwrite(t *testing.T) {
	t.Parallel()

	store, err := NewFileBM25Store(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "doc1", sampleIndexData(t)))
	updated := BuildBM25Index("doc1", testChunks("doc1", "only one chunk now"))
	require.NoError(t, store.Save(ctx, "doc1", updated))

	loaded, err := store.Load(ctx, "doc1")
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.ChunkCount)
}

// storeConcurrency 并发混跑 Save/Load/Delete：读者只允许看到
// 完整的某个版本或 ErrNotFound，绝不允许半写状态。
func storeConcurrency(t *testing.T, store BM25IndexStore) {
	t.Helper()
	ctx := context.Background()

	versionA := BuildBM25Index("doc1", testChunks("doc1", "only one chunk"))
	versionB := sampleIndexData(t) // 两个 chunk
	versions := map[int]*BM25IndexData{1: versionA, 2: versionB}

	var wg sync.WaitGroup
	const rounds = 50

	for _, v := range []*BM25IndexData{versionA, versionB} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				assert.NoError(t, store.Save(ctx, "doc1", v))
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds/5; i++ {
			assert.NoError(t, store.Delete(ctx, "doc1"))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				loaded, err := store.Load(ctx, "doc1")
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if !assert.NoError(t, err) {
					return
				}
				want, ok := versions[loaded.ChunkCount]
				if !assert.True(t, ok, "unexpected chunk count %d", loaded.ChunkCount) {
					return
				}
				assert.Equal(t, want.ChunkIDs, loaded.ChunkIDs)
				assert.Equal(t, want.ChunkLens, loaded.ChunkLens)
				assert.Equal(t, want.Postings, loaded.Postings)
			}
		}()
	}

	wg.Wait()
}

func TestFileBM25Store_ConcurrentSaveLoadDelete(t *testing.T) {
	t.Parallel()

	store, err := NewFileBM25Store(t.TempDir(), nil)
	require.NoError(t, err)
	storeConcurrency(t, store)
}

func TestRedisBM25Store_ConcurrentSaveLoadDelete(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	storeConcurrency(t, NewRedisBM25Store(rdb, "bm25:", nil))
}

func TestRedisBM25Store_RoundTrip(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	storeRoundTrip(t, NewRedisBM25Store(rdb, "bm25:", nil))
}

func TestRedisBM25Store_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := NewRedisBM25Store(rdb, "", nil)
	assert.NoError(t, store.Delete(context.Background(), "missing"))
}
