package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestTokenize_English(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"hello", "world"}, Tokenize("Hello, World!"))
	assert.Equal(t, []string{"gpt", "4o"}, Tokenize("GPT-4o"))
	assert.Empty(t, Tokenize(""))
	assert.Empty(t, Tokenize("  ,.!  "))
}

func TestTokenize_CJKBigrams(t *testing.T) {
	t.Parallel()

	// 连续汉字段按 bigram 切分
	assert.Equal(t, []string{"向量", "量检", "检索"}, Tokenize("向量检索"))
	// 孤立单字保留为 unigram
	assert.Equal(t, []string{"好"}, Tokenize("好"))
	// 混合文本：脚本切换处分段
	assert.Equal(t, []string{"用", "bm25", "检索"}, Tokenize("用BM25检索"))
}

func TestTokenize_Hangul(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"안녕", "녕하", "하세", "세요"}, Tokenize("안녕하세요"))
}

func TestHasCJK(t *testing.T) {
	t.Parallel()

	assert.True(t, HasCJK("混合 text"))
	assert.True(t, HasCJK("カタカナ"))
	assert.False(t, HasCJK("plain ascii"))
}

func TestTokenize_Deterministic(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		first := Tokenize(text)
		second := Tokenize(text)
		assert.Equal(t, first, second, "same input must produce same terms")
	})
}

func TestTokenize_NoEmptyTerms(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		for _, term := range Tokenize(text) {
			assert.NotEmpty(t, term)
		}
	})
}
