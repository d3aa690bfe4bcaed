package retrieval

import (
	"strings"
	"unicode"
)

// cjkTables 覆盖无空格分词边界的脚本：汉字、日文假名、韩文谚文。
var cjkTables = []*unicode.RangeTable{
	unicode.Han,
	unicode.Hiragana,
	unicode.Katakana,
	unicode.Hangul,
}

func isCJK(r rune) bool {
	for _, t := range cjkTables {
		if unicode.Is(t, r) {
			return true
		}
	}
	return false
}

// HasCJK 判断文本是否包含 CJK 字符。
func HasCJK(text string) bool {
	for _, r := range text {
		if isCJK(r) {
			return true
		}
	}
	return false
}

// Tokenize 将文本规范化为索引词元。
//
// CJK 连续段按字符二元组（bigram）切分，孤立单字保留为 unigram；
// 其余脚本转小写后按空白与标点切分。同一输入永远产生同一词元序列，
// BM25 的建索引与查询两侧必须使用同一实现。
func Tokenize(text string) []string {
	var terms []string
	var word []rune // 当前非 CJK 词
	var cjk []rune  // 当前 CJK 连续段

	flushWord := func() {
		if len(word) > 0 {
			terms = append(terms, strings.ToLower(string(word)))
			word = word[:0]
		}
	}
	flushCJK := func() {
		if len(cjk) == 1 {
			terms = append(terms, string(cjk))
		} else {
			for i := 0; i+1 < len(cjk); i++ {
				terms = append(terms, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case isCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(cjk) > 0 {
				flushCJK()
			}
			word = append(word, r)
		default:
			flushWord()
			if len(cjk) > 0 {
				flushCJK()
			}
		}
	}
	flushWord()
	if len(cjk) > 0 {
		flushCJK()
	}

	return terms
}
