package rag

import (
	"fmt"
	"sort"
)

// separators 分割优先级：段落 > 换行 > 句子 > 空格，最后硬切分。
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker 文档分块器。对同一 (text, chunkSize, overlap) 输出确定性结果。
type Chunker struct {
	chunkSize int // 每块最大字符数（rune）
	overlap   int // 块间重叠字符数
}

// NewChunker 创建分块器。参数非法时直接报错，不做静默修正。
func NewChunker(chunkSize, overlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidArgument, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap must be in [0, chunk size), got %d", ErrInvalidArgument, overlap)
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize 返回块大小。
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap 返回重叠长度。
func (c *Chunker) Overlap() int { return c.overlap }

// Split 将文本切分为带重叠的有序区间。偏移量为 rune 偏移，
// 前后两块满足 next.Start == prev.End - next.Overlap，
// 因此去掉重叠后拼接可完整还原输入。
func (c *Chunker) Split(text string) []Span {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= c.chunkSize {
		return []Span{{Text: text, Start: 0, End: n}}
	}

	bounds := c.boundaries(runes, 0, n, 0)
	sort.Ints(bounds)

	var spans []Span
	start, prevEnd := 0, 0
	for seq := 0; prevEnd < n; seq++ {
		end := c.pickEnd(bounds, start, prevEnd, n)
		spans = append(spans, Span{
			Text:    string(runes[start:end]),
			Start:   start,
			End:     end,
			Seq:     seq,
			Overlap: prevEnd - start,
		})
		prevEnd = end
		if prevEnd >= n {
			break
		}
		start = prevEnd - c.overlap
		if start < 0 {
			// 首个边界可能早于 overlap 长度
			start = 0
		}
	}
	return spans
}

// pickEnd 选择当前块的结束位置：优先落在分隔符边界上，
// 且必须越过上一块的结束位置（保证前进）；无可用边界则硬切。
func (c *Chunker) pickEnd(bounds []int, start, prevEnd, n int) int {
	limit := start + c.chunkSize
	if limit >= n {
		return n
	}
	// bounds 已排序，取 (prevEnd, limit] 内最大的边界
	i := sort.SearchInts(bounds, limit+1) - 1
	if i >= 0 && bounds[i] > prevEnd {
		return bounds[i]
	}
	return limit
}

// boundaries 递归收集 [lo, hi) 内的候选切分点。
// 边界位于分隔符之后，分隔符归属前一片段，保证片段精确覆盖原文。
// 片段仍超长时改用下一级更细的分隔符继续切分。
func (c *Chunker) boundaries(runes []rune, lo, hi, sepIdx int) []int {
	if hi-lo <= c.chunkSize || sepIdx >= len(separators) {
		return nil
	}

	sep := []rune(separators[sepIdx])
	var out []int
	pieceStart := lo
	for i := lo; i+len(sep) <= hi; i++ {
		if !runesMatch(runes, i, sep) {
			continue
		}
		b := i + len(sep)
		if b < hi {
			out = append(out, b)
		}
		if b-pieceStart > c.chunkSize {
			out = append(out, c.boundaries(runes, pieceStart, b, sepIdx+1)...)
		}
		pieceStart = b
		i = b - 1
	}

	if pieceStart == lo {
		// 本级分隔符未命中，整段降级
		return c.boundaries(runes, lo, hi, sepIdx+1)
	}
	if hi-pieceStart > c.chunkSize {
		out = append(out, c.boundaries(runes, pieceStart, hi, sepIdx+1)...)
	}
	return out
}

func runesMatch(runes []rune, at int, sep []rune) bool {
	for j, r := range sep {
		if runes[at+j] != r {
			return false
		}
	}
	return true
}
