package chat

import (
	"strings"

	"github.com/google/uuid"

	"docuchat/internal/domain/rag"
)

const (
	citationTextLimit  = 200
	citationProbeWords = 10
)

// extractCitations 为回答实际引用到的块生成引用。
// 判定为宽松的词面匹配：回答提到来源文件名，或包含块文本
// 开头若干个词中的任意一个。未被引用的块不产生 Citation。
func extractCitations(answer string, chunks []rag.ScoredChunk) []Citation {
	if answer == "" || len(chunks) == 0 {
		return nil
	}

	lowerAnswer := strings.ToLower(answer)
	var citations []Citation
	cited := make(map[string]bool) // 同一文件同一页只引用一次

	for _, c := range chunks {
		if !chunkReferenced(lowerAnswer, c) {
			continue
		}
		key := c.Filename + "#" + c.ChunkID
		if cited[key] {
			continue
		}
		cited[key] = true

		text := c.Text
		if runes := []rune(text); len(runes) > citationTextLimit {
			text = string(runes[:citationTextLimit]) + "..."
		}
		citations = append(citations, Citation{
			ID:       uuid.New().String(),
			Filename: c.Filename,
			Text:     text,
			Page:     c.Page,
		})
	}
	return citations
}

func chunkReferenced(lowerAnswer string, c rag.ScoredChunk) bool {
	if name := strings.ToLower(strings.TrimSpace(c.Filename)); name != "" {
		if strings.Contains(lowerAnswer, name) {
			return true
		}
		// 去掉扩展名再试一次
		if i := strings.LastIndex(name, "."); i > 0 {
			if strings.Contains(lowerAnswer, name[:i]) {
				return true
			}
		}
	}

	words := strings.Fields(strings.ToLower(c.Text))
	if len(words) > citationProbeWords {
		words = words[:citationProbeWords]
	}
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]")
		if len([]rune(w)) < 4 {
			continue
		}
		if strings.Contains(lowerAnswer, w) {
			return true
		}
	}
	return false
}
