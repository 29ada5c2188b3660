package rag

import (
	"regexp"
	"strings"
)

// 清洗用正则（预编译）
var (
	reDotRuns        = regexp.MustCompile(`\.{3,}`)
	reDashRuns       = regexp.MustCompile(`-{3,}`)
	reUnderscoreRuns = regexp.MustCompile(`_{3,}`)
	reNewlineRuns    = regexp.MustCompile(`\n{3,}`)
	reSpaceRuns      = regexp.MustCompile(`[ \t]{2,}`)
	reLineTrim       = regexp.MustCompile(`[ \t]+\n`)
)

// CleanText 归一化提取出的原始文本：统一换行符、压缩排版噪音
// （目录点线、分隔横线）、折叠多余空白。纯函数，分块前必须先调用。
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = reDotRuns.ReplaceAllString(text, ".")
	text = reDashRuns.ReplaceAllString(text, "-")
	text = reUnderscoreRuns.ReplaceAllString(text, "_")

	text = reSpaceRuns.ReplaceAllString(text, " ")
	text = reLineTrim.ReplaceAllString(text, "\n")
	text = reNewlineRuns.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
