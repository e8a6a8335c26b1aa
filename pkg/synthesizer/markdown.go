package synthesizer

import (
	"regexp"
	"strings"
)

// LLM 的回复常带 Markdown 标记，念出来很怪，送合成前先清掉。
var (
	reCodeFence  = regexp.MustCompile("(?s)```.*?```")
	reInlineCode = regexp.MustCompile("`([^`]*)`")
	reImage      = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	reLink       = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	reHeading    = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	reBoldItalic = regexp.MustCompile(`(\*{1,3}|_{1,3})(\S[^*_]*?)(\*{1,3}|_{1,3})`)
	reQuote      = regexp.MustCompile(`(?m)^>\s?`)
	reListMark   = regexp.MustCompile(`(?m)^\s*([-*+]|\d+\.)\s+`)
	reHRule      = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	reTableRow   = regexp.MustCompile(`(?m)^\|.*\|\s*$`)
	reMultiSpace = regexp.MustCompile(`[ \t]{2,}`)
)

// CleanMarkdown 去掉 Markdown 标记，保留可朗读的文字
func CleanMarkdown(text string) string {
	if text == "" {
		return ""
	}
	text = reCodeFence.ReplaceAllString(text, "")
	text = reImage.ReplaceAllString(text, "")
	text = reLink.ReplaceAllString(text, "$1")
	text = reInlineCode.ReplaceAllString(text, "$1")
	text = reHeading.ReplaceAllString(text, "")
	text = reBoldItalic.ReplaceAllString(text, "$2")
	text = reTableRow.ReplaceAllString(text, "")
	text = reHRule.ReplaceAllString(text, "")
	text = reQuote.ReplaceAllString(text, "")
	text = reListMark.ReplaceAllString(text, "")
	text = reMultiSpace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
