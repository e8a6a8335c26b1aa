package utils

import (
	"strings"
	"unicode"
)

// RemovePunctuation 去掉文本中的标点和空白，返回清理后的文本及其字符数。
// 用于判断一段识别结果是否有实际内容（纯标点的结果按空处理）。
func RemovePunctuation(text string) (string, int) {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	cleaned := b.String()
	return cleaned, len([]rune(cleaned))
}

// IsSentenceEnd 判断是否是句末标点
func IsSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?', '；', ';':
		return true
	}
	return false
}

// IsPauseMark 判断是否是句中停顿标点
func IsPauseMark(r rune) bool {
	switch r {
	case '，', '、', ',', '：', ':':
		return true
	}
	return false
}

// TruncateRunes 按字符数截断，用于日志里展示长文本
func TruncateRunes(s string, max int) string {
	rs := []rune(s)
	if len(rs) <= max {
		return s
	}
	return string(rs[:max]) + "..."
}
