package hardware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSegmenterSentenceEnd(t *testing.T) {
	seg := NewSegmenter()
	got := seg.Feed("今天天气晴。明天有雨！")
	assert.Equal(t, []string{"今天天气晴。", "明天有雨！"}, got)
	assert.Empty(t, seg.Flush())
}

func TestSegmenterPauseNeedsMinChars(t *testing.T) {
	seg := NewSegmenter()
	// 逗号前不足最少字符数，不切
	got := seg.Feed("我想，")
	assert.Empty(t, got)

	// 攒够了在停顿处切
	got = seg.Feed("这个问题要慢慢说，")
	assert.Len(t, got, 1)
	assert.True(t, strings.HasSuffix(got[0], "，"))
}

func TestSegmenterMaxCharsForceFlush(t *testing.T) {
	seg := NewSegmenter()
	long := strings.Repeat("字", segmentMaxChars+5)
	got := seg.Feed(long)
	assert.Len(t, got, 1)
	assert.Equal(t, segmentMaxChars, len([]rune(got[0])))

	rest := seg.Flush()
	assert.Equal(t, 5, len([]rune(rest)))
}

func TestSegmenterStreamingTokens(t *testing.T) {
	seg := NewSegmenter()
	var out []string
	for _, token := range []string{"今天", "天气", "晴。", "适合", "出门。"} {
		out = append(out, seg.Feed(token)...)
	}
	assert.Equal(t, []string{"今天天气晴。", "适合出门。"}, out)
}

func TestSegmenterPunctuationOnlyDropped(t *testing.T) {
	seg := NewSegmenter()
	got := seg.Feed("。。！")
	assert.Empty(t, got)
	assert.Empty(t, seg.Flush())
}

func TestSegmenterReset(t *testing.T) {
	seg := NewSegmenter()
	seg.Feed("残留文本")
	seg.Reset()
	assert.Empty(t, seg.Flush())
}
