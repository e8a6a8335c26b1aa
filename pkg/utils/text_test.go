package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemovePunctuation(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantLen int
	}{
		{"中文标点", "你好，世界！", "你好世界", 4},
		{"纯标点", "。。。！？", "", 0},
		{"混合", "Hello, 小智。", "Hello小智", 7},
		{"空串", "", "", 0},
		{"空白", "  \t\n", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := RemovePunctuation(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantLen, n)
		})
	}
}

func TestIsSentenceEnd(t *testing.T) {
	assert.True(t, IsSentenceEnd('。'))
	assert.True(t, IsSentenceEnd('!'))
	assert.True(t, IsSentenceEnd('？'))
	assert.False(t, IsSentenceEnd('，'))
	assert.False(t, IsSentenceEnd('a'))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "你好", TruncateRunes("你好", 10))
	assert.Equal(t, "你好世...", TruncateRunes("你好世界啊", 3))
}

func TestWavRoundTrip(t *testing.T) {
	pcm := make([]byte, 3200) // 100ms @16k mono
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = byte(i)
		pcm[i+1] = byte(i >> 9)
	}
	path := t.TempDir() + "/test.wav"
	err := WritePCMToWav(path, pcm, 16000, 1)
	assert.NoError(t, err)

	got, rate, err := ReadWavPCM(path)
	assert.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, pcm, got)
}
