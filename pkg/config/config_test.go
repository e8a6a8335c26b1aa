package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWakewordWords(t *testing.T) {
	t.Setenv("WAKEUP_WORDS", "你好小智, 小智小智 ,,嘿你好呀")
	require.NoError(t, Load())
	assert.Equal(t, []string{"你好小智", "小智小智", "嘿你好呀"}, GlobalConfig.Wakeword.Words)
}

func TestLoadWakewordWordsDefault(t *testing.T) {
	require.NoError(t, Load())
	assert.Contains(t, GlobalConfig.Wakeword.Words, "你好小智")
	assert.Contains(t, GlobalConfig.Wakeword.Words, "小智小智")
}
