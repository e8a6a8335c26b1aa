package recognizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultPlainText(t *testing.T) {
	r := ParseResult("今天天气怎么样")
	assert.Equal(t, "今天天气怎么样", r.Content)
	assert.Empty(t, r.Speaker)
}

func TestParseResultJSON(t *testing.T) {
	raw := `{"content":"你好","language":"zh","emotion":"neutral","speaker":"张三"}`
	r := ParseResult(raw)
	assert.Equal(t, "你好", r.Content)
	assert.Equal(t, "zh", r.Language)
	assert.Equal(t, "neutral", r.Emotion)
	assert.Equal(t, "张三", r.Speaker)
}

func TestParseResultMalformedJSON(t *testing.T) {
	// 解析失败时当纯文本处理
	raw := `{"content":`
	r := ParseResult(raw)
	assert.Equal(t, raw, r.Content)
}

func TestLocalTranscriberSequence(t *testing.T) {
	tr := NewLocalTranscriber([]string{"第一句", "第二句"})
	ctx := context.Background()

	var got []string
	tr.SetResultCallback(func(r *Result) {
		got = append(got, r.Content)
		assert.True(t, r.IsFinal)
	})

	require.NoError(t, tr.Open(ctx, "s1", ModeAuto))
	require.NoError(t, tr.Push([]byte{1, 2, 3}))
	text, err := tr.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "第一句", text)

	require.NoError(t, tr.Open(ctx, "s1", ModeAuto))
	require.NoError(t, tr.Push([]byte{1}))
	text, err = tr.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "第二句", text)

	assert.Equal(t, []string{"第一句", "第二句"}, got)
}

func TestLocalTranscriberEmptyTurn(t *testing.T) {
	tr := NewLocalTranscriber([]string{"不该出现"})
	ctx := context.Background()

	require.NoError(t, tr.Open(ctx, "s1", ModeAuto))
	// 一帧都没收到，Finalize 返回空
	text, err := tr.Finalize(ctx)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestLocalTranscriberClosedPush(t *testing.T) {
	tr := NewLocalTranscriber(nil)
	err := tr.Push([]byte{1})
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestStreamFinalAccumulation(t *testing.T) {
	endTime := int64(1200)

	t.Run("manual模式拼接多个final", func(t *testing.T) {
		tr := NewStreamTranscriber(Config{}, nil)
		tr.mode = ModeManual
		tr.isOpen = true

		tr.handleResult(sentenceEnv("今天天气", true, &endTime))
		tr.handleResult(sentenceEnv("很不错。", true, &endTime))
		assert.Equal(t, "今天天气很不错。", tr.accumulated)
	})

	t.Run("auto模式只取第一个final", func(t *testing.T) {
		tr := NewStreamTranscriber(Config{}, nil)
		tr.mode = ModeAuto
		tr.isOpen = true

		tr.handleResult(sentenceEnv("打开电灯", true, &endTime))
		tr.handleResult(sentenceEnv("多余的话", true, &endTime))
		assert.Equal(t, "打开电灯", tr.accumulated)
		assert.True(t, tr.turnDone)
	})

	t.Run("中间结果不进累积", func(t *testing.T) {
		tr := NewStreamTranscriber(Config{}, nil)
		tr.mode = ModeAuto
		tr.isOpen = true

		tr.handleResult(sentenceEnv("打开", false, nil))
		// sentence_end 为 true 但没有 end_time 也不算 final
		tr.handleResult(sentenceEnv("打开电", true, nil))
		assert.Empty(t, tr.accumulated)
		assert.False(t, tr.turnDone)
	})
}

func TestStreamResultCallbackFlags(t *testing.T) {
	endTime := int64(500)
	tr := NewStreamTranscriber(Config{}, nil)
	tr.mode = ModeAuto
	tr.isOpen = true

	var finals, partials int
	tr.SetResultCallback(func(r *Result) {
		if r.IsFinal {
			finals++
		} else {
			partials++
		}
	})

	tr.handleResult(sentenceEnv("打", false, nil))
	tr.handleResult(sentenceEnv("打开电灯", true, &endTime))
	assert.Equal(t, 1, finals)
	assert.Equal(t, 1, partials)
}

func sentenceEnv(text string, end bool, endTime *int64) *taskEnvelope {
	return &taskEnvelope{
		Payload: taskPayload{
			Output: &taskOutput{
				Sentence: &sentenceResult{
					Text:        text,
					SentenceEnd: end,
					EndTime:     endTime,
				},
			},
		},
	}
}

func TestConfigFromMap(t *testing.T) {
	defaults := Config{Provider: "stream", Model: "default-model", SampleRate: 16000}
	m := map[string]interface{}{
		"provider":             "oneshot",
		"http_url":             "http://asr.example.com/v1",
		"api_key":              "sk-test",
		"sample_rate":          float64(8000), // JSON 数值解码成 float64
		"max_sentence_silence": "300",
	}
	cfg := ConfigFromMap(m, defaults)
	assert.Equal(t, "oneshot", cfg.Provider)
	assert.Equal(t, "http://asr.example.com/v1", cfg.HTTPURL)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "default-model", cfg.Model)
	assert.Equal(t, 8000, cfg.SampleRate)
	assert.Equal(t, 300, cfg.MaxSentenceSilence)
}

func TestFactoryCreate(t *testing.T) {
	tr, err := Create(Config{Provider: "local"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalTranscriber{}, tr)

	tr, err = Create(Config{Provider: "stream"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &StreamTranscriber{}, tr)

	_, err = Create(Config{Provider: "nope"}, nil)
	assert.Error(t, err)
}
