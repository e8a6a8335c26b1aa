package recognizer

import (
	"fmt"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Create 按提供商名称创建识别器
func Create(config Config, logger *zap.Logger) (Transcriber, error) {
	switch config.Provider {
	case "stream", "":
		return NewStreamTranscriber(config, logger), nil
	case "oneshot":
		return NewOneshotTranscriber(config, logger), nil
	case "local":
		return NewLocalTranscriber(nil), nil
	default:
		return nil, fmt.Errorf("unknown asr provider: %s", config.Provider)
	}
}

// ConfigFromMap 从控制面下发的模型配置构造 Config。
// 下发的是弱类型 map，数值可能是 float64 或字符串。
func ConfigFromMap(m map[string]interface{}, defaults Config) Config {
	cfg := defaults
	if v, ok := m["provider"]; ok {
		cfg.Provider = cast.ToString(v)
	}
	if v, ok := m["ws_url"]; ok {
		cfg.WSURL = cast.ToString(v)
	}
	if v, ok := m["http_url"]; ok {
		cfg.HTTPURL = cast.ToString(v)
	}
	if v, ok := m["api_key"]; ok {
		cfg.APIKey = cast.ToString(v)
	}
	if v, ok := m["model"]; ok {
		cfg.Model = cast.ToString(v)
	}
	if v, ok := m["sample_rate"]; ok {
		cfg.SampleRate = cast.ToInt(v)
	}
	if v, ok := m["max_sentence_silence"]; ok {
		cfg.MaxSentenceSilence = cast.ToInt(v)
	}
	return cfg
}
