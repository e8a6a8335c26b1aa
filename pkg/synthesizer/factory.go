package synthesizer

import (
	"fmt"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Create 按提供商名称创建合成器
func Create(config Config, logger *zap.Logger) (Synthesizer, error) {
	switch config.Provider {
	case "stream", "":
		return NewStreamSynthesizer(config, logger), nil
	case "local":
		return NewLocalSynthesizer(config), nil
	default:
		return nil, fmt.Errorf("unknown tts provider: %s", config.Provider)
	}
}

// ConfigFromMap 从控制面下发的模型配置构造 Config
func ConfigFromMap(m map[string]interface{}, defaults Config) Config {
	cfg := defaults
	if v, ok := m["provider"]; ok {
		cfg.Provider = cast.ToString(v)
	}
	if v, ok := m["ws_url"]; ok {
		cfg.WSURL = cast.ToString(v)
	}
	if v, ok := m["api_key"]; ok {
		cfg.APIKey = cast.ToString(v)
	}
	if v, ok := m["model"]; ok {
		cfg.Model = cast.ToString(v)
	}
	if v, ok := m["voice"]; ok {
		cfg.Voice = cast.ToString(v)
	}
	if v, ok := m["sample_rate"]; ok {
		cfg.SampleRate = cast.ToInt(v)
	}
	if v, ok := m["volume"]; ok {
		cfg.Volume = cast.ToInt(v)
	}
	if v, ok := m["rate"]; ok {
		cfg.Rate = cast.ToFloat64(v)
	}
	if v, ok := m["pitch"]; ok {
		cfg.Pitch = cast.ToFloat64(v)
	}
	return cfg
}
