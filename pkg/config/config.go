package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/logger"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/utils"
)

// GlobalConfig 全局配置实例
var GlobalConfig *Config

// Config main configuration structure
type Config struct {
	Server   ServerConfig     `mapstructure:"server"`
	Log      logger.LogConfig `mapstructure:"log"`
	Audio    AudioConfig      `mapstructure:"audio"`
	VAD      VADConfig        `mapstructure:"vad"`
	ASR      ASRConfig        `mapstructure:"asr"`
	TTS      TTSConfig        `mapstructure:"tts"`
	LLM      LLMConfig        `mapstructure:"llm"`
	Wakeword WakewordConfig   `mapstructure:"wakeword"`
	Manage   ManageConfig     `mapstructure:"manage"`
	Dialogue DialogueConfig   `mapstructure:"dialogue"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Addr      string `env:"ADDR"`
	Mode      string `env:"MODE"`
	WSPath    string `env:"WS_PATH"`
	AuthToken string `env:"AUTH_TOKEN"`
}

// AudioConfig 音频参数，面向设备协商的默认值
type AudioConfig struct {
	Format        string `env:"AUDIO_FORMAT"`
	SampleRate    int    `env:"AUDIO_SAMPLE_RATE"`
	Channels      int    `env:"AUDIO_CHANNELS"`
	FrameDuration int    `env:"AUDIO_FRAME_DURATION"` // 毫秒
}

// VADConfig VAD configuration
type VADConfig struct {
	Enabled           bool    `env:"VAD_ENABLED"`
	Threshold         float64 `env:"VAD_THRESHOLD"`
	ConsecutiveFrames int     `env:"VAD_CONSECUTIVE_FRAMES"`
	MinSilenceAuto    time.Duration
	MinSilenceManual  time.Duration
}

// ASRConfig ASR provider configuration
type ASRConfig struct {
	Provider           string `env:"ASR_PROVIDER"`
	WSURL              string `env:"ASR_WS_URL"`
	HTTPURL            string `env:"ASR_HTTP_URL"`
	APIKey             string `env:"ASR_API_KEY"`
	Model              string `env:"ASR_MODEL"`
	MaxSentenceSilence int    `env:"ASR_MAX_SENTENCE_SILENCE"` // 毫秒
}

// TTSConfig TTS provider configuration
type TTSConfig struct {
	Provider    string  `env:"TTS_PROVIDER"`
	WSURL       string  `env:"TTS_WS_URL"`
	APIKey      string  `env:"TTS_API_KEY"`
	Model       string  `env:"TTS_MODEL"`
	Voice       string  `env:"TTS_VOICE"`
	SampleRate  int     `env:"TTS_SAMPLE_RATE"`
	Volume      int     `env:"TTS_VOLUME"`
	Rate        float64 `env:"TTS_RATE"`
	Pitch       float64 `env:"TTS_PITCH"`
	ReuseWindow time.Duration
}

// LLMConfig LLM service configuration
type LLMConfig struct {
	APIKey  string `env:"LLM_API_KEY"`
	BaseURL string `env:"LLM_BASE_URL"`
	Model   string `env:"LLM_MODEL"`
	Prompt  string `env:"LLM_PROMPT"`
}

// WakewordConfig 唤醒词响应缓存配置
type WakewordConfig struct {
	Enabled     bool   `env:"WAKEWORD_ENABLED"`
	AssetsDir   string `env:"WAKEWORD_ASSETS_DIR"`
	Words       []string
	RefreshTime time.Duration
}

// ManageConfig 控制面 API 配置
type ManageConfig struct {
	Enabled    bool   `env:"MANAGE_API_ENABLED"`
	BaseURL    string `env:"MANAGE_API_URL"`
	Secret     string `env:"MANAGE_API_SECRET"`
	MaxRetries int    `env:"MANAGE_API_MAX_RETRIES"`
	RetryDelay time.Duration
	Timeout    time.Duration
}

// DialogueConfig 会话历史配置
type DialogueConfig struct {
	MaxHistory int `env:"DIALOGUE_MAX_HISTORY"`
}

// Load 加载配置：先尝试 .env 文件，再用环境变量覆盖默认值
func Load() error {
	env := os.Getenv("APP_ENV")
	err := utils.LoadEnv(env)
	if err != nil {
		// .env 不存在不影响启动
		log.Printf("Note: .env file not found or failed to load: %v (using default values)", err)
	}

	GlobalConfig = &Config{
		Server: ServerConfig{
			Addr:      getStringOrDefault("ADDR", ":8000"),
			Mode:      getStringOrDefault("MODE", "development"),
			WSPath:    getStringOrDefault("WS_PATH", "/xiaozhi/v1/"),
			AuthToken: getStringOrDefault("AUTH_TOKEN", ""),
		},
		Log: logger.LogConfig{
			Level:      getStringOrDefault("LOG_LEVEL", "info"),
			Filename:   getStringOrDefault("LOG_FILENAME", "./logs/server.log"),
			MaxSize:    getIntOrDefault("LOG_MAX_SIZE", 100),
			MaxAge:     getIntOrDefault("LOG_MAX_AGE", 30),
			MaxBackups: getIntOrDefault("LOG_MAX_BACKUPS", 5),
			Daily:      getBoolOrDefault("LOG_DAILY", true),
		},
		Audio: AudioConfig{
			Format:        getStringOrDefault("AUDIO_FORMAT", "opus"),
			SampleRate:    getIntOrDefault("AUDIO_SAMPLE_RATE", 16000),
			Channels:      getIntOrDefault("AUDIO_CHANNELS", 1),
			FrameDuration: getIntOrDefault("AUDIO_FRAME_DURATION", 60),
		},
		VAD: VADConfig{
			Enabled:           getBoolOrDefault("VAD_ENABLED", true),
			Threshold:         getFloatOrDefault("VAD_THRESHOLD", 500.0),
			ConsecutiveFrames: getIntOrDefault("VAD_CONSECUTIVE_FRAMES", 3),
			MinSilenceAuto:    parseDuration(getStringOrDefault("VAD_MIN_SILENCE_AUTO", "600ms"), 600*time.Millisecond),
			MinSilenceManual:  parseDuration(getStringOrDefault("VAD_MIN_SILENCE_MANUAL", "6s"), 6*time.Second),
		},
		ASR: ASRConfig{
			Provider:           getStringOrDefault("ASR_PROVIDER", "stream"),
			WSURL:              getStringOrDefault("ASR_WS_URL", "wss://dashscope.aliyuncs.com/api-ws/v1/inference"),
			HTTPURL:            getStringOrDefault("ASR_HTTP_URL", ""),
			APIKey:             getStringOrDefault("ASR_API_KEY", ""),
			Model:              getStringOrDefault("ASR_MODEL", "paraformer-realtime-v2"),
			MaxSentenceSilence: getIntOrDefault("ASR_MAX_SENTENCE_SILENCE", 200),
		},
		TTS: TTSConfig{
			Provider:    getStringOrDefault("TTS_PROVIDER", "stream"),
			WSURL:       getStringOrDefault("TTS_WS_URL", "wss://dashscope.aliyuncs.com/api-ws/v1/inference"),
			APIKey:      getStringOrDefault("TTS_API_KEY", ""),
			Model:       getStringOrDefault("TTS_MODEL", "cosyvoice-v2"),
			Voice:       getStringOrDefault("TTS_VOICE", "longxiaochun_v2"),
			SampleRate:  getIntOrDefault("TTS_SAMPLE_RATE", 16000),
			Volume:      getIntOrDefault("TTS_VOLUME", 50),
			Rate:        getFloatOrDefault("TTS_RATE", 1.0),
			Pitch:       getFloatOrDefault("TTS_PITCH", 1.0),
			ReuseWindow: parseDuration(getStringOrDefault("TTS_REUSE_WINDOW", "60s"), 60*time.Second),
		},
		LLM: LLMConfig{
			APIKey:  getStringOrDefault("LLM_API_KEY", ""),
			BaseURL: getStringOrDefault("LLM_BASE_URL", "https://api.openai.com/v1"),
			Model:   getStringOrDefault("LLM_MODEL", "gpt-4o-mini"),
			Prompt:  getStringOrDefault("LLM_PROMPT", "你是小智，一个亲切的语音助手，回答要简短口语化。"),
		},
		Wakeword: WakewordConfig{
			Enabled:     getBoolOrDefault("WAKEWORD_ENABLED", true),
			AssetsDir:   getStringOrDefault("WAKEWORD_ASSETS_DIR", "./data/wakeup"),
			Words:       splitCSV(getStringOrDefault("WAKEUP_WORDS", "你好小智,小智小智,嘿你好呀,你好小志")),
			RefreshTime: parseDuration(getStringOrDefault("WAKEWORD_REFRESH_TIME", "10s"), 10*time.Second),
		},
		Manage: ManageConfig{
			Enabled:    getBoolOrDefault("MANAGE_API_ENABLED", false),
			BaseURL:    getStringOrDefault("MANAGE_API_URL", ""),
			Secret:     getStringOrDefault("MANAGE_API_SECRET", ""),
			MaxRetries: getIntOrDefault("MANAGE_API_MAX_RETRIES", 6),
			RetryDelay: parseDuration(getStringOrDefault("MANAGE_API_RETRY_DELAY", "10s"), 10*time.Second),
			Timeout:    parseDuration(getStringOrDefault("MANAGE_API_TIMEOUT", "30s"), 30*time.Second),
		},
		Dialogue: DialogueConfig{
			MaxHistory: getIntOrDefault("DIALOGUE_MAX_HISTORY", 20),
		},
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server address is required")
	}
	if c.Audio.SampleRate <= 0 || c.Audio.Channels <= 0 {
		return errors.New("invalid audio params")
	}
	if c.Audio.FrameDuration != 20 && c.Audio.FrameDuration != 40 && c.Audio.FrameDuration != 60 {
		return errors.New("frame duration must be 20, 40 or 60 ms")
	}
	if c.Manage.Enabled && c.Manage.BaseURL == "" {
		return errors.New("manage api enabled but MANAGE_API_URL is empty")
	}
	return nil
}

func getStringOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return defaultVal
}

// splitCSV 逗号分隔的配置项拆成列表，空段丢弃
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
