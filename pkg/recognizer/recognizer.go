package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrClientClosed 客户端已关闭
var ErrClientClosed = errors.New("asr client closed")

// ListenMode 设备收音模式
type ListenMode string

const (
	ModeAuto     ListenMode = "auto"
	ModeManual   ListenMode = "manual"
	ModeRealtime ListenMode = "realtime"
)

// Result 识别结果。普通识别只有 Content，
// 增强识别可能带语言、情绪和声纹说话人。
type Result struct {
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	Emotion   string    `json:"emotion,omitempty"`
	Speaker   string    `json:"speaker,omitempty"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultCallback defines the callback for recognition results
type ResultCallback func(*Result)

// Transcriber 流式语音识别接口。
// Open 开启一轮识别，Push 喂入音频帧，Finalize 结束本轮并返回完整文本。
type Transcriber interface {
	Open(ctx context.Context, sessionID string, mode ListenMode) error
	Push(frame []byte) error
	Finalize(ctx context.Context) (string, error)
	Close() error

	SetResultCallback(callback ResultCallback)
	SetErrorCallback(callback func(error))
}

// ParseResult 解析识别文本。增强识别的结果是 JSON（带说话人等字段），
// 普通识别是纯文本，两种都接受。
func ParseResult(raw string) Result {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var r Result
		if err := json.Unmarshal([]byte(raw), &r); err == nil && r.Content != "" {
			return r
		}
	}
	return Result{Content: raw}
}

// Config ASR 提供商配置
type Config struct {
	Provider           string
	WSURL              string
	HTTPURL            string
	APIKey             string
	Model              string
	SampleRate         int
	Channels           int
	MaxSentenceSilence int // 毫秒，auto 模式句末静音判停
}
