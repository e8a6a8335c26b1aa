package synthesizer

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed 合成会话已关闭
var ErrSessionClosed = errors.New("tts session closed")

// Marker 标记一句话里帧的位置
type Marker int

const (
	MarkerFirst Marker = iota
	MarkerMid
	MarkerLast
)

// Frame 一帧合成音频。SentenceID 用于打断后的帧围栏，
// MarkerLast 帧不带音频，只作为句子结束信号。
type Frame struct {
	SentenceID string
	Marker     Marker
	Opus       []byte
	Text       string
}

// Synthesizer 流式语音合成接口。
// 一句话一个 session：StartSession 起任务，PushText 增量送文本，
// FinishSession 收尾，Cancel 丢弃当前任务。
type Synthesizer interface {
	StartSession(ctx context.Context, sentenceID string) error
	PushText(text string) error
	FinishSession(ctx context.Context) error
	Cancel()
	Frames() <-chan Frame
	Close() error
}

// Oneshot 整段合成，唤醒词缓存刷新用
type Oneshot interface {
	SynthesizeAll(ctx context.Context, text string) (pcm []byte, sampleRate int, err error)
}

// Config TTS 提供商配置
type Config struct {
	Provider      string
	WSURL         string
	APIKey        string
	Model         string
	Voice         string
	SampleRate    int
	Channels      int
	FrameDuration int // 毫秒
	Volume        int
	Rate          float64
	Pitch         float64
	ReuseWindow   time.Duration // 连接复用窗口，从最后一次活动算起
}
