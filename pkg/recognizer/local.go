package recognizer

import (
	"context"
	"sync"
	"time"
)

// LocalTranscriber 本地测试识别器，按顺序返回预置的文本。
// 开发环境没有外部 ASR 服务时使用。
type LocalTranscriber struct {
	mu        sync.Mutex
	responses []string
	index     int
	frames    int
	isOpen    bool

	resultCallback ResultCallback
	errorCallback  func(error)
}

// NewLocalTranscriber creates a canned-response transcriber for tests
func NewLocalTranscriber(responses []string) *LocalTranscriber {
	if len(responses) == 0 {
		responses = []string{"你好"}
	}
	return &LocalTranscriber{responses: responses}
}

// SetResultCallback sets the callback for recognition results
func (t *LocalTranscriber) SetResultCallback(callback ResultCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resultCallback = callback
}

// SetErrorCallback sets the callback for errors
func (t *LocalTranscriber) SetErrorCallback(callback func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCallback = callback
}

// Open 开启一轮识别
func (t *LocalTranscriber) Open(ctx context.Context, sessionID string, mode ListenMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isOpen = true
	t.frames = 0
	return nil
}

// Push 只计数，不真正识别
func (t *LocalTranscriber) Push(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isOpen {
		return ErrClientClosed
	}
	t.frames++
	return nil
}

// Finalize 返回下一条预置文本
func (t *LocalTranscriber) Finalize(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.isOpen {
		return "", nil
	}
	t.isOpen = false
	if t.frames == 0 {
		return "", nil
	}
	text := t.responses[t.index%len(t.responses)]
	t.index++

	if t.resultCallback != nil {
		r := ParseResult(text)
		r.IsFinal = true
		r.Timestamp = time.Now()
		t.resultCallback(&r)
	}
	return text, nil
}

// Close 关闭识别器
func (t *LocalTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isOpen = false
	return nil
}

// FrameCount 本轮收到的帧数，测试用
func (t *LocalTranscriber) FrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}
