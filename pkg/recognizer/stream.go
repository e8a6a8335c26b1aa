package recognizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 句末静音判停（毫秒）。manual 模式设备自己决定何时收尾，
// 把窗口拉长避免服务端提前断句。
const (
	silenceAutoMs   = 200
	silenceManualMs = 6000
)

// duplex 协议的消息信封
type taskHeader struct {
	Action       string `json:"action,omitempty"`
	Event        string `json:"event,omitempty"`
	TaskID       string `json:"task_id"`
	Streaming    string `json:"streaming,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type taskEnvelope struct {
	Header  taskHeader  `json:"header"`
	Payload taskPayload `json:"payload"`
}

type taskPayload struct {
	TaskGroup  string         `json:"task_group,omitempty"`
	Task       string         `json:"task,omitempty"`
	Function   string         `json:"function,omitempty"`
	Model      string         `json:"model,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
	Output     *taskOutput    `json:"output,omitempty"`
}

type taskOutput struct {
	Sentence *sentenceResult `json:"sentence,omitempty"`
}

type sentenceResult struct {
	Text        string `json:"text"`
	BeginTime   *int64 `json:"begin_time"`
	EndTime     *int64 `json:"end_time"`
	SentenceEnd bool   `json:"sentence_end"`
}

// StreamTranscriber 双工 WebSocket 流式识别。
// 每轮识别一条连接：Open 发 run-task，音频帧先积压，
// 等 task-started 再往外送，Finalize 发 finish-task 收尾。
type StreamTranscriber struct {
	config Config
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	taskID string
	mode   ListenMode

	audioChan chan []byte
	closeChan chan struct{}

	writeLoopStopChan chan struct{}
	readLoopStopChan  chan struct{}

	started   chan struct{}
	finished  chan struct{}
	finishing chan struct{}

	// 本轮累积的识别文本。manual 模式拼接每个 final，
	// auto 模式只收第一个 final，之后的丢弃。
	accumulated string
	turnDone    bool
	isOpen      bool

	resultCallback ResultCallback
	errorCallback  func(error)
}

// NewStreamTranscriber creates a duplex streaming transcriber
func NewStreamTranscriber(config Config, logger *zap.Logger) *StreamTranscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamTranscriber{
		config: config,
		logger: logger,
	}
}

// SetResultCallback sets the callback for recognition results
func (t *StreamTranscriber) SetResultCallback(callback ResultCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resultCallback = callback
}

// SetErrorCallback sets the callback for transport errors
func (t *StreamTranscriber) SetErrorCallback(callback func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCallback = callback
}

// Open 建立连接并发送 run-task，开启一轮识别。
// 上一轮没收尾也先拆掉旧连接，保证每轮都能重开。
func (t *StreamTranscriber) Open(ctx context.Context, sessionID string, mode ListenMode) error {
	t.teardown()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.WSURL == "" {
		return errors.New("asr ws url is empty")
	}

	header := http.Header{}
	header.Set("Authorization", "bearer "+t.config.APIKey)
	header.Set("X-DashScope-DataInspection", "enable")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.config.WSURL, header)
	if err != nil {
		return fmt.Errorf("dial asr websocket: %w", err)
	}

	t.conn = conn
	t.taskID = uuid.NewString()
	t.mode = mode
	t.accumulated = ""
	t.turnDone = false
	t.isOpen = true
	t.audioChan = make(chan []byte, 200)
	t.closeChan = make(chan struct{})
	t.writeLoopStopChan = make(chan struct{}, 1)
	t.readLoopStopChan = make(chan struct{}, 1)
	t.started = make(chan struct{})
	t.finished = make(chan struct{})
	t.finishing = make(chan struct{})

	maxSilence := silenceAutoMs
	if mode == ModeManual {
		maxSilence = silenceManualMs
	} else if t.config.MaxSentenceSilence > 0 {
		maxSilence = t.config.MaxSentenceSilence
	}

	runTask := taskEnvelope{
		Header: taskHeader{
			Action:    "run-task",
			TaskID:    t.taskID,
			Streaming: "duplex",
		},
		Payload: taskPayload{
			TaskGroup: "audio",
			Task:      "asr",
			Function:  "recognition",
			Model:     t.config.Model,
			Parameters: map[string]any{
				"format":                     "opus",
				"sample_rate":                t.config.SampleRate,
				"max_sentence_silence":       maxSilence,
				"disfluency_removal_enabled": false,
			},
			Input: map[string]any{},
		},
	}
	if err := conn.WriteJSON(runTask); err != nil {
		_ = conn.Close()
		t.isOpen = false
		return fmt.Errorf("send run-task: %w", err)
	}

	t.logger.Info("[ASR] 识别任务已启动",
		zap.String("sessionID", sessionID),
		zap.String("taskID", t.taskID),
		zap.String("mode", string(mode)),
		zap.Int("maxSilence", maxSilence))

	go t.readLoop()
	go t.writeLoop()

	return nil
}

// Push 喂入一帧 Opus 音频。task-started 之前的帧积压在通道里。
func (t *StreamTranscriber) Push(frame []byte) error {
	t.mu.Lock()
	if !t.isOpen {
		t.mu.Unlock()
		return ErrClientClosed
	}
	audioChan := t.audioChan
	closeChan := t.closeChan
	t.mu.Unlock()

	data := make([]byte, len(frame))
	copy(data, frame)

	select {
	case audioChan <- data:
		return nil
	case <-closeChan:
		return ErrClientClosed
	default:
	}

	// 积压超过通道容量，丢最旧的一帧保住最新音频
	select {
	case <-audioChan:
	default:
	}
	select {
	case audioChan <- data:
	case <-closeChan:
		return ErrClientClosed
	default:
	}
	t.logger.Warn("[ASR] 音频通道已满，丢弃最旧帧")
	return nil
}

// Finalize 发送 finish-task 并等待 task-finished，返回本轮完整文本
func (t *StreamTranscriber) Finalize(ctx context.Context) (string, error) {
	t.mu.Lock()
	if !t.isOpen {
		text := t.accumulated
		t.mu.Unlock()
		return text, nil
	}
	// 通知 writeLoop 送完积压音频后发 finish-task
	select {
	case <-t.finishing:
	default:
		close(t.finishing)
	}
	finished := t.finished
	t.mu.Unlock()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.logger.Warn("[ASR] 等待 task-finished 超时", zap.String("taskID", t.taskID))
	case <-ctx.Done():
	}

	t.mu.Lock()
	text := t.accumulated
	t.mu.Unlock()

	// 一轮一个任务，收完文本就拆连接，下一轮 Open 重新建
	t.teardown()
	return text, nil
}

// Close 关闭连接并等待收发协程退出
func (t *StreamTranscriber) Close() error {
	t.teardown()
	return nil
}

// teardown 拆掉本轮的连接并回收收发协程，幂等
func (t *StreamTranscriber) teardown() {
	t.mu.Lock()
	if !t.isOpen {
		t.mu.Unlock()
		return
	}
	t.isOpen = false
	close(t.closeChan)
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	timeout := time.After(1 * time.Second)
	select {
	case <-t.writeLoopStopChan:
	case <-timeout:
	}
	select {
	case <-t.readLoopStopChan:
	case <-timeout:
	}
}

func (t *StreamTranscriber) writeLoop() {
	defer func() {
		t.writeLoopStopChan <- struct{}{}
	}()

	// 等服务端 task-started 再放音频，之前 Push 的帧都压在通道里
	select {
	case <-t.started:
	case <-t.closeChan:
		return
	}

	for {
		select {
		case <-t.closeChan:
			return
		case <-t.finishing:
			// 清空积压后收尾
			for {
				select {
				case frame := <-t.audioChan:
					if err := t.writeAudio(frame); err != nil {
						return
					}
				default:
					t.sendFinishTask()
					return
				}
			}
		case frame := <-t.audioChan:
			if err := t.writeAudio(frame); err != nil {
				return
			}
		}
	}
}

func (t *StreamTranscriber) writeAudio(frame []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		if !isNormalCloseError(err) {
			t.logger.Error("[ASR] 发送音频失败", zap.Error(err), zap.String("taskID", t.taskID))
			t.notifyError(err)
		}
		return err
	}
	return nil
}

func (t *StreamTranscriber) sendFinishTask() {
	finish := taskEnvelope{
		Header: taskHeader{
			Action:    "finish-task",
			TaskID:    t.taskID,
			Streaming: "duplex",
		},
		Payload: taskPayload{Input: map[string]any{}},
	}
	_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := t.conn.WriteJSON(finish); err != nil && !isNormalCloseError(err) {
		t.logger.Error("[ASR] 发送 finish-task 失败", zap.Error(err))
	}
}

func (t *StreamTranscriber) readLoop() {
	defer func() {
		t.readLoopStopChan <- struct{}{}
	}()

	for {
		_ = t.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			if !isNormalCloseError(err) {
				t.logger.Error("[ASR] 读取消息失败", zap.Error(err), zap.String("taskID", t.taskID))
				t.notifyError(err)
			}
			return
		}

		var env taskEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.logger.Warn("[ASR] 无法解析的消息", zap.Error(err))
			continue
		}

		switch env.Header.Event {
		case "task-started":
			t.logger.Debug("[ASR] task-started", zap.String("taskID", t.taskID))
			close(t.started)

		case "result-generated":
			t.handleResult(&env)

		case "task-finished":
			t.logger.Debug("[ASR] task-finished", zap.String("taskID", t.taskID))
			close(t.finished)
			return

		case "task-failed":
			err := fmt.Errorf("asr task failed: %s %s", env.Header.ErrorCode, env.Header.ErrorMessage)
			t.logger.Error("[ASR] 任务失败",
				zap.String("code", env.Header.ErrorCode),
				zap.String("message", env.Header.ErrorMessage))
			t.notifyError(err)
			return
		}
	}
}

func (t *StreamTranscriber) handleResult(env *taskEnvelope) {
	if env.Payload.Output == nil || env.Payload.Output.Sentence == nil {
		return
	}
	sentence := env.Payload.Output.Sentence
	text := strings.TrimSpace(sentence.Text)
	if text == "" {
		return
	}

	// 句子收尾且带结束时间戳才算 final，其余都是中间结果
	isFinal := sentence.SentenceEnd && sentence.EndTime != nil

	t.mu.Lock()
	if isFinal {
		switch t.mode {
		case ModeManual:
			t.accumulated += text
		default:
			if t.turnDone {
				// auto 模式一轮只取第一个 final
				t.mu.Unlock()
				t.logger.Debug("[ASR] 丢弃本轮多余的识别结果", zap.String("text", text))
				return
			}
			t.accumulated = text
			t.turnDone = true
		}
	}
	callback := t.resultCallback
	t.mu.Unlock()

	if callback != nil {
		r := ParseResult(text)
		r.IsFinal = isFinal
		r.Timestamp = time.Now()
		callback(&r)
	}
}

func (t *StreamTranscriber) notifyError(err error) {
	t.mu.Lock()
	callback := t.errorCallback
	t.mu.Unlock()
	if callback != nil {
		callback(err)
	}
}

// isNormalCloseError checks if the error is a normal WebSocket close error
func isNormalCloseError(err error) bool {
	var closeError *websocket.CloseError
	if errors.As(err, &closeError) {
		switch closeError.Code {
		case websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived:
			return true
		}
	}
	if strings.Contains(err.Error(), "use of closed network connection") {
		return true
	}
	return false
}
