package synthesizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media/encoder"
)

// duplex 协议信封，和 ASR 共用同一套结构
type ttsHeader struct {
	Action       string `json:"action,omitempty"`
	Event        string `json:"event,omitempty"`
	TaskID       string `json:"task_id"`
	Streaming    string `json:"streaming,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type ttsEnvelope struct {
	Header  ttsHeader  `json:"header"`
	Payload ttsPayload `json:"payload"`
}

type ttsPayload struct {
	TaskGroup  string         `json:"task_group,omitempty"`
	Task       string         `json:"task,omitempty"`
	Function   string         `json:"function,omitempty"`
	Model      string         `json:"model,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// StreamSynthesizer 双工 WebSocket 流式合成。
// 连接在复用窗口内跨句保留，异常断开后禁止复用。
// 同一句话传输失败最多重连一次，重连后整句重发。
type StreamSynthesizer struct {
	config Config
	logger *zap.Logger

	mu  sync.Mutex
	wmu sync.Mutex // 串行化 WebSocket 写

	conn         *websocket.Conn
	lastActivity time.Time
	broken       bool
	closed       bool

	// 当前句子的任务状态
	taskID          string
	sentenceID      string
	taskActive      bool
	started         bool
	pendingTexts    []string // task-started 之前攒的文本
	sentTexts       []string // 本句全部文本，重连时重发
	finishRequested bool
	retried         bool
	firstFrameSent  bool
	taskDone        chan struct{}

	opusEncoder media.EncoderFunc
	frames      chan Frame

	errorCallback func(sentenceID string, err error)
}

// NewStreamSynthesizer creates a duplex streaming synthesizer
func NewStreamSynthesizer(config Config, logger *zap.Logger) *StreamSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ReuseWindow <= 0 {
		config.ReuseWindow = 60 * time.Second
	}
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.FrameDuration == 0 {
		config.FrameDuration = 60
	}
	return &StreamSynthesizer{
		config: config,
		logger: logger,
		frames: make(chan Frame, 256),
	}
}

// SetErrorCallback 设置合成失败回调（重连一次后仍失败才触发）
func (s *StreamSynthesizer) SetErrorCallback(callback func(sentenceID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCallback = callback
}

// Frames returns the synthesized audio frame channel
func (s *StreamSynthesizer) Frames() <-chan Frame {
	return s.frames
}

// StartSession 开始合成一句话
func (s *StreamSynthesizer) StartSession(ctx context.Context, sentenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if s.taskActive {
		return errors.New("previous tts task still active")
	}

	if err := s.ensureConnLocked(ctx); err != nil {
		return err
	}

	enc, err := s.newEncoder()
	if err != nil {
		return err
	}

	s.opusEncoder = enc
	s.taskID = uuid.NewString()
	s.sentenceID = sentenceID
	s.taskActive = true
	s.started = false
	s.pendingTexts = nil
	s.sentTexts = nil
	s.finishRequested = false
	s.retried = false
	s.firstFrameSent = false
	s.taskDone = make(chan struct{})

	if err := s.sendRunTaskLocked(); err != nil {
		s.markBrokenLocked()
		s.taskActive = false
		return err
	}

	s.logger.Info("[TTS] 合成任务已启动",
		zap.String("sentenceID", sentenceID),
		zap.String("taskID", s.taskID))
	return nil
}

func (s *StreamSynthesizer) newEncoder() (media.EncoderFunc, error) {
	cfg := media.CodecConfig{
		Codec:         "opus",
		SampleRate:    s.config.SampleRate,
		Channels:      s.config.Channels,
		BitDepth:      16,
		FrameDuration: fmt.Sprintf("%d", s.config.FrameDuration),
	}
	pcmCfg := cfg
	pcmCfg.Codec = "pcm"
	enc, err := encoder.CreateEncode(cfg, pcmCfg)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return enc, nil
}

// ensureConnLocked 复用窗口内直接用旧连接，否则重新拨号
func (s *StreamSynthesizer) ensureConnLocked(ctx context.Context) error {
	if s.conn != nil && !s.broken && time.Since(s.lastActivity) < s.config.ReuseWindow {
		s.logger.Debug("[TTS] 复用现有连接",
			zap.Duration("idle", time.Since(s.lastActivity)))
		return nil
	}
	return s.dialLocked(ctx)
}

func (s *StreamSynthesizer) dialLocked(ctx context.Context) error {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	if s.config.WSURL == "" {
		return errors.New("tts ws url is empty")
	}

	header := http.Header{}
	header.Set("Authorization", "bearer "+s.config.APIKey)
	header.Set("X-DashScope-DataInspection", "enable")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.WSURL, header)
	if err != nil {
		return fmt.Errorf("dial tts websocket: %w", err)
	}
	s.conn = conn
	s.broken = false
	s.lastActivity = time.Now()

	go s.readLoop(conn)
	return nil
}

func (s *StreamSynthesizer) sendRunTaskLocked() error {
	runTask := ttsEnvelope{
		Header: ttsHeader{
			Action:    "run-task",
			TaskID:    s.taskID,
			Streaming: "duplex",
		},
		Payload: ttsPayload{
			TaskGroup: "audio",
			Task:      "tts",
			Function:  "SpeechSynthesizer",
			Model:     s.config.Model,
			Parameters: map[string]any{
				"text_type":   "PlainText",
				"voice":       s.config.Voice,
				"format":      "pcm",
				"sample_rate": s.config.SampleRate,
				"volume":      s.config.Volume,
				"rate":        s.config.Rate,
				"pitch":       s.config.Pitch,
			},
			Input: map[string]any{},
		},
	}
	return s.writeJSON(s.conn, runTask)
}

// PushText 增量送入一段文本，Markdown 标记先清掉
func (s *StreamSynthesizer) PushText(text string) error {
	text = CleanMarkdown(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.taskActive {
		return ErrSessionClosed
	}

	s.sentTexts = append(s.sentTexts, text)
	if !s.started {
		// 等 task-started 再发
		s.pendingTexts = append(s.pendingTexts, text)
		return nil
	}
	if err := s.sendContinueTaskLocked(text); err != nil {
		return s.handleTransportErrorLocked(err)
	}
	return nil
}

func (s *StreamSynthesizer) sendContinueTaskLocked(text string) error {
	msg := ttsEnvelope{
		Header: ttsHeader{
			Action:    "continue-task",
			TaskID:    s.taskID,
			Streaming: "duplex",
		},
		Payload: ttsPayload{
			Input: map[string]any{"text": text},
		},
	}
	return s.writeJSON(s.conn, msg)
}

// FinishSession 发送 finish-task 并等待本句合成完
func (s *StreamSynthesizer) FinishSession(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.taskActive {
		s.mu.Unlock()
		return nil
	}
	s.finishRequested = true
	var err error
	if s.started {
		err = s.sendFinishTaskLocked()
		if err != nil {
			err = s.handleTransportErrorLocked(err)
		}
	}
	done := s.taskDone
	s.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-time.After(30 * time.Second):
		return errors.New("tts finish timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *StreamSynthesizer) sendFinishTaskLocked() error {
	msg := ttsEnvelope{
		Header: ttsHeader{
			Action:    "finish-task",
			TaskID:    s.taskID,
			Streaming: "duplex",
		},
		Payload: ttsPayload{Input: map[string]any{}},
	}
	return s.writeJSON(s.conn, msg)
}

// Cancel 丢弃当前任务。连接直接断掉，不等服务端收尾。
func (s *StreamSynthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.taskActive {
		return
	}
	s.logger.Info("[TTS] 取消当前合成任务",
		zap.String("sentenceID", s.sentenceID),
		zap.String("taskID", s.taskID))
	s.finishTaskLocked()
	s.markBrokenLocked()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close 关闭合成器并释放连接
func (s *StreamSynthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.finishTaskLocked()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	close(s.frames)
	return nil
}

// finishTaskLocked 结束当前任务并唤醒 FinishSession 等待者
func (s *StreamSynthesizer) finishTaskLocked() {
	if s.taskActive {
		s.taskActive = false
		select {
		case <-s.taskDone:
		default:
			close(s.taskDone)
		}
	}
}

func (s *StreamSynthesizer) writeJSON(conn *websocket.Conn, v any) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

func (s *StreamSynthesizer) readLoop(conn *websocket.Conn) {
	for {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			// 只处理当前连接的错误，旧连接的退出忽略
			if s.conn == conn && s.taskActive {
				_ = s.handleTransportErrorLocked(err)
			}
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		if s.conn != conn {
			s.mu.Unlock()
			return
		}
		s.lastActivity = time.Now()
		s.mu.Unlock()

		if msgType == websocket.BinaryMessage {
			s.handleAudio(msg)
			continue
		}

		var env ttsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Warn("[TTS] 无法解析的消息", zap.Error(err))
			continue
		}

		switch env.Header.Event {
		case "task-started":
			s.handleTaskStarted()
		case "task-finished":
			s.handleTaskFinished()
		case "task-failed":
			s.mu.Lock()
			err := fmt.Errorf("tts task failed: %s %s", env.Header.ErrorCode, env.Header.ErrorMessage)
			_ = s.handleTransportErrorLocked(err)
			s.mu.Unlock()
		}
	}
}

func (s *StreamSynthesizer) handleTaskStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.taskActive || s.started {
		return
	}
	s.started = true
	s.logger.Debug("[TTS] task-started", zap.String("taskID", s.taskID))

	// 把积压的文本发出去
	for _, text := range s.pendingTexts {
		if err := s.sendContinueTaskLocked(text); err != nil {
			_ = s.handleTransportErrorLocked(err)
			return
		}
	}
	s.pendingTexts = nil
	if s.finishRequested {
		if err := s.sendFinishTaskLocked(); err != nil {
			_ = s.handleTransportErrorLocked(err)
		}
	}
}

// handleAudio 二进制消息是 PCM，过 Opus 编码后产出帧
func (s *StreamSynthesizer) handleAudio(pcm []byte) {
	s.mu.Lock()
	enc := s.opusEncoder
	active := s.taskActive
	s.mu.Unlock()
	if !active || enc == nil {
		return
	}

	packets, err := enc(&media.AudioPacket{Payload: pcm})
	if err != nil {
		s.logger.Error("[TTS] Opus 编码失败", zap.Error(err))
		return
	}
	s.emitPackets(packets)
}

func (s *StreamSynthesizer) handleTaskFinished() {
	s.mu.Lock()
	enc := s.opusEncoder
	sentenceID := s.sentenceID
	s.mu.Unlock()

	// 冲刷编码器残留（末帧补零）
	if enc != nil {
		packets, err := enc(nil)
		if err == nil {
			s.emitPackets(packets)
		}
	}

	s.emitFrame(Frame{SentenceID: sentenceID, Marker: MarkerLast})

	s.mu.Lock()
	s.logger.Debug("[TTS] task-finished", zap.String("taskID", s.taskID))
	s.lastActivity = time.Now()
	s.finishTaskLocked()
	s.mu.Unlock()
}

func (s *StreamSynthesizer) emitPackets(packets []media.MediaPacket) {
	for _, p := range packets {
		s.mu.Lock()
		marker := MarkerMid
		var text string
		if !s.firstFrameSent {
			marker = MarkerFirst
			if len(s.sentTexts) > 0 {
				text = s.sentTexts[0]
			}
			s.firstFrameSent = true
		}
		frame := Frame{
			SentenceID: s.sentenceID,
			Marker:     marker,
			Opus:       p.Body(),
			Text:       text,
		}
		s.mu.Unlock()
		s.emitFrame(frame)
	}
}

func (s *StreamSynthesizer) emitFrame(frame Frame) {
	select {
	case s.frames <- frame:
	default:
		s.logger.Warn("[TTS] 帧通道已满，丢帧",
			zap.String("sentenceID", frame.SentenceID))
	}
}

// handleTransportErrorLocked 传输失败处理：同一句话只重连一次，
// 重连后 run-task 重发、文本整句重放。二次失败上报错误。
func (s *StreamSynthesizer) handleTransportErrorLocked(err error) error {
	if !s.taskActive {
		return err
	}
	s.markBrokenLocked()

	if s.retried {
		s.logger.Error("[TTS] 重连后仍然失败，放弃本句",
			zap.String("sentenceID", s.sentenceID),
			zap.Error(err))
		sentenceID := s.sentenceID
		callback := s.errorCallback
		s.finishTaskLocked()
		if callback != nil {
			go callback(sentenceID, err)
		}
		return err
	}
	s.retried = true
	s.logger.Warn("[TTS] 传输失败，尝试重连重发",
		zap.String("sentenceID", s.sentenceID),
		zap.Error(err))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if dialErr := s.dialLocked(ctx); dialErr != nil {
		return s.failTaskLocked(dialErr)
	}

	// 新连接上重建任务
	s.taskID = uuid.NewString()
	s.started = false
	s.firstFrameSent = false
	s.pendingTexts = append([]string(nil), s.sentTexts...)
	if enc, encErr := s.newEncoder(); encErr == nil {
		s.opusEncoder = enc
	}
	if sendErr := s.sendRunTaskLocked(); sendErr != nil {
		return s.failTaskLocked(sendErr)
	}
	return nil
}

func (s *StreamSynthesizer) failTaskLocked(err error) error {
	sentenceID := s.sentenceID
	callback := s.errorCallback
	s.finishTaskLocked()
	if callback != nil {
		go callback(sentenceID, err)
	}
	return err
}

func (s *StreamSynthesizer) markBrokenLocked() {
	s.broken = true
}
