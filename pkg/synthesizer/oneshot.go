package synthesizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// OneshotSynthesizer 整段合成客户端。每次调用单独建连跑一个任务，
// 收齐全部 PCM 后返回。唤醒词缓存刷新这类离线场景用，
// 不走流式通道也就没有复用窗口的问题。
type OneshotSynthesizer struct {
	config Config
	logger *zap.Logger
}

// NewOneshotSynthesizer creates a whole-utterance synthesis client
func NewOneshotSynthesizer(config Config, logger *zap.Logger) *OneshotSynthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	return &OneshotSynthesizer{config: config, logger: logger}
}

// SynthesizeAll 合成整段文本，返回 PCM 和采样率
func (s *OneshotSynthesizer) SynthesizeAll(ctx context.Context, text string) ([]byte, int, error) {
	text = CleanMarkdown(text)
	if text == "" {
		return nil, s.config.SampleRate, nil
	}
	if s.config.WSURL == "" {
		return nil, 0, errors.New("tts ws url is empty")
	}

	header := http.Header{}
	header.Set("Authorization", "bearer "+s.config.APIKey)
	header.Set("X-DashScope-DataInspection", "enable")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.config.WSURL, header)
	if err != nil {
		return nil, 0, fmt.Errorf("dial tts websocket: %w", err)
	}
	defer conn.Close()

	taskID := uuid.NewString()
	runTask := ttsEnvelope{
		Header: ttsHeader{
			Action:    "run-task",
			TaskID:    taskID,
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
	if err := conn.WriteJSON(runTask); err != nil {
		return nil, 0, fmt.Errorf("send run-task: %w", err)
	}

	var pcm []byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, 0, fmt.Errorf("read tts message: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			pcm = append(pcm, msg...)
			continue
		}

		var env ttsEnvelope
		if err := json.Unmarshal(msg, &env); err != nil {
			s.logger.Warn("[TTS] 无法解析的消息", zap.Error(err))
			continue
		}
		switch env.Header.Event {
		case "task-started":
			// 整段文本一次送完
			if err := conn.WriteJSON(ttsEnvelope{
				Header:  ttsHeader{Action: "continue-task", TaskID: taskID, Streaming: "duplex"},
				Payload: ttsPayload{Input: map[string]any{"text": text}},
			}); err != nil {
				return nil, 0, fmt.Errorf("send continue-task: %w", err)
			}
			if err := conn.WriteJSON(ttsEnvelope{
				Header:  ttsHeader{Action: "finish-task", TaskID: taskID, Streaming: "duplex"},
				Payload: ttsPayload{Input: map[string]any{}},
			}); err != nil {
				return nil, 0, fmt.Errorf("send finish-task: %w", err)
			}
		case "task-finished":
			return pcm, s.config.SampleRate, nil
		case "task-failed":
			return nil, 0, fmt.Errorf("tts task failed: %s %s",
				env.Header.ErrorCode, env.Header.ErrorMessage)
		}
	}
}
