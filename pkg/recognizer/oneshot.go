package recognizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	wav "github.com/youpy/go-wav"
	"go.uber.org/zap"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media/encoder"
)

// OneshotTranscriber 整段识别。音频帧先解码成 PCM 攒着，
// Finalize 时打包 WAV 一次性提交 HTTP 接口。
type OneshotTranscriber struct {
	config Config
	logger *zap.Logger
	client *resty.Client

	mu      sync.Mutex
	decoder media.EncoderFunc
	pcm     []byte
	isOpen  bool

	resultCallback ResultCallback
	errorCallback  func(error)
}

type oneshotResponse struct {
	Text string `json:"text"`
}

// NewOneshotTranscriber creates a whole-utterance HTTP transcriber
func NewOneshotTranscriber(config Config, logger *zap.Logger) *OneshotTranscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Authorization", "Bearer "+config.APIKey)
	return &OneshotTranscriber{
		config: config,
		logger: logger,
		client: client,
	}
}

// SetResultCallback sets the callback for recognition results
func (t *OneshotTranscriber) SetResultCallback(callback ResultCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resultCallback = callback
}

// SetErrorCallback sets the callback for errors
func (t *OneshotTranscriber) SetErrorCallback(callback func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errorCallback = callback
}

// Open 开启一轮识别，重置缓冲并准备解码器
func (t *OneshotTranscriber) Open(ctx context.Context, sessionID string, mode ListenMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.HTTPURL == "" {
		return errors.New("asr http url is empty")
	}

	codec := media.CodecConfig{
		Codec:         "opus",
		SampleRate:    t.config.SampleRate,
		Channels:      t.config.Channels,
		BitDepth:      16,
		FrameDuration: "60",
	}
	pcmCodec := codec
	pcmCodec.Codec = "pcm"
	dec, err := encoder.CreateDecode(codec, pcmCodec)
	if err != nil {
		return fmt.Errorf("create opus decoder: %w", err)
	}

	t.decoder = dec
	t.pcm = t.pcm[:0]
	t.isOpen = true
	return nil
}

// Push 解码一帧 Opus 并累积 PCM
func (t *OneshotTranscriber) Push(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isOpen {
		return ErrClientClosed
	}
	packets, err := t.decoder(&media.AudioPacket{Payload: frame})
	if err != nil {
		return err
	}
	for _, p := range packets {
		t.pcm = append(t.pcm, p.Body()...)
	}
	return nil
}

// Finalize 提交整段音频并返回识别文本
func (t *OneshotTranscriber) Finalize(ctx context.Context) (string, error) {
	t.mu.Lock()
	if !t.isOpen {
		t.mu.Unlock()
		return "", nil
	}
	t.isOpen = false
	pcm := t.pcm
	t.pcm = nil
	callback := t.resultCallback
	t.mu.Unlock()

	if len(pcm) == 0 {
		return "", nil
	}

	wavData, err := pcmToWavBytes(pcm, t.config.SampleRate, t.config.Channels)
	if err != nil {
		return "", err
	}

	var result oneshotResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "audio/wav").
		SetBody(wavData).
		SetResult(&result).
		Post(t.config.HTTPURL)
	if err != nil {
		return "", fmt.Errorf("asr http request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("asr http status %d: %s", resp.StatusCode(), resp.String())
	}

	text := result.Text
	t.logger.Info("[ASR] 整段识别完成",
		zap.Int("pcmBytes", len(pcm)),
		zap.String("text", text))

	if callback != nil && text != "" {
		r := ParseResult(text)
		r.IsFinal = true
		r.Timestamp = time.Now()
		callback(&r)
	}
	return text, nil
}

// Close releases buffered audio
func (t *OneshotTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isOpen = false
	t.pcm = nil
	t.decoder = nil
	return nil
}

// pcmToWavBytes 把 16-bit PCM 封装成内存中的 WAV
func pcmToWavBytes(pcm []byte, sampleRate, channels int) ([]byte, error) {
	var buf bytes.Buffer
	numSamples := uint32(len(pcm) / 2 / channels)
	w := wav.NewWriter(&buf, numSamples, uint16(channels), uint32(sampleRate), 16)
	if _, err := w.Write(pcm); err != nil {
		return nil, fmt.Errorf("build wav: %w", err)
	}
	return buf.Bytes(), nil
}
