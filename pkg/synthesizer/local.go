package synthesizer

import (
	"context"
	"math"
	"sync"
)

// LocalSynthesizer 本地测试合成器。每个字符合成一小段固定频率的
// 正弦波 PCM，帧结构和流式提供商一致，开发环境离线可用。
type LocalSynthesizer struct {
	config Config

	mu         sync.Mutex
	sentenceID string
	texts      []string
	active     bool
	closed     bool

	frames chan Frame
}

// NewLocalSynthesizer creates a deterministic sine-tone synthesizer
func NewLocalSynthesizer(config Config) *LocalSynthesizer {
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	if config.FrameDuration == 0 {
		config.FrameDuration = 60
	}
	return &LocalSynthesizer{
		config: config,
		frames: make(chan Frame, 256),
	}
}

// Frames returns the synthesized audio frame channel
func (s *LocalSynthesizer) Frames() <-chan Frame {
	return s.frames
}

// StartSession 开始合成一句话
func (s *LocalSynthesizer) StartSession(ctx context.Context, sentenceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.sentenceID = sentenceID
	s.texts = nil
	s.active = true
	return nil
}

// PushText 记录文本，FinishSession 时统一生成音频
func (s *LocalSynthesizer) PushText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.active {
		return ErrSessionClosed
	}
	text = CleanMarkdown(text)
	if text != "" {
		s.texts = append(s.texts, text)
	}
	return nil
}

// FinishSession 生成整句音频帧并发出结束标记
func (s *LocalSynthesizer) FinishSession(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	sentenceID := s.sentenceID
	var full string
	for _, t := range s.texts {
		full += t
	}
	s.mu.Unlock()

	pcm := s.synthesizePCM(full)
	frameBytes := s.config.SampleRate * s.config.FrameDuration / 1000 * s.config.Channels * 2

	first := true
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		marker := MarkerMid
		var text string
		if first {
			marker = MarkerFirst
			text = full
			first = false
		}
		s.emit(Frame{SentenceID: sentenceID, Marker: marker, Opus: pcm[off:end], Text: text})
	}
	s.emit(Frame{SentenceID: sentenceID, Marker: MarkerLast})
	return nil
}

// Cancel 丢弃当前任务
func (s *LocalSynthesizer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.texts = nil
}

// Close 关闭合成器
func (s *LocalSynthesizer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.frames)
	return nil
}

// SynthesizeAll 整段合成，返回 PCM。唤醒词缓存刷新用。
func (s *LocalSynthesizer) SynthesizeAll(ctx context.Context, text string) ([]byte, int, error) {
	return s.synthesizePCM(text), s.config.SampleRate, nil
}

// synthesizePCM 每个字符 80ms 的 440Hz 正弦波
func (s *LocalSynthesizer) synthesizePCM(text string) []byte {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	samplesPerRune := s.config.SampleRate * 80 / 1000
	total := samplesPerRune * len(runes)
	pcm := make([]byte, total*2)
	for i := 0; i < total; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(s.config.SampleRate)))
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return pcm
}

func (s *LocalSynthesizer) emit(frame Frame) {
	select {
	case s.frames <- frame:
	default:
	}
}
