package vad

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event VAD 边沿事件
type Event int

const (
	EventNone Event = iota
	EventVoiceStart
	EventVoiceStop
)

// Config VAD 配置
type Config struct {
	Enabled           bool
	Threshold         float64       // RMS 阈值
	ConsecutiveFrames int           // 连续超过阈值的帧数才算语音
	FrameDuration     time.Duration // 每帧时长
	MinSilence        time.Duration // 语音结束需要的静音时长
}

// Detector 能量 VAD。逐帧喂入 PCM，产生 voice_start / voice_stop 边沿。
// 帧内不分配内存，可在音频热路径上调用。
type Detector struct {
	mu sync.Mutex

	enabled                 bool
	threshold               float64
	consecutiveFramesNeeded int
	frameDuration           time.Duration
	minSilence              time.Duration

	inSpeech      bool
	speechFrames  int
	silenceFrames int

	// 背景噪声能量的指数滑动平均，只在非语音段更新
	noiseFloor float64

	logger *zap.Logger
}

// NewDetector 创建 VAD 检测器
func NewDetector(cfg Config, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 500.0
	}
	if cfg.ConsecutiveFrames <= 0 {
		cfg.ConsecutiveFrames = 1
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 60 * time.Millisecond
	}
	if cfg.MinSilence <= 0 {
		cfg.MinSilence = 600 * time.Millisecond
	}
	return &Detector{
		enabled:                 cfg.Enabled,
		threshold:               cfg.Threshold,
		consecutiveFramesNeeded: cfg.ConsecutiveFrames,
		frameDuration:           cfg.FrameDuration,
		minSilence:              cfg.MinSilence,
		logger:                  logger,
	}
}

// Feed 处理一帧 16-bit 小端 PCM，返回边沿事件
func (d *Detector) Feed(pcm []byte) Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled {
		return EventNone
	}

	rms := CalculateRMS(pcm)
	threshold := d.effectiveThreshold()

	if rms > threshold {
		d.silenceFrames = 0
		if !d.inSpeech {
			d.speechFrames++
			if d.speechFrames >= d.consecutiveFramesNeeded {
				d.inSpeech = true
				d.speechFrames = 0
				d.logger.Debug("[VAD] voice start",
					zap.Float64("rms", rms),
					zap.Float64("threshold", threshold))
				return EventVoiceStart
			}
		}
		return EventNone
	}

	// 低于阈值
	d.speechFrames = 0
	d.updateNoiseFloor(rms)
	if d.inSpeech {
		d.silenceFrames++
		if time.Duration(d.silenceFrames)*d.frameDuration >= d.minSilence {
			d.inSpeech = false
			d.silenceFrames = 0
			d.logger.Debug("[VAD] voice stop", zap.Float64("rms", rms))
			return EventVoiceStop
		}
	}
	return EventNone
}

// effectiveThreshold 背景噪声大时抬高阈值，避免风噪误触发
func (d *Detector) effectiveThreshold() float64 {
	adaptive := d.noiseFloor * 3
	if adaptive > d.threshold {
		return adaptive
	}
	return d.threshold
}

func (d *Detector) updateNoiseFloor(rms float64) {
	const alpha = 0.05
	if d.noiseFloor == 0 {
		d.noiseFloor = rms
		return
	}
	d.noiseFloor = d.noiseFloor*(1-alpha) + rms*alpha
}

// InSpeech 当前是否在语音段内
func (d *Detector) InSpeech() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inSpeech
}

// SetMinSilence 切换收音模式时调整静音窗口
func (d *Detector) SetMinSilence(dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if dur > 0 {
		d.minSilence = dur
	}
}

// SetEnabled 设置 VAD 是否启用
func (d *Detector) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
	if !enabled {
		d.reset()
	}
}

// Reset 重置 VAD 状态
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reset()
}

func (d *Detector) reset() {
	d.inSpeech = false
	d.speechFrames = 0
	d.silenceFrames = 0
}

// CalculateRMS 计算 16-bit PCM 音频数据的 RMS (Root Mean Square)
// 返回值范围：0 到 32768。正常语音通常在 500-5000 之间，静音在 0-100 之间。
func CalculateRMS(pcmData []byte) float64 {
	if len(pcmData) < 2 {
		return 0
	}

	var sumSquares float64
	sampleCount := len(pcmData) / 2

	for i := 0; i+1 < len(pcmData); i += 2 {
		sample := int16(pcmData[i]) | int16(pcmData[i+1])<<8
		f := float64(sample)
		sumSquares += f * f
	}

	return math.Sqrt(sumSquares / float64(sampleCount))
}
