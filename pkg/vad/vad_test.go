package vad

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

// generateSilence 生成静音 PCM 数据
func generateSilence(samples int) []byte {
	return make([]byte, samples*2)
}

// generateTone 生成固定幅度的正弦波 PCM 数据
func generateTone(samples int, amplitude float64) []byte {
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		data[i*2] = byte(v)
		data[i*2+1] = byte(v >> 8)
	}
	return data
}

func newTestDetector(minSilence time.Duration) *Detector {
	return NewDetector(Config{
		Enabled:           true,
		Threshold:         500,
		ConsecutiveFrames: 2,
		FrameDuration:     60 * time.Millisecond,
		MinSilence:        minSilence,
	}, zap.NewNop())
}

func TestCalculateRMS(t *testing.T) {
	silence := generateSilence(960)
	if rms := CalculateRMS(silence); rms != 0 {
		t.Errorf("静音 RMS 应为 0，实际 %f", rms)
	}

	tone := generateTone(960, 10000)
	rms := CalculateRMS(tone)
	if rms < 5000 || rms > 10000 {
		t.Errorf("正弦波 RMS 超出预期范围: %f", rms)
	}

	if rms := CalculateRMS([]byte{1}); rms != 0 {
		t.Errorf("不足一个采样点应返回 0，实际 %f", rms)
	}
}

func TestVoiceStartNeedsConsecutiveFrames(t *testing.T) {
	d := newTestDetector(600 * time.Millisecond)
	tone := generateTone(960, 10000)

	if ev := d.Feed(tone); ev != EventNone {
		t.Errorf("第一帧不应触发 voice_start，实际 %v", ev)
	}
	if ev := d.Feed(tone); ev != EventVoiceStart {
		t.Errorf("连续第二帧应触发 voice_start，实际 %v", ev)
	}
	if !d.InSpeech() {
		t.Error("voice_start 后应处于语音段内")
	}
}

func TestSingleLoudFrameDoesNotTrigger(t *testing.T) {
	d := newTestDetector(600 * time.Millisecond)
	tone := generateTone(960, 10000)
	silence := generateSilence(960)

	d.Feed(tone)
	d.Feed(silence) // 打断连续帧计数
	if ev := d.Feed(tone); ev != EventNone {
		t.Errorf("非连续的响帧不应触发，实际 %v", ev)
	}
}

func TestVoiceStopAfterMinSilence(t *testing.T) {
	d := newTestDetector(180 * time.Millisecond) // 3帧静音
	tone := generateTone(960, 10000)
	silence := generateSilence(960)

	d.Feed(tone)
	if ev := d.Feed(tone); ev != EventVoiceStart {
		t.Fatal("应先进入语音段")
	}

	if ev := d.Feed(silence); ev != EventNone {
		t.Errorf("第一帧静音不应触发 voice_stop，实际 %v", ev)
	}
	d.Feed(silence)
	if ev := d.Feed(silence); ev != EventVoiceStop {
		t.Errorf("静音达到窗口后应触发 voice_stop，实际 %v", ev)
	}
	if d.InSpeech() {
		t.Error("voice_stop 后不应处于语音段内")
	}
}

func TestSpeechResetsNoiseWindow(t *testing.T) {
	d := newTestDetector(180 * time.Millisecond)
	tone := generateTone(960, 10000)
	silence := generateSilence(960)

	d.Feed(tone)
	d.Feed(tone)
	d.Feed(silence)
	d.Feed(silence)
	// 静音被语音打断，窗口重新计数
	d.Feed(tone)
	d.Feed(silence)
	if ev := d.Feed(silence); ev != EventNone {
		t.Errorf("静音窗口应被语音重置，实际 %v", ev)
	}
}

func TestDisabledDetectorIgnoresAudio(t *testing.T) {
	d := newTestDetector(600 * time.Millisecond)
	d.SetEnabled(false)
	tone := generateTone(960, 10000)
	for i := 0; i < 5; i++ {
		if ev := d.Feed(tone); ev != EventNone {
			t.Errorf("禁用状态不应产生事件，实际 %v", ev)
		}
	}
}

func TestAdaptiveThresholdRisesWithNoise(t *testing.T) {
	d := newTestDetector(600 * time.Millisecond)
	// 持续的中等能量背景噪声
	noise := generateTone(960, 400)
	for i := 0; i < 50; i++ {
		d.Feed(noise)
	}
	d.mu.Lock()
	threshold := d.effectiveThreshold()
	d.mu.Unlock()
	if threshold <= 500 {
		t.Errorf("噪声环境下阈值应被抬高，实际 %f", threshold)
	}
}

func BenchmarkFeed(b *testing.B) {
	d := newTestDetector(600 * time.Millisecond)
	tone := generateTone(960, 8000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		d.Feed(tone)
	}
}
