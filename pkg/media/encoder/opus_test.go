package encoder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
)

func opusConfig() media.CodecConfig {
	return media.CodecConfig{
		Codec:         "opus",
		SampleRate:    16000,
		Channels:      1,
		BitDepth:      16,
		FrameDuration: "60",
	}
}

// sinePCM 440Hz 正弦波，16kHz 单声道 16-bit
func sinePCM(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func TestOpusEncodeDecodeRoundTrip(t *testing.T) {
	enc, err := CreateEncode(opusConfig(), pcmConfig())
	require.NoError(t, err)
	dec, err := CreateDecode(opusConfig(), pcmConfig())
	require.NoError(t, err)

	// 三帧 60ms 的正弦波
	frameSamples := 16000 * 60 / 1000
	pcm := sinePCM(frameSamples * 3)

	packets, err := enc(&media.AudioPacket{Payload: pcm})
	require.NoError(t, err)
	require.Len(t, packets, 3)

	var decoded []byte
	for _, p := range packets {
		// opus 包应当比原始 PCM 小得多
		assert.Less(t, len(p.Body()), frameSamples*2)
		outs, err := dec(p)
		require.NoError(t, err)
		for _, out := range outs {
			decoded = append(decoded, out.Body()...)
		}
	}

	// 解出的采样数和输入一致
	assert.Len(t, decoded, frameSamples*3*2)

	// 内容不是静音
	var energy float64
	for i := 0; i+1 < len(decoded); i += 2 {
		v := float64(int16(uint16(decoded[i]) | uint16(decoded[i+1])<<8))
		energy += v * v
	}
	assert.Greater(t, energy, float64(0))
}

func TestOpusEncodeFlushPadsResidual(t *testing.T) {
	enc, err := CreateEncode(opusConfig(), pcmConfig())
	require.NoError(t, err)

	frameSamples := 16000 * 60 / 1000

	// 一帧半进去只出一包
	packets, err := enc(&media.AudioPacket{Payload: sinePCM(frameSamples + frameSamples/2)})
	require.NoError(t, err)
	require.Len(t, packets, 1)

	// 冲刷时残留补零成整帧
	packets, err = enc(nil)
	require.NoError(t, err)
	require.Len(t, packets, 1)
}
