package media

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecConfigFrames(t *testing.T) {
	cfg := CodecConfig{Codec: "opus", SampleRate: 16000, Channels: 1, FrameDuration: "60"}
	assert.Equal(t, 60, cfg.FrameDurationMs())
	assert.Equal(t, 960, cfg.FrameSamples())
	assert.Equal(t, 1920, cfg.FrameBytes())

	cfg.FrameDuration = "bad"
	assert.Equal(t, 60, cfg.FrameDurationMs())
}

func TestSplitFrames(t *testing.T) {
	cfg := CodecConfig{SampleRate: 16000, Channels: 1, FrameDuration: "60"}
	data := make([]byte, 1920*2+100)
	packets := SplitFrames(data, &cfg)
	require.Len(t, packets, 3)
	assert.Len(t, packets[0].Body(), 1920)
	assert.Len(t, packets[2].Body(), 100)

	assert.Nil(t, SplitFrames(nil, &cfg))
}

func TestResamplerSameRate(t *testing.T) {
	r := DefaultResampler(16000, 16000)
	data := []byte{1, 2, 3, 4}
	_, err := r.Write(data)
	require.NoError(t, err)
	assert.Equal(t, data, r.Samples())
	assert.Nil(t, r.Samples())
}

func TestResamplerDownsampleHalf(t *testing.T) {
	r := DefaultResampler(32000, 16000)
	in := make([]byte, 0, 200*2)
	for i := 0; i < 200; i++ {
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(int16(i)))
		in = append(in, buf[0], buf[1])
	}
	_, err := r.Write(in)
	require.NoError(t, err)
	out := r.Samples()
	require.NotNil(t, out)
	// 2:1 下采样，输出数量约为输入一半
	n := len(out) / 2
	assert.InDelta(t, 100, n, 2)
	// 采样值仍然单调
	prev := int16(binary.LittleEndian.Uint16(out))
	for i := 2; i+1 < len(out); i += 2 {
		cur := int16(binary.LittleEndian.Uint16(out[i:]))
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestResamplerRejectsOddLength(t *testing.T) {
	r := DefaultResampler(16000, 8000)
	_, err := r.Write([]byte{1, 2, 3})
	assert.Error(t, err)
}
