package media

import (
	"strconv"
	"strings"
)

// MediaPacket 媒体数据包
type MediaPacket interface {
	Body() []byte
}

// AudioPacket 音频数据包，Payload 为编码后或 PCM 数据
type AudioPacket struct {
	Payload   []byte
	Timestamp uint32
}

// Body returns the raw payload
func (p *AudioPacket) Body() []byte {
	return p.Payload
}

// EncoderFunc 编解码函数。输入一个包，输出零个或多个包。
// 传入 nil 表示流结束，编码器应冲刷残留数据（不足一帧的补零）。
type EncoderFunc func(packet MediaPacket) ([]MediaPacket, error)

// CodecConfig 编解码配置
type CodecConfig struct {
	Codec         string // "opus" / "pcm"
	SampleRate    int
	Channels      int
	BitDepth      int
	FrameDuration string // 毫秒，如 "60"
}

// FrameDurationMs 解析帧时长，无效时返回 60
func (c *CodecConfig) FrameDurationMs() int {
	s := strings.TrimSuffix(c.FrameDuration, "ms")
	if d, err := strconv.Atoi(s); err == nil && d > 0 {
		return d
	}
	return 60
}

// FrameSamples 每帧采样点数（单通道）
func (c *CodecConfig) FrameSamples() int {
	return c.SampleRate * c.FrameDurationMs() / 1000
}

// FrameBytes 每帧 PCM 字节数（16-bit）
func (c *CodecConfig) FrameBytes() int {
	return c.FrameSamples() * c.Channels * 2
}

// SplitFrames 将 PCM 数据按帧大小切分，尾部不足一帧的保留在最后一个包里
func SplitFrames(data []byte, cfg *CodecConfig) []MediaPacket {
	frameBytes := cfg.FrameBytes()
	if frameBytes <= 0 || len(data) == 0 {
		return nil
	}
	var packets []MediaPacket
	for off := 0; off < len(data); off += frameBytes {
		end := off + frameBytes
		if end > len(data) {
			end = len(data)
		}
		packets = append(packets, &AudioPacket{Payload: data[off:end]})
	}
	return packets
}
