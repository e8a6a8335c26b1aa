package encoder

import (
	"encoding/binary"
	"fmt"

	"github.com/hraban/opus"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
)

// createOpusDecode OPUS -> PCM，一包一帧
func createOpusDecode(src, pcm media.CodecConfig) (media.EncoderFunc, error) {
	sampleRate := src.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := src.Channels
	if channels == 0 {
		channels = 1
	}

	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}

	var res *media.Resampler
	if pcm.SampleRate != 0 && pcm.SampleRate != sampleRate {
		res = media.DefaultResampler(sampleRate, pcm.SampleRate)
	}

	// 解码缓冲按最大帧时长 120ms 预留
	pcmBuf := make([]int16, sampleRate*120/1000*channels)

	return func(packet media.MediaPacket) ([]media.MediaPacket, error) {
		if packet == nil {
			return nil, nil
		}
		audioPacket, ok := packet.(*media.AudioPacket)
		if !ok {
			return []media.MediaPacket{packet}, nil
		}
		n, err := dec.Decode(audioPacket.Payload, pcmBuf)
		if err != nil {
			return nil, fmt.Errorf("opus decode: %w", err)
		}
		data := int16ToBytes(pcmBuf[:n*channels])
		if res != nil {
			if _, err := res.Write(data); err != nil {
				return nil, err
			}
			data = res.Samples()
			if data == nil {
				return nil, nil
			}
		}
		audioPacket.Payload = data
		return []media.MediaPacket{audioPacket}, nil
	}, nil
}

// createOpusEncode PCM -> OPUS 流式编码。
// 不足一帧的 PCM 残留在内部缓冲里等下一包，只有收到 nil（流结束）才补零冲刷。
func createOpusEncode(src, pcm media.CodecConfig) (media.EncoderFunc, error) {
	sampleRate := src.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}
	channels := src.Channels
	if channels == 0 {
		channels = 1
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}

	var res *media.Resampler
	if pcm.SampleRate != 0 && pcm.SampleRate != sampleRate {
		res = media.DefaultResampler(pcm.SampleRate, sampleRate)
	}

	frameBytes := src.FrameBytes()
	var residual []byte

	encodeFrames := func(final bool) ([]media.MediaPacket, error) {
		var packets []media.MediaPacket
		opusBuf := make([]byte, 4000)
		for len(residual) >= frameBytes {
			frame := bytesToInt16(residual[:frameBytes])
			n, err := enc.Encode(frame, opusBuf)
			if err != nil {
				return nil, fmt.Errorf("opus encode: %w", err)
			}
			out := make([]byte, n)
			copy(out, opusBuf[:n])
			packets = append(packets, &media.AudioPacket{Payload: out})
			residual = residual[frameBytes:]
		}
		if final && len(residual) > 0 {
			// 末帧补零到整帧
			frame := make([]byte, frameBytes)
			copy(frame, residual)
			residual = nil
			n, err := enc.Encode(bytesToInt16(frame), opusBuf)
			if err != nil {
				return nil, fmt.Errorf("opus encode final: %w", err)
			}
			out := make([]byte, n)
			copy(out, opusBuf[:n])
			packets = append(packets, &media.AudioPacket{Payload: out})
		}
		return packets, nil
	}

	return func(packet media.MediaPacket) ([]media.MediaPacket, error) {
		if packet == nil {
			return encodeFrames(true)
		}
		audioPacket, ok := packet.(*media.AudioPacket)
		if !ok {
			return []media.MediaPacket{packet}, nil
		}
		data := audioPacket.Payload
		if res != nil {
			if _, err := res.Write(data); err != nil {
				return nil, err
			}
			data = res.Samples()
			if data == nil {
				return nil, nil
			}
		}
		residual = append(residual, data...)
		return encodeFrames(false)
	}, nil
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func bytesToInt16(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
