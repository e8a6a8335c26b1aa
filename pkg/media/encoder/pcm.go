package encoder

import (
	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
)

// createPCMPassthrough PCM 透传，按目标帧大小切分
func createPCMPassthrough(cfg media.CodecConfig) media.EncoderFunc {
	var residual []byte
	frameBytes := cfg.FrameBytes()

	return func(packet media.MediaPacket) ([]media.MediaPacket, error) {
		if packet == nil {
			if len(residual) == 0 {
				return nil, nil
			}
			frame := make([]byte, frameBytes)
			copy(frame, residual)
			residual = nil
			return []media.MediaPacket{&media.AudioPacket{Payload: frame}}, nil
		}
		audioPacket, ok := packet.(*media.AudioPacket)
		if !ok {
			return []media.MediaPacket{packet}, nil
		}
		residual = append(residual, audioPacket.Payload...)
		var packets []media.MediaPacket
		for len(residual) >= frameBytes {
			frame := residual[:frameBytes]
			residual = residual[frameBytes:]
			packets = append(packets, &media.AudioPacket{Payload: frame})
		}
		return packets, nil
	}
}
