package encoder

import (
	"fmt"
	"strings"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/media"
)

// CreateDecode 创建解码函数：src 编码 -> PCM
func CreateDecode(src, pcm media.CodecConfig) (media.EncoderFunc, error) {
	switch strings.ToLower(src.Codec) {
	case "opus":
		return createOpusDecode(src, pcm)
	case "pcm":
		return createPCMPassthrough(pcm), nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s", src.Codec)
	}
}

// CreateEncode 创建编码函数：PCM -> src 编码
func CreateEncode(src, pcm media.CodecConfig) (media.EncoderFunc, error) {
	switch strings.ToLower(src.Codec) {
	case "opus":
		return createOpusEncode(src, pcm)
	case "pcm":
		return createPCMPassthrough(src), nil
	default:
		return nil, fmt.Errorf("unsupported codec: %s", src.Codec)
	}
}
