package hardware

import (
	"strings"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/utils"
)

const (
	// 句中停顿要攒够的最少字符数，太短的逗号段不值得单独合成
	segmentMinChars = 8
	// 超过这个长度强制切句，防止模型长时间不出标点
	segmentMaxChars = 40
)

// Segmenter 把 LLM 的流式增量切成适合逐句合成的文本段。
// 句末标点立即切，句中停顿攒够最少字符才切，超长强制切。
type Segmenter struct {
	buf []rune
}

// NewSegmenter creates a streaming text segmenter
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Feed 喂入一段增量文本，返回本次切出的完整句子
func (s *Segmenter) Feed(token string) []string {
	var out []string
	for _, r := range token {
		s.buf = append(s.buf, r)
		switch {
		case utils.IsSentenceEnd(r):
			if seg := s.take(); seg != "" {
				out = append(out, seg)
			}
		case utils.IsPauseMark(r) && len(s.buf) >= segmentMinChars:
			if seg := s.take(); seg != "" {
				out = append(out, seg)
			}
		case len(s.buf) >= segmentMaxChars:
			if seg := s.take(); seg != "" {
				out = append(out, seg)
			}
		}
	}
	return out
}

// Flush 取出残留文本，流结束时调用
func (s *Segmenter) Flush() string {
	return s.take()
}

// Reset 丢弃残留文本
func (s *Segmenter) Reset() {
	s.buf = s.buf[:0]
}

func (s *Segmenter) take() string {
	seg := strings.TrimSpace(string(s.buf))
	s.buf = s.buf[:0]
	// 纯标点的段没有可合成内容
	if _, n := utils.RemovePunctuation(seg); n == 0 {
		return ""
	}
	return seg
}
