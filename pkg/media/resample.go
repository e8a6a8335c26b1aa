package media

import (
	"encoding/binary"
	"fmt"
)

// Resampler 16-bit 单声道 PCM 重采样器，线性插值。
// Write 累积输入，Samples 取出当前可用的输出并清空内部缓冲。
type Resampler struct {
	srcRate int
	dstRate int
	pending []int16
	out     []byte
}

// DefaultResampler creates a linear resampler between two sample rates
func DefaultResampler(srcRate, dstRate int) *Resampler {
	return &Resampler{srcRate: srcRate, dstRate: dstRate}
}

// Write 送入 16-bit 小端 PCM 数据
func (r *Resampler) Write(data []byte) (int, error) {
	if len(data)%2 != 0 {
		return 0, fmt.Errorf("pcm data must be 16-bit aligned")
	}
	if r.srcRate == r.dstRate {
		r.out = append(r.out, data...)
		return len(data), nil
	}
	for i := 0; i+1 < len(data); i += 2 {
		r.pending = append(r.pending, int16(binary.LittleEndian.Uint16(data[i:])))
	}
	r.resamplePending()
	return len(data), nil
}

func (r *Resampler) resamplePending() {
	if len(r.pending) < 2 {
		return
	}
	ratio := float64(r.srcRate) / float64(r.dstRate)
	// 保留最后一个采样点做下次插值的左端点
	usable := len(r.pending) - 1
	outCount := int(float64(usable) / ratio)
	for i := 0; i < outCount; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := float64(r.pending[idx])
		s1 := float64(r.pending[idx+1])
		sample := int16(s0 + (s1-s0)*frac)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(sample))
		r.out = append(r.out, buf[0], buf[1])
	}
	consumed := int(float64(outCount) * ratio)
	if consumed > usable {
		consumed = usable
	}
	r.pending = r.pending[consumed:]
}

// Samples 取出已重采样的数据，没有则返回 nil
func (r *Resampler) Samples() []byte {
	if len(r.out) == 0 {
		return nil
	}
	out := r.out
	r.out = nil
	return out
}
