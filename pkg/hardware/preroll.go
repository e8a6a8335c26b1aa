package hardware

import "sync"

// Preroll 最近 N 帧音频的预滚环。设备检测到语音边沿时，
// 语音开头的几帧往往已经流过去了，开新一轮识别时从这里补回。
type Preroll struct {
	mu     sync.Mutex
	frames [][]byte
	cap    int
}

// NewPreroll creates a ring holding the last n audio frames
func NewPreroll(n int) *Preroll {
	if n <= 0 {
		n = prerollFrames
	}
	return &Preroll{cap: n}
}

// Push 追加一帧，超出容量时丢最旧的
func (p *Preroll) Push(frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, buf)
	if len(p.frames) > p.cap {
		p.frames = p.frames[1:]
	}
}

// Drain 按时间序取出全部帧并清空
func (p *Preroll) Drain() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.frames
	p.frames = nil
	return out
}

// Len 当前缓存帧数
func (p *Preroll) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}
