package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrerollKeepsLastN(t *testing.T) {
	p := NewPreroll(3)
	for i := byte(0); i < 5; i++ {
		p.Push([]byte{i})
	}
	assert.Equal(t, 3, p.Len())

	frames := p.Drain()
	assert.Equal(t, [][]byte{{2}, {3}, {4}}, frames)
	assert.Equal(t, 0, p.Len())
}

func TestPrerollCopiesFrames(t *testing.T) {
	p := NewPreroll(3)
	buf := []byte{1, 2, 3}
	p.Push(buf)

	// 调用方复用缓冲区不影响环里的数据
	buf[0] = 9
	frames := p.Drain()
	assert.Equal(t, []byte{1, 2, 3}, frames[0])
}

func TestPrerollDrainEmpty(t *testing.T) {
	p := NewPreroll(3)
	assert.Empty(t, p.Drain())
}
