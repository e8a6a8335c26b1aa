package llm

import (
	"context"
	"sync"
)

// LocalProvider 本地测试模型，按配置逐段吐出预置回复
type LocalProvider struct {
	mu        sync.Mutex
	responses [][]string
	index     int
}

// NewLocalProvider creates a canned-response provider for tests.
// 每条回复是若干个增量片段。
func NewLocalProvider(responses [][]string) *LocalProvider {
	if len(responses) == 0 {
		responses = [][]string{{"好的。"}}
	}
	return &LocalProvider{responses: responses}
}

// ChatStream 返回下一条预置回复的增量流
func (p *LocalProvider) ChatStream(ctx context.Context, messages []Message) (<-chan Delta, error) {
	p.mu.Lock()
	chunks := p.responses[p.index%len(p.responses)]
	p.index++
	p.mu.Unlock()

	out := make(chan Delta, len(chunks)+1)
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- Delta{Content: c}:
			case <-ctx.Done():
				out <- Delta{Err: ctx.Err(), Done: true}
				return
			}
		}
		out <- Delta{Done: true}
	}()
	return out, nil
}
