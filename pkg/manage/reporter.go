package manage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reporter 对话上报队列。上报走后台协程，
// 失败只记日志，绝不阻塞语音链路。
type Reporter struct {
	client *Client
	logger *zap.Logger

	queue    chan *ChatRecord
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewReporter creates a fire-and-forget chat reporter
func NewReporter(client *Client, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Reporter{
		client:   client,
		logger:   logger,
		queue:    make(chan *ChatRecord, 100),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	go r.worker()
	return r
}

// Enqueue 入队一条记录，队列满时丢弃
func (r *Reporter) Enqueue(record *ChatRecord) {
	select {
	case r.queue <- record:
	case <-r.stopChan:
	default:
		r.logger.Warn("[Manage] 上报队列已满，丢弃记录",
			zap.String("sessionID", record.SessionID))
	}
}

func (r *Reporter) worker() {
	defer close(r.doneChan)
	for {
		select {
		case <-r.stopChan:
			return
		case record := <-r.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := r.client.ReportChat(ctx, record); err != nil {
				r.logger.Warn("[Manage] 对话上报失败",
					zap.String("sessionID", record.SessionID),
					zap.Error(err))
			}
			cancel()
		}
	}
}

// Stop 停止上报协程
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
	select {
	case <-r.doneChan:
	case <-time.After(time.Second):
	}
}
