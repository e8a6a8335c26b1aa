package recognizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newASRTestServer 模拟 duplex 识别服务端：run-task 回 task-started，
// finish-task 回一个终句加 task-finished，每条连接跑一个任务。
func newASRTestServer(t *testing.T, final string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.TextMessage {
				// 音频帧直接吞掉
				continue
			}
			var env taskEnvelope
			if json.Unmarshal(msg, &env) != nil {
				continue
			}
			switch env.Header.Action {
			case "run-task":
				_ = conn.WriteJSON(taskEnvelope{
					Header: taskHeader{Event: "task-started", TaskID: env.Header.TaskID},
				})
			case "finish-task":
				end := int64(1000)
				_ = conn.WriteJSON(taskEnvelope{
					Header: taskHeader{Event: "result-generated", TaskID: env.Header.TaskID},
					Payload: taskPayload{
						Output: &taskOutput{
							Sentence: &sentenceResult{Text: final, SentenceEnd: true, EndTime: &end},
						},
					},
				})
				_ = conn.WriteJSON(taskEnvelope{
					Header: taskHeader{Event: "task-finished", TaskID: env.Header.TaskID},
				})
				return
			}
		}
	}))
}

func TestStreamTranscriberReopen(t *testing.T) {
	srv := newASRTestServer(t, "你好")
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	tr := NewStreamTranscriber(Config{
		WSURL:      wsURL,
		Model:      "test-model",
		SampleRate: 16000,
	}, nil)
	defer tr.Close()

	ctx := context.Background()
	// 编排层每轮都重开识别，同一个实例必须能连续跑多轮
	for turn := 1; turn <= 2; turn++ {
		require.NoError(t, tr.Open(ctx, "s1", ModeManual), "第 %d 轮 Open 失败", turn)
		require.NoError(t, tr.Push([]byte{1, 2, 3}))

		fctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		text, err := tr.Finalize(fctx)
		cancel()
		require.NoError(t, err)
		assert.Equal(t, "你好", text, "第 %d 轮识别结果不对", turn)
	}
}

func TestStreamFinalizeThenPushRejected(t *testing.T) {
	srv := newASRTestServer(t, "你好")
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	tr := NewStreamTranscriber(Config{WSURL: wsURL, Model: "m", SampleRate: 16000}, nil)
	defer tr.Close()

	ctx := context.Background()
	require.NoError(t, tr.Open(ctx, "s1", ModeManual))
	require.NoError(t, tr.Push([]byte{1}))

	fctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	_, err := tr.Finalize(fctx)
	cancel()
	require.NoError(t, err)

	// 收尾后连接已拆，再推帧应当报客户端已关闭
	assert.ErrorIs(t, tr.Push([]byte{1}), ErrClientClosed)
}

func TestStreamPushDropsOldestOnOverflow(t *testing.T) {
	tr := NewStreamTranscriber(Config{}, nil)
	tr.isOpen = true
	tr.audioChan = make(chan []byte, 2)
	tr.closeChan = make(chan struct{})

	require.NoError(t, tr.Push([]byte{1}))
	require.NoError(t, tr.Push([]byte{2}))
	// 队列满，最旧的一帧让位给最新的
	require.NoError(t, tr.Push([]byte{3}))

	assert.Equal(t, []byte{2}, <-tr.audioChan)
	assert.Equal(t, []byte{3}, <-tr.audioChan)
}
