package manage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		BaseURL:    url,
		Secret:     "test-secret",
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
		Timeout:    time.Second,
	}, nil)
}

func TestServerBaseConfigOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/config/server-base", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code": 0,
			"msg":  "success",
			"data": map[string]interface{}{"log_level": "info"},
		})
	}))
	defer srv.Close()

	cfg, err := newTestClient(srv.URL).ServerBaseConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "info", cfg["log_level"])
}

func TestDeviceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 10041, "msg": "not found"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).AgentModels(context.Background(), "aa:bb", "c1", nil)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestDeviceNotBoundCarriesBindCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 10042, "msg": "308531"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).AgentModels(context.Background(), "aa:bb", "c1", nil)
	var bindErr *DeviceBindError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, "308531", bindErr.BindCode)
}

func TestRetryOn5xxThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0, "data": map[string]interface{}{}})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ServerBaseConfig(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestBusinessCodeNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 10041, "msg": "not found"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ServerBaseConfig(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ServerBaseConfig(context.Background())
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load()) // 初始1次 + 重试2次
}

func TestReportChatFillsTime(t *testing.T) {
	var got ChatRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/chat-history/report", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0})
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).ReportChat(context.Background(), &ChatRecord{
		MacAddress: "aa:bb:cc",
		SessionID:  "s1",
		ChatType:   1,
		Content:    "你好",
	})
	require.NoError(t, err)
	assert.NotZero(t, got.ReportTime)
	assert.Equal(t, "你好", got.Content)
}

func TestReporterEnqueue(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0})
	}))
	defer srv.Close()

	rep := NewReporter(newTestClient(srv.URL), nil)
	defer rep.Stop()

	rep.Enqueue(&ChatRecord{SessionID: "s1", ChatType: 1, Content: "hi"})
	rep.Enqueue(&ChatRecord{SessionID: "s1", ChatType: 2, Content: "hello"})

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestSaveChatSummaryPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agent/chat-summary/sess-42/save", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0})
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SaveChatSummary(context.Background(), "sess-42", "聊了天气")
	require.NoError(t, err)
}

func TestEnvelopeDecodedRegardlessOfContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 有些网关会改掉 Content-Type，业务码不能因此被吞
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"code":10041,"msg":"not found"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).AgentModels(context.Background(), "aa:bb", "c1", nil)
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestMalformedEnvelopeIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).ServerBaseConfig(context.Background())
	assert.Error(t, err)
}

func TestRetryDelaySchedule(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"code": 0})
	}))
	defer srv.Close()

	start := time.Now()
	err := newTestClient(srv.URL).ReportChat(context.Background(), &ChatRecord{SessionID: "s1"})
	require.NoError(t, err)
	// 两次重试，每次间隔固定的 RetryDelay
	assert.GreaterOrEqual(t, time.Since(start), 2*10*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}
