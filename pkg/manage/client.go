package manage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 控制面业务码
const (
	CodeOK             = 0
	CodeDeviceNotFound = 10041
	CodeDeviceNotBound = 10042
)

// ErrDeviceNotFound 设备未在控制面注册
var ErrDeviceNotFound = errors.New("device not found")

// DeviceBindError 设备未绑定，Msg 里带着要播报的绑定码
type DeviceBindError struct {
	BindCode string
}

func (e *DeviceBindError) Error() string {
	return fmt.Sprintf("device not bound, bind code: %s", e.BindCode)
}

// envelope 控制面统一响应格式
type envelope struct {
	Code int         `json:"code"`
	Msg  string      `json:"msg"`
	Data interface{} `json:"data"`
}

// Config 控制面客户端配置
type Config struct {
	BaseURL    string
	Secret     string
	MaxRetries int
	RetryDelay time.Duration
	Timeout    time.Duration
}

// Client 控制面 REST 客户端。
// 只对连接错误、超时和 408/429/5xx 重试，业务码错误不重试。
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// ChatRecord 一条要上报的对话记录
type ChatRecord struct {
	MacAddress  string `json:"macAddress"`
	SessionID   string `json:"sessionId"`
	ChatType    int    `json:"chatType"` // 1 用户 2 助手
	Content     string `json:"content"`
	ReportTime  int64  `json:"reportTime"`
	AudioBase64 string `json:"audioBase64,omitempty"`
}

// NewClient creates a control-plane REST client
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 6
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 10 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	http := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(config.Timeout).
		SetHeader("Authorization", "Bearer "+config.Secret).
		SetRetryCount(config.MaxRetries - 1).
		SetRetryWaitTime(config.RetryDelay).
		SetRetryMaxWaitTime(config.RetryDelay).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				// 连接失败和超时重试
				return true
			}
			switch r.StatusCode() {
			case 408, 429:
				return true
			}
			return r.StatusCode() >= 500
		})

	return &Client{http: http, logger: logger}
}

// post 发送请求并解包 envelope，data 解码到 out
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	var env envelope
	if out != nil {
		env.Data = out
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("manage api %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("manage api %s: status %d", path, resp.StatusCode())
	}
	// 不信响应的 Content-Type，信封一律按 JSON 解。
	// 解不开的响应当错误处理，不能静默当成功。
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("manage api %s: decode envelope: %w", path, err)
	}

	switch env.Code {
	case CodeOK:
		return nil
	case CodeDeviceNotFound:
		return ErrDeviceNotFound
	case CodeDeviceNotBound:
		return &DeviceBindError{BindCode: env.Msg}
	default:
		return fmt.Errorf("manage api %s: code %d: %s", path, env.Code, env.Msg)
	}
}

// ServerBaseConfig 拉取服务端基础配置
func (c *Client) ServerBaseConfig(ctx context.Context) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := c.post(ctx, "/config/server-base", map[string]string{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AgentModels 按设备拉取模型选择配置
func (c *Client) AgentModels(ctx context.Context, macAddress, clientID string, selectedModule map[string]string) (map[string]interface{}, error) {
	body := map[string]interface{}{
		"macAddress":     macAddress,
		"clientId":       clientID,
		"selectedModule": selectedModule,
	}
	out := map[string]interface{}{}
	if err := c.post(ctx, "/config/agent-models", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReportChat 上报一条对话记录
func (c *Client) ReportChat(ctx context.Context, record *ChatRecord) error {
	if record.ReportTime == 0 {
		record.ReportTime = time.Now().Unix()
	}
	return c.post(ctx, "/agent/chat-history/report", record, nil)
}

// SaveChatSummary 保存会话摘要
func (c *Client) SaveChatSummary(ctx context.Context, sessionID, summary string) error {
	path := fmt.Sprintf("/agent/chat-summary/%s/save", sessionID)
	return c.post(ctx, path, map[string]string{"summary": summary}, nil)
}
