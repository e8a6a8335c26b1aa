package llm

import (
	"context"
)

// Message 对话消息
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Delta 流式输出的一段增量文本
type Delta struct {
	Content string
	Done    bool
	Err     error
}

// Provider 大模型对话接口。ChatStream 返回增量通道，
// 流结束或出错时发送 Done/Err 并关闭通道。
type Provider interface {
	ChatStream(ctx context.Context, messages []Message) (<-chan Delta, error)
}

// Config LLM 配置
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// FallbackReply 模型不可用时的兜底话术
const FallbackReply = "抱歉，我现在有点忙，稍后再试试吧。"
