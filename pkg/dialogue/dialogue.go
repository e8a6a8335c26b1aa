package dialogue

import (
	"sync"
	"time"
)

// Message 一条对话记录
type Message struct {
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	Speaker    string    `json:"speaker,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	Time       time.Time `json:"time"`
}

// History 单个会话的对话历史。超过上限时从最旧的开始裁，
// system 消息始终保留在最前面。
type History struct {
	mu         sync.RWMutex
	messages   []Message
	maxHistory int
}

// NewHistory creates a bounded dialogue history
func NewHistory(maxHistory int) *History {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &History{maxHistory: maxHistory}
}

// SetSystem 设置（或替换）system 提示
func (h *History) SetSystem(content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) > 0 && h.messages[0].Role == "system" {
		h.messages[0].Content = content
		return
	}
	h.messages = append([]Message{{Role: "system", Content: content, Time: time.Now()}}, h.messages...)
}

// Append 追加一条消息并按需裁剪
func (h *History) Append(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}
	h.messages = append(h.messages, msg)
	h.trimLocked()
}

// AppendUser 追加用户消息
func (h *History) AppendUser(content, speaker string) {
	h.Append(Message{Role: "user", Content: content, Speaker: speaker})
}

// AppendAssistant 追加助手消息
func (h *History) AppendAssistant(content string) {
	h.Append(Message{Role: "assistant", Content: content})
}

func (h *History) trimLocked() {
	limit := h.maxHistory
	hasSystem := len(h.messages) > 0 && h.messages[0].Role == "system"
	if hasSystem {
		limit++
	}
	for len(h.messages) > limit {
		if hasSystem {
			// 保住 system，裁第二条
			h.messages = append(h.messages[:1], h.messages[2:]...)
		} else {
			h.messages = h.messages[1:]
		}
	}
}

// Messages 返回当前历史的快照
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Message, len(h.messages))
	copy(out, h.messages)
	return out
}

// Len 当前消息条数（含 system）
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// Clear 清空历史，保留 system
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.messages) > 0 && h.messages[0].Role == "system" {
		h.messages = h.messages[:1]
		return
	}
	h.messages = nil
}
