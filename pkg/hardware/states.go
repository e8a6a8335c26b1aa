package hardware

import (
	"fmt"
	"sync"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/recognizer"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateListening
	StateRecognizing
	StateDispatching
	StateSpeaking
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecognizing:
		return "recognizing"
	case StateDispatching:
		return "dispatching"
	case StateSpeaking:
		return "speaking"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// TurnState 会话的轮次状态机。除了状态本身，
// 还管收音模式、句子纪元和单轮派发的互斥。
//
// 句子纪元：每句合成分配一个递增的 sentence_id，
// 打断时把当前 id 作废，旧句的音频帧在写出口被丢掉。
type TurnState struct {
	mu sync.Mutex

	state State
	mode  recognizer.ListenMode

	sentenceSeq    int
	activeSentence string

	turnInFlight bool
}

// NewTurnState creates a turn state machine in the idle state
func NewTurnState() *TurnState {
	return &TurnState{
		state: StateIdle,
		mode:  recognizer.ModeAuto,
	}
}

// Get 当前状态
func (t *TurnState) Get() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Set 设置状态。已终止的会话不再变更。
func (t *TurnState) Set(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateTerminated {
		return
	}
	t.state = s
}

// Is 当前状态是否是其中之一
func (t *TurnState) Is(states ...State) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range states {
		if t.state == s {
			return true
		}
	}
	return false
}

// Mode 当前收音模式
func (t *TurnState) Mode() recognizer.ListenMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// SetMode 设置收音模式
func (t *TurnState) SetMode(mode recognizer.ListenMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
}

// NewSentence 分配一个新的 sentence_id 并设为当前活跃句
func (t *TurnState) NewSentence(sessionID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sentenceSeq++
	t.activeSentence = fmt.Sprintf("%s-%d", sessionID, t.sentenceSeq)
	return t.activeSentence
}

// ActiveSentence 当前活跃句 id，没有则为空
func (t *TurnState) ActiveSentence() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activeSentence
}

// IsSentenceActive 某个 sentence_id 是否还是活跃句
func (t *TurnState) IsSentenceActive(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return id != "" && id == t.activeSentence
}

// InvalidateSentence 作废当前活跃句。打断播报走这里，
// 之后旧句的帧不会再发到设备。
func (t *TurnState) InvalidateSentence() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeSentence = ""
}

// BeginTurn 尝试开始一轮派发，已有在飞的轮次时返回 false。
// VAD 判停和 ASR 终句回调可能同时到，靠这里去重。
func (t *TurnState) BeginTurn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.turnInFlight || t.state == StateTerminated {
		return false
	}
	t.turnInFlight = true
	return true
}

// EndTurn 结束当前轮派发
func (t *TurnState) EndTurn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turnInFlight = false
}
