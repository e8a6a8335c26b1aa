package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaozhi-voice/xiaozhi-server/pkg/recognizer"
)

func TestTurnStateTransitions(t *testing.T) {
	st := NewTurnState()
	assert.Equal(t, StateIdle, st.Get())

	st.Set(StateListening)
	assert.True(t, st.Is(StateListening, StateRecognizing))
	assert.False(t, st.Is(StateSpeaking))

	// 终止后状态不再变更
	st.Set(StateTerminated)
	st.Set(StateIdle)
	assert.Equal(t, StateTerminated, st.Get())
}

func TestTurnStateSentenceEpoch(t *testing.T) {
	st := NewTurnState()

	sid1 := st.NewSentence("sess")
	assert.Equal(t, "sess-1", sid1)
	assert.True(t, st.IsSentenceActive(sid1))

	// 新句开始后旧句作废
	sid2 := st.NewSentence("sess")
	assert.Equal(t, "sess-2", sid2)
	assert.False(t, st.IsSentenceActive(sid1))
	assert.True(t, st.IsSentenceActive(sid2))

	// 打断作废当前句
	st.InvalidateSentence()
	assert.False(t, st.IsSentenceActive(sid2))
	assert.False(t, st.IsSentenceActive(""))
}

func TestTurnStateBeginTurnDedup(t *testing.T) {
	st := NewTurnState()

	// VAD 判停和 ASR 回调同时触发时只能有一个赢
	assert.True(t, st.BeginTurn())
	assert.False(t, st.BeginTurn())

	st.EndTurn()
	assert.True(t, st.BeginTurn())
}

func TestTurnStateBeginTurnAfterTerminated(t *testing.T) {
	st := NewTurnState()
	st.Set(StateTerminated)
	assert.False(t, st.BeginTurn())
}

func TestTurnStateMode(t *testing.T) {
	st := NewTurnState()
	assert.Equal(t, recognizer.ModeAuto, st.Mode())
	st.SetMode(recognizer.ModeManual)
	assert.Equal(t, recognizer.ModeManual, st.Mode())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "speaking", StateSpeaking.String())
	assert.Equal(t, "terminated", StateTerminated.String())
}
