package dialogue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppendOrder(t *testing.T) {
	h := NewHistory(10)
	h.AppendUser("你好", "")
	h.AppendAssistant("你好呀")
	h.AppendUser("天气怎么样", "张三")

	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "张三", msgs[2].Speaker)
}

func TestHistoryTrimKeepsSystem(t *testing.T) {
	h := NewHistory(4)
	h.SetSystem("你是小智")

	for i := 0; i < 10; i++ {
		h.AppendUser(fmt.Sprintf("第%d句", i), "")
	}

	msgs := h.Messages()
	require.Len(t, msgs, 5) // system + 4
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "你是小智", msgs[0].Content)
	// 留下的是最新的4条
	assert.Equal(t, "第6句", msgs[1].Content)
	assert.Equal(t, "第9句", msgs[4].Content)
}

func TestHistoryTrimWithoutSystem(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.AppendUser(fmt.Sprintf("m%d", i), "")
	}
	msgs := h.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Content)
}

func TestSetSystemReplaces(t *testing.T) {
	h := NewHistory(10)
	h.SetSystem("第一版")
	h.AppendUser("hi", "")
	h.SetSystem("第二版")

	msgs := h.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "第二版", msgs[0].Content)
}

func TestClearKeepsSystem(t *testing.T) {
	h := NewHistory(10)
	h.SetSystem("prompt")
	h.AppendUser("hi", "")
	h.Clear()

	msgs := h.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "system", msgs[0].Role)
}

func TestMessagesReturnsCopy(t *testing.T) {
	h := NewHistory(10)
	h.AppendUser("原始", "")
	msgs := h.Messages()
	msgs[0].Content = "被改了"
	assert.Equal(t, "原始", h.Messages()[0].Content)
}
