package hardware

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mcpEnvelope 设备侧收到的 mcp 消息
type mcpEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *int64          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	} `json:"payload"`
}

// runFakeDevice 模拟设备侧的 MCP 服务端：读 writer 发来的请求并应答
func runFakeDevice(t *testing.T, conn *websocket.Conn, client *MCPClient, toolText string) {
	t.Helper()
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			var env mcpEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			if env.Type != MessageTypeMCP || env.Payload.ID == nil {
				continue
			}
			var result interface{}
			switch env.Payload.Method {
			case "initialize":
				result = map[string]interface{}{
					"protocolVersion": "2024-11-05",
					"capabilities":    map[string]interface{}{},
					"serverInfo":      map[string]string{"name": "device", "version": "1.0"},
				}
			case "tools/list":
				result = map[string]interface{}{
					"tools": []map[string]interface{}{
						{
							"name":        "self.get_device_status",
							"description": "设备状态",
							"inputSchema": map[string]interface{}{"type": "object"},
						},
					},
				}
			case "tools/call":
				result = map[string]interface{}{
					"content": []map[string]string{{"type": "text", "text": toolText}},
					"isError": false,
				}
			default:
				continue
			}
			resp, _ := json.Marshal(map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      *env.Payload.ID,
				"result":  result,
			})
			client.HandleMessage(resp)
		}
	}()
}

func TestMCPInitializeAndCallTool(t *testing.T) {
	left, right := newTestConnPair(t)
	state := NewTurnState()
	w := NewWriter(left, state, "sess-1", 60*time.Millisecond, nil)
	defer w.Close()

	client := NewMCPClient(w, nil)
	runFakeDevice(t, right, client, "电量 80%")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Initialize(ctx))

	assert.True(t, client.Ready())
	tools := client.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "self.get_device_status", tools[0].Name)

	text, err := client.CallTool(ctx, "self.get_device_status", nil)
	require.NoError(t, err)
	assert.Equal(t, "电量 80%", text)
}

func TestMCPCallTimeout(t *testing.T) {
	left, _ := newTestConnPair(t)
	w := NewWriter(left, NewTurnState(), "sess-1", 60*time.Millisecond, nil)
	defer w.Close()

	client := NewMCPClient(w, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// 设备不应答时请求超时返回
	_, err := client.CallTool(ctx, "self.get_device_status", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMCPErrorResponse(t *testing.T) {
	left, _ := newTestConnPair(t)
	w := NewWriter(left, NewTurnState(), "sess-1", 60*time.Millisecond, nil)
	defer w.Close()

	client := NewMCPClient(w, nil)

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := client.CallTool(ctx, "bad.tool", nil)
		done <- err
	}()

	// 等请求登记到 pending 表再回错误
	time.Sleep(50 * time.Millisecond)
	id := int64(1)
	resp, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"error":   map[string]interface{}{"code": -32601, "message": "method not found"},
	})
	client.HandleMessage(resp)

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}
