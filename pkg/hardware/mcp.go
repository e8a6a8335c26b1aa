package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// rpcRequest 发往设备的 JSON-RPC 请求
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse 设备发来的 JSON-RPC 报文
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("mcp rpc error %d: %s", e.Code, e.Message)
}

// MCPClient 设备 MCP 工具面。设备在 hello 里声明 features.mcp 后，
// 服务端作为 MCP 客户端通过 WS 的 mcp 消息通道做
// initialize / tools/list / tools/call。
type MCPClient struct {
	writer *Writer
	logger *zap.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan rpcResponse
	tools   []mcp.Tool
	ready   bool
}

// NewMCPClient creates the device MCP tool-plane client
func NewMCPClient(writer *Writer, logger *zap.Logger) *MCPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPClient{
		writer:  writer,
		logger:  logger,
		pending: make(map[int64]chan rpcResponse),
	}
}

// Initialize 与设备完成 MCP 握手并拉取工具列表
func (c *MCPClient) Initialize(ctx context.Context) error {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.Capabilities = mcp.ClientCapabilities{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "xiaozhi-server",
		Version: "1.0.0",
	}
	if _, err := c.call(ctx, "initialize", initReq.Params); err != nil {
		return fmt.Errorf("mcp initialize: %w", err)
	}

	c.notify("notifications/initialized")

	listReq := mcp.ListToolsRequest{}
	raw, err := c.call(ctx, "tools/list", listReq.Params)
	if err != nil {
		return fmt.Errorf("mcp tools/list: %w", err)
	}
	var result mcp.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("mcp tools/list decode: %w", err)
	}

	c.mu.Lock()
	c.tools = result.Tools
	c.ready = true
	c.mu.Unlock()

	names := make([]string, 0, len(result.Tools))
	for _, t := range result.Tools {
		names = append(names, t.Name)
	}
	c.logger.Info("[MCP] 设备工具面就绪", zap.Strings("tools", names))
	return nil
}

// CallTool 调用设备侧工具，返回文本结果
func (c *MCPClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = name
	callReq.Params.Arguments = args

	raw, err := c.call(ctx, "tools/call", callReq.Params)
	if err != nil {
		return "", fmt.Errorf("mcp tools/call %s: %w", name, err)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("mcp tools/call %s decode: %w", name, err)
	}

	var text string
	for _, part := range result.Content {
		if part.Type == "text" {
			text += part.Text
		}
	}
	if result.IsError {
		return "", fmt.Errorf("mcp tool %s failed: %s", name, text)
	}
	return text, nil
}

// Tools 返回设备声明的工具列表快照
func (c *MCPClient) Tools() []mcp.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mcp.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Ready 工具面是否已完成握手
func (c *MCPClient) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// HandleMessage 处理设备发来的 mcp 报文
func (c *MCPClient) HandleMessage(payload json.RawMessage) {
	var msg rpcResponse
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn("[MCP] 报文解析失败", zap.Error(err))
		return
	}

	// 带 id 且没有 method 的是对我们请求的响应
	if msg.ID != nil && msg.Method == "" {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		if ok {
			delete(c.pending, *msg.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- msg
		}
		return
	}

	// 设备主动发的通知，目前只记日志
	c.logger.Debug("[MCP] 收到设备通知", zap.String("method", msg.Method))
}

// call 发送一个请求并等待响应
func (c *MCPClient) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan rpcResponse, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	c.writer.SendMCP(rpcRequest{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  method,
		Params:  params,
	})

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// notify 发送一个不需要响应的通知
func (c *MCPClient) notify(method string) {
	c.writer.SendMCP(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
	})
}
