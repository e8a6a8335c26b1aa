package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAIProvider openai 兼容接口的流式对话实现，
// BaseURL 可指向任何兼容网关。
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIProvider creates an openai-compatible streaming provider
func NewOpenAIProvider(config Config, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
		logger: logger,
	}
}

// ChatStream 发起流式对话，增量从返回的通道读取
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []Message) (<-chan Delta, error) {
	req := openai.ChatCompletionRequest{
		Model:  p.model,
		Stream: true,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		})
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create chat stream: %w", err)
	}

	out := make(chan Delta, 64)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				out <- Delta{Done: true}
				return
			}
			if err != nil {
				p.logger.Error("[LLM] 流式读取失败", zap.Error(err))
				out <- Delta{Err: err, Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			content := resp.Choices[0].Delta.Content
			if content == "" {
				continue
			}
			select {
			case out <- Delta{Content: content}:
			case <-ctx.Done():
				out <- Delta{Err: ctx.Err(), Done: true}
				return
			}
		}
	}()
	return out, nil
}
