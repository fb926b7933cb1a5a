package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mikey/tool-scanner/internal/adapters/llm"
	"github.com/mikey/tool-scanner/internal/core"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Completer sends prompts to the OpenAI chat completions API
type Completer struct {
	client    *openai.Client
	modelName string
	topP      float32
	logger    *zap.Logger
}

// NewCompleter creates a new OpenAI completer
func NewCompleter(client *openai.Client, modelName string, topP float32, logger *zap.Logger) *Completer {
	return &Completer{
		client:    client,
		modelName: modelName,
		topP:      topP,
		logger:    logger,
	}
}

// ModelName returns the configured model
func (c *Completer) ModelName() string {
	return c.modelName
}

// Complete runs one chat completion and returns the assistant's reply
func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.modelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: req.System,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: req.Prompt,
			},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        c.topP,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		if isRateLimited(err) {
			c.logger.Debug("OpenAI rate limit hit", zap.String("model", c.modelName))
			return "", core.RateLimited(err)
		}
		return "", fmt.Errorf("failed to create chat completion with OpenAI: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from OpenAI")
	}

	return resp.Choices[0].Message.Content, nil
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}
