package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/mikey/tool-scanner/internal/adapters/llm"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Completer sends prompts to Google Gemini
type Completer struct {
	client    *genai.Client
	modelName string
	topP      float32
	logger    *zap.Logger
}

// NewCompleter creates a new Gemini completer
func NewCompleter(ctx context.Context, apiKey, modelName string, topP float32, logger *zap.Logger) (*Completer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Completer{
		client:    client,
		modelName: modelName,
		topP:      topP,
		logger:    logger,
	}, nil
}

// ModelName returns the configured model
func (c *Completer) ModelName() string {
	return c.modelName
}

// Close closes the Gemini client
func (c *Completer) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Complete generates content for one prompt. A model handle is built per call
// because generation settings differ between classification and extraction.
func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	model := c.client.GenerativeModel(c.modelName)
	model.SetTemperature(req.Temperature)
	model.SetTopP(c.topP)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if req.JSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		if isRateLimited(err) {
			c.logger.Debug("Gemini rate limit hit", zap.String("model", c.modelName))
			return "", core.RateLimited(err)
		}
		return "", fmt.Errorf("failed to generate content with Gemini: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from Gemini")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

func isRateLimited(err error) bool {
	if status.Code(err) == codes.ResourceExhausted {
		return true
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code == http.StatusTooManyRequests
	}
	return false
}
