package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/mikey/tool-scanner/internal/adapters/llm"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

// InvokeModelAPI is the part of the Bedrock runtime client the completer uses
type InvokeModelAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Completer sends prompts to a model hosted on Amazon Bedrock
type Completer struct {
	client  InvokeModelAPI
	modelID string
	topP    float32
	logger  *zap.Logger
}

// NewCompleter creates a new Bedrock completer
func NewCompleter(client InvokeModelAPI, modelID string, topP float32, logger *zap.Logger) *Completer {
	return &Completer{
		client:  client,
		modelID: modelID,
		topP:    topP,
		logger:  logger,
	}
}

// ModelName returns the configured model id
func (c *Completer) ModelName() string {
	return c.modelID
}

// Complete invokes the model with a payload shaped for its family
func (c *Completer) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	payload, err := c.buildPayload(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		Body:        payload,
		Accept:      aws.String("application/json"),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		var throttled *types.ThrottlingException
		if errors.As(err, &throttled) {
			c.logger.Debug("Bedrock throttled request", zap.String("model", c.modelID))
			return "", core.RateLimited(err)
		}
		return "", fmt.Errorf("failed to invoke Bedrock model: %w", err)
	}

	return c.parseResponse(resp.Body)
}

func (c *Completer) buildPayload(req llm.CompletionRequest) ([]byte, error) {
	switch {
	case c.isAnthropicModel():
		return json.Marshal(map[string]interface{}{
			"anthropic_version": "bedrock-2023-05-31",
			"system":            req.System,
			"max_tokens":        req.MaxTokens,
			"temperature":       req.Temperature,
			"top_p":             c.topP,
			"messages": []map[string]interface{}{
				{
					"role":    "user",
					"content": []map[string]string{{"type": "text", "text": req.Prompt}},
				},
			},
		})
	case c.isAmazonTitanModel():
		return json.Marshal(map[string]interface{}{
			"inputText": req.System + "\n\n" + req.Prompt,
			"textGenerationConfig": map[string]interface{}{
				"maxTokenCount": req.MaxTokens,
				"temperature":   req.Temperature,
				"topP":          c.topP,
			},
		})
	default:
		return json.Marshal(map[string]interface{}{
			"prompt":      req.System + "\n\n" + req.Prompt,
			"max_tokens":  req.MaxTokens,
			"temperature": req.Temperature,
			"top_p":       c.topP,
		})
	}
}

func (c *Completer) parseResponse(body []byte) (string, error) {
	switch {
	case c.isAnthropicModel():
		var claudeResp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &claudeResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Claude response: %w", err)
		}
		var b strings.Builder
		for _, block := range claudeResp.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String(), nil
	case c.isAmazonTitanModel():
		var titanResp struct {
			Results []struct {
				OutputText string `json:"outputText"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &titanResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal Titan response: %w", err)
		}
		if len(titanResp.Results) == 0 {
			return "", fmt.Errorf("empty response from Titan model")
		}
		return titanResp.Results[0].OutputText, nil
	default:
		var genericResp struct {
			Output     string `json:"output"`
			Text       string `json:"text"`
			Response   string `json:"response"`
			Generation string `json:"generation"`
		}
		if err := json.Unmarshal(body, &genericResp); err != nil {
			return "", fmt.Errorf("failed to unmarshal generic response: %w", err)
		}
		for _, s := range []string{genericResp.Output, genericResp.Text, genericResp.Response, genericResp.Generation} {
			if s != "" {
				return s, nil
			}
		}
		return string(body), nil
	}
}

// isAnthropicModel checks if the model is an Anthropic Claude model
func (c *Completer) isAnthropicModel() bool {
	return strings.HasPrefix(c.modelID, "anthropic.claude") || strings.Contains(c.modelID, ".anthropic.claude")
}

// isAmazonTitanModel checks if the model is an Amazon Titan model
func (c *Completer) isAmazonTitanModel() bool {
	return strings.HasPrefix(c.modelID, "amazon.titan")
}
