package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/mikey/tool-scanner/internal/adapters/llm"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

type fakeRuntime struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeRuntime) InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestCompleteAnthropicMessages(t *testing.T) {
	rt := &fakeRuntime{body: `{"content":[{"type":"text","text":"{\"confidence\": 80}"}]}`}
	c := NewCompleter(rt, "anthropic.claude-3-haiku-20240307-v1:0", 1, zap.NewNop())

	reply, err := c.Complete(context.Background(), llm.CompletionRequest{System: "sys", Prompt: "hi", MaxTokens: 150})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != `{"confidence": 80}` {
		t.Errorf("reply = %q", reply)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rt.input.Body, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["system"] != "sys" || payload["max_tokens"].(float64) != 150 {
		t.Errorf("payload = %v", payload)
	}
	if aws.ToString(rt.input.ModelId) != "anthropic.claude-3-haiku-20240307-v1:0" {
		t.Errorf("ModelId = %q", aws.ToString(rt.input.ModelId))
	}
}

func TestCompleteTitan(t *testing.T) {
	rt := &fakeRuntime{body: `{"results":[{"outputText":"{}"}]}`}
	c := NewCompleter(rt, "amazon.titan-text-express-v1", 1, zap.NewNop())

	reply, err := c.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if err != nil || reply != "{}" {
		t.Fatalf("Complete() = %q, %v", reply, err)
	}
}

func TestCompleteThrottling(t *testing.T) {
	rt := &fakeRuntime{err: &types.ThrottlingException{Message: aws.String("slow down")}}
	c := NewCompleter(rt, "amazon.titan-text-express-v1", 1, zap.NewNop())

	_, err := c.Complete(context.Background(), llm.CompletionRequest{Prompt: "hi"})
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("Complete() error = %v, want rate limited", err)
	}
}
