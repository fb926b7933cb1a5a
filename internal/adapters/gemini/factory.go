package gemini

import (
	"context"
	"fmt"

	"github.com/mikey/tool-scanner/internal/adapters/llm"
	"github.com/mikey/tool-scanner/internal/config"
	"go.uber.org/zap"
)

// Factory creates Gemini completers from configuration
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new factory for Gemini completers
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCompleter creates a Completer for the configured model
func (f *Factory) CreateCompleter() (llm.Completer, error) {
	geminiCfg := f.cfg.GetGemini()
	if geminiCfg.APIKey == "" {
		return nil, fmt.Errorf("gemini.api_key is not configured")
	}

	f.logger.Info("Using Gemini model", zap.String("model", geminiCfg.ModelName))
	return NewCompleter(context.Background(), geminiCfg.APIKey, geminiCfg.ModelName, geminiCfg.TopP, f.logger)
}
