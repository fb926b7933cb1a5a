package bedrock

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/mikey/tool-scanner/internal/adapters/llm"
	"github.com/mikey/tool-scanner/internal/config"
	"go.uber.org/zap"
)

// Factory creates Bedrock completers
type Factory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewFactory creates a new Bedrock factory
func NewFactory(cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateCompleter loads the AWS configuration and creates a Completer
func (f *Factory) CreateCompleter() (llm.Completer, error) {
	bedrockCfg := f.cfg.GetBedrock()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(bedrockCfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	f.logger.Info("Using Bedrock model",
		zap.String("model", bedrockCfg.ModelID),
		zap.String("region", bedrockCfg.Region))
	return NewCompleter(bedrockruntime.NewFromConfig(awsCfg), bedrockCfg.ModelID, bedrockCfg.TopP, f.logger), nil
}
