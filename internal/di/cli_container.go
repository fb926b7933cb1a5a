package di

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/mikey/tool-scanner/internal/adapters/cli"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/domainlist"
	"github.com/mikey/tool-scanner/internal/factory"
	"github.com/mikey/tool-scanner/internal/logging"
)

// CLIFlags contains all command line flags for the CLI application
type CLIFlags struct {
	// Pipeline flags
	Strategy      string
	Provider      string
	MinConfidence int
	LexiconPath   string
	IgnoreDomains string

	// Bedrock flags
	BedrockRegion  string
	BedrockModelID string

	// Gemini flags
	GeminiAPIKey    string
	GeminiModelName string

	// OpenAI flags
	OpenAIAPIKey    string
	OpenAIModelName string

	// Input flags
	InputFile  string
	Verbose    bool
	JSONLog    bool
	JSONOutput bool
	ConfigFile string
}

// ParseFlags parses command line flags and returns a CLIFlags struct
func ParseFlags() *CLIFlags {
	flags := &CLIFlags{}

	flag.StringVar(&flags.Strategy, "strategy", "heuristic", "Detection strategy (heuristic, llm)")
	flag.StringVar(&flags.Provider, "provider", "openai", "LLM provider for the llm strategy (openai, gemini, bedrock)")
	flag.IntVar(&flags.MinConfidence, "min-confidence", 40, "Minimum confidence for classification and validation")
	flag.StringVar(&flags.LexiconPath, "lexicon", "", "YAML lexicon overriding the built-in keyword lists")
	flag.StringVar(&flags.IgnoreDomains, "ignore", "", "Comma-separated list of sender domains to skip")

	flag.StringVar(&flags.BedrockRegion, "bedrock-region", "us-east-1", "AWS region for Bedrock")
	flag.StringVar(&flags.BedrockModelID, "bedrock-model", "anthropic.claude-3-haiku-20240307-v1:0", "Bedrock model ID")

	flag.StringVar(&flags.GeminiAPIKey, "gemini-api-key", os.Getenv("GEMINI_API_KEY"), "API key for Google Gemini")
	flag.StringVar(&flags.GeminiModelName, "gemini-model", "gemini-1.5-flash", "Gemini model name")

	flag.StringVar(&flags.OpenAIAPIKey, "openai-api-key", os.Getenv("OPENAI_API_KEY"), "API key for OpenAI")
	flag.StringVar(&flags.OpenAIModelName, "openai-model", "gpt-4o-mini", "OpenAI model name")

	flag.StringVar(&flags.InputFile, "file", "", "Input RFC 822 message (use stdin if not specified)")
	flag.BoolVar(&flags.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")
	flag.BoolVar(&flags.JSONOutput, "json", false, "Print the detection outcome as JSON")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to config file (overrides command line flags)")

	flag.Parse()
	return flags
}

// BuildCLIContainer creates and configures a dependency injection container for the CLI application
func BuildCLIContainer(flags *CLIFlags) (*dig.Container, error) {
	container := dig.New()

	if err := container.Provide(func() *CLIFlags { return flags }); err != nil {
		return nil, err
	}

	if err := container.Provide(func(flags *CLIFlags) (*zap.Logger, error) {
		return logging.InitConsoleLogger(flags.Verbose, flags.JSONLog)
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(func(flags *CLIFlags, logger *zap.Logger) (*config.Config, error) {
		if flags.ConfigFile != "" {
			v := config.NewEmptyViper()
			v.SetConfigFile(flags.ConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			logger.Info("Loaded configuration from file", zap.String("file", v.ConfigFileUsed()))
			return config.NewFromViper(v), nil
		}
		return createConfigFromFlags(flags), nil
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(factory.NewLLMFactory); err != nil {
		return nil, err
	}
	if err := providePipeline(container); err != nil {
		return nil, err
	}
	if err := container.Provide(func(f *factory.LLMFactory) (core.Categorizer, error) {
		return f.CreateCategorizer()
	}); err != nil {
		return nil, err
	}

	if err := container.Provide(func(
		flags *CLIFlags,
		cfg *config.Config,
		pipeline *factory.Pipeline,
		validator *core.Validator,
		categorizer core.Categorizer,
		logger *zap.Logger,
	) *cli.Detector {
		ignored := cfg.GetScan().IgnoredDomains
		if len(ignored) > 0 {
			logger.Info("Using ignored domains", zap.Strings("domains", ignored))
		}
		return cli.NewDetector(cli.DetectorDeps{
			Classifier:  pipeline.Classifier,
			Extractor:   pipeline.Extractor,
			Validator:   validator,
			Categorizer: categorizer,
			Ignore:      domainlist.NewChecker(ignored, logger),
		}, cfg.GetScan().MinConfidence, flags.JSONOutput, os.Stdout, logger)
	}); err != nil {
		return nil, err
	}

	return container, nil
}

// createConfigFromFlags creates a configuration from command line flags
func createConfigFromFlags(flags *CLIFlags) *config.Config {
	v := config.NewEmptyViper()

	v.Set("pipeline.strategy", flags.Strategy)
	v.Set("pipeline.lexicon_path", flags.LexiconPath)
	v.Set("scan.min_confidence", flags.MinConfidence)
	v.Set("llm.provider", flags.Provider)

	if flags.IgnoreDomains != "" {
		domains := strings.Split(flags.IgnoreDomains, ",")
		for i, domain := range domains {
			domains[i] = strings.TrimSpace(domain)
		}
		v.Set("scan.ignored_domains", domains)
	}

	switch flags.Provider {
	case "bedrock":
		v.Set("bedrock.region", flags.BedrockRegion)
		v.Set("bedrock.model_id", flags.BedrockModelID)
	case "gemini":
		v.Set("gemini.api_key", flags.GeminiAPIKey)
		v.Set("gemini.model_name", flags.GeminiModelName)
	case "openai":
		v.Set("openai.api_key", flags.OpenAIAPIKey)
		v.Set("openai.model_name", flags.OpenAIModelName)
	}

	return config.NewFromViper(v)
}
