package factory

import (
	"fmt"

	"github.com/mikey/tool-scanner/internal/adapters/bedrock"
	"github.com/mikey/tool-scanner/internal/adapters/gemini"
	"github.com/mikey/tool-scanner/internal/adapters/heuristic"
	"github.com/mikey/tool-scanner/internal/adapters/llm"
	"github.com/mikey/tool-scanner/internal/adapters/openai"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/utils"
	"go.uber.org/zap"
)

// Pipeline pairs the classifier and extractor of one strategy
type Pipeline struct {
	Classifier core.Classifier
	Extractor  core.Extractor
}

// LLMFactory creates the classification and extraction pipeline
type LLMFactory struct {
	cfg           *config.Config
	logger        *zap.Logger
	textProcessor *utils.TextProcessor
}

// NewLLMFactory creates a new LLM factory
func NewLLMFactory(cfg *config.Config, logger *zap.Logger) *LLMFactory {
	return &LLMFactory{
		cfg:           cfg,
		logger:        logger,
		textProcessor: utils.NewTextProcessor(logger),
	}
}

// CreateCompleter creates the hosted model client for llm.provider
func (f *LLMFactory) CreateCompleter() (llm.Completer, error) {
	llmConfig := f.cfg.GetLLM()

	switch llmConfig.Provider {
	case "openai":
		return openai.NewFactory(f.cfg, f.logger).CreateCompleter()
	case "gemini":
		return gemini.NewFactory(f.cfg, f.logger).CreateCompleter()
	case "bedrock":
		return bedrock.NewFactory(f.cfg, f.logger).CreateCompleter()
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", llmConfig.Provider)
	}
}

// CreatePipeline creates the classifier and extractor for pipeline.strategy
func (f *LLMFactory) CreatePipeline(retry core.RetryPolicy) (*Pipeline, error) {
	pipelineCfg := f.cfg.GetPipeline()

	switch pipelineCfg.Strategy {
	case "llm":
		completer, err := f.CreateCompleter()
		if err != nil {
			return nil, err
		}
		opts := llm.DefaultOptions()
		if n := f.cfg.GetScan().MaxBodyChars; n > 0 {
			opts.MaxBodyChars = n
		}
		p := llm.NewPipeline(completer, retry, f.textProcessor, opts, f.logger)
		return &Pipeline{Classifier: p, Extractor: p}, nil
	case "heuristic":
		lexicon, err := f.CreateLexicon()
		if err != nil {
			return nil, err
		}
		f.logger.Info("Using heuristic classifier")
		return &Pipeline{
			Classifier: heuristic.NewClassifier(lexicon),
			Extractor:  heuristic.NewExtractor(lexicon, nil),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported pipeline strategy: %s", pipelineCfg.Strategy)
	}
}

// CreateLexicon loads pipeline.lexicon_path, or the built-in lexicon when unset
func (f *LLMFactory) CreateLexicon() (*heuristic.Lexicon, error) {
	path := f.cfg.GetPipeline().LexiconPath
	if path == "" {
		return heuristic.DefaultLexicon(), nil
	}
	lexicon, err := heuristic.LoadLexicon(path)
	if err != nil {
		return nil, err
	}
	f.logger.Info("Loaded lexicon", zap.String("path", path))
	return lexicon, nil
}

// CreateCategorizer creates the marketing relevance scorer
func (f *LLMFactory) CreateCategorizer() (core.Categorizer, error) {
	lexicon, err := f.CreateLexicon()
	if err != nil {
		return nil, err
	}
	return heuristic.NewCategorizer(lexicon), nil
}
