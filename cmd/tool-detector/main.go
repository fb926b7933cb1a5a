package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mikey/tool-scanner/internal/adapters/cli"
	"github.com/mikey/tool-scanner/internal/adapters/mailbox/eml"
	"github.com/mikey/tool-scanner/internal/config"
	"github.com/mikey/tool-scanner/internal/di"
)

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(func(
		flags *di.CLIFlags,
		cfg *config.Config,
		detector *cli.Detector,
		logger *zap.Logger,
	) error {
		defer logger.Sync()
		return run(flags, cfg, detector, logger)
	}); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(flags *di.CLIFlags, cfg *config.Config, detector *cli.Detector, logger *zap.Logger) error {
	// Read message from file or stdin
	var reader io.Reader
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		reader = file
		logger.Info("Reading message from file", zap.String("file", flags.InputFile))
	} else {
		reader = os.Stdin
		logger.Info("Reading message from stdin")
	}

	msg, err := eml.ParseMessage(reader)
	if err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	logger.Debug("Running detection",
		zap.String("strategy", cfg.GetPipeline().Strategy),
		zap.String("provider", cfg.GetLLM().Provider))

	timeout := cfg.GetScan().Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	outcome, err := detector.Detect(ctx, msg)
	if err != nil {
		return err
	}
	return detector.Print(outcome)
}
