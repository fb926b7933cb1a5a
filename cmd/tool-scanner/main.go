package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/di"
	"github.com/mikey/tool-scanner/internal/factory"
	"github.com/mikey/tool-scanner/internal/ports"
)

func main() {
	// A missing .env is normal in production
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Printf("Failed to load .env file: %v\n", err)
		os.Exit(1)
	}

	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	runners []ports.Runner,
	store core.Store,
	storeFactory *factory.StoreFactory,
) error {
	defer logger.Sync()

	started := make([]ports.Runner, 0, len(runners))
	for _, r := range runners {
		if err := r.Start(); err != nil {
			logger.Error("Failed to start trigger", zap.Error(err))
			stopAll(started, logger)
			return err
		}
		started = append(started, r)
	}
	logger.Info("Tool scanner started", zap.Int("triggers", len(started)))

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	stopAll(started, logger)

	if err := store.Close(); err != nil {
		logger.Error("Failed to close store", zap.Error(err))
	}
	if err := storeFactory.Close(); err != nil {
		logger.Error("Failed to close redis client", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

// stopAll stops runners in reverse start order
func stopAll(runners []ports.Runner, logger *zap.Logger) {
	for i := len(runners) - 1; i >= 0; i-- {
		if err := runners[i].Stop(); err != nil {
			logger.Error("Failed to stop trigger", zap.Error(err))
		}
	}
}
