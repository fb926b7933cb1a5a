package di

import (
	"testing"

	"github.com/mikey/tool-scanner/internal/adapters/cli"
	"github.com/mikey/tool-scanner/internal/core"
	"github.com/mikey/tool-scanner/internal/ports"
)

func TestBuildContainerResolvesRunners(t *testing.T) {
	t.Setenv("TOOL_SCANNER_PIPELINE_STRATEGY", "heuristic")
	t.Setenv("TOOL_SCANNER_SERVER_ENABLED", "false")
	t.Setenv("TOOL_SCANNER_STORE_TYPE", "memory")
	t.Setenv("TOOL_SCANNER_NOTIFY_TYPE", "none")

	container, err := BuildContainer()
	if err != nil {
		t.Fatalf("BuildContainer() error = %v", err)
	}
	err = container.Invoke(func(runners []ports.Runner, scanner *core.ScanService, store core.Store) {
		defer store.Close()
		if len(runners) != 1 {
			t.Errorf("runners = %d, want the scheduler only", len(runners))
		}
		if scanner == nil {
			t.Error("scan service not resolved")
		}
	})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
}

func TestBuildCLIContainerResolvesDetector(t *testing.T) {
	flags := &CLIFlags{Strategy: "heuristic", Provider: "openai", MinConfidence: 40}
	container, err := BuildCLIContainer(flags)
	if err != nil {
		t.Fatalf("BuildCLIContainer() error = %v", err)
	}
	if err := container.Invoke(func(d *cli.Detector) {
		if d == nil {
			t.Error("detector not resolved")
		}
	}); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
}
