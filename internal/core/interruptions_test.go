package core_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mikey/tool-scanner/internal/adapters/store/memory"
	"github.com/mikey/tool-scanner/internal/core"
	"go.uber.org/zap"
)

func TestEvaluateRules(t *testing.T) {
	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	inFive := now.Add(5 * 24 * time.Hour)
	inSevenExact := now.Add(7 * 24 * time.Hour)
	inTen := now.Add(10 * 24 * time.Hour)
	touched := now.Add(-time.Hour)

	tests := []struct {
		name    string
		tool    core.DetectedTool
		want    core.InterruptionType
		prio    core.Priority
		message string
		actions []core.Action
	}{
		{
			name:    "silent renewal",
			tool:    core.DetectedTool{VendorName: "Zoom", RenewalCount: 6, OwnerConfirmationStatus: core.OwnerConfirmed},
			want:    core.InterruptionSilentRenewal,
			prio:    core.PriorityHigh,
			message: "Zoom has renewed 6 times without any interaction",
			actions: []core.Action{core.ActionKeep, core.ActionCancel, core.ActionAssignOwner},
		},
		{
			name:    "renewal within a week",
			tool:    core.DetectedTool{VendorName: "Zoom", EstimatedRenewalDate: &inFive, OwnerConfirmationStatus: core.OwnerConfirmed},
			want:    core.InterruptionTrialEnding,
			prio:    core.PriorityUrgent,
			message: "Zoom renews in 5 days",
			actions: []core.Action{core.ActionKeep, core.ActionCancel},
		},
		{
			name:    "renewal exactly seven days out",
			tool:    core.DetectedTool{VendorName: "Zoom", EstimatedRenewalDate: &inSevenExact},
			want:    core.InterruptionTrialEnding,
			prio:    core.PriorityUrgent,
			message: "Zoom renews in 7 days",
			actions: []core.Action{core.ActionKeep, core.ActionCancel},
		},
		{
			name:    "no owner",
			tool:    core.DetectedTool{VendorName: "Zoom", RenewalCount: 3, OwnerConfirmationStatus: core.OwnerUnconfirmed, EstimatedRenewalDate: &inTen},
			want:    core.InterruptionNoOwner,
			prio:    core.PriorityMedium,
			message: "Zoom has no confirmed owner",
			actions: []core.Action{core.ActionAssignOwner},
		},
		{
			name:    "silent renewal wins over no owner",
			tool:    core.DetectedTool{VendorName: "Zoom", RenewalCount: 8, OwnerConfirmationStatus: core.OwnerUnconfirmed, EstimatedRenewalDate: &inFive},
			want:    core.InterruptionSilentRenewal,
			prio:    core.PriorityHigh,
			message: "Zoom has renewed 8 times without any interaction",
			actions: []core.Action{core.ActionKeep, core.ActionCancel, core.ActionAssignOwner},
		},
		{
			name: "interaction suppresses silent renewal",
			tool: core.DetectedTool{VendorName: "Zoom", RenewalCount: 8, LastInteractionDate: &touched, OwnerConfirmationStatus: core.OwnerConfirmed},
		},
		{
			name: "nothing fires",
			tool: core.DetectedTool{VendorName: "Zoom", RenewalCount: 2, OwnerConfirmationStatus: core.OwnerUnconfirmed, EstimatedRenewalDate: &inTen},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.Evaluate(&tt.tool, now)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("Evaluate() = %+v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Evaluate() = nil, want %s", tt.want)
			}
			if got.Type != tt.want || got.Priority != tt.prio {
				t.Errorf("Evaluate() = %s/%s, want %s/%s", got.Type, got.Priority, tt.want, tt.prio)
			}
			if got.Message != tt.message {
				t.Errorf("Message = %q, want %q", got.Message, tt.message)
			}
			if len(got.PossibleActions) != len(tt.actions) {
				t.Fatalf("PossibleActions = %v, want %v", got.PossibleActions, tt.actions)
			}
			for i := range tt.actions {
				if got.PossibleActions[i] != tt.actions[i] {
					t.Errorf("PossibleActions = %v, want %v", got.PossibleActions, tt.actions)
				}
			}
		})
	}
}

func TestGenerateFiresOncePerTool(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(zap.NewNop(), 0, 0)
	defer store.Close()

	tools := []*core.DetectedTool{
		{ID: "t1", OrganizationID: "org-1", VendorName: "Zoom", NormalizedVendor: "zoom", Status: core.ToolStatusActive, RenewalCount: 6, OwnerConfirmationStatus: core.OwnerConfirmed},
		{ID: "t2", OrganizationID: "org-1", VendorName: "Miro", NormalizedVendor: "miro", Status: core.ToolStatusCancelled, RenewalCount: 9},
		{ID: "t3", OrganizationID: "org-2", VendorName: "Zoom", NormalizedVendor: "zoom", Status: core.ToolStatusActive, RenewalCount: 7},
	}
	for _, tool := range tools {
		if err := store.CreateTool(ctx, tool); err != nil {
			t.Fatalf("CreateTool() error = %v", err)
		}
	}

	engine := core.NewInterruptionEngine(store, store, nil, zap.NewNop())

	created, err := engine.Generate(ctx, "org-1")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	created, err = engine.Generate(ctx, "org-1")
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}
	if created != 0 {
		t.Errorf("second pass created = %d, want 0", created)
	}

	open, _ := store.ListOpenInterruptions(ctx, "org-1")
	if len(open) != 1 {
		t.Fatalf("open interruptions = %d, want 1", len(open))
	}
	if open[0].ToolID != "t1" || open[0].Type != core.InterruptionSilentRenewal || open[0].Priority != core.PriorityHigh {
		t.Errorf("interruption = %+v, want silent_renewal/high for t1", open[0])
	}
}

// slowInterruptions widens the gap between the open check and the insert
type slowInterruptions struct {
	*memory.Store
}

func (s slowInterruptions) HasOpenInterruption(ctx context.Context, toolID string) (bool, error) {
	time.Sleep(time.Millisecond)
	return s.Store.HasOpenInterruption(ctx, toolID)
}

func TestConcurrentGenerateKeepsOneOpenPerTool(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(zap.NewNop(), 0, 0)
	defer store.Close()

	const toolCount = 50
	for i := 0; i < toolCount; i++ {
		tool := &core.DetectedTool{
			ID:                      fmt.Sprintf("t%d", i),
			OrganizationID:          "org-1",
			VendorName:              fmt.Sprintf("Vendor%d", i),
			NormalizedVendor:        fmt.Sprintf("vendor%d", i),
			Status:                  core.ToolStatusActive,
			RenewalCount:            6,
			OwnerConfirmationStatus: core.OwnerConfirmed,
		}
		if err := store.CreateTool(ctx, tool); err != nil {
			t.Fatalf("CreateTool() error = %v", err)
		}
	}

	locker := core.NewKeyedMutex()
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine := core.NewInterruptionEngine(store, slowInterruptions{store}, locker, zap.NewNop())
			created, err := engine.Generate(ctx, "org-1")
			if err != nil {
				t.Errorf("Generate() error = %v", err)
				return
			}
			mu.Lock()
			total += created
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != toolCount {
		t.Errorf("created = %d, want %d", total, toolCount)
	}
	open, _ := store.ListOpenInterruptions(ctx, "org-1")
	perTool := make(map[string]int)
	for _, in := range open {
		perTool[in.ToolID]++
	}
	if len(open) != toolCount {
		t.Errorf("open interruptions = %d, want %d", len(open), toolCount)
	}
	for id, n := range perTool {
		if n > 1 {
			t.Errorf("tool %s has %d open interruptions", id, n)
		}
	}
}
