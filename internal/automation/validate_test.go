package automation

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestValidateRejectsMalformedSteps(t *testing.T) {
	tests := []struct {
		name  string
		steps []Step
	}{
		{"no steps", nil},
		{"unknown type", []Step{{Type: "pause"}}},
		{"send without template", []Step{{Type: StepSend}}},
		{"wait without delay", []Step{{Type: StepWait}}},
		{"wait with bad delay", []Step{{Type: StepWait, Delay: "2 days"}}},
		{"wait with negative delay", []Step{{Type: StepWait, Delay: "-1h"}}},
		{"condition without expression", []Step{{Type: StepCondition, Then: []Step{{Type: StepSend, Template: "x"}}}}},
		{"condition with both branches empty", []Step{{Type: StepCondition, If: &Condition{Op: OpExists, Field: "x"}}}},
		{"trigger without target", []Step{{Type: StepTrigger}}},
		{
			"bad step nested in branch",
			[]Step{{
				Type: StepCondition,
				If:   &Condition{Op: OpExists, Field: "x"},
				Then: []Step{{Type: StepSend}},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Automation{ID: "a1", Name: "bad", Steps: tt.steps}
			if err := a.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	if err := welcomeAutomation().Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRegisterRejectsTriggerCycle(t *testing.T) {
	r, _, _, _, _ := newTestRunner(t)
	ctx := context.Background()

	register(t, r, &Automation{
		ID:    "auto-a",
		Name:  "a",
		Steps: []Step{{Type: StepSend, Template: "a"}},
	})

	// b -> a is fine.
	register(t, r, &Automation{
		ID:    "auto-b",
		Name:  "b",
		Steps: []Step{{Type: StepTrigger, AutomationID: "auto-a"}},
	})

	// Updating a to trigger b closes the loop a -> b -> a.
	err := r.Register(ctx, &Automation{
		ID:      "auto-a",
		Name:    "a",
		Enabled: true,
		Steps:   []Step{{Type: StepTrigger, AutomationID: "auto-b"}},
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("err = %v, want ErrCycleDetected", err)
	}

	// The stored definition must be unchanged.
	a, _ := r.store.GetAutomation(ctx, "auto-a")
	if a.Steps[0].Type != StepSend {
		t.Errorf("cycle registration mutated stored automation: %+v", a.Steps)
	}
}

func TestRegisterRejectsSelfTrigger(t *testing.T) {
	r, _, _, _, _ := newTestRunner(t)
	err := r.Register(context.Background(), &Automation{
		ID:    "auto-loop",
		Name:  "loop",
		Steps: []Step{{Type: StepTrigger, AutomationID: "auto-loop"}},
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("err = %v, want ErrCycleDetected", err)
	}
}

func TestRegisterAllowsDiamond(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d: shared target, no cycle.
	r, _, _, _, _ := newTestRunner(t)
	register(t, r, &Automation{ID: "d", Name: "d", Steps: []Step{{Type: StepSend, Template: "d"}}})
	register(t, r, &Automation{ID: "b", Name: "b", Steps: []Step{{Type: StepTrigger, AutomationID: "d"}}})
	register(t, r, &Automation{ID: "c", Name: "c", Steps: []Step{{Type: StepTrigger, AutomationID: "d"}}})
	register(t, r, &Automation{ID: "a", Name: "a", Steps: []Step{
		{Type: StepTrigger, AutomationID: "b"},
		{Type: StepTrigger, AutomationID: "c"},
	}})
}

func TestCycleDetectionSeesNestedTriggers(t *testing.T) {
	r, _, _, _, _ := newTestRunner(t)
	register(t, r, &Automation{
		ID:   "outer",
		Name: "outer",
		Steps: []Step{{
			Type: StepCondition,
			If:   &Condition{Op: OpExists, Field: "x"},
			Then: []Step{{Type: StepTrigger, AutomationID: "inner"}},
			Else: []Step{{Type: StepSend, Template: "noop"}},
		}},
	})
	err := r.Register(context.Background(), &Automation{
		ID:    "inner",
		Name:  "inner",
		Steps: []Step{{Type: StepTrigger, AutomationID: "outer"}},
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("err = %v, want ErrCycleDetected", err)
	}
}

func TestClaimDueRunsHonorsWakeTime(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	early := base.Add(time.Hour)
	late := base.Add(10 * time.Hour)
	store.CreateRun(ctx, &Run{ID: "r1", Status: RunWaiting, WakeAt: &early})
	store.CreateRun(ctx, &Run{ID: "r2", Status: RunWaiting, WakeAt: &late})
	store.CreateRun(ctx, &Run{ID: "r3", Status: RunCompleted, WakeAt: &early})

	due, err := store.ClaimDueRuns(ctx, base.Add(2*time.Hour), 100)
	if err != nil {
		t.Fatalf("ClaimDueRuns: %v", err)
	}
	if len(due) != 1 || due[0].ID != "r1" {
		t.Fatalf("due = %+v, want just r1", due)
	}

	// A claimed run is not claimable again.
	due, _ = store.ClaimDueRuns(ctx, base.Add(2*time.Hour), 100)
	if len(due) != 0 {
		t.Errorf("second claim returned %d runs, want 0", len(due))
	}
}
