package engagement

import (
	"context"
	"testing"
	"time"

	"github.com/ignite/notify-engine/internal/automation"
	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/tenant"
	"github.com/ignite/notify-engine/internal/tracker"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		sig  Signals
		want float64
	}{
		{"no signals", Signals{}, 0},
		{
			"full marks",
			Signals{
				Metrics:        tracker.Metrics{OpenRate: 1.0},
				CompletedSteps: 5, TotalSteps: 5,
				LastActiveAt: testNow.Add(-time.Hour),
			},
			100,
		},
		{
			"half opens only",
			Signals{Metrics: tracker.Metrics{OpenRate: 0.5}},
			20,
		},
		{
			"partial onboarding",
			Signals{CompletedSteps: 2, TotalSteps: 4},
			20,
		},
		{
			"recency decays",
			Signals{LastActiveAt: testNow.Add(-10 * 24 * time.Hour)},
			10,
		},
		{
			"stale activity is worthless",
			Signals{LastActiveAt: testNow.Add(-60 * 24 * time.Hour)},
			0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.sig, testNow); got != tt.want {
				t.Errorf("Score = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSignalsFromProfile(t *testing.T) {
	attrs := profile.Attributes{
		"onboarding": map[string]interface{}{
			"completed_steps": float64(3),
			"total_steps":     float64(6),
		},
		"last_active_at": testNow.Add(-2 * time.Hour).Format(time.RFC3339),
	}
	sig := SignalsFromProfile(tracker.Metrics{OpenRate: 0.25}, attrs)
	if sig.CompletedSteps != 3 || sig.TotalSteps != 6 {
		t.Errorf("steps = %d/%d, want 3/6", sig.CompletedSteps, sig.TotalSteps)
	}
	if sig.LastActiveAt.IsZero() {
		t.Error("last active not parsed")
	}
	// 0.25*40 + 0.5*40 + 20
	if got := Score(sig, testNow); got != 50 {
		t.Errorf("Score = %v, want 50", got)
	}
}

func TestNeedsIntervention(t *testing.T) {
	healthy := Signals{
		Metrics:        tracker.Metrics{OpenRate: 0.8, Delivered: 10, Opened: 8},
		CompletedSteps: 4, TotalSteps: 5,
		LastActiveAt: testNow.Add(-time.Hour),
	}
	if NeedsIntervention(healthy, testNow) {
		t.Error("healthy recipient flagged")
	}

	quiet := Signals{Metrics: tracker.Metrics{Delivered: 5, Opened: 0, OpenRate: 0}}
	if !NeedsIntervention(quiet, testNow) {
		t.Error("silent recipient not flagged")
	}

	// Decent score but messages pile up unopened.
	ghosting := Signals{
		Metrics:        tracker.Metrics{Delivered: 4, Opened: 0},
		CompletedSteps: 5, TotalSteps: 5,
		LastActiveAt: testNow.Add(-time.Hour),
	}
	if !NeedsIntervention(ghosting, testNow) {
		t.Error("recipient ignoring messages not flagged")
	}
}

type fakeSource struct{ cands []Candidate }

func (f *fakeSource) ListCandidates(_ context.Context, _ int) ([]Candidate, error) {
	return f.cands, nil
}

type fakeMetrics struct{ m map[string]tracker.Metrics }

func (f *fakeMetrics) MetricsFor(_ context.Context, id string, _ time.Duration) (tracker.Metrics, error) {
	return f.m[id], nil
}

type fakeSweepProfiles struct{}

func (fakeSweepProfiles) Get(_ context.Context, id string) (*profile.Profile, error) {
	return &profile.Profile{RecipientID: id, Attributes: profile.Attributes{}}, nil
}

type fakeInvoker struct{ invoked [][2]string }

func (f *fakeInvoker) Invoke(_ context.Context, automationID, recipientID string, _ map[string]interface{}) (*automation.Run, error) {
	f.invoked = append(f.invoked, [2]string{automationID, recipientID})
	return &automation.Run{ID: "run-1"}, nil
}

type fakeSweepEscalator struct{ escalated []string }

func (f *fakeSweepEscalator) Escalate(_ context.Context, _, recipientID, _ string, _ []string) error {
	f.escalated = append(f.escalated, recipientID)
	return nil
}

type fakeTenants struct{ cfgs map[string]*tenant.Config }

func (f *fakeTenants) Get(_ context.Context, id string) (*tenant.Config, error) {
	return f.cfgs[id], nil
}

func TestSweepRoutesByPlan(t *testing.T) {
	source := &fakeSource{cands: []Candidate{
		{RecipientID: "quiet-free", TenantID: "t-free"},
		{RecipientID: "quiet-ent", TenantID: "t-ent"},
		{RecipientID: "active", TenantID: "t-free"},
	}}
	metrics := &fakeMetrics{m: map[string]tracker.Metrics{
		"quiet-free": {Delivered: 5, Opened: 0},
		"quiet-ent":  {Delivered: 5, Opened: 0},
		"active":     {Delivered: 5, Opened: 5, OpenRate: 1.0},
	}}
	invoker := &fakeInvoker{}
	esc := &fakeSweepEscalator{}
	tenants := &fakeTenants{cfgs: map[string]*tenant.Config{
		"t-free": {ID: "t-free", Plan: tenant.PlanFree, Automations: map[string]string{
			tenant.PurposeReengagement: "auto-reengage",
		}},
		"t-ent": {ID: "t-ent", Plan: tenant.PlanEnterprise},
	}}

	s := NewSweeper(source, metrics, fakeSweepProfiles{}, invoker, esc, tenants, time.Hour)
	s.now = func() time.Time { return testNow }
	s.Sweep(context.Background())

	if len(invoker.invoked) != 1 || invoker.invoked[0] != [2]string{"auto-reengage", "quiet-free"} {
		t.Errorf("invoked = %v, want [[auto-reengage quiet-free]]", invoker.invoked)
	}
	if len(esc.escalated) != 1 || esc.escalated[0] != "quiet-ent" {
		t.Errorf("escalated = %v, want [quiet-ent]", esc.escalated)
	}
	if got := s.Stats()["intervened"]; got != 2 {
		t.Errorf("intervened = %d, want 2", got)
	}
}
