package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/router"
)

type fakeProfileStore struct {
	mu        sync.Mutex
	escalated map[string]time.Time
	window    time.Duration
}

func (f *fakeProfileStore) Get(_ context.Context, recipientID string) (*profile.Profile, error) {
	return &profile.Profile{
		RecipientID: recipientID,
		Attributes:  profile.Attributes{"push_token": "tok", "phone": "+15550000000"},
	}, nil
}

// Mirrors the SQL gate: first caller inside a window wins.
func (f *fakeProfileStore) TryEscalate(_ context.Context, recipientID string, window time.Duration) (bool, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.escalated == nil {
		f.escalated = make(map[string]time.Time)
	}
	if at, ok := f.escalated[recipientID]; ok && time.Since(at) < window {
		return false, 0, nil
	}
	f.escalated[recipientID] = time.Now()
	return true, 1, nil
}

type fakeUnsub struct{ unsub bool }

func (f *fakeUnsub) Unsubscribed(_ context.Context, _ string) (bool, error) {
	return f.unsub, nil
}

type fakeSequencer struct {
	mu       sync.Mutex
	executed []*router.SendRequest
	channels [][]string
	delays   []time.Duration
}

func (f *fakeSequencer) RouteEscalation(req *router.SendRequest, _ *profile.Profile, channels []string, stepDelay time.Duration) (*router.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channels)
	f.delays = append(f.delays, stepDelay)
	return &router.Plan{RequestID: req.ID, Method: router.MethodSingle, StepDelay: stepDelay}, nil
}

func (f *fakeSequencer) Execute(_ context.Context, plan *router.Plan, req *router.SendRequest) (*router.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, req)
	return &router.Result{RequestID: plan.RequestID, Delivered: true}, nil
}

func (f *fakeSequencer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

func newTestManager(unsub bool) (*Manager, *fakeSequencer) {
	seq := &fakeSequencer{}
	m := NewManager(&fakeProfileStore{}, &fakeUnsub{unsub: unsub}, seq, Config{
		Channels:  []string{"push", "sms"},
		StepDelay: time.Minute,
		Window:    time.Hour,
	})
	return m, seq
}

func TestEscalateRunsSequence(t *testing.T) {
	m, seq := newTestManager(false)
	if err := m.Escalate(context.Background(), "t1", "user-1", "delivery exhausted", nil); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if seq.count() != 1 {
		t.Fatalf("executed %d sequences, want 1", seq.count())
	}
	if got := seq.channels[0]; len(got) != 2 || got[0] != "push" || got[1] != "sms" {
		t.Errorf("channels = %v, want policy default [push sms]", got)
	}
	if seq.delays[0] != time.Minute {
		t.Errorf("step delay = %v, want 1m", seq.delays[0])
	}
	if seq.executed[0].Category != "security" {
		t.Errorf("category = %s, want security", seq.executed[0].Category)
	}
}

func TestEscalateExplicitChannelsOverridePolicy(t *testing.T) {
	m, seq := newTestManager(false)
	if err := m.Escalate(context.Background(), "t1", "user-1", "urgent", []string{"chat"}); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if got := seq.channels[0]; len(got) != 1 || got[0] != "chat" {
		t.Errorf("channels = %v, want [chat]", got)
	}
}

func TestEscalateDeduplicatesWithinWindow(t *testing.T) {
	m, seq := newTestManager(false)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := m.Escalate(ctx, "t1", "user-1", "spam of triggers", nil); err != nil {
			t.Fatalf("Escalate %d: %v", i, err)
		}
	}
	if seq.count() != 1 {
		t.Errorf("executed %d sequences for one recipient, want 1", seq.count())
	}

	// A different recipient is an independent gate.
	if err := m.Escalate(ctx, "t1", "user-2", "other", nil); err != nil {
		t.Fatalf("Escalate user-2: %v", err)
	}
	if seq.count() != 2 {
		t.Errorf("executed %d sequences, want 2", seq.count())
	}
}

func TestEscalateConcurrentTriggersSingleWinner(t *testing.T) {
	m, seq := newTestManager(false)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Escalate(context.Background(), "t1", "user-1", "burst", nil)
		}()
	}
	wg.Wait()
	if seq.count() != 1 {
		t.Errorf("executed %d sequences under concurrency, want 1", seq.count())
	}
}

func TestEscalateHonorsGlobalUnsubscribe(t *testing.T) {
	m, seq := newTestManager(true)
	if err := m.Escalate(context.Background(), "t1", "user-1", "anything", nil); err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if seq.count() != 0 {
		t.Errorf("executed %d sequences for unsubscribed recipient, want 0", seq.count())
	}
}
