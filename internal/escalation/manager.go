// Package escalation promotes undeliverable or urgent notifications to
// a human-visible channel sequence, at most once per recipient per
// window.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/router"
)

// ProfileStore is the slice of the profile store the manager needs.
// TryEscalate is the dedupe gate: a single atomic statement decides the
// winner when several triggers fire at once.
type ProfileStore interface {
	Get(ctx context.Context, recipientID string) (*profile.Profile, error)
	TryEscalate(ctx context.Context, recipientID string, window time.Duration) (won bool, count int, err error)
}

// UnsubscribeChecker reports the recipient's global opt-out state.
// Escalation bypasses channel preferences but never this flag.
type UnsubscribeChecker interface {
	Unsubscribed(ctx context.Context, recipientID string) (bool, error)
}

// Sequencer executes the ordered channel sequence. Implemented by the
// router.
type Sequencer interface {
	RouteEscalation(req *router.SendRequest, p *profile.Profile, channels []string, stepDelay time.Duration) (*router.Plan, error)
	Execute(ctx context.Context, plan *router.Plan, req *router.SendRequest) (*router.Result, error)
}

// Config is the escalation policy.
type Config struct {
	Channels  []string      // sequence order, e.g. push then sms then chat
	StepDelay time.Duration // mandatory pause between steps
	Window    time.Duration // dedupe window per recipient
	Template  string
}

type Manager struct {
	profiles ProfileStore
	prefs    UnsubscribeChecker
	seq      Sequencer
	cfg      Config
}

func NewManager(profiles ProfileStore, prefs UnsubscribeChecker, seq Sequencer, cfg Config) *Manager {
	if len(cfg.Channels) == 0 {
		cfg.Channels = []string{"push", "sms", "chat"}
	}
	if cfg.StepDelay == 0 {
		cfg.StepDelay = 2 * time.Minute
	}
	if cfg.Window == 0 {
		cfg.Window = time.Hour
	}
	if cfg.Template == "" {
		cfg.Template = "escalation-alert"
	}
	return &Manager{profiles: profiles, prefs: prefs, seq: seq, cfg: cfg}
}

// Escalate runs the sequence for one recipient. A nil channels argument
// uses the configured policy order. Suppressed escalations (opt-out or
// inside the dedupe window) return nil; only delivery problems error.
func (m *Manager) Escalate(ctx context.Context, tenantID, recipientID, reason string, channels []string) error {
	unsub, err := m.prefs.Unsubscribed(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("check unsubscribe for %s: %w", recipientID, err)
	}
	if unsub {
		log.Printf("[Escalation] %s is globally unsubscribed, suppressing", recipientID)
		return nil
	}

	won, count, err := m.profiles.TryEscalate(ctx, recipientID, m.cfg.Window)
	if err != nil {
		return fmt.Errorf("escalation gate for %s: %w", recipientID, err)
	}
	if !won {
		log.Printf("[Escalation] %s already escalated inside the window, suppressing", recipientID)
		return nil
	}

	p, err := m.profiles.Get(ctx, recipientID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("escalate %s: profile not found", recipientID)
	}

	if len(channels) == 0 {
		channels = m.cfg.Channels
	}

	req := &router.SendRequest{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		RecipientID: recipientID,
		Template:    m.cfg.Template,
		Category:    "security",
		Data: map[string]interface{}{
			"reason":           reason,
			"escalation_count": count,
		},
		Method:    router.MethodSingle,
		Status:    router.RequestSending,
		CreatedAt: time.Now(),
	}

	plan, err := m.seq.RouteEscalation(req, p, channels, m.cfg.StepDelay)
	if err != nil {
		return err
	}
	_, err = m.seq.Execute(ctx, plan, req)
	if errors.Is(err, router.ErrDeliveryExhausted) {
		return fmt.Errorf("escalation for %s: %w", recipientID, err)
	}
	return err
}
