package engagement

import (
	"context"
	"database/sql"
	"log"
	"sync/atomic"
	"time"

	"github.com/ignite/notify-engine/internal/automation"
	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/tenant"
	"github.com/ignite/notify-engine/internal/tracker"
)

// Candidate is one recipient the sweep looks at.
type Candidate struct {
	RecipientID string
	TenantID    string
}

// RecipientSource lists recipients eligible for an engagement check.
type RecipientSource interface {
	ListCandidates(ctx context.Context, limit int) ([]Candidate, error)
}

// MetricsSource is the tracker's rolling-metrics query.
type MetricsSource interface {
	MetricsFor(ctx context.Context, recipientID string, window time.Duration) (tracker.Metrics, error)
}

type ProfileGetter interface {
	Get(ctx context.Context, recipientID string) (*profile.Profile, error)
}

// AutomationInvoker starts the re-engagement flow. Implemented by the
// automation runner.
type AutomationInvoker interface {
	Invoke(ctx context.Context, automationID, recipientID string, data map[string]interface{}) (*automation.Run, error)
}

type Escalator interface {
	Escalate(ctx context.Context, tenantID, recipientID, reason string, channels []string) error
}

type TenantConfigs interface {
	Get(ctx context.Context, id string) (*tenant.Config, error)
}

// Sweeper periodically scores recipients and intervenes on the ones
// that went quiet: a re-engagement automation for most plans, a human
// escalation for enterprise tenants.
type Sweeper struct {
	source    RecipientSource
	metrics   MetricsSource
	profiles  ProfileGetter
	automator AutomationInvoker
	escalator Escalator
	tenants   TenantConfigs
	interval  time.Duration
	window    time.Duration
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	totalChecked    int64
	totalIntervened int64
}

func NewSweeper(source RecipientSource, metrics MetricsSource, profiles ProfileGetter, automator AutomationInvoker, escalator Escalator, tenants TenantConfigs, interval time.Duration) *Sweeper {
	if interval == 0 {
		interval = 6 * time.Hour
	}
	return &Sweeper{
		source:    source,
		metrics:   metrics,
		profiles:  profiles,
		automator: automator,
		escalator: escalator,
		tenants:   tenants,
		interval:  interval,
		window:    30 * 24 * time.Hour,
		now:       time.Now,
	}
}

func (s *Sweeper) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go func() {
		log.Printf("[EngagementSweep] starting with interval %v", s.interval)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				log.Println("[EngagementSweep] stopped")
				return
			case <-ticker.C:
				s.Sweep(s.ctx)
			}
		}
	}()
}

func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Stats returns sweep counters for the health endpoint.
func (s *Sweeper) Stats() map[string]int64 {
	return map[string]int64{
		"checked":    atomic.LoadInt64(&s.totalChecked),
		"intervened": atomic.LoadInt64(&s.totalIntervened),
	}
}

// Sweep runs one pass. Exported so an admin endpoint can force it.
func (s *Sweeper) Sweep(ctx context.Context) {
	candidates, err := s.source.ListCandidates(ctx, 1000)
	if err != nil {
		log.Printf("[EngagementSweep] list candidates: %v", err)
		return
	}
	for _, c := range candidates {
		if ctx.Err() != nil {
			return
		}
		s.check(ctx, c)
	}
}

func (s *Sweeper) check(ctx context.Context, c Candidate) {
	atomic.AddInt64(&s.totalChecked, 1)

	m, err := s.metrics.MetricsFor(ctx, c.RecipientID, s.window)
	if err != nil {
		log.Printf("[EngagementSweep] metrics for %s: %v", c.RecipientID, err)
		return
	}
	p, err := s.profiles.Get(ctx, c.RecipientID)
	if err != nil || p == nil {
		return
	}

	sig := SignalsFromProfile(m, p.Attributes)
	if !NeedsIntervention(sig, s.now()) {
		return
	}

	cfg, err := s.tenants.Get(ctx, c.TenantID)
	if err != nil {
		log.Printf("[EngagementSweep] tenant %s: %v", c.TenantID, err)
		return
	}

	score := Score(sig, s.now())
	if cfg.IsEnterprise() {
		if err := s.escalator.Escalate(ctx, c.TenantID, c.RecipientID, "engagement drop", cfg.EscalationChannels); err != nil {
			log.Printf("[EngagementSweep] escalate %s: %v", c.RecipientID, err)
			return
		}
		atomic.AddInt64(&s.totalIntervened, 1)
		return
	}

	automationID := cfg.AutomationFor(tenant.PurposeReengagement)
	if automationID == "" {
		return
	}
	if _, err := s.automator.Invoke(ctx, automationID, c.RecipientID, map[string]interface{}{
		"engagement_score": score,
	}); err != nil {
		log.Printf("[EngagementSweep] invoke %s for %s: %v", automationID, c.RecipientID, err)
		return
	}
	atomic.AddInt64(&s.totalIntervened, 1)
}

// DBSource lists subscribed profiles as sweep candidates.
type DBSource struct {
	db *sql.DB
}

func NewDBSource(db *sql.DB) *DBSource {
	return &DBSource{db: db}
}

func (s *DBSource) ListCandidates(ctx context.Context, limit int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id, tenant_id FROM notify_profiles
		WHERE NOT unsubscribed
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.RecipientID, &c.TenantID); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
