// Package tenant holds per-tenant engine configuration: plan, the
// automation map, and escalation targets.
package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Plans.
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// Automation purposes resolved through the per-tenant map.
const (
	PurposeOnboarding   = "onboarding"
	PurposeReengagement = "reengagement"
)

// Config is one tenant's settings. Loaded once and cached; tenants
// change rarely and a restart picks up edits.
type Config struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Plan string `json:"plan"`

	// Automations maps a purpose to the automation id registered for
	// this tenant, e.g. onboarding -> the plan-specific welcome flow.
	Automations map[string]string `json:"automations,omitempty"`

	// EscalationChannels overrides the default escalation sequence.
	EscalationChannels []string `json:"escalation_channels,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutomationFor resolves the automation for a purpose. Empty when the
// tenant has none configured.
func (c *Config) AutomationFor(purpose string) string {
	if c == nil {
		return ""
	}
	return c.Automations[purpose]
}

func (c *Config) IsEnterprise() bool {
	return c != nil && c.Plan == PlanEnterprise
}

// Store reads and writes tenant configs against notify_tenants, with a
// read-through cache.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]*Config
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, cache: make(map[string]*Config)}
}

func (s *Store) Get(ctx context.Context, id string) (*Config, error) {
	s.mu.RLock()
	if c, ok := s.cache[id]; ok {
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	var c Config
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, plan, config, created_at, updated_at FROM notify_tenants WHERE id = $1`, id,
	).Scan(&c.ID, &c.Name, &c.Plan, &raw, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		var extra struct {
			Automations        map[string]string `json:"automations"`
			EscalationChannels []string          `json:"escalation_channels"`
		}
		if err := json.Unmarshal(raw, &extra); err != nil {
			return nil, fmt.Errorf("decode config for tenant %s: %w", id, err)
		}
		c.Automations = extra.Automations
		c.EscalationChannels = extra.EscalationChannels
	}

	s.mu.Lock()
	s.cache[id] = &c
	s.mu.Unlock()
	return &c, nil
}

func (s *Store) Upsert(ctx context.Context, c *Config) error {
	raw, err := json.Marshal(map[string]interface{}{
		"automations":         c.Automations,
		"escalation_channels": c.EscalationChannels,
	})
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notify_tenants (id, name, plan, config)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, plan = EXCLUDED.plan, config = EXCLUDED.config, updated_at = NOW()`,
		c.ID, c.Name, c.Plan, raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, c.ID)
	s.mu.Unlock()
	return nil
}
