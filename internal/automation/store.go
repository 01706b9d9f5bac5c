package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store is the persistence contract for definitions and runs.
// Implemented by PostgresStore; tests use MemStore.
type Store interface {
	CreateAutomation(ctx context.Context, a *Automation) error
	GetAutomation(ctx context.Context, id string) (*Automation, error)
	ListByTrigger(ctx context.Context, event string) ([]Automation, error)
	ListAutomations(ctx context.Context, tenantID string) ([]Automation, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error

	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, r *Run) error
	ClaimDueRuns(ctx context.Context, now time.Time, limit int) ([]Run, error)
	ActiveRunExists(ctx context.Context, automationID, recipientID string) (bool, error)
}

// PostgresStore handles CRUD for the notify_automations and
// notify_automation_runs tables.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateAutomation(ctx context.Context, a *Automation) error {
	stepsJSON, err := json.Marshal(a.Steps)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notify_automations (id, tenant_id, name, trigger_event, steps, enabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, trigger_event = EXCLUDED.trigger_event,
		    steps = EXCLUDED.steps, enabled = EXCLUDED.enabled, updated_at = NOW()`,
		a.ID, a.TenantID, a.Name, a.TriggerEvent, stepsJSON, a.Enabled)
	return err
}

const automationColumns = `id, tenant_id, name, COALESCE(trigger_event,''), steps, enabled, created_at, updated_at`

func scanAutomation(row interface{ Scan(...interface{}) error }) (*Automation, error) {
	var a Automation
	var stepsJSON []byte
	if err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.TriggerEvent, &stepsJSON, &a.Enabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(stepsJSON, &a.Steps); err != nil {
		return nil, fmt.Errorf("decode steps for automation %s: %w", a.ID, err)
	}
	return &a, nil
}

func (s *PostgresStore) GetAutomation(ctx context.Context, id string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+automationColumns+` FROM notify_automations WHERE id = $1`, id)
	a, err := scanAutomation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) ListByTrigger(ctx context.Context, event string) ([]Automation, error) {
	return s.list(ctx,
		`SELECT `+automationColumns+` FROM notify_automations WHERE trigger_event = $1 AND enabled`, event)
}

func (s *PostgresStore) ListAutomations(ctx context.Context, tenantID string) ([]Automation, error) {
	return s.list(ctx,
		`SELECT `+automationColumns+` FROM notify_automations WHERE tenant_id = $1 ORDER BY created_at`, tenantID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...interface{}) ([]Automation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notify_automations SET enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	return err
}

func (s *PostgresStore) CreateRun(ctx context.Context, r *Run) error {
	framesJSON, err := json.Marshal(r.Frames)
	if err != nil {
		return err
	}
	dataJSON, err := json.Marshal(r.Data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notify_automation_runs
		 (id, automation_id, tenant_id, recipient_id, status, frames, data, wake_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.AutomationID, r.TenantID, r.RecipientID, r.Status, framesJSON, dataJSON, r.WakeAt)
	return err
}

const runColumns = `id, automation_id, tenant_id, recipient_id, status, frames, data, wake_at, COALESCE(error,''), created_at, updated_at, completed_at`

func scanRun(row interface{ Scan(...interface{}) error }) (*Run, error) {
	var r Run
	var framesJSON, dataJSON []byte
	if err := row.Scan(&r.ID, &r.AutomationID, &r.TenantID, &r.RecipientID, &r.Status,
		&framesJSON, &dataJSON, &r.WakeAt, &r.Error, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(framesJSON, &r.Frames); err != nil {
		return nil, fmt.Errorf("decode frames for run %s: %w", r.ID, err)
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &r.Data); err != nil {
			return nil, fmt.Errorf("decode data for run %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM notify_automation_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

func (s *PostgresStore) UpdateRun(ctx context.Context, r *Run) error {
	framesJSON, err := json.Marshal(r.Frames)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE notify_automation_runs
		SET status = $2, frames = $3, wake_at = $4, error = $5, completed_at = $6, updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.Status, framesJSON, r.WakeAt, nullIfEmpty(r.Error), r.CompletedAt)
	return err
}

// ClaimDueRuns picks up waiting runs whose wake time has passed, plus
// running runs whose owner stopped updating them (crashed instance).
// Rows are locked so concurrent tickers never claim the same run.
func (s *PostgresStore) ClaimDueRuns(ctx context.Context, now time.Time, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE notify_automation_runs
		SET status = 'running', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM notify_automation_runs
			WHERE (status = 'waiting' AND wake_at <= $1)
			   OR (status = 'running' AND updated_at < $1 - INTERVAL '5 minutes')
			ORDER BY wake_at NULLS FIRST
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+runColumns, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ActiveRunExists prevents duplicate runs of the same automation for
// one recipient.
func (s *PostgresStore) ActiveRunExists(ctx context.Context, automationID, recipientID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notify_automation_runs
		WHERE automation_id = $1 AND recipient_id = $2 AND status IN ('running', 'waiting')`,
		automationID, recipientID).Scan(&count)
	return count > 0, err
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
