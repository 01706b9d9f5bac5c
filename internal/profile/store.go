package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store handles CRUD for the notify_profiles table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get loads a profile by recipient id. Returns nil, nil when the
// recipient is unknown.
func (s *Store) Get(ctx context.Context, recipientID string) (*Profile, error) {
	var p Profile
	var attrsJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT recipient_id, tenant_id, attributes, unsubscribed,
		        escalated, escalated_at, escalation_count, created_at, updated_at
		FROM notify_profiles WHERE recipient_id = $1`, recipientID,
	).Scan(&p.RecipientID, &p.TenantID, &attrsJSON, &p.Unsubscribed,
		&p.Escalated, &p.EscalatedAt, &p.EscalationCount, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attrsJSON, &p.Attributes); err != nil {
		return nil, fmt.Errorf("decode attributes for %s: %w", recipientID, err)
	}
	if p.Attributes == nil {
		p.Attributes = make(Attributes)
	}
	return &p, nil
}

// MergeAttributes applies a field-level merge to a recipient's
// attributes, creating the profile row if it does not exist yet. The
// read-merge-write runs in a transaction with the row locked, so
// concurrent mergers serialize and both patches persist.
func (s *Store) MergeAttributes(ctx context.Context, tenantID, recipientID string, patch Attributes) (*Profile, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notify_profiles (recipient_id, tenant_id, attributes, created_at, updated_at)
		VALUES ($1, $2, '{}', NOW(), NOW())
		ON CONFLICT (recipient_id) DO NOTHING`, recipientID, tenantID)
	if err != nil {
		return nil, err
	}

	var attrsJSON []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT attributes FROM notify_profiles WHERE recipient_id = $1 FOR UPDATE`,
		recipientID).Scan(&attrsJSON); err != nil {
		return nil, err
	}

	var current Attributes
	if err := json.Unmarshal(attrsJSON, &current); err != nil {
		return nil, fmt.Errorf("decode attributes for %s: %w", recipientID, err)
	}
	merged := Merge(current, patch)

	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE notify_profiles SET attributes = $2, updated_at = NOW() WHERE recipient_id = $1`,
		recipientID, mergedJSON); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, recipientID)
}

// SetUnsubscribed flips the global unsubscribe flag.
func (s *Store) SetUnsubscribed(ctx context.Context, recipientID string, unsubscribed bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notify_profiles SET unsubscribed = $2, updated_at = NOW() WHERE recipient_id = $1`,
		recipientID, unsubscribed)
	return err
}

// TryEscalate atomically marks a recipient escalated unless an
// escalation is already active within the window. Returns true (and the
// new count) when this caller won and should send the alert; false when
// a previous escalation is still suppressing duplicates. The
// increment-and-check happens in a single statement at the database, so
// two concurrent callers can never both win.
func (s *Store) TryEscalate(ctx context.Context, recipientID string, window time.Duration) (bool, int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`UPDATE notify_profiles
		SET escalated = TRUE,
		    escalated_at = NOW(),
		    escalation_count = escalation_count + 1,
		    updated_at = NOW()
		WHERE recipient_id = $1
		  AND (escalated = FALSE OR escalated_at IS NULL OR escalated_at < NOW() - $2::interval)
		RETURNING escalation_count`,
		recipientID, fmt.Sprintf("%d seconds", int(window.Seconds())),
	).Scan(&count)
	if err == sql.ErrNoRows {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, count, nil
}

// ResetEscalation clears the escalated flag so future alerts fire again.
func (s *Store) ResetEscalation(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notify_profiles SET escalated = FALSE, updated_at = NOW() WHERE recipient_id = $1`,
		recipientID)
	return err
}

// FlagChannelInvalid records that a channel address hard-failed
// (invalid address, hard bounce) so routing skips it from now on.
func (s *Store) FlagChannelInvalid(ctx context.Context, recipientID, channel string) error {
	_, err := s.MergeAttributes(ctx, "", recipientID, Attributes{channel + "_valid": false})
	return err
}

// Purge removes a profile entirely. The only way a profile is ever
// deleted.
func (s *Store) Purge(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notify_profiles WHERE recipient_id = $1`, recipientID)
	return err
}
