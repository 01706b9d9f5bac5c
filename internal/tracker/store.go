package tracker

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore is the append-oriented attempt store backed by the
// notify_delivery_attempts table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const attemptColumns = `id, request_id, recipient_id, channel, provider, seq,
	status, COALESCE(reason,''), COALESCE(provider_message_id,''),
	queued_at, sent_at, delivered_at, opened_at, clicked_at, failed_at,
	retry_count, next_retry_at, created_at, updated_at`

func scanAttempt(row interface{ Scan(...any) error }) (*Attempt, error) {
	var a Attempt
	err := row.Scan(&a.ID, &a.RequestID, &a.RecipientID, &a.Channel, &a.Provider, &a.Seq,
		&a.Status, &a.Reason, &a.ProviderMessageID,
		&a.QueuedAt, &a.SentAt, &a.DeliveredAt, &a.OpenedAt, &a.ClickedAt, &a.FailedAt,
		&a.RetryCount, &a.NextRetryAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) Insert(ctx context.Context, a *Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notify_delivery_attempts
		 (id, request_id, recipient_id, channel, provider, seq, status, reason,
		  provider_message_id, queued_at, sent_at, failed_at, retry_count, next_retry_at,
		  created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), NULLIF($9,''), $10, $11, $12, $13, $14, NOW(), NOW())`,
		a.ID, a.RequestID, a.RecipientID, a.Channel, a.Provider, a.Seq, a.Status, a.Reason,
		a.ProviderMessageID, a.QueuedAt, a.SentAt, a.FailedAt, a.RetryCount, a.NextRetryAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM notify_delivery_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) GetByProviderMessageID(ctx context.Context, providerMessageID string) (*Attempt, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM notify_delivery_attempts
		WHERE provider_message_id = $1
		ORDER BY created_at DESC LIMIT 1`, providerMessageID)
	a, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

func (s *PostgresStore) Update(ctx context.Context, a *Attempt) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notify_delivery_attempts SET
			status = $2, reason = NULLIF($3,''), provider_message_id = NULLIF($4,''),
			sent_at = $5, delivered_at = $6, opened_at = $7, clicked_at = $8, failed_at = $9,
			retry_count = $10, next_retry_at = $11, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.Reason, a.ProviderMessageID,
		a.SentAt, a.DeliveredAt, a.OpenedAt, a.ClickedAt, a.FailedAt,
		a.RetryCount, a.NextRetryAt)
	return err
}

func (s *PostgresStore) ListByRecipient(ctx context.Context, recipientID string, since time.Time) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM notify_delivery_attempts
		WHERE recipient_id = $1 AND created_at >= $2
		ORDER BY created_at`, recipientID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *PostgresStore) ListByRequest(ctx context.Context, requestID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM notify_delivery_attempts
		WHERE request_id = $1
		ORDER BY seq`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *PostgresStore) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM notify_delivery_attempts
		WHERE next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAttempts(rows)
}

func (s *PostgresStore) CountAttemptsSince(ctx context.Context, recipientID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notify_delivery_attempts
		WHERE recipient_id = $1 AND created_at >= $2`, recipientID, since).Scan(&n)
	return n, err
}

func collectAttempts(rows *sql.Rows) ([]Attempt, error) {
	var out []Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
