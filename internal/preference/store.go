package preference

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store handles CRUD for the notify_preferences table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get loads the stored preference record for a recipient. Returns
// nil, nil when no record exists (defaults apply).
func (s *Store) Get(ctx context.Context, recipientID string) (*Record, error) {
	var r Record
	var channelsJSON, categoriesJSON []byte
	var quietStart, quietEnd, quietTZ sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT recipient_id, channels, categories, digest_frequency,
		        quiet_start, quiet_end, quiet_timezone, max_per_day, unsubscribed, updated_at
		FROM notify_preferences WHERE recipient_id = $1`, recipientID,
	).Scan(&r.RecipientID, &channelsJSON, &categoriesJSON, &r.DigestFrequency,
		&quietStart, &quietEnd, &quietTZ, &r.MaxPerDay, &r.Unsubscribed, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(channelsJSON, &r.Channels); err != nil {
		return nil, fmt.Errorf("decode channels for %s: %w", recipientID, err)
	}
	if err := json.Unmarshal(categoriesJSON, &r.Categories); err != nil {
		return nil, fmt.Errorf("decode categories for %s: %w", recipientID, err)
	}
	if quietStart.Valid && quietEnd.Valid {
		r.QuietHours = &QuietHours{
			Start:    quietStart.String,
			End:      quietEnd.String,
			Timezone: quietTZ.String,
		}
	}
	return &r, nil
}

// Upsert validates and persists a preference record. Required
// categories are forced enabled regardless of what the caller sent, so
// security and billing notifications can never be disabled. The write
// is idempotent: storing the same record twice yields the same
// effective record as storing it once.
func (s *Store) Upsert(ctx context.Context, r *Record) error {
	if r.QuietHours != nil {
		if err := r.QuietHours.Validate(); err != nil {
			return err
		}
	}
	if r.MaxPerDay < 0 {
		return fmt.Errorf("max_per_day must be >= 0, got %d", r.MaxPerDay)
	}
	if r.Categories == nil {
		r.Categories = map[string]bool{}
	}
	for cat := range RequiredCategories {
		r.Categories[cat] = true
	}

	channelsJSON, err := json.Marshal(r.Channels)
	if err != nil {
		return err
	}
	categoriesJSON, err := json.Marshal(r.Categories)
	if err != nil {
		return err
	}

	var quietStart, quietEnd, quietTZ interface{}
	if r.QuietHours != nil {
		quietStart, quietEnd, quietTZ = r.QuietHours.Start, r.QuietHours.End, r.QuietHours.Timezone
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notify_preferences
		 (recipient_id, channels, categories, digest_frequency,
		  quiet_start, quiet_end, quiet_timezone, max_per_day, unsubscribed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (recipient_id) DO UPDATE SET
			channels = EXCLUDED.channels,
			categories = EXCLUDED.categories,
			digest_frequency = EXCLUDED.digest_frequency,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			quiet_timezone = EXCLUDED.quiet_timezone,
			max_per_day = EXCLUDED.max_per_day,
			unsubscribed = EXCLUDED.unsubscribed,
			updated_at = NOW()`,
		r.RecipientID, channelsJSON, categoriesJSON, r.DigestFrequency,
		quietStart, quietEnd, quietTZ, r.MaxPerDay, r.Unsubscribed)
	return err
}
