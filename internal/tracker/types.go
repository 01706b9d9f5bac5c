package tracker

import (
	"context"
	"time"
)

// Attempt statuses. Transitions are monotonic:
// queued→sent→delivered→opened→clicked, or queued/sent→{bounced|failed|timed_out}.
const (
	StatusQueued    = "queued"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusOpened    = "opened"
	StatusClicked   = "clicked"
	StatusBounced   = "bounced"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// Failure reasons that get another try on the backoff schedule.
var retryableReasons = map[string]bool{
	"soft_bounce":       true,
	"temporary_failure": true,
	"throttled":         true,
	"timeout":           true,
}

// Failure reasons that immediately invalidate the channel address on
// the profile so future routing skips it.
var hardReasons = map[string]bool{
	"hard_bounce":     true,
	"invalid_address": true,
	"unsubscribed":    true,
}

// Attempt is one provider try for one channel of a send request.
type Attempt struct {
	ID          string `json:"id"`
	RequestID   string `json:"request_id"`
	RecipientID string `json:"recipient_id"`
	Channel     string `json:"channel"`
	Provider    string `json:"provider"`
	Seq         int    `json:"seq"`

	Status            string `json:"status"`
	Reason            string `json:"reason,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	QueuedAt    time.Time  `json:"queued_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
	ClickedAt   *time.Time `json:"clicked_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`

	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Terminal reports whether the attempt can no longer change status
// through normal event flow (engagement events still land on delivered).
func (a *Attempt) Terminal() bool {
	switch a.Status {
	case StatusBounced, StatusFailed, StatusTimedOut, StatusClicked:
		return true
	}
	return false
}

// Event is a normalized delivery/engagement event from the webhook
// ingestor or a direct provider callback.
type Event struct {
	EventID           string    `json:"event_id"`
	Type              string    `json:"type"` // sent, delivered, opened, clicked, bounced, failed
	AttemptID         string    `json:"attempt_id,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Store is the persistence contract for attempts. Implemented by the
// Postgres store; tests use an in-memory fake.
type Store interface {
	Insert(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
	GetByProviderMessageID(ctx context.Context, providerMessageID string) (*Attempt, error)
	Update(ctx context.Context, a *Attempt) error
	ListByRecipient(ctx context.Context, recipientID string, since time.Time) ([]Attempt, error)
	ListByRequest(ctx context.Context, requestID string) ([]Attempt, error)
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]Attempt, error)
	CountAttemptsSince(ctx context.Context, recipientID string, since time.Time) (int, error)
}

// ProfileFlagger flags a channel address invalid on the recipient
// profile after a hard failure. Implemented by the profile store.
type ProfileFlagger interface {
	FlagChannelInvalid(ctx context.Context, recipientID, channel string) error
}
