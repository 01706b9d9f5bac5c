// Package tracker records per-attempt delivery outcomes and owns the
// retry/backoff policy.
package tracker

import (
	"context"
	"fmt"
	"log"
	"time"
)

// statusRank orders the happy path. An event may only move an attempt
// forward; equal or backward transitions are no-ops.
var statusRank = map[string]int{
	StatusQueued:    0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusOpened:    3,
	StatusClicked:   4,
	StatusBounced:   5,
	StatusFailed:    5,
	StatusTimedOut:  5,
}

// RetrySchedule is the fixed bounded backoff sequence for retryable
// failures. After the last delay is exhausted the attempt is marked
// permanently failed.
var RetrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// Tracker normalizes inbound events into attempt status transitions.
type Tracker struct {
	store    Store
	profiles ProfileFlagger
	now      func() time.Time
}

func New(store Store, profiles ProfileFlagger) *Tracker {
	return &Tracker{store: store, profiles: profiles, now: time.Now}
}

// Store exposes the underlying attempt store (the preference evaluator
// counts daily sends through it).
func (t *Tracker) Store() Store { return t.store }

// Record applies a normalized event to its attempt. Out-of-order and
// duplicate terminal events are logged no-ops, never errors, so webhook
// replays stay safe.
func (t *Tracker) Record(ctx context.Context, ev *Event) error {
	attempt, err := t.resolve(ctx, ev)
	if err != nil {
		return err
	}
	if attempt == nil {
		log.Printf("[Tracker] event %s references unknown attempt (msg id %q), dropping", ev.EventID, ev.ProviderMessageID)
		return nil
	}

	newStatus, ok := eventStatus(ev.Type)
	if !ok {
		log.Printf("[Tracker] unknown event type %q for attempt %s, dropping", ev.Type, attempt.ID)
		return nil
	}

	if !transitionAllowed(attempt.Status, newStatus) {
		log.Printf("[Tracker] ignoring %s event for attempt %s in status %s", ev.Type, attempt.ID, attempt.Status)
		return nil
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}
	applyStatus(attempt, newStatus, ev.Reason, ts)

	if newStatus == StatusBounced || newStatus == StatusFailed {
		t.applyFailurePolicy(ctx, attempt, ev.Reason)
	}

	attempt.UpdatedAt = t.now()
	return t.store.Update(ctx, attempt)
}

// resolve finds the attempt an event refers to, by attempt id first and
// provider message id second.
func (t *Tracker) resolve(ctx context.Context, ev *Event) (*Attempt, error) {
	if ev.AttemptID != "" {
		return t.store.Get(ctx, ev.AttemptID)
	}
	if ev.ProviderMessageID != "" {
		return t.store.GetByProviderMessageID(ctx, ev.ProviderMessageID)
	}
	return nil, fmt.Errorf("event %s carries neither attempt id nor provider message id", ev.EventID)
}

func eventStatus(eventType string) (string, bool) {
	switch eventType {
	case "sent", "delivery_started":
		return StatusSent, true
	case "delivered", "delivery":
		return StatusDelivered, true
	case "opened", "open":
		return StatusOpened, true
	case "clicked", "click":
		return StatusClicked, true
	case "bounced", "bounce":
		return StatusBounced, true
	case "failed", "failure":
		return StatusFailed, true
	case "timed_out", "timeout":
		return StatusTimedOut, true
	}
	return "", false
}

// transitionAllowed enforces monotonic forward movement. Failure states
// only apply before delivery; engagement events only after it.
func transitionAllowed(current, next string) bool {
	curRank, ok := statusRank[current]
	if !ok {
		return false
	}
	nextRank := statusRank[next]

	switch next {
	case StatusBounced, StatusFailed, StatusTimedOut:
		// A delivered message cannot bounce afterwards.
		return curRank <= statusRank[StatusSent]
	case StatusOpened, StatusClicked:
		return current == StatusDelivered || (next == StatusClicked && current == StatusOpened)
	default:
		return nextRank == curRank+1
	}
}

func applyStatus(a *Attempt, status, reason string, ts time.Time) {
	a.Status = status
	switch status {
	case StatusSent:
		a.SentAt = &ts
	case StatusDelivered:
		a.DeliveredAt = &ts
	case StatusOpened:
		a.OpenedAt = &ts
	case StatusClicked:
		a.ClickedAt = &ts
	case StatusBounced, StatusFailed, StatusTimedOut:
		a.FailedAt = &ts
		a.Reason = reason
	}
}

// applyFailurePolicy decides what a failure means: schedule a retry on
// the bounded backoff sequence, or mark permanent. Hard reasons are
// never retried and immediately invalidate the channel address on the
// profile.
func (t *Tracker) applyFailurePolicy(ctx context.Context, a *Attempt, reason string) {
	if hardReasons[reason] {
		a.NextRetryAt = nil
		if t.profiles != nil {
			if err := t.profiles.FlagChannelInvalid(ctx, a.RecipientID, a.Channel); err != nil {
				log.Printf("[Tracker] flag %s invalid for %s: %v", a.Channel, a.RecipientID, err)
			}
		}
		return
	}

	if retryableReasons[reason] && a.RetryCount < len(RetrySchedule) {
		next := t.now().Add(RetrySchedule[a.RetryCount])
		a.NextRetryAt = &next
		return
	}

	// Schedule exhausted or unknown reason: permanently failed. The
	// router surfaces this as delivery exhaustion on the request.
	a.NextRetryAt = nil
}

// Query returns all attempts for a recipient inside the window.
func (t *Tracker) Query(ctx context.Context, recipientID string, window time.Duration) ([]Attempt, error) {
	return t.store.ListByRecipient(ctx, recipientID, t.now().Add(-window))
}
