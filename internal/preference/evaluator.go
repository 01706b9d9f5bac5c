package preference

import (
	"context"
	"time"
)

// AttemptCounter counts delivery attempts recorded for a recipient
// since a boundary. Implemented by the tracker store; the evaluator
// uses it for daily-cap checks.
type AttemptCounter interface {
	CountAttemptsSince(ctx context.Context, recipientID string, since time.Time) (int, error)
}

// RecordStore loads stored preference records. Implemented by Store.
type RecordStore interface {
	Get(ctx context.Context, recipientID string) (*Record, error)
}

// Evaluator resolves effective send permission for a
// (recipient, channel, category) tuple.
type Evaluator struct {
	store    RecordStore
	attempts AttemptCounter
	now      func() time.Time
}

func NewEvaluator(store RecordStore, attempts AttemptCounter) *Evaluator {
	return &Evaluator{store: store, attempts: attempts, now: time.Now}
}

// EffectivePreferences merges the stored record over built-in defaults
// and forces required categories enabled. Recipients with no stored
// record get the defaults.
func (e *Evaluator) EffectivePreferences(ctx context.Context, recipientID string) (*Record, error) {
	stored, err := e.store.Get(ctx, recipientID)
	if err != nil {
		return nil, err
	}
	return Effective(recipientID, stored), nil
}

// Effective is the pure merge: stored overrides defaults, required
// categories are forced on. Exposed for update validation and tests.
func Effective(recipientID string, stored *Record) *Record {
	out := DefaultRecord(recipientID)
	if stored != nil {
		if stored.Channels != nil {
			for k, v := range stored.Channels {
				out.Channels[k] = v
			}
		}
		if stored.Categories != nil {
			for k, v := range stored.Categories {
				out.Categories[k] = v
			}
		}
		if stored.DigestFrequency != "" {
			out.DigestFrequency = stored.DigestFrequency
		}
		out.QuietHours = stored.QuietHours
		out.MaxPerDay = stored.MaxPerDay
		out.Unsubscribed = stored.Unsubscribed
		out.UpdatedAt = stored.UpdatedAt
	}
	for cat := range RequiredCategories {
		out.Categories[cat] = true
	}
	return out
}

// IsAllowed resolves whether a send on the given channel and category
// may proceed right now. Checks run cheapest-first and unsubscribe
// short-circuits everything else.
func (e *Evaluator) IsAllowed(ctx context.Context, recipientID, channel, category string) (Decision, error) {
	rec, err := e.EffectivePreferences(ctx, recipientID)
	if err != nil {
		return Decision{}, err
	}
	return e.evaluate(ctx, rec, channel, category)
}

func (e *Evaluator) evaluate(ctx context.Context, rec *Record, channel, category string) (Decision, error) {
	if rec.Unsubscribed {
		return Decision{Allowed: false, Reason: ReasonUnsubscribed}, nil
	}
	if !rec.channelEnabled(channel) {
		return Decision{Allowed: false, Reason: ReasonChannelDisabled}, nil
	}
	if category != "" && !rec.categoryEnabled(category) {
		return Decision{Allowed: false, Reason: ReasonCategoryOff}, nil
	}

	now := e.now()
	if rec.QuietHours != nil {
		if blocked, next := rec.QuietHours.Contains(now); blocked {
			return Decision{Allowed: false, Reason: ReasonQuietHours, NextAvailable: &next}, nil
		}
	}

	if rec.MaxPerDay > 0 && e.attempts != nil {
		tz := ""
		if rec.QuietHours != nil {
			tz = rec.QuietHours.Timezone
		}
		sent, err := e.attempts.CountAttemptsSince(ctx, rec.RecipientID, localMidnight(tz, now))
		if err != nil {
			return Decision{}, err
		}
		if sent >= rec.MaxPerDay {
			return Decision{Allowed: false, Reason: ReasonDailyCap}, nil
		}
	}

	return Decision{Allowed: true}, nil
}

// Unsubscribed reports only the global unsubscribe state. Escalation
// sends bypass channel and category preferences (they are operational,
// not marketing) but still honor this flag.
func (e *Evaluator) Unsubscribed(ctx context.Context, recipientID string) (bool, error) {
	rec, err := e.EffectivePreferences(ctx, recipientID)
	if err != nil {
		return false, err
	}
	return rec.Unsubscribed, nil
}

// FilterChannels returns the subset of channels allowed for the
// recipient and category, preserving order. The router uses this to
// build its plan; an empty result means no eligible channel.
func (e *Evaluator) FilterChannels(ctx context.Context, recipientID, category string, channels []string) ([]string, map[string]string, error) {
	rec, err := e.EffectivePreferences(ctx, recipientID)
	if err != nil {
		return nil, nil, err
	}
	var eligible []string
	blocked := make(map[string]string)
	for _, ch := range channels {
		d, err := e.evaluate(ctx, rec, ch, category)
		if err != nil {
			return nil, nil, err
		}
		if d.Allowed {
			eligible = append(eligible, ch)
		} else {
			blocked[ch] = d.Reason
		}
	}
	return eligible, blocked, nil
}
