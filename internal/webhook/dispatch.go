package webhook

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/notify-engine/internal/tracker"
)

// ProviderEvent is one normalized entry from a provider callback body.
type ProviderEvent struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	MessageID   string    `json:"message_id,omitempty"`
	AttemptID   string    `json:"attempt_id,omitempty"`
	RecipientID string    `json:"recipient_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Payload is the callback body shape: a batch of events.
type Payload struct {
	Events []ProviderEvent `json:"events"`
}

// Command is one state change derived from an event. Exactly one field
// is set.
type Command struct {
	RecordEvent *tracker.Event
	Unsubscribe string // recipient id
}

// eventAliases folds the names different providers use onto the
// tracker's vocabulary.
var eventAliases = map[string]string{
	"delivery": "delivered",
	"open":     "opened",
	"click":    "clicked",
	"bounce":   "bounced",
	"failure":  "failed",
}

type builder func(ev ProviderEvent) []Command

// dispatch maps a normalized event type to the commands it produces.
var dispatch = map[string]builder{
	"sent":      buildRecord,
	"delivered": buildRecord,
	"opened":    buildRecord,
	"clicked":   buildRecord,
	"bounced":   buildRecord,
	"failed":    buildRecord,
	"timed_out": buildRecord,
	"unsubscribe": func(ev ProviderEvent) []Command {
		if ev.RecipientID == "" {
			return nil
		}
		return []Command{{Unsubscribe: ev.RecipientID}}
	},
	"spam_complaint": func(ev ProviderEvent) []Command {
		if ev.RecipientID == "" {
			return nil
		}
		return []Command{{Unsubscribe: ev.RecipientID}}
	},
}

func buildRecord(ev ProviderEvent) []Command {
	return []Command{{RecordEvent: &tracker.Event{
		EventID:           ev.EventID,
		Type:              ev.Type,
		AttemptID:         ev.AttemptID,
		ProviderMessageID: ev.MessageID,
		Reason:            ev.Reason,
		Timestamp:         ev.Timestamp,
	}}}
}

// Translate turns a provider event into commands. Unknown types yield
// no commands; the event is logged and acknowledged so providers stop
// retrying it.
func Translate(ev ProviderEvent) []Command {
	if canonical, ok := eventAliases[ev.Type]; ok {
		ev.Type = canonical
	}
	b, ok := dispatch[ev.Type]
	if !ok {
		log.Printf("[Webhook] ignoring unknown event type %q (event %s)", ev.Type, ev.EventID)
		return nil
	}
	return b(ev)
}

// EventRecorder lands delivery/engagement events on their attempts.
// Implemented by the tracker.
type EventRecorder interface {
	Record(ctx context.Context, ev *tracker.Event) error
}

// ProfileWriter applies list-management events. Implemented by the
// profile store.
type ProfileWriter interface {
	SetUnsubscribed(ctx context.Context, recipientID string, unsubscribed bool) error
}

// Executor applies commands in order. All commands are idempotent, so
// a partial failure can be retried wholesale.
type Executor struct {
	events   EventRecorder
	profiles ProfileWriter
}

func NewExecutor(events EventRecorder, profiles ProfileWriter) *Executor {
	return &Executor{events: events, profiles: profiles}
}

func (e *Executor) Execute(ctx context.Context, cmds []Command) error {
	for _, cmd := range cmds {
		switch {
		case cmd.RecordEvent != nil:
			if err := e.events.Record(ctx, cmd.RecordEvent); err != nil {
				return fmt.Errorf("record event %s: %w", cmd.RecordEvent.EventID, err)
			}
		case cmd.Unsubscribe != "":
			if err := e.profiles.SetUnsubscribed(ctx, cmd.Unsubscribe, true); err != nil {
				return fmt.Errorf("unsubscribe %s: %w", cmd.Unsubscribe, err)
			}
		}
	}
	return nil
}
