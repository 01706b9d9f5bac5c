package router

import (
	"errors"
	"fmt"
	"time"

	"github.com/ignite/notify-engine/internal/tracker"
)

var (
	// ErrNoEligibleChannel means preference filtering and contact-info
	// checks left nothing to try. Surfaced to the caller, never retried.
	ErrNoEligibleChannel = errors.New("no eligible channel for recipient")

	// ErrDeliveryExhausted means every channel and provider failed.
	// The caller decides whether to escalate to a human channel.
	ErrDeliveryExhausted = errors.New("all delivery attempts exhausted")

	// ErrRequestCancelled is returned when a send request was cancelled
	// before its first attempt left queued.
	ErrRequestCancelled = errors.New("send request cancelled")
)

// Routing methods.
const (
	MethodSingle = "single" // try channels in order, stop at first success
	MethodAll    = "all"    // dispatch to every eligible channel concurrently
)

// Send request lifecycle.
const (
	RequestPending   = "pending"
	RequestSending   = "sending"
	RequestCompleted = "completed"
	RequestExhausted = "exhausted"
	RequestCancelled = "cancelled"
)

// SendRequest is one logical message. Immutable once accepted; it
// produces one or more delivery attempts.
type SendRequest struct {
	ID          string                 `json:"id"`
	TenantID    string                 `json:"tenant_id"`
	RecipientID string                 `json:"recipient_id"`
	Template    string                 `json:"template"`
	Category    string                 `json:"category"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Channels    []string               `json:"channels,omitempty"` // empty = automatic routing
	Method      string                 `json:"routing"`
	Priority    string                 `json:"priority,omitempty"`
	Status      string                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
}

// ChannelPlan is one ordered channel attempt inside a routing plan.
type ChannelPlan struct {
	Channel   string   `json:"channel"`
	Address   string   `json:"address"`
	Providers []string `json:"providers"`
}

// Plan is the resolved routing decision for a send request.
type Plan struct {
	RequestID string        `json:"request_id"`
	Method    string        `json:"method"`
	Channels  []ChannelPlan `json:"channels"`
	Blocked   map[string]string `json:"blocked,omitempty"` // channel -> reason

	// StepDelay > 0 turns the plan into an escalation sequence: a
	// mandatory pause between channel steps instead of immediate
	// fallback.
	StepDelay time.Duration `json:"step_delay,omitempty"`
}

// Result is the outcome of executing a plan, including the full attempt
// history for exhaustion reporting.
type Result struct {
	RequestID string            `json:"request_id"`
	Delivered bool              `json:"delivered"`
	Succeeded []string          `json:"succeeded,omitempty"` // channels that accepted
	Attempts  []tracker.Attempt `json:"attempts"`
}

// ExhaustedError carries the attempt history alongside the sentinel.
type ExhaustedError struct {
	RequestID string
	Attempts  []tracker.Attempt
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("request %s: %v after %d attempts", e.RequestID, ErrDeliveryExhausted, len(e.Attempts))
}

func (e *ExhaustedError) Unwrap() error { return ErrDeliveryExhausted }
