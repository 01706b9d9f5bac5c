// Package provider contains delivery provider adapters and the registry
// the router selects from.
//
// Adapters are split into individual files:
//   - ses.go:     AWS SES v2 (email)
//   - httppost.go: generic JSON-over-HTTP adapters (sms, push, chat)
//   - inbox.go:   in-app inbox writer (database)
package provider

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNoHealthyProvider = errors.New("no healthy provider available for channel")

// Message is a rendered payload addressed to a single recipient on a
// single channel.
type Message struct {
	RequestID   string
	RecipientID string
	Channel     string
	Address     string
	Template    string
	Subject     string
	Body        string
	Data        map[string]interface{}
}

// SendResult holds the outcome of one provider try.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Provider          string
	Error             error
	SentAt            time.Time
}

// Sender is implemented by every provider adapter. Send must respect
// ctx cancellation; the router bounds each try with a per-provider
// timeout.
type Sender interface {
	Name() string
	Channel() string
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// =============================================================================
// REGISTRY - ordered providers per channel with health tracking
// =============================================================================
// A provider is marked unhealthy after consecutive failures and skipped
// until the recovery window elapses, so fallback doesn't keep hammering
// a dead vendor.

type health struct {
	consecutiveFails int
	lastFailure      time.Time
}

// Registry maps channels to ordered provider lists.
type Registry struct {
	mu        sync.RWMutex
	providers map[string][]Sender
	health    map[string]*health

	maxConsecutiveFails int
	recoveryTime        time.Duration
}

func NewRegistry() *Registry {
	return &Registry{
		providers:           make(map[string][]Sender),
		health:              make(map[string]*health),
		maxConsecutiveFails: 5,
		recoveryTime:        2 * time.Minute,
	}
}

// Register appends a provider to its channel's fallback order.
func (r *Registry) Register(p Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Channel()] = append(r.providers[p.Channel()], p)
}

// ForChannel returns the healthy providers for a channel, in configured
// fallback order. Unhealthy providers past the recovery window are
// given another chance.
func (r *Registry) ForChannel(channel string) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Sender
	for _, p := range r.providers[channel] {
		h := r.health[p.Name()]
		if h != nil && h.consecutiveFails >= r.maxConsecutiveFails {
			if time.Since(h.lastFailure) < r.recoveryTime {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// Channels returns every channel with at least one registered provider.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.providers))
	for ch := range r.providers {
		out = append(out, ch)
	}
	return out
}

// ReportResult feeds send outcomes back into health tracking.
func (r *Registry) ReportResult(providerName string, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.health[providerName]
	if h == nil {
		h = &health{}
		r.health[providerName] = h
	}
	if success {
		h.consecutiveFails = 0
		return
	}
	h.consecutiveFails++
	h.lastFailure = time.Now()
}
