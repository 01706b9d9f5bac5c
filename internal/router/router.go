// Package router chooses channels and providers for send requests,
// applies preference filtering, and manages fallback and escalation
// sequencing.
package router

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/notify-engine/internal/preference"
	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/provider"
	"github.com/ignite/notify-engine/internal/tracker"
)

// Renderer is the external template/render collaborator. The engine
// never renders templates itself.
type Renderer interface {
	Render(ctx context.Context, templateID string, data map[string]interface{}, channel string) (subject, body string, err error)
}

// PassthroughRenderer is the default when no render service is wired:
// the template id and raw data travel to the provider unrendered.
type PassthroughRenderer struct{}

func (PassthroughRenderer) Render(_ context.Context, templateID string, _ map[string]interface{}, _ string) (string, string, error) {
	return templateID, "", nil
}

// Config bounds every channel and provider try.
type Config struct {
	ChannelTimeout  time.Duration
	ProviderTimeout time.Duration
}

// Router resolves and executes routing plans.
type Router struct {
	registry  *provider.Registry
	evaluator *preference.Evaluator
	attempts  tracker.Store
	renderer  Renderer
	cfg       Config
	now       func() time.Time
}

func New(registry *provider.Registry, evaluator *preference.Evaluator, attempts tracker.Store, renderer Renderer, cfg Config) *Router {
	if cfg.ChannelTimeout == 0 {
		cfg.ChannelTimeout = 30 * time.Second
	}
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	if renderer == nil {
		renderer = PassthroughRenderer{}
	}
	return &Router{
		registry:  registry,
		evaluator: evaluator,
		attempts:  attempts,
		renderer:  renderer,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Route builds a plan for the request: preference filtering first, then
// contact-info and channel-validity checks. Fails with
// ErrNoEligibleChannel when nothing survives.
func (r *Router) Route(ctx context.Context, req *SendRequest, p *profile.Profile) (*Plan, error) {
	channels := req.Channels
	if len(channels) == 0 {
		channels = r.registry.Channels()
	}

	eligible, blocked, err := r.evaluator.FilterChannels(ctx, req.RecipientID, req.Category, channels)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		RequestID: req.ID,
		Method:    req.Method,
		Blocked:   blocked,
	}
	if plan.Method == "" {
		plan.Method = MethodSingle
	}

	for _, ch := range eligible {
		if !p.ChannelValid(ch) {
			plan.Blocked[ch] = "address_invalid"
			continue
		}
		addr := p.Address(ch)
		if addr == "" {
			plan.Blocked[ch] = "no_contact_info"
			continue
		}
		providers := r.registry.ForChannel(ch)
		if len(providers) == 0 {
			plan.Blocked[ch] = "no_provider"
			continue
		}
		names := make([]string, len(providers))
		for i, pr := range providers {
			names[i] = pr.Name()
		}
		plan.Channels = append(plan.Channels, ChannelPlan{Channel: ch, Address: addr, Providers: names})
	}

	if len(plan.Channels) == 0 {
		return nil, fmt.Errorf("%w: recipient %s (blocked: %v)", ErrNoEligibleChannel, req.RecipientID, plan.Blocked)
	}
	return plan, nil
}

// RouteEscalation builds a plan that bypasses channel preferences: an
// explicit ordered channel list with a mandatory delay between steps.
// Escalation messages are operational, so only the global unsubscribe
// flag is honored (checked by the caller before invoking).
func (r *Router) RouteEscalation(req *SendRequest, p *profile.Profile, channels []string, stepDelay time.Duration) (*Plan, error) {
	plan := &Plan{
		RequestID: req.ID,
		Method:    MethodSingle,
		StepDelay: stepDelay,
		Blocked:   map[string]string{},
	}
	for _, ch := range channels {
		addr := p.Address(ch)
		if addr == "" {
			plan.Blocked[ch] = "no_contact_info"
			continue
		}
		providers := r.registry.ForChannel(ch)
		if len(providers) == 0 {
			plan.Blocked[ch] = "no_provider"
			continue
		}
		names := make([]string, len(providers))
		for i, pr := range providers {
			names[i] = pr.Name()
		}
		plan.Channels = append(plan.Channels, ChannelPlan{Channel: ch, Address: addr, Providers: names})
	}
	if len(plan.Channels) == 0 {
		return nil, fmt.Errorf("%w: recipient %s (blocked: %v)", ErrNoEligibleChannel, req.RecipientID, plan.Blocked)
	}
	return plan, nil
}

// Execute runs a plan. Under single routing the channels are tried in
// order until one succeeds; under all routing every channel dispatches
// concurrently with independent outcomes. Every provider try is
// recorded as a delivery attempt; the router never mutates the profile.
func (r *Router) Execute(ctx context.Context, plan *Plan, req *SendRequest) (*Result, error) {
	if plan.Method == MethodAll {
		return r.executeAll(ctx, plan, req)
	}
	return r.executeSingle(ctx, plan, req)
}

func (r *Router) executeSingle(ctx context.Context, plan *Plan, req *SendRequest) (*Result, error) {
	result := &Result{RequestID: req.ID}
	seq := 0

	for i, cp := range plan.Channels {
		if i > 0 && plan.StepDelay > 0 {
			// Escalation sequencing: mandatory pause before the next step.
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(plan.StepDelay):
			}
		}

		if r.tryChannel(ctx, req, cp, &seq, 0, result) {
			result.Delivered = true
			result.Succeeded = append(result.Succeeded, cp.Channel)
			return result, nil
		}
	}

	return result, &ExhaustedError{RequestID: req.ID, Attempts: result.Attempts}
}

func (r *Router) executeAll(ctx context.Context, plan *Plan, req *SendRequest) (*Result, error) {
	result := &Result{RequestID: req.ID}
	var mu sync.Mutex
	var wg sync.WaitGroup
	seqBase := 0

	for _, cp := range plan.Channels {
		// Reserve a seq range per channel so concurrent channels don't
		// interleave numbering.
		base := seqBase
		seqBase += len(cp.Providers)

		wg.Add(1)
		go func(cp ChannelPlan, seq int) {
			defer wg.Done()
			local := &Result{RequestID: req.ID}
			ok := r.tryChannel(ctx, req, cp, &seq, 0, local)
			mu.Lock()
			defer mu.Unlock()
			result.Attempts = append(result.Attempts, local.Attempts...)
			if ok {
				result.Delivered = true
				result.Succeeded = append(result.Succeeded, cp.Channel)
			}
		}(cp, base)
	}
	wg.Wait()

	if !result.Delivered {
		return result, &ExhaustedError{RequestID: req.ID, Attempts: result.Attempts}
	}
	return result, nil
}

// tryChannel walks the channel's provider fallback order within the
// channel timeout. Returns true on the first provider success.
func (r *Router) tryChannel(ctx context.Context, req *SendRequest, cp ChannelPlan, seq *int, retryCount int, result *Result) bool {
	chCtx, cancel := context.WithTimeout(ctx, r.cfg.ChannelTimeout)
	defer cancel()

	subject, body, err := r.renderer.Render(chCtx, req.Template, req.Data, cp.Channel)
	if err != nil {
		log.Printf("[Router] render %s for %s failed: %v", req.Template, cp.Channel, err)
		return false
	}

	byName := make(map[string]provider.Sender)
	for _, pr := range r.registry.ForChannel(cp.Channel) {
		byName[pr.Name()] = pr
	}

	for _, name := range cp.Providers {
		pr, ok := byName[name]
		if !ok {
			continue // provider went unhealthy since planning
		}

		attempt := r.recordQueued(chCtx, req, cp, name, *seq, retryCount)
		*seq++
		result.Attempts = append(result.Attempts, *attempt)

		provCtx, provCancel := context.WithTimeout(chCtx, r.cfg.ProviderTimeout)
		res, err := pr.Send(provCtx, &provider.Message{
			RequestID:   req.ID,
			RecipientID: req.RecipientID,
			Channel:     cp.Channel,
			Address:     cp.Address,
			Template:    req.Template,
			Subject:     subject,
			Body:        body,
			Data:        req.Data,
		})
		provCancel()

		switch {
		case err == nil && res != nil && res.Success:
			r.registry.ReportResult(name, true)
			r.markSent(ctx, attempt, res)
			result.Attempts[len(result.Attempts)-1] = *attempt
			return true
		case provCtx.Err() == context.DeadlineExceeded || chCtx.Err() == context.DeadlineExceeded:
			// Timeout takes the same fallback path as an explicit failure.
			r.registry.ReportResult(name, false)
			r.markFailed(ctx, attempt, tracker.StatusTimedOut, "timeout")
		default:
			r.registry.ReportResult(name, false)
			reason := "provider_error"
			if res != nil && res.Error != nil {
				reason = res.Error.Error()
			} else if err != nil {
				reason = err.Error()
			}
			r.markFailed(ctx, attempt, tracker.StatusFailed, reason)
		}
		result.Attempts[len(result.Attempts)-1] = *attempt
	}
	return false
}

func (r *Router) recordQueued(ctx context.Context, req *SendRequest, cp ChannelPlan, providerName string, seq, retryCount int) *tracker.Attempt {
	a := &tracker.Attempt{
		ID:          uuid.New().String(),
		RequestID:   req.ID,
		RecipientID: req.RecipientID,
		Channel:     cp.Channel,
		Provider:    providerName,
		Seq:         seq,
		Status:      tracker.StatusQueued,
		RetryCount:  retryCount,
		QueuedAt:    r.now(),
		CreatedAt:   r.now(),
	}
	if err := r.attempts.Insert(ctx, a); err != nil {
		log.Printf("[Router] record attempt for request %s: %v", req.ID, err)
	}
	return a
}

func (r *Router) markSent(ctx context.Context, a *tracker.Attempt, res *provider.SendResult) {
	now := r.now()
	a.Status = tracker.StatusSent
	a.SentAt = &now
	a.ProviderMessageID = res.ProviderMessageID
	a.UpdatedAt = now
	if err := r.attempts.Update(ctx, a); err != nil {
		log.Printf("[Router] update attempt %s: %v", a.ID, err)
	}
}

// Retry re-dispatches a failed attempt on its original channel. It
// produces a fresh attempt with the retry count carried forward, so
// the backoff schedule stays bounded across retries.
func (r *Router) Retry(ctx context.Context, req *SendRequest, p *profile.Profile, failed *tracker.Attempt) error {
	addr := p.Address(failed.Channel)
	if addr == "" {
		return fmt.Errorf("retry %s: recipient %s has no %s address", failed.ID, req.RecipientID, failed.Channel)
	}

	var providers []string
	for _, pr := range r.registry.ForChannel(failed.Channel) {
		providers = append(providers, pr.Name())
	}
	if len(providers) == 0 {
		return fmt.Errorf("retry %s: no healthy provider for %s", failed.ID, failed.Channel)
	}

	cp := ChannelPlan{Channel: failed.Channel, Address: addr, Providers: providers}
	seq := failed.Seq + 1
	result := &Result{RequestID: req.ID}
	if !r.tryChannel(ctx, req, cp, &seq, failed.RetryCount+1, result) {
		return fmt.Errorf("retry %s on %s: %w", failed.ID, failed.Channel, ErrDeliveryExhausted)
	}
	return nil
}

func (r *Router) markFailed(ctx context.Context, a *tracker.Attempt, status, reason string) {
	now := r.now()
	a.Status = status
	a.Reason = reason
	a.FailedAt = &now
	a.UpdatedAt = now
	if err := r.attempts.Update(ctx, a); err != nil {
		log.Printf("[Router] update attempt %s: %v", a.ID, err)
	}
}
