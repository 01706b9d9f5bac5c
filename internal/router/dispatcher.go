package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/tracker"
)

// ProfileGetter loads recipient profiles for routing decisions.
type ProfileGetter interface {
	Get(ctx context.Context, recipientID string) (*profile.Profile, error)
}

// Dispatcher drains accepted send requests and drives them through the
// router. Multiple dispatchers can run against the same table; claims
// are row-locked so they never double-send.
type Dispatcher struct {
	store    *RequestStore
	router   *Router
	profiles ProfileGetter
	interval time.Duration
	batch    int

	ctx    context.Context
	cancel context.CancelFunc

	totalDispatched int64
	totalExhausted  int64
	totalErrors     int64
}

func NewDispatcher(store *RequestStore, r *Router, profiles ProfileGetter, interval time.Duration) *Dispatcher {
	if interval == 0 {
		interval = 2 * time.Second
	}
	return &Dispatcher{
		store:    store,
		router:   r,
		profiles: profiles,
		interval: interval,
		batch:    50,
	}
}

func (d *Dispatcher) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())
	go func() {
		log.Printf("[Dispatcher] starting with interval %v", d.interval)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-d.ctx.Done():
				log.Println("[Dispatcher] stopped")
				return
			case <-ticker.C:
				d.processBatch()
			}
		}
	}()
}

func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// Stats returns dispatch counters for the health endpoint.
func (d *Dispatcher) Stats() map[string]int64 {
	return map[string]int64{
		"dispatched": atomic.LoadInt64(&d.totalDispatched),
		"exhausted":  atomic.LoadInt64(&d.totalExhausted),
		"errors":     atomic.LoadInt64(&d.totalErrors),
	}
}

func (d *Dispatcher) processBatch() {
	reqs, err := d.store.ClaimPending(d.ctx, d.batch)
	if err != nil {
		log.Printf("[Dispatcher] claim pending: %v", err)
		atomic.AddInt64(&d.totalErrors, 1)
		return
	}
	for i := range reqs {
		d.dispatch(d.ctx, &reqs[i])
	}
}

// Dispatch runs a single request synchronously. Used by the dispatch
// loop and by callers that want inline delivery (automation sends).
func (d *Dispatcher) Dispatch(ctx context.Context, req *SendRequest) (*Result, error) {
	p, err := d.profiles.Get(ctx, req.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", req.RecipientID, err)
	}
	if p == nil {
		return nil, fmt.Errorf("recipient %s: %w", req.RecipientID, ErrNoEligibleChannel)
	}
	plan, err := d.router.Route(ctx, req, p)
	if err != nil {
		return nil, err
	}
	return d.router.Execute(ctx, plan, req)
}

func (d *Dispatcher) dispatch(ctx context.Context, req *SendRequest) {
	res, err := d.Dispatch(ctx, req)
	switch {
	case err == nil && res.Delivered:
		d.finish(ctx, req.ID, RequestCompleted)
		atomic.AddInt64(&d.totalDispatched, 1)
	case errors.Is(err, ErrNoEligibleChannel):
		log.Printf("[Dispatcher] request %s: %v", req.ID, err)
		d.finish(ctx, req.ID, RequestExhausted)
		atomic.AddInt64(&d.totalExhausted, 1)
	case errors.Is(err, ErrDeliveryExhausted):
		d.finish(ctx, req.ID, RequestExhausted)
		atomic.AddInt64(&d.totalExhausted, 1)
	case err != nil:
		log.Printf("[Dispatcher] request %s: %v", req.ID, err)
		// Transient error (DB, profile load). Leave in sending so an
		// operator can requeue; the request itself did not fail.
		atomic.AddInt64(&d.totalErrors, 1)
	default:
		d.finish(ctx, req.ID, RequestExhausted)
		atomic.AddInt64(&d.totalExhausted, 1)
	}
}

func (d *Dispatcher) finish(ctx context.Context, id, status string) {
	if err := d.store.SetStatus(ctx, id, status); err != nil {
		log.Printf("[Dispatcher] set status %s on %s: %v", status, id, err)
	}
}

// Resend builds a tracker.Resender backed by this dispatcher. A retried
// attempt becomes a fresh attempt on the same channel and provider
// chain, with the retry count carried forward.
func (d *Dispatcher) Resend() tracker.Resender {
	return func(ctx context.Context, failed *tracker.Attempt) error {
		req, err := d.store.Get(ctx, failed.RequestID)
		if err != nil {
			return err
		}
		if req == nil {
			return fmt.Errorf("retry attempt %s: request %s not found", failed.ID, failed.RequestID)
		}
		p, err := d.profiles.Get(ctx, failed.RecipientID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("retry attempt %s: recipient %s not found", failed.ID, failed.RecipientID)
		}
		return d.router.Retry(ctx, req, p, failed)
	}
}
