package tracker

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Resender re-dispatches a failed attempt on its original channel. The
// router implements this; injection keeps the tracker free of routing
// logic.
type Resender func(ctx context.Context, failed *Attempt) error

// RetryWorker periodically picks up attempts whose backoff delay has
// elapsed and hands them back to the router for another try.
type RetryWorker struct {
	tracker  *Tracker
	resend   Resender
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	totalRetried int64
	totalErrors  int64
}

func NewRetryWorker(t *Tracker, resend Resender, interval time.Duration) *RetryWorker {
	if interval == 0 {
		interval = 30 * time.Second
	}
	return &RetryWorker{tracker: t, resend: resend, interval: interval}
}

func (w *RetryWorker) Start() {
	w.ctx, w.cancel = context.WithCancel(context.Background())
	go func() {
		log.Printf("[RetryWorker] starting with interval %v", w.interval)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				log.Println("[RetryWorker] stopped")
				return
			case <-ticker.C:
				w.processDue()
			}
		}
	}()
}

func (w *RetryWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}

// Stats returns retry counters for the health endpoint.
func (w *RetryWorker) Stats() map[string]int64 {
	return map[string]int64{
		"retried": atomic.LoadInt64(&w.totalRetried),
		"errors":  atomic.LoadInt64(&w.totalErrors),
	}
}

func (w *RetryWorker) processDue() {
	ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
	defer cancel()

	due, err := w.tracker.store.ListDueRetries(ctx, w.tracker.now(), 100)
	if err != nil {
		log.Printf("[RetryWorker] list due retries: %v", err)
		return
	}

	for i := range due {
		attempt := &due[i]
		// Clear the schedule first so a crash mid-resend cannot
		// double-fire; the resend itself records a fresh attempt.
		attempt.NextRetryAt = nil
		attempt.UpdatedAt = w.tracker.now()
		if err := w.tracker.store.Update(ctx, attempt); err != nil {
			log.Printf("[RetryWorker] claim attempt %s: %v", attempt.ID, err)
			continue
		}

		if err := w.resend(ctx, attempt); err != nil {
			atomic.AddInt64(&w.totalErrors, 1)
			log.Printf("[RetryWorker] resend attempt %s: %v", attempt.ID, err)
			continue
		}
		atomic.AddInt64(&w.totalRetried, 1)
	}
}
