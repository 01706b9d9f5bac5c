package automation

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/notify-engine/internal/pkg/distlock"
	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/router"
)

// MessageSender delivers one send request. Implemented by the routing
// dispatcher.
type MessageSender interface {
	Dispatch(ctx context.Context, req *router.SendRequest) (*router.Result, error)
}

// Escalator hands a recipient to the escalation policy. Implemented by
// the escalation manager.
type Escalator interface {
	Escalate(ctx context.Context, tenantID, recipientID, reason string, channels []string) error
}

// ProfileGetter loads the recipient profile for condition evaluation.
// Conditions always read the profile as it is at evaluation time, not
// as it was when the run started.
type ProfileGetter interface {
	Get(ctx context.Context, recipientID string) (*profile.Profile, error)
}

// LockFactory builds a distributed lock for a key. Nil disables
// leasing (single instance or tests).
type LockFactory func(key string) distlock.DistLock

// Runner owns automation registration and run execution. Due runs are
// picked up on a ticker; each claimed run is additionally guarded by a
// short lease so two instances never advance the same run.
type Runner struct {
	store     Store
	sender    MessageSender
	escalator Escalator
	profiles  ProfileGetter
	locks     LockFactory
	interval  time.Duration
	leaseTTL  time.Duration
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	totalResumed   int64
	totalCompleted int64
	totalFailed    int64
}

func NewRunner(store Store, sender MessageSender, escalator Escalator, profiles ProfileGetter, locks LockFactory, interval time.Duration) *Runner {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Runner{
		store:     store,
		sender:    sender,
		escalator: escalator,
		profiles:  profiles,
		locks:     locks,
		interval:  interval,
		leaseTTL:  2 * time.Minute,
		now:       time.Now,
	}
}

func (r *Runner) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())
	go func() {
		log.Printf("[AutomationRunner] starting with interval %v", r.interval)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				log.Println("[AutomationRunner] stopped")
				return
			case <-ticker.C:
				r.processDue()
			}
		}
	}()
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Stats returns run counters for the health endpoint.
func (r *Runner) Stats() map[string]int64 {
	return map[string]int64{
		"resumed":   atomic.LoadInt64(&r.totalResumed),
		"completed": atomic.LoadInt64(&r.totalCompleted),
		"failed":    atomic.LoadInt64(&r.totalFailed),
	}
}

// Register validates a definition and stores it. Trigger references
// are checked against every stored automation; a loop back to the
// candidate fails with ErrCycleDetected and nothing is written.
func (r *Runner) Register(ctx context.Context, a *Automation) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if err := a.Validate(); err != nil {
		return err
	}
	lookup := func(id string) *Automation {
		if id == a.ID {
			return a
		}
		other, err := r.store.GetAutomation(ctx, id)
		if err != nil {
			return nil
		}
		return other
	}
	if err := detectCycle(a, lookup); err != nil {
		return err
	}
	return r.store.CreateAutomation(ctx, a)
}

// Invoke starts a run for one recipient and executes it inline until
// it completes or parks at a wait step.
func (r *Runner) Invoke(ctx context.Context, automationID, recipientID string, data map[string]interface{}) (*Run, error) {
	a, err := r.store.GetAutomation(ctx, automationID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("automation %s: %w", automationID, ErrAutomationNotFound)
	}
	if !a.Enabled {
		return nil, fmt.Errorf("automation %s is disabled", automationID)
	}

	run := &Run{
		ID:           uuid.New().String(),
		AutomationID: a.ID,
		TenantID:     a.TenantID,
		RecipientID:  recipientID,
		Status:       RunRunning,
		Frames:       []Frame{{Index: 0}},
		Data:         data,
		CreatedAt:    r.now(),
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	r.execute(ctx, run, a)
	return run, nil
}

// Trigger starts every enabled automation bound to an event, skipping
// recipients that already have an active run of that automation.
func (r *Runner) Trigger(ctx context.Context, event, recipientID string, data map[string]interface{}) error {
	automations, err := r.store.ListByTrigger(ctx, event)
	if err != nil {
		return err
	}
	for _, a := range automations {
		exists, err := r.store.ActiveRunExists(ctx, a.ID, recipientID)
		if err != nil {
			log.Printf("[AutomationRunner] dedupe check for %s: %v", a.ID, err)
			continue
		}
		if exists {
			continue
		}
		if _, err := r.Invoke(ctx, a.ID, recipientID, data); err != nil {
			log.Printf("[AutomationRunner] trigger %s for %s: %v", a.ID, recipientID, err)
		}
	}
	return nil
}

// StopRun cancels a run. Completed and failed runs are left untouched.
func (r *Runner) StopRun(ctx context.Context, runID string) error {
	run, err := r.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if !run.Active() {
		return fmt.Errorf("run %s is already %s", runID, run.Status)
	}
	run.Status = RunStopped
	run.WakeAt = nil
	return r.store.UpdateRun(ctx, run)
}

func (r *Runner) processDue() {
	runs, err := r.store.ClaimDueRuns(r.ctx, r.now(), 100)
	if err != nil {
		log.Printf("[AutomationRunner] claim due runs: %v", err)
		return
	}
	for i := range runs {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.Resume(r.ctx, &runs[i]); err != nil {
			log.Printf("[AutomationRunner] resume run %s: %v", runs[i].ID, err)
		}
	}
}

// Resume continues a claimed run under a lease.
func (r *Runner) Resume(ctx context.Context, run *Run) error {
	if r.locks != nil {
		lock := r.locks("automation-run:" + run.ID)
		ok, err := lock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s: %w", run.ID, ErrRunLeaseConflict)
		}
		defer lock.Release(ctx)
	}

	a, err := r.store.GetAutomation(ctx, run.AutomationID)
	if err != nil {
		return err
	}
	if a == nil {
		r.failRun(ctx, run, "automation definition missing")
		return nil
	}

	// Woken from a wait step: the wait is satisfied, move past it.
	if run.WakeAt != nil && !r.now().Before(*run.WakeAt) {
		run.WakeAt = nil
		run.Status = RunRunning
		advanceCursor(run)
	}

	atomic.AddInt64(&r.totalResumed, 1)
	r.execute(ctx, run, a)
	return nil
}

// execute drives the run until it completes, fails, or parks at a wait.
// The cursor is persisted after every step so a crash resumes cleanly.
// A panicking step fails its own run; the ticker goroutine keeps
// serving the rest.
func (r *Runner) execute(ctx context.Context, run *Run, a *Automation) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("[AutomationRunner] run %s: step panicked: %v", run.ID, p)
			r.failRun(ctx, run, fmt.Sprintf("step panicked: %v", p))
		}
	}()

	for run.Status == RunRunning {
		if len(run.Frames) == 0 {
			now := r.now()
			run.Status = RunCompleted
			run.CompletedAt = &now
			atomic.AddInt64(&r.totalCompleted, 1)
			if err := r.store.UpdateRun(ctx, run); err != nil {
				log.Printf("[AutomationRunner] persist run %s: %v", run.ID, err)
			}
			break
		}

		steps := resolveSteps(a, run.Frames)
		top := &run.Frames[len(run.Frames)-1]
		if top.Index >= len(steps) {
			// Branch finished: pop back to the parent list and move
			// past the condition step that opened it.
			run.Frames = run.Frames[:len(run.Frames)-1]
			if len(run.Frames) > 0 {
				advanceCursor(run)
			}
			continue
		}
		step := steps[top.Index]

		switch step.Type {
		case StepSend:
			if err := r.runSend(ctx, run, step); err != nil {
				if step.Optional {
					log.Printf("[AutomationRunner] run %s: optional send %s failed: %v", run.ID, step.Template, err)
					advanceCursor(run)
					break
				}
				r.failRun(ctx, run, err.Error())
				return
			}
			advanceCursor(run)

		case StepWait:
			d, err := time.ParseDuration(step.Delay)
			if err != nil {
				r.failRun(ctx, run, fmt.Sprintf("invalid wait delay %q", step.Delay))
				return
			}
			wake := r.now().Add(d)
			run.WakeAt = &wake
			run.Status = RunWaiting

		case StepCondition:
			taken, err := r.evalCondition(ctx, run, step)
			if err != nil {
				r.failRun(ctx, run, err.Error())
				return
			}
			branch := step.Else
			name := "else"
			if taken {
				branch = step.Then
				name = "then"
			}
			if len(branch) == 0 {
				advanceCursor(run)
			} else {
				run.Frames = append(run.Frames, Frame{Index: 0, Branch: name})
			}

		case StepEscalate:
			if r.escalator != nil {
				if err := r.escalator.Escalate(ctx, run.TenantID, run.RecipientID, "automation:"+a.Name, step.EscalateChannels); err != nil {
					log.Printf("[AutomationRunner] run %s: escalate failed: %v", run.ID, err)
				}
			}
			advanceCursor(run)

		case StepTrigger:
			if _, err := r.Invoke(ctx, step.AutomationID, run.RecipientID, run.Data); err != nil {
				log.Printf("[AutomationRunner] run %s: trigger %s: %v", run.ID, step.AutomationID, err)
			}
			advanceCursor(run)

		default:
			r.failRun(ctx, run, fmt.Sprintf("unknown step type %q", step.Type))
			return
		}

		if err := r.store.UpdateRun(ctx, run); err != nil {
			log.Printf("[AutomationRunner] persist run %s: %v", run.ID, err)
			return
		}
	}
}

func (r *Runner) runSend(ctx context.Context, run *Run, step Step) error {
	req := &router.SendRequest{
		ID:          uuid.New().String(),
		TenantID:    run.TenantID,
		RecipientID: run.RecipientID,
		Template:    step.Template,
		Category:    step.Category,
		Data:        run.Data,
		Channels:    step.Channels,
		Method:      router.MethodSingle,
		Status:      router.RequestSending,
		CreatedAt:   r.now(),
	}
	_, err := r.sender.Dispatch(ctx, req)
	return err
}

// evalCondition reads the profile at this moment. A run created before
// the recipient verified their email sees the post-verification state
// here, not a stale snapshot.
func (r *Runner) evalCondition(ctx context.Context, run *Run, step Step) (bool, error) {
	p, err := r.profiles.Get(ctx, run.RecipientID)
	if err != nil {
		return false, fmt.Errorf("load profile %s: %w", run.RecipientID, err)
	}
	attrs := profile.Attributes{}
	if p != nil {
		attrs = p.Attributes
	}
	return step.If.Eval(attrs)
}

func (r *Runner) failRun(ctx context.Context, run *Run, reason string) {
	now := r.now()
	run.Status = RunFailed
	run.Error = reason
	run.CompletedAt = &now
	atomic.AddInt64(&r.totalFailed, 1)
	if err := r.store.UpdateRun(ctx, run); err != nil {
		log.Printf("[AutomationRunner] persist failed run %s: %v", run.ID, err)
	}
}

// resolveSteps returns the step list the top frame indexes into.
func resolveSteps(a *Automation, frames []Frame) []Step {
	steps := a.Steps
	for i := 1; i < len(frames); i++ {
		parent := frames[i-1]
		if parent.Index >= len(steps) {
			return nil
		}
		cond := steps[parent.Index]
		if frames[i].Branch == "then" {
			steps = cond.Then
		} else {
			steps = cond.Else
		}
	}
	return steps
}

// advanceCursor moves the top frame past the current step. Overflow
// past the end of a list is normalized by the execute loop, which pops
// the finished branch; an empty frame stack completes the run.
func advanceCursor(run *Run) {
	run.Frames[len(run.Frames)-1].Index++
}
