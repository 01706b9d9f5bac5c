package automation

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-memory Store for tests and single-node use.
type MemStore struct {
	mu          sync.RWMutex
	automations map[string]*Automation
	runs        map[string]*Run
}

func NewMemStore() *MemStore {
	return &MemStore{
		automations: make(map[string]*Automation),
		runs:        make(map[string]*Run),
	}
}

func (s *MemStore) CreateAutomation(_ context.Context, a *Automation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.automations[a.ID] = &cp
	return nil
}

func (s *MemStore) GetAutomation(_ context.Context, id string) (*Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.automations[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) ListByTrigger(_ context.Context, event string) ([]Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Automation
	for _, a := range s.automations {
		if a.Enabled && a.TriggerEvent == event {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *MemStore) ListAutomations(_ context.Context, tenantID string) ([]Automation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Automation
	for _, a := range s.automations {
		if a.TenantID == tenantID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *MemStore) SetEnabled(_ context.Context, id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.automations[id]; ok {
		a.Enabled = enabled
	}
	return nil
}

func (s *MemStore) CreateRun(_ context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Frames = append([]Frame(nil), r.Frames...)
	s.runs[r.ID] = &cp
	return nil
}

func (s *MemStore) GetRun(_ context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	cp.Frames = append([]Frame(nil), r.Frames...)
	return &cp, nil
}

func (s *MemStore) UpdateRun(_ context.Context, r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	cp.Frames = append([]Frame(nil), r.Frames...)
	cp.UpdatedAt = time.Now()
	s.runs[r.ID] = &cp
	return nil
}

func (s *MemStore) ClaimDueRuns(_ context.Context, now time.Time, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Run
	for _, r := range s.runs {
		if r.Status == RunWaiting && r.WakeAt != nil && !r.WakeAt.After(now) {
			r.Status = RunRunning
			cp := *r
			cp.Frames = append([]Frame(nil), r.Frames...)
			out = append(out, cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) ActiveRunExists(_ context.Context, automationID, recipientID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.runs {
		if r.AutomationID == automationID && r.RecipientID == recipientID && r.Active() {
			return true, nil
		}
	}
	return false, nil
}
