package tracker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used by tests and by local
// single-process runs without Postgres.
type MemStore struct {
	mu       sync.RWMutex
	attempts map[string]*Attempt
}

func NewMemStore() *MemStore {
	return &MemStore{attempts: make(map[string]*Attempt)}
}

func (s *MemStore) Insert(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.attempts[a.ID] = &cp
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (s *MemStore) GetByProviderMessageID(_ context.Context, providerMessageID string) (*Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *Attempt
	for _, a := range s.attempts {
		if a.ProviderMessageID != providerMessageID {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (s *MemStore) Update(_ context.Context, a *Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.attempts[a.ID] = &cp
	return nil
}

func (s *MemStore) ListByRecipient(_ context.Context, recipientID string, since time.Time) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.RecipientID == recipientID && !a.CreatedAt.Before(since) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListByRequest(_ context.Context, requestID string) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.RequestID == requestID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemStore) ListDueRetries(_ context.Context, now time.Time, limit int) ([]Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Attempt
	for _, a := range s.attempts {
		if a.NextRetryAt != nil && !a.NextRetryAt.After(now) {
			out = append(out, *a)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemStore) CountAttemptsSince(_ context.Context, recipientID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.attempts {
		if a.RecipientID == recipientID && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}
