// Package engagement scores recipients from their delivery history and
// onboarding progress, and sweeps for the ones that need a nudge.
package engagement

import (
	"time"

	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/tracker"
)

// Score weights: opens carry 40 points, completed onboarding steps 40,
// recency of activity 20.
const (
	openWeight       = 40.0
	completionWeight = 40.0
	recencyWeight    = 20.0

	// Below this a recipient is considered at risk.
	InterventionThreshold = 25.0
)

// Signals is everything the score reads: message engagement from the
// attempt log, progress and activity from the profile.
type Signals struct {
	Metrics        tracker.Metrics
	CompletedSteps int
	TotalSteps     int
	LastActiveAt   time.Time
}

// SignalsFromProfile pulls progress and activity fields out of profile
// attributes. Missing fields contribute zero.
func SignalsFromProfile(m tracker.Metrics, attrs profile.Attributes) Signals {
	s := Signals{Metrics: m}
	if v, ok := attrs.Lookup("onboarding.completed_steps"); ok {
		if f, fok := toInt(v); fok {
			s.CompletedSteps = f
		}
	}
	if v, ok := attrs.Lookup("onboarding.total_steps"); ok {
		if f, fok := toInt(v); fok {
			s.TotalSteps = f
		}
	}
	if raw := attrs.String("last_active_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			s.LastActiveAt = t
		}
	}
	return s
}

// Score returns 0..100.
func Score(s Signals, now time.Time) float64 {
	score := s.Metrics.OpenRate * openWeight

	if s.TotalSteps > 0 {
		score += float64(s.CompletedSteps) / float64(s.TotalSteps) * completionWeight
	}

	if !s.LastActiveAt.IsZero() {
		switch age := now.Sub(s.LastActiveAt); {
		case age <= 24*time.Hour:
			score += recencyWeight
		case age <= 7*24*time.Hour:
			score += recencyWeight * 0.75
		case age <= 14*24*time.Hour:
			score += recencyWeight * 0.5
		case age <= 30*24*time.Hour:
			score += recencyWeight * 0.25
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

// NeedsIntervention is true for recipients who stopped engaging:
// a low score, or messages flowing with nothing opened.
func NeedsIntervention(s Signals, now time.Time) bool {
	if Score(s, now) < InterventionThreshold {
		return true
	}
	return s.Metrics.Delivered >= 3 && s.Metrics.Opened == 0
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
