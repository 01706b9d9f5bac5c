package tracker

import (
	"context"
	"time"
)

// Metrics are rolling engagement rates computed on demand from stored
// attempts. No counters table exists, so the numbers can never drift
// from the attempt log.
type Metrics struct {
	Attempts       int     `json:"attempts"`
	Sent           int     `json:"sent"`
	Delivered      int     `json:"delivered"`
	Opened         int     `json:"opened"`
	Clicked        int     `json:"clicked"`
	Failed         int     `json:"failed"`
	OpenRate       float64 `json:"open_rate"`
	ClickRate      float64 `json:"click_rate"`
	CompletionRate float64 `json:"completion_rate"`
}

// ComputeMetrics aggregates a slice of attempts. Engagement states
// imply the earlier ones: an opened attempt was delivered, a clicked
// attempt was opened.
func ComputeMetrics(attempts []Attempt) Metrics {
	var m Metrics
	m.Attempts = len(attempts)
	for _, a := range attempts {
		switch a.Status {
		case StatusClicked:
			m.Clicked++
			m.Opened++
			m.Delivered++
			m.Sent++
		case StatusOpened:
			m.Opened++
			m.Delivered++
			m.Sent++
		case StatusDelivered:
			m.Delivered++
			m.Sent++
		case StatusSent:
			m.Sent++
		case StatusBounced, StatusFailed, StatusTimedOut:
			m.Failed++
		}
	}
	if m.Delivered > 0 {
		m.OpenRate = float64(m.Opened) / float64(m.Delivered)
		m.ClickRate = float64(m.Clicked) / float64(m.Delivered)
	}
	if m.Sent > 0 {
		m.CompletionRate = float64(m.Delivered) / float64(m.Sent)
	}
	return m
}

// MetricsFor computes rolling metrics for one recipient over a window.
func (t *Tracker) MetricsFor(ctx context.Context, recipientID string, window time.Duration) (Metrics, error) {
	attempts, err := t.Query(ctx, recipientID, window)
	if err != nil {
		return Metrics{}, err
	}
	return ComputeMetrics(attempts), nil
}
