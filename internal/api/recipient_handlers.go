package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/notify-engine/internal/engagement"
	"github.com/ignite/notify-engine/internal/pkg/httputil"
	"github.com/ignite/notify-engine/internal/preference"
	"github.com/ignite/notify-engine/internal/profile"
)

func (s *Server) registerRecipientRoutes(r chi.Router) {
	r.Route("/recipients/{recipientId}", func(r chi.Router) {
		r.Get("/profile", s.handleGetProfile)
		r.Put("/profile", s.handleMergeProfile)
		r.Get("/preferences", s.handleGetPreferences)
		r.Put("/preferences", s.handlePutPreferences)
		r.Get("/attempts", s.handleListAttempts)
		r.Get("/engagement", s.handleEngagement)
		r.Post("/escalation/reset", s.handleResetEscalation)
	})
}

// handleResetEscalation clears the escalated flag so future alerts for
// the recipient can fire again.
func (s *Server) handleResetEscalation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recipientId")
	if err := s.profiles.ResetEscalation(r.Context(), id); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"recipient_id": id, "escalated": "reset"})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.profiles.Get(r.Context(), chi.URLParam(r, "recipientId"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if p == nil {
		httputil.NotFound(w, "profile not found")
		return
	}
	httputil.OK(w, p)
}

type profilePatchBody struct {
	TenantID   string             `json:"tenant_id"`
	Attributes profile.Attributes `json:"attributes"`
}

// handleMergeProfile deep-merges the patch into the stored profile and
// returns the merged result.
func (s *Server) handleMergeProfile(w http.ResponseWriter, r *http.Request) {
	var body profilePatchBody
	if !httputil.Decode(w, r, &body) {
		return
	}
	if len(body.Attributes) == 0 {
		httputil.BadRequest(w, "attributes are required")
		return
	}
	p, err := s.profiles.MergeAttributes(r.Context(), body.TenantID, chi.URLParam(r, "recipientId"), body.Attributes)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, p)
}

// handleGetPreferences returns the effective record, with defaults
// applied over whatever the recipient has stored.
func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	rec, err := s.evaluator.EffectivePreferences(r.Context(), chi.URLParam(r, "recipientId"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, rec)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var rec preference.Record
	if !httputil.Decode(w, r, &rec) {
		return
	}
	rec.RecipientID = chi.URLParam(r, "recipientId")
	if err := s.prefs.Upsert(r.Context(), &rec); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, preference.Effective(rec.RecipientID, &rec))
}

// parseWindow reads the window query parameter, defaulting to 24h.
func parseWindow(r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 24 * time.Hour, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	window, ok := parseWindow(r)
	if !ok {
		httputil.BadRequest(w, "window must be a positive duration such as 24h")
		return
	}
	attempts, err := s.attempts.Query(r.Context(), chi.URLParam(r, "recipientId"), window)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]interface{}{"attempts": attempts, "count": len(attempts)})
}

// handleEngagement combines delivery metrics over a 30 day window with
// profile signals into a single score.
func (s *Server) handleEngagement(w http.ResponseWriter, r *http.Request) {
	recipientID := chi.URLParam(r, "recipientId")
	metrics, err := s.attempts.MetricsFor(r.Context(), recipientID, 30*24*time.Hour)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	var attrs profile.Attributes
	if p, err := s.profiles.Get(r.Context(), recipientID); err != nil {
		httputil.InternalError(w, err)
		return
	} else if p != nil {
		attrs = p.Attributes
	}
	now := time.Now()
	sig := engagement.SignalsFromProfile(metrics, attrs)
	httputil.OK(w, map[string]interface{}{
		"recipient_id":       recipientID,
		"score":              engagement.Score(sig, now),
		"needs_intervention": engagement.NeedsIntervention(sig, now),
		"metrics":            metrics,
	})
}
