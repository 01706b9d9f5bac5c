// Package api exposes the engine over HTTP: send requests, automation
// management, recipient profile and preference endpoints, and health.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/notify-engine/internal/automation"
	"github.com/ignite/notify-engine/internal/preference"
	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/router"
	"github.com/ignite/notify-engine/internal/tracker"
	"github.com/ignite/notify-engine/internal/webhook"
)

// RequestService accepts and cancels send requests. Implemented by the
// router's request store.
type RequestService interface {
	Create(ctx context.Context, req *router.SendRequest) error
	Get(ctx context.Context, id string) (*router.SendRequest, error)
	Cancel(ctx context.Context, id string) (bool, error)
}

// AutomationService is the runner surface the API uses.
type AutomationService interface {
	Register(ctx context.Context, a *automation.Automation) error
	Invoke(ctx context.Context, automationID, recipientID string, data map[string]interface{}) (*automation.Run, error)
	Trigger(ctx context.Context, event, recipientID string, data map[string]interface{}) error
	StopRun(ctx context.Context, runID string) error
}

// ProfileService reads and merges recipient profiles.
type ProfileService interface {
	Get(ctx context.Context, recipientID string) (*profile.Profile, error)
	MergeAttributes(ctx context.Context, tenantID, recipientID string, patch profile.Attributes) (*profile.Profile, error)
	ResetEscalation(ctx context.Context, recipientID string) error
}

// PreferenceService stores preference records; the evaluator resolves
// the effective view.
type PreferenceService interface {
	Upsert(ctx context.Context, rec *preference.Record) error
}

// AttemptService queries delivery history. Implemented by the tracker.
type AttemptService interface {
	Query(ctx context.Context, recipientID string, window time.Duration) ([]tracker.Attempt, error)
	MetricsFor(ctx context.Context, recipientID string, window time.Duration) (tracker.Metrics, error)
}

// StatsSource exposes worker counters on the health endpoint.
type StatsSource func() map[string]int64

// Server wires the HTTP surface.
type Server struct {
	requests    RequestService
	runs        automation.Store
	automations AutomationService
	profiles    ProfileService
	prefs       PreferenceService
	evaluator   *preference.Evaluator
	attempts    AttemptService
	webhooks    *webhook.Handler
	stats       map[string]StatsSource
}

func NewServer(
	requests RequestService,
	runs automation.Store,
	automations AutomationService,
	profiles ProfileService,
	prefs PreferenceService,
	evaluator *preference.Evaluator,
	attempts AttemptService,
	webhooks *webhook.Handler,
	stats map[string]StatsSource,
) *Server {
	return &Server{
		requests:    requests,
		runs:        runs,
		automations: automations,
		profiles:    profiles,
		prefs:       prefs,
		evaluator:   evaluator,
		attempts:    attempts,
		webhooks:    webhooks,
		stats:       stats,
	}
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", webhook.SignatureHeader},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		s.registerSendRoutes(r)
		s.registerAutomationRoutes(r)
		s.registerRecipientRoutes(r)
	})

	if s.webhooks != nil {
		r.Post("/webhooks/events", s.webhooks.HandleEvents)
	}
	r.Get("/health", s.handleHealth)

	return r
}
