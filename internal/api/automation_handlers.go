package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/notify-engine/internal/automation"
	"github.com/ignite/notify-engine/internal/pkg/httputil"
)

func (s *Server) registerAutomationRoutes(r chi.Router) {
	r.Route("/automations", func(r chi.Router) {
		r.Post("/", s.handleRegisterAutomation)
		r.Post("/invoke", s.handleInvokeAutomation)
		r.Route("/runs/{runId}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Post("/stop", s.handleStopRun)
		})
	})
	r.Post("/events", s.handleTriggerEvent)
}

type eventBody struct {
	Event       string                 `json:"event"`
	RecipientID string                 `json:"recipient_id"`
	Data        map[string]interface{} `json:"data"`
}

// handleTriggerEvent starts every enabled automation whose trigger
// matches the event. Already-active runs for the same pair are not
// duplicated.
func (s *Server) handleTriggerEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.Event == "" || body.RecipientID == "" {
		httputil.BadRequest(w, "event and recipient_id are required")
		return
	}
	if err := s.automations.Trigger(r.Context(), body.Event, body.RecipientID, body.Data); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]bool{"accepted": true})
}

func (s *Server) handleRegisterAutomation(w http.ResponseWriter, r *http.Request) {
	var a automation.Automation
	if !httputil.Decode(w, r, &a) {
		return
	}
	if err := s.automations.Register(r.Context(), &a); err != nil {
		if errors.Is(err, automation.ErrCycleDetected) {
			httputil.Error(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Created(w, map[string]string{"automation_id": a.ID})
}

type invokeBody struct {
	AutomationID string                 `json:"automation_id"`
	RecipientID  string                 `json:"recipient_id"`
	Data         map[string]interface{} `json:"data"`
}

func (s *Server) handleInvokeAutomation(w http.ResponseWriter, r *http.Request) {
	var body invokeBody
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.AutomationID == "" || body.RecipientID == "" {
		httputil.BadRequest(w, "automation_id and recipient_id are required")
		return
	}
	run, err := s.automations.Invoke(r.Context(), body.AutomationID, body.RecipientID, body.Data)
	if err != nil {
		if errors.Is(err, automation.ErrAutomationNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.Accepted(w, map[string]string{"run_id": run.ID, "status": run.Status})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if run == nil {
		httputil.NotFound(w, "run not found")
		return
	}
	httputil.OK(w, run)
}

func (s *Server) handleStopRun(w http.ResponseWriter, r *http.Request) {
	err := s.automations.StopRun(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		if errors.Is(err, automation.ErrRunNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.Error(w, http.StatusConflict, err.Error())
		return
	}
	httputil.OK(w, map[string]string{"status": automation.RunStopped})
}
