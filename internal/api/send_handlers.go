package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/notify-engine/internal/pkg/httputil"
	"github.com/ignite/notify-engine/internal/router"
)

func (s *Server) registerSendRoutes(r chi.Router) {
	r.Post("/send", s.handleSend)
	r.Route("/send/{requestId}", func(r chi.Router) {
		r.Get("/", s.handleGetRequest)
		r.Post("/cancel", s.handleCancelRequest)
	})
}

type sendRequestBody struct {
	TenantID    string                 `json:"tenant_id"`
	RecipientID string                 `json:"recipient_id"`
	Template    string                 `json:"template"`
	Category    string                 `json:"category"`
	Data        map[string]interface{} `json:"data"`
	Channels    []string               `json:"channels"`
	Routing     string                 `json:"routing"`
	Priority    string                 `json:"priority"`
}

// handleSend accepts a request for asynchronous delivery. The response
// carries the request id; delivery state is polled or observed through
// webhook events.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendRequestBody
	if !httputil.Decode(w, r, &body) {
		return
	}
	if body.RecipientID == "" || body.Template == "" {
		httputil.BadRequest(w, "recipient_id and template are required")
		return
	}
	if body.Routing != "" && body.Routing != router.MethodSingle && body.Routing != router.MethodAll {
		httputil.BadRequest(w, "routing must be single or all")
		return
	}

	req := &router.SendRequest{
		ID:          uuid.New().String(),
		TenantID:    body.TenantID,
		RecipientID: body.RecipientID,
		Template:    body.Template,
		Category:    body.Category,
		Data:        body.Data,
		Channels:    body.Channels,
		Method:      body.Routing,
		Priority:    body.Priority,
	}
	if req.Method == "" {
		req.Method = router.MethodSingle
	}
	if err := s.requests.Create(r.Context(), req); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.Accepted(w, map[string]string{"request_id": req.ID})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.requests.Get(r.Context(), chi.URLParam(r, "requestId"))
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if req == nil {
		httputil.NotFound(w, "request not found")
		return
	}
	httputil.OK(w, req)
}

// handleCancelRequest cancels only while the request is still pending.
// Once the dispatcher claims it, attempts may be in flight and the
// cancel is refused.
func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "requestId")
	ok, err := s.requests.Cancel(r.Context(), id)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !ok {
		httputil.Error(w, http.StatusConflict, "request is no longer pending")
		return
	}
	httputil.OK(w, map[string]string{"request_id": id, "status": router.RequestCancelled})
}
