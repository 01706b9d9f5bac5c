package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ignite/notify-engine/internal/automation"
	"github.com/ignite/notify-engine/internal/preference"
	"github.com/ignite/notify-engine/internal/profile"
	"github.com/ignite/notify-engine/internal/router"
	"github.com/ignite/notify-engine/internal/tracker"
)

type fakeRequests struct {
	created  map[string]*router.SendRequest
	cancelOK bool
}

func (f *fakeRequests) Create(_ context.Context, req *router.SendRequest) error {
	if f.created == nil {
		f.created = map[string]*router.SendRequest{}
	}
	f.created[req.ID] = req
	return nil
}

func (f *fakeRequests) Get(_ context.Context, id string) (*router.SendRequest, error) {
	return f.created[id], nil
}

func (f *fakeRequests) Cancel(_ context.Context, id string) (bool, error) {
	return f.cancelOK, nil
}

type fakeAutomations struct {
	registerErr error
	invoked     []string
	triggered   []string
	stopped     []string
	stopErr     error
}

func (f *fakeAutomations) Register(_ context.Context, a *automation.Automation) error {
	return f.registerErr
}

func (f *fakeAutomations) Invoke(_ context.Context, automationID, recipientID string, data map[string]interface{}) (*automation.Run, error) {
	f.invoked = append(f.invoked, automationID)
	return &automation.Run{ID: "run-1", AutomationID: automationID, RecipientID: recipientID, Status: automation.RunRunning}, nil
}

func (f *fakeAutomations) Trigger(_ context.Context, event, recipientID string, data map[string]interface{}) error {
	f.triggered = append(f.triggered, event+":"+recipientID)
	return nil
}

func (f *fakeAutomations) StopRun(_ context.Context, runID string) error {
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stopped = append(f.stopped, runID)
	return nil
}

type fakeProfiles struct {
	profiles map[string]*profile.Profile
}

func (f *fakeProfiles) Get(_ context.Context, recipientID string) (*profile.Profile, error) {
	return f.profiles[recipientID], nil
}

func (f *fakeProfiles) MergeAttributes(_ context.Context, tenantID, recipientID string, patch profile.Attributes) (*profile.Profile, error) {
	p := f.profiles[recipientID]
	if p == nil {
		p = &profile.Profile{RecipientID: recipientID, TenantID: tenantID, Attributes: profile.Attributes{}}
		if f.profiles == nil {
			f.profiles = map[string]*profile.Profile{}
		}
		f.profiles[recipientID] = p
	}
	p.Attributes = profile.Merge(p.Attributes, patch)
	return p, nil
}

func (f *fakeProfiles) ResetEscalation(_ context.Context, recipientID string) error {
	if p := f.profiles[recipientID]; p != nil {
		p.Escalated = false
	}
	return nil
}

type fakePrefs struct {
	records map[string]*preference.Record
}

func (f *fakePrefs) Upsert(_ context.Context, rec *preference.Record) error {
	if f.records == nil {
		f.records = map[string]*preference.Record{}
	}
	f.records[rec.RecipientID] = rec
	return nil
}

func (f *fakePrefs) Get(_ context.Context, recipientID string) (*preference.Record, error) {
	return f.records[recipientID], nil
}

type fakeAttempts struct {
	attempts []tracker.Attempt
	metrics  tracker.Metrics
	window   time.Duration
}

func (f *fakeAttempts) Query(_ context.Context, recipientID string, window time.Duration) ([]tracker.Attempt, error) {
	f.window = window
	return f.attempts, nil
}

func (f *fakeAttempts) MetricsFor(_ context.Context, recipientID string, window time.Duration) (tracker.Metrics, error) {
	return f.metrics, nil
}

func (f *fakeAttempts) CountAttemptsSince(_ context.Context, recipientID string, since time.Time) (int, error) {
	return len(f.attempts), nil
}

type testServer struct {
	*Server
	requests    *fakeRequests
	automations *fakeAutomations
	profiles    *fakeProfiles
	prefs       *fakePrefs
	attempts    *fakeAttempts
	runs        *automation.MemStore
}

func newTestServer() *testServer {
	requests := &fakeRequests{cancelOK: true}
	automations := &fakeAutomations{}
	profiles := &fakeProfiles{profiles: map[string]*profile.Profile{}}
	prefs := &fakePrefs{}
	attempts := &fakeAttempts{}
	runs := automation.NewMemStore()
	stats := map[string]StatsSource{
		"dispatcher": func() map[string]int64 { return map[string]int64{"dispatched": 7} },
	}
	srv := NewServer(requests, runs, automations, profiles, prefs,
		preference.NewEvaluator(prefs, attempts), attempts, nil, stats)
	return &testServer{Server: srv, requests: requests, automations: automations,
		profiles: profiles, prefs: prefs, attempts: attempts, runs: runs}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestSendAcceptsRequest(t *testing.T) {
	ts := newTestServer()
	h := ts.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/send", map[string]interface{}{
		"recipient_id": "user-1",
		"template":     "welcome",
		"channels":     []string{"email", "sms"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	id := resp["request_id"]
	if id == "" {
		t.Fatal("response missing request_id")
	}
	created := ts.requests.created[id]
	if created == nil {
		t.Fatal("request was not stored")
	}
	if created.Method != router.MethodSingle {
		t.Fatalf("default method = %q, want %q", created.Method, router.MethodSingle)
	}
}

func TestSendValidation(t *testing.T) {
	ts := newTestServer()
	h := ts.Routes()

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing recipient", map[string]interface{}{"template": "welcome"}},
		{"missing template", map[string]interface{}{"recipient_id": "user-1"}},
		{"bad routing", map[string]interface{}{"recipient_id": "user-1", "template": "welcome", "routing": "broadcast"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/send", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestGetRequestNotFound(t *testing.T) {
	ts := newTestServer()
	rec := doJSON(t, ts.Routes(), http.MethodGet, "/api/send/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelRequestConflict(t *testing.T) {
	ts := newTestServer()
	ts.requests.cancelOK = false
	rec := doJSON(t, ts.Routes(), http.MethodPost, "/api/send/req-1/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409: %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterAutomationCycleRejected(t *testing.T) {
	ts := newTestServer()
	ts.automations.registerErr = fmt.Errorf("%w: a -> b", automation.ErrCycleDetected)
	rec := doJSON(t, ts.Routes(), http.MethodPost, "/api/automations", map[string]interface{}{
		"name": "loop", "trigger_event": "signup",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestInvokeAutomation(t *testing.T) {
	ts := newTestServer()
	rec := doJSON(t, ts.Routes(), http.MethodPost, "/api/automations/invoke", map[string]interface{}{
		"automation_id": "auto-1",
		"recipient_id":  "user-1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["run_id"] != "run-1" {
		t.Fatalf("run_id = %q, want run-1", resp["run_id"])
	}
	if len(ts.automations.invoked) != 1 || ts.automations.invoked[0] != "auto-1" {
		t.Fatalf("invoked = %v", ts.automations.invoked)
	}
}

func TestGetRunStatus(t *testing.T) {
	ts := newTestServer()
	run := &automation.Run{ID: "run-9", AutomationID: "auto-1", Status: automation.RunWaiting}
	if err := ts.runs.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	rec := doJSON(t, ts.Routes(), http.MethodGet, "/api/automations/runs/run-9", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got automation.Run
	decodeBody(t, rec, &got)
	if got.Status != automation.RunWaiting {
		t.Fatalf("status = %q, want %q", got.Status, automation.RunWaiting)
	}

	rec = doJSON(t, ts.Routes(), http.MethodGet, "/api/automations/runs/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing run status = %d, want 404", rec.Code)
	}
}

func TestStopRunConflict(t *testing.T) {
	ts := newTestServer()
	ts.automations.stopErr = errors.New("run is not active")
	rec := doJSON(t, ts.Routes(), http.MethodPost, "/api/automations/runs/run-1/stop", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestMergeProfile(t *testing.T) {
	ts := newTestServer()
	h := ts.Routes()

	rec := doJSON(t, h, http.MethodPut, "/api/recipients/user-1/profile", map[string]interface{}{
		"tenant_id":  "acme",
		"attributes": map[string]interface{}{"email": "a@example.com", "plan": map[string]interface{}{"tier": "free"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPut, "/api/recipients/user-1/profile", map[string]interface{}{
		"attributes": map[string]interface{}{"plan": map[string]interface{}{"tier": "pro"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second merge status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/recipients/user-1/profile", nil)
	var got profile.Profile
	decodeBody(t, rec, &got)
	if got.Attributes.String("email") != "a@example.com" {
		t.Fatalf("email lost in merge: %v", got.Attributes)
	}
	if v, _ := got.Attributes.Lookup("plan.tier"); v != "pro" {
		t.Fatalf("plan.tier = %v, want pro", v)
	}
}

func TestMergeProfileRequiresAttributes(t *testing.T) {
	ts := newTestServer()
	rec := doJSON(t, ts.Routes(), http.MethodPut, "/api/recipients/user-1/profile", map[string]interface{}{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	ts := newTestServer()
	h := ts.Routes()

	rec := doJSON(t, h, http.MethodPut, "/api/recipients/user-1/preferences", map[string]interface{}{
		"channels":   map[string]bool{"sms": false},
		"categories": map[string]bool{"marketing": false, "security": false},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("put status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/api/recipients/user-1/preferences", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got preference.Record
	decodeBody(t, rec, &got)
	if got.Channels["sms"] {
		t.Fatal("sms should stay disabled")
	}
	if got.Categories["marketing"] {
		t.Fatal("marketing should stay disabled")
	}
	// Required categories cannot be turned off through the API.
	if !got.Categories["security"] {
		t.Fatal("security category must be forced on")
	}
}

func TestListAttemptsWindow(t *testing.T) {
	ts := newTestServer()
	ts.attempts.attempts = []tracker.Attempt{{ID: "a1", Channel: "email", Status: tracker.StatusSent}}
	h := ts.Routes()

	rec := doJSON(t, h, http.MethodGet, "/api/recipients/user-1/attempts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ts.attempts.window != 24*time.Hour {
		t.Fatalf("default window = %v, want 24h", ts.attempts.window)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/recipients/user-1/attempts?window=72h", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ts.attempts.window != 72*time.Hour {
		t.Fatalf("window = %v, want 72h", ts.attempts.window)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/recipients/user-1/attempts?window=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad window status = %d, want 400", rec.Code)
	}
}

func TestEngagementEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.attempts.metrics = tracker.Metrics{Attempts: 10, Sent: 10, Delivered: 10, Opened: 5, OpenRate: 0.5}
	ts.profiles.profiles["user-1"] = &profile.Profile{
		RecipientID: "user-1",
		Attributes: profile.Attributes{
			"onboarding":     map[string]interface{}{"completed_steps": 2, "total_steps": 4},
			"last_active_at": time.Now().Add(-2 * time.Hour).Format(time.RFC3339),
		},
	}

	rec := doJSON(t, ts.Routes(), http.MethodGet, "/api/recipients/user-1/engagement", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Score             float64 `json:"score"`
		NeedsIntervention bool    `json:"needs_intervention"`
	}
	decodeBody(t, rec, &resp)
	// 0.5*40 + 0.5*40 + 20 recency.
	if resp.Score != 60 {
		t.Fatalf("score = %v, want 60", resp.Score)
	}
	if resp.NeedsIntervention {
		t.Fatal("healthy recipient should not need intervention")
	}
}

func TestTriggerEvent(t *testing.T) {
	ts := newTestServer()
	rec := doJSON(t, ts.Routes(), http.MethodPost, "/api/events", map[string]interface{}{
		"event":        "user.created",
		"recipient_id": "user-1",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if len(ts.automations.triggered) != 1 || ts.automations.triggered[0] != "user.created:user-1" {
		t.Fatalf("triggered = %v", ts.automations.triggered)
	}

	rec = doJSON(t, ts.Routes(), http.MethodPost, "/api/events", map[string]interface{}{"event": "user.created"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing recipient status = %d, want 400", rec.Code)
	}
}

func TestResetEscalation(t *testing.T) {
	ts := newTestServer()
	ts.profiles.profiles["user-1"] = &profile.Profile{RecipientID: "user-1", Escalated: true}

	rec := doJSON(t, ts.Routes(), http.MethodPost, "/api/recipients/user-1/escalation/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ts.profiles.profiles["user-1"].Escalated {
		t.Fatal("escalated flag should be cleared")
	}
}

func TestHealthReportsWorkerStats(t *testing.T) {
	ts := newTestServer()
	rec := doJSON(t, ts.Routes(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Status  string                      `json:"status"`
		Workers map[string]map[string]int64 `json:"workers"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "ok" {
		t.Fatalf("status = %q", resp.Status)
	}
	if resp.Workers["dispatcher"]["dispatched"] != 7 {
		t.Fatalf("workers = %v", resp.Workers)
	}
}
