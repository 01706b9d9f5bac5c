package automation

import (
	"errors"
	"time"
)

var (
	// ErrCycleDetected is returned at registration when an automation's
	// trigger steps form a loop back to itself through other automations.
	ErrCycleDetected = errors.New("automation trigger cycle detected")

	// ErrRunLeaseConflict means another instance holds the lease for a
	// run. The run is skipped this tick and picked up later.
	ErrRunLeaseConflict = errors.New("run lease held by another instance")

	ErrRunNotFound        = errors.New("run not found")
	ErrAutomationNotFound = errors.New("automation not found")
)

// Step types.
const (
	StepSend      = "send"
	StepWait      = "wait"
	StepCondition = "condition"
	StepEscalate  = "escalate"
	StepTrigger   = "trigger"
)

// Run lifecycle.
const (
	RunRunning   = "running"
	RunWaiting   = "waiting"
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunStopped   = "stopped"
)

// Step is a single node in an automation definition. The fields used
// depend on Type; Validate enforces the shape.
type Step struct {
	Type string `json:"type"`

	// send
	Template string   `json:"template,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Category string   `json:"category,omitempty"`
	Optional bool     `json:"optional,omitempty"` // failure does not abort the run

	// wait
	Delay string `json:"delay,omitempty"` // duration string, e.g. "48h"

	// condition
	If   *Condition `json:"if,omitempty"`
	Then []Step     `json:"then,omitempty"`
	Else []Step     `json:"else,omitempty"`

	// escalate
	EscalateChannels []string `json:"escalate_channels,omitempty"`

	// trigger
	AutomationID string `json:"automation_id,omitempty"`
}

// Automation is a stored sequence definition. Definitions are immutable
// while runs reference them; updates create a new version in practice,
// but the engine only requires that steps never change under a live run.
type Automation struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"`
	TriggerEvent string    `json:"trigger_event,omitempty"`
	Steps        []Step    `json:"steps"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Frame is one level of the run cursor. The root frame indexes into the
// automation's top-level steps; each deeper frame indexes into the
// then or else branch of the condition step its parent frame points at.
type Frame struct {
	Index  int    `json:"index"`
	Branch string `json:"branch,omitempty"` // "then" or "else"; empty at root
}

// Run is one recipient's progress through an automation. The frame
// stack is persisted at every step boundary so a restart resumes
// exactly where the run left off.
type Run struct {
	ID           string                 `json:"id"`
	AutomationID string                 `json:"automation_id"`
	TenantID     string                 `json:"tenant_id"`
	RecipientID  string                 `json:"recipient_id"`
	Status       string                 `json:"status"`
	Frames       []Frame                `json:"frames"`
	Data         map[string]interface{} `json:"data,omitempty"`
	WakeAt       *time.Time             `json:"wake_at,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// Active reports whether the run can still make progress.
func (r *Run) Active() bool {
	return r.Status == RunRunning || r.Status == RunWaiting
}
