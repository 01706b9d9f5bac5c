package automation

import (
	"fmt"
	"time"
)

// Validate checks the definition shape: known step types, parseable
// delays, well-formed conditions. Cycle detection needs the other
// registered automations and happens separately in the runner.
func (a *Automation) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("automation requires a name")
	}
	if len(a.Steps) == 0 {
		return fmt.Errorf("automation %s has no steps", a.Name)
	}
	return validateSteps(a.Name, a.Steps)
}

func validateSteps(name string, steps []Step) error {
	for i, s := range steps {
		switch s.Type {
		case StepSend:
			if s.Template == "" {
				return fmt.Errorf("%s: step %d (send) requires a template", name, i)
			}
		case StepWait:
			d, err := time.ParseDuration(s.Delay)
			if err != nil {
				return fmt.Errorf("%s: step %d (wait) has invalid delay %q: %w", name, i, s.Delay, err)
			}
			if d <= 0 {
				return fmt.Errorf("%s: step %d (wait) delay must be positive", name, i)
			}
		case StepCondition:
			if s.If == nil {
				return fmt.Errorf("%s: step %d (condition) requires an expression", name, i)
			}
			if err := s.If.Validate(); err != nil {
				return fmt.Errorf("%s: step %d: %w", name, i, err)
			}
			if len(s.Then) == 0 && len(s.Else) == 0 {
				return fmt.Errorf("%s: step %d (condition) has empty then and else branches", name, i)
			}
			if err := validateSteps(name, s.Then); err != nil {
				return err
			}
			if err := validateSteps(name, s.Else); err != nil {
				return err
			}
		case StepEscalate:
			// channels are optional; the escalation policy supplies defaults
		case StepTrigger:
			if s.AutomationID == "" {
				return fmt.Errorf("%s: step %d (trigger) requires an automation id", name, i)
			}
		default:
			return fmt.Errorf("%s: step %d has unknown type %q", name, i, s.Type)
		}
	}
	return nil
}

// triggerRefs collects every automation id reachable through trigger
// steps, including those nested in condition branches.
func triggerRefs(steps []Step) []string {
	var refs []string
	for _, s := range steps {
		switch s.Type {
		case StepTrigger:
			refs = append(refs, s.AutomationID)
		case StepCondition:
			refs = append(refs, triggerRefs(s.Then)...)
			refs = append(refs, triggerRefs(s.Else)...)
		}
	}
	return refs
}

// detectCycle walks the trigger graph from the candidate automation.
// lookup returns nil for unknown ids; a dangling reference is reported
// separately at registration, not here.
func detectCycle(candidate *Automation, lookup func(id string) *Automation) error {
	const (
		visiting = 1
		done     = 2
	)
	state := map[string]int{}

	var visit func(id string, steps []Step) error
	visit = func(id string, steps []Step) error {
		state[id] = visiting
		for _, ref := range triggerRefs(steps) {
			switch state[ref] {
			case visiting:
				return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, id, ref)
			case done:
				continue
			}
			next := lookup(ref)
			if next == nil {
				continue
			}
			if err := visit(ref, next.Steps); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	return visit(candidate.ID, candidate.Steps)
}
