package models

import "time"

// Outcome records a single power-off attempt.
type Outcome struct {
	Kind      TargetKind
	Name      string
	Address   string
	Host      string // owning host, guests only
	Succeeded bool
	Error     string
}

// RunState is the position of a shutdown run in its lifecycle.
type RunState string

// Run states, in order.
const (
	StateNotStarted       RunState = "not_started"
	StateLoadingInventory RunState = "loading_inventory"
	StateDrainingGuests   RunState = "draining_guests"
	StateSettling         RunState = "settling"
	StateDrainingHosts    RunState = "draining_hosts"
	StateReduced          RunState = "reduced"
)

// RunSummary holds the result of a shutdown run.
type RunSummary struct {
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	State     RunState
	Outcomes  []Outcome
	Success   bool
	LoadError error // set when the inventory could not be loaded
}

// GuestOutcomes returns the guest records in attempt order.
func (s *RunSummary) GuestOutcomes() []Outcome {
	return s.filter(KindGuest)
}

// HostOutcomes returns the host records in attempt order.
func (s *RunSummary) HostOutcomes() []Outcome {
	return s.filter(KindHost)
}

// Failed returns every record that did not succeed.
func (s *RunSummary) Failed() []Outcome {
	var failed []Outcome
	for _, o := range s.Outcomes {
		if !o.Succeeded {
			failed = append(failed, o)
		}
	}
	return failed
}

func (s *RunSummary) filter(kind TargetKind) []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Kind == kind {
			out = append(out, o)
		}
	}
	return out
}
