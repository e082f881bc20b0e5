package model

import "time"

type TargetResult struct {
	Target       string `json:"target"`
	Delivered    bool   `json:"delivered"`
	// NotAttempted marks a target the pass never reached.
	NotAttempted bool   `json:"notAttempted,omitempty"`
	Error        string `json:"error,omitempty"`
}

type ScheduleReport struct {
	ScheduleID string          `json:"scheduleId"`
	Owner      string          `json:"owner"`
	Outcome    ScheduleOutcome `json:"outcome"`
	Targets    []TargetResult  `json:"targets,omitempty"`
	// Error explains a skipped schedule.
	Error string `json:"error,omitempty"`
	// LastRun is the stored last_run after processing.
	LastRun int64 `json:"lastRun"`
	// MarkRunError is set when last_run could not be advanced; the
	// schedule may be sent again on the next pass.
	MarkRunError string `json:"markRunError,omitempty"`
}

func (r *ScheduleReport) Delivered() int {
	n := 0
	for _, t := range r.Targets {
		if t.Delivered {
			n++
		}
	}
	return n
}

// Failed counts targets that were attempted and not delivered.
func (r *ScheduleReport) Failed() int {
	return len(r.Targets) - r.Delivered() - r.NotAttempted()
}

func (r *ScheduleReport) NotAttempted() int {
	n := 0
	for _, t := range r.Targets {
		if t.NotAttempted {
			n++
		}
	}
	return n
}

// OutcomeFor classifies per-target results. Results with no attempted
// target are cancelled.
func OutcomeFor(results []TargetResult) ScheduleOutcome {
	delivered, attempted := 0, 0
	for _, t := range results {
		if t.Delivered {
			delivered++
		}
		if !t.NotAttempted {
			attempted++
		}
	}
	switch {
	case len(results) > 0 && attempted == 0:
		return OutcomeCancelled
	case delivered == len(results):
		return OutcomeDelivered
	case delivered == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

type DispatchReport struct {
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Due        int              `json:"due"`
	Schedules  []ScheduleReport `json:"schedules"`
}

func (r *DispatchReport) Count(outcome ScheduleOutcome) int {
	n := 0
	for _, s := range r.Schedules {
		if s.Outcome == outcome {
			n++
		}
	}
	return n
}

// FailedTargets counts undelivered targets across all schedules.
func (r *DispatchReport) FailedTargets() int {
	n := 0
	for i := range r.Schedules {
		n += r.Schedules[i].Failed()
	}
	return n
}

func (r *DispatchReport) NotAttemptedTargets() int {
	n := 0
	for i := range r.Schedules {
		n += r.Schedules[i].NotAttempted()
	}
	return n
}

func (r *DispatchReport) MarkRunFailures() int {
	n := 0
	for _, s := range r.Schedules {
		if s.MarkRunError != "" {
			n++
		}
	}
	return n
}

// HasProblems reports undelivered targets, skipped schedules or unadvanced
// last_run values.
func (r *DispatchReport) HasProblems() bool {
	if r.FailedTargets() > 0 || r.NotAttemptedTargets() > 0 || r.MarkRunFailures() > 0 {
		return true
	}
	for _, s := range r.Schedules {
		if s.Outcome.Skipped() {
			return true
		}
	}
	return false
}
