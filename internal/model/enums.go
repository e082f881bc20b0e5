package model

type Role string

const (
	RoleSubscriber Role = "subscriber"
	RoleAdmin      Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleSubscriber || r == RoleAdmin
}

// AuthState is a step of the login handshake.
type AuthState string

const (
	AuthStateIdle                AuthState = "idle"
	AuthStateCodeRequested       AuthState = "code_requested"
	AuthStateSecondFactorPending AuthState = "second_factor_pending"
	AuthStateVerified            AuthState = "verified"
	AuthStateFailed              AuthState = "failed"
)

type ScheduleOutcome string

const (
	OutcomeDelivered              ScheduleOutcome = "delivered"
	OutcomePartial                ScheduleOutcome = "partial"
	OutcomeFailed                 ScheduleOutcome = "failed"
	OutcomeSkippedUnauthenticated ScheduleOutcome = "skipped_unauthenticated"
	OutcomeSkippedInactive        ScheduleOutcome = "skipped_inactive"
	OutcomeOwnerLookupFailed      ScheduleOutcome = "owner_lookup_failed"
	OutcomeSkippedNoTargets       ScheduleOutcome = "skipped_no_targets"
	// OutcomeCancelled means the pass ended before any target was attempted.
	OutcomeCancelled              ScheduleOutcome = "cancelled"
)

// Skipped reports whether the schedule was left untouched (no sends, no last_run update).
func (o ScheduleOutcome) Skipped() bool {
	switch o {
	case OutcomeSkippedUnauthenticated, OutcomeSkippedInactive, OutcomeOwnerLookupFailed,
		OutcomeSkippedNoTargets, OutcomeCancelled:
		return true
	}
	return false
}
