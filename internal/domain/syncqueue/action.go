package syncqueue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies the mutation an action replays against the remote ledger
type Kind string

const (
	KindSubmitLoan        Kind = "submit_loan"
	KindUpdateLoanStatus  Kind = "update_loan_status"
	KindCreateEMISchedule Kind = "create_emi_schedule"
	KindPayEMI            Kind = "pay_emi"
	KindSweepOverdue      Kind = "sweep_overdue"
	KindMarkReminded      Kind = "mark_reminders_sent"
)

// Status defines the replay state of an action
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDeadLetter Status = "DEAD_LETTER"
	StatusAbandoned  Status = "ABANDONED"
)

// Action is a mutation that could not reach the remote ledger and waits for replay.
// The ID is assigned by the queue store and defines FIFO order.
type Action struct {
	ID            int64           `json:"id"`
	Kind          Kind            `json:"kind"`
	EntityID      string          `json:"entity_id"`
	UserID        string          `json:"user_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	EnqueuedAt    time.Time       `json:"enqueued_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// NewAction builds a pending action carrying payload encoded as JSON
func NewAction(kind Kind, entityID, userID string, payload any, now time.Time) (*Action, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}

	return &Action{
		Kind:       kind,
		EntityID:   entityID,
		UserID:     userID,
		Payload:    raw,
		Status:     StatusPending,
		EnqueuedAt: now,
	}, nil
}

// Decode unmarshals the payload into v
func (a *Action) Decode(v any) error {
	if err := json.Unmarshal(a.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload of action %d: %w", a.Kind, a.ID, err)
	}
	return nil
}

// RecordFailure stamps a failed attempt. Counted failures consume the retry budget.
func (a *Action) RecordFailure(err error, counted bool, now time.Time) {
	if counted {
		a.Attempts++
	}
	a.LastError = err.Error()
	a.LastAttemptAt = &now
}

// MarkDeadLetter parks the action until an operator requeues or abandons it
func (a *Action) MarkDeadLetter(now time.Time) {
	a.Status = StatusDeadLetter
	a.LastAttemptAt = &now
}

// MarkAbandoned records an explicit operator decision to give up on the action
func (a *Action) MarkAbandoned(now time.Time) {
	a.Status = StatusAbandoned
	a.LastAttemptAt = &now
}

// Requeue returns a parked action to the pending queue with a fresh retry budget
func (a *Action) Requeue() {
	a.Status = StatusPending
	a.Attempts = 0
	a.LastError = ""
}

// SweepPayload is the payload of a sweep_overdue action
type SweepPayload struct {
	AsOf time.Time `json:"as_of"`
}

// StatusPayload is the payload of an update_loan_status action
type StatusPayload struct {
	LoanID string    `json:"loan_id"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// RemindedPayload is the payload of a mark_reminders_sent action
type RemindedPayload struct {
	EMIIDs []string `json:"emi_ids"`
}
