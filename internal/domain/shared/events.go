package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a ledger event published to the events topic
type EventType string

const (
	EventLoanSubmitted     EventType = "loan.submitted"
	EventLoanStatusChanged EventType = "loan.status_changed"
	EventEMIPaid           EventType = "emi.paid"
	EventEMIReminderDue    EventType = "emi.reminder_due"
)

// LedgerEvent is the message published after a ledger change reaches the remote ledger
type LedgerEvent struct {
	ID         uuid.UUID  `json:"id"`
	Type       EventType  `json:"type"`
	UserID     string     `json:"user_id"`
	LoanID     uuid.UUID  `json:"loan_id"`
	EMIID      *uuid.UUID `json:"emi_id,omitempty"`
	Phone      string     `json:"phone,omitempty"`
	Amount     int64      `json:"amount,omitempty"`
	Status     string     `json:"status,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Key returns the partition key; events of one loan stay ordered
func (e LedgerEvent) Key() string {
	return e.LoanID.String()
}
