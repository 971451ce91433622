package emi

import (
	"time"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/amortization"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// Status is the repayment state of an installment
type Status string

const (
	StatusUnpaid  Status = "unpaid"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// EMI is one equated monthly installment of an approved loan
type EMI struct {
	ID            uuid.UUID  `json:"id"`
	LoanID        uuid.UUID  `json:"loan_id"`
	UserID        string     `json:"user_id"`
	Sequence      int        `json:"sequence"`
	Amount        int64      `json:"amount"` // Whole currency units
	DueDate       time.Time  `json:"due_date"`
	Status        Status     `json:"status"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	ReminderSent  bool       `json:"reminder_sent"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// FromSchedule materializes the installments of a schedule for one loan
func FromSchedule(loanID uuid.UUID, userID string, schedule amortization.Schedule, now time.Time) []*EMI {
	emis := make([]*EMI, 0, len(schedule.Installments))
	for _, inst := range schedule.Installments {
		emis = append(emis, &EMI{
			ID:        uuid.New(),
			LoanID:    loanID,
			UserID:    userID,
			Sequence:  inst.Sequence,
			Amount:    inst.Amount,
			DueDate:   inst.DueDate,
			Status:    StatusUnpaid,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return emis
}

// Pay marks the installment paid. Only unpaid and overdue installments can be paid.
func (e *EMI) Pay(method string, now time.Time) error {
	if e.Status != StatusUnpaid && e.Status != StatusOverdue {
		return shared.InvalidTransitionError{
			Entity: "emi",
			ID:     e.ID.String(),
			From:   string(e.Status),
			To:     string(StatusPaid),
		}
	}

	e.Status = StatusPaid
	e.PaidAt = &now
	e.PaymentMethod = method
	e.UpdatedAt = now
	return nil
}

// MarkOverdue flips an unpaid installment whose due date is before asOf.
// It reports whether anything changed.
func (e *EMI) MarkOverdue(asOf time.Time) bool {
	if e.Status != StatusUnpaid || !e.DueDate.Before(asOf) {
		return false
	}
	e.Status = StatusOverdue
	e.UpdatedAt = asOf
	return true
}

// NeedsReminder reports whether an outstanding installment is past due and not yet reminded
func (e *EMI) NeedsReminder(asOf time.Time) bool {
	outstanding := e.Status == StatusUnpaid || e.Status == StatusOverdue
	return outstanding && e.DueDate.Before(asOf) && !e.ReminderSent
}
