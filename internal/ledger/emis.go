package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
)

// PayEMI records the payment of one installment
func (s *Service) PayEMI(ctx context.Context, emiID, method string) (*emi.EMI, Outcome, error) {
	id, err := parseID("emi_id", emiID)
	if err != nil {
		return nil, Outcome{}, err
	}
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, Outcome{}, shared.ValidationError{Field: "method", Reason: "is required"}
	}

	e, stale, err := s.store.EMI(ctx, id)
	if err != nil {
		return nil, Outcome{}, err
	}
	outcome := Outcome{Stale: stale}

	before := *e
	if err := e.Pay(method, s.clock.Now()); err != nil {
		return nil, outcome, err
	}

	result, err := s.store.UpdateEMI(ctx, e)
	if err != nil {
		return nil, outcome, fmt.Errorf("failed to record payment: %w", err)
	}
	outcome.Degraded = result.Degraded

	if result.Degraded {
		if err := s.enqueue(ctx, syncqueue.KindPayEMI, e.ID.String(), e.UserID, e); err != nil {
			s.undo(ctx, "pay emi", func(ctx context.Context) error { return s.store.RevertEMIs(ctx, []*emi.EMI{&before}) })
			return nil, outcome, err
		}
	} else {
		s.publish(ctx, s.emiEvent(ctx, shared.EventEMIPaid, e))
	}

	s.logger.Info("EMI paid", "emi_id", e.ID.String(), "loan_id", e.LoanID.String(), "method", method, "degraded", result.Degraded)
	return e, outcome, nil
}

// SweepOverdue marks every unpaid installment due before now as overdue
func (s *Service) SweepOverdue(ctx context.Context) (int64, Outcome, error) {
	now := s.clock.Now()

	changed, result, err := s.store.MarkOverdue(ctx, now)
	if err != nil {
		return 0, Outcome{}, fmt.Errorf("failed to sweep overdue installments: %w", err)
	}
	if result.Degraded {
		if err := s.enqueue(ctx, syncqueue.KindSweepOverdue, "sweep", "", syncqueue.SweepPayload{AsOf: now}); err != nil {
			return changed, Outcome{Degraded: true}, err
		}
	}

	if changed > 0 {
		s.logger.Info("Installments marked overdue", "count", changed, "degraded", result.Degraded)
	}
	return changed, Outcome{Degraded: result.Degraded}, nil
}

// SendEMIReminders publishes one reminder per outstanding installment past its due date and
// flags it so the reminder is not repeated.
func (s *Service) SendEMIReminders(ctx context.Context) (int, Outcome, error) {
	now := s.clock.Now()

	due, err := s.store.ListNeedingReminder(ctx, now)
	if err != nil {
		return 0, Outcome{}, fmt.Errorf("failed to list installments needing reminders: %w", err)
	}
	if len(due) == 0 {
		return 0, Outcome{}, nil
	}

	before := make([]*emi.EMI, 0, len(due))
	for _, e := range due {
		prev := *e
		before = append(before, &prev)
		s.publish(ctx, s.emiEvent(ctx, shared.EventEMIReminderDue, e))
		e.ReminderSent = true
		e.UpdatedAt = now
	}

	result, err := s.store.MarkReminded(ctx, due)
	if err != nil {
		return 0, Outcome{}, fmt.Errorf("failed to flag reminded installments: %w", err)
	}
	if result.Degraded {
		payload := syncqueue.RemindedPayload{EMIIDs: make([]string, 0, len(due))}
		for _, e := range due {
			payload.EMIIDs = append(payload.EMIIDs, e.ID.String())
		}
		if err := s.enqueue(ctx, syncqueue.KindMarkReminded, due[0].ID.String(), "", payload); err != nil {
			s.undo(ctx, "mark reminders sent", func(ctx context.Context) error { return s.store.RevertEMIs(ctx, before) })
			return len(due), Outcome{Degraded: true}, err
		}
	}

	s.logger.Info("EMI reminders sent", "count", len(due), "degraded", result.Degraded)
	return len(due), Outcome{Degraded: result.Degraded}, nil
}

// EMIsByUser lists every installment of the user
func (s *Service) EMIsByUser(ctx context.Context, userID string) ([]*emi.EMI, Outcome, error) {
	if err := requireUser(userID); err != nil {
		return nil, Outcome{}, err
	}
	emis, stale, err := s.store.EMIsByUser(ctx, userID)
	return emis, Outcome{Stale: stale}, err
}

// EMIsByLoan lists the schedule of one loan
func (s *Service) EMIsByLoan(ctx context.Context, loanID string) ([]*emi.EMI, Outcome, error) {
	id, err := parseID("loan_id", loanID)
	if err != nil {
		return nil, Outcome{}, err
	}
	emis, stale, err := s.store.EMIsByLoan(ctx, id)
	return emis, Outcome{Stale: stale}, err
}

// emiEvent builds an installment event, adding the loan's contact phone when it can be read
func (s *Service) emiEvent(ctx context.Context, eventType shared.EventType, e *emi.EMI) shared.LedgerEvent {
	emiID := e.ID
	due := e.DueDate
	event := shared.LedgerEvent{
		Type:       eventType,
		UserID:     e.UserID,
		LoanID:     e.LoanID,
		EMIID:      &emiID,
		Amount:     e.Amount,
		Status:     string(e.Status),
		DueDate:    &due,
		OccurredAt: e.UpdatedAt,
	}
	if l, _, err := s.store.Loan(ctx, e.LoanID); err == nil {
		event.Phone = l.ContactPhone
	} else {
		s.logger.Debug("Event sent without contact phone", "loan_id", e.LoanID.String(), "error", err)
	}
	return event
}

func emiIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, shared.ValidationError{Field: "emi_ids", Reason: "contains an invalid id"}
		}
		ids = append(ids, id)
	}
	return ids, nil
}
