package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/boliseva-loan-ledger/internal/domain/amortization"
	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
)

// Submit validates a draft and records a new application
func (s *Service) Submit(ctx context.Context, draft loan.Draft) (*loan.Loan, Outcome, error) {
	draft.ApplyDefaults(s.defaultTenure, s.defaultRate)
	if err := draft.Validate(s.catalog); err != nil {
		return nil, Outcome{}, err
	}

	l, err := loan.NewLoan(draft, s.clock.Now())
	if err != nil {
		return nil, Outcome{}, shared.ValidationError{Field: "loan", Reason: err.Error()}
	}

	result, err := s.store.CreateLoan(ctx, l)
	if err != nil {
		return nil, Outcome{}, fmt.Errorf("failed to submit loan: %w", err)
	}

	if result.Degraded {
		if err := s.enqueue(ctx, syncqueue.KindSubmitLoan, l.ID.String(), l.UserID, l); err != nil {
			s.undo(ctx, "submit loan", func(ctx context.Context) error { return s.store.DiscardLoan(ctx, l.ID, nil) })
			return nil, Outcome{}, err
		}
	} else {
		s.publish(ctx, loanEvent(shared.EventLoanSubmitted, l))
	}

	s.logger.Info("Loan submitted", "loan_id", l.ID.String(), "user_id", l.UserID, "degraded", result.Degraded)
	return l, Outcome{Degraded: result.Degraded}, nil
}

// SetStatus moves a loan through its lifecycle. Approval completes only once the loan has an
// installment schedule; approving twice never creates a second one.
func (s *Service) SetStatus(ctx context.Context, loanID string, status loan.Status) (*loan.Loan, Outcome, error) {
	id, err := parseID("loan_id", loanID)
	if err != nil {
		return nil, Outcome{}, err
	}
	if !status.Valid() {
		return nil, Outcome{}, shared.ValidationError{Field: "status", Reason: "must be one of: applied approved rejected disbursed"}
	}

	l, stale, err := s.store.Loan(ctx, id)
	if err != nil {
		return nil, Outcome{}, err
	}
	outcome := Outcome{Stale: stale}

	before := *l
	changed, err := l.TransitionTo(status, s.clock.Now())
	if err != nil {
		return nil, outcome, err
	}

	if changed {
		result, err := s.store.UpdateLoan(ctx, l)
		if err != nil {
			return nil, outcome, fmt.Errorf("failed to update loan status: %w", err)
		}
		if result.Degraded {
			payload := syncqueue.StatusPayload{LoanID: l.ID.String(), Status: string(status), At: l.UpdatedAt}
			if err := s.enqueue(ctx, syncqueue.KindUpdateLoanStatus, l.ID.String(), l.UserID, payload); err != nil {
				s.undo(ctx, "update loan status", func(ctx context.Context) error { return s.store.DiscardLoan(ctx, l.ID, &before) })
				return nil, outcome, err
			}
		} else {
			s.publish(ctx, loanEvent(shared.EventLoanStatusChanged, l))
		}
		outcome.Degraded = result.Degraded
		s.logger.Info("Loan status changed", "loan_id", l.ID.String(), "status", status, "degraded", result.Degraded)
	}

	// Only the call that performed the approval may act on a schedule count read from the
	// cache; a repeated approval defers to the remote ledger or the backfill pass.
	if l.Status == loan.StatusApproved {
		_, scheduleOutcome, err := s.ensureSchedule(ctx, l, changed)
		if err != nil {
			return nil, outcome, err
		}
		outcome = outcome.merge(scheduleOutcome)
	}

	return l, outcome, nil
}

// ensureSchedule creates the installment schedule of an approved loan unless one exists.
// With trustStale false a count read from the local cache is not enough to act on.
func (s *Service) ensureSchedule(ctx context.Context, l *loan.Loan, trustStale bool) (bool, Outcome, error) {
	count, stale, err := s.store.CountEMIs(ctx, l.ID)
	if err != nil {
		return false, Outcome{}, fmt.Errorf("failed to check schedule of loan %s: %w", l.ID, err)
	}
	outcome := Outcome{Stale: stale}
	if count > 0 || (stale && !trustStale) {
		return false, outcome, nil
	}

	tenure, rate := l.Terms(s.defaultTenure, s.defaultRate)
	schedule, err := s.engine.Schedule(l.Principal, rate, tenure, s.clock.Now())
	if err != nil {
		return false, outcome, scheduleError(err)
	}
	emis := emi.FromSchedule(l.ID, l.UserID, schedule, s.clock.Now())

	result, err := s.store.CreateEMIs(ctx, l.ID, emis)
	if err != nil {
		return false, outcome, fmt.Errorf("failed to store schedule of loan %s: %w", l.ID, err)
	}
	if result.Degraded {
		if err := s.enqueue(ctx, syncqueue.KindCreateEMISchedule, l.ID.String(), l.UserID, emis); err != nil {
			s.undo(ctx, "create emi schedule", func(ctx context.Context) error { return s.store.DiscardEMIs(ctx, emis) })
			return false, outcome, err
		}
	}
	outcome.Degraded = result.Degraded

	s.logger.Info("EMI schedule created",
		"loan_id", l.ID.String(), "installments", len(emis), "amount", schedule.MonthlyInstallment, "degraded", result.Degraded)
	return true, outcome, nil
}

// LoansByUser lists the user's loans, newest first
func (s *Service) LoansByUser(ctx context.Context, userID string) ([]*loan.Loan, Outcome, error) {
	if err := requireUser(userID); err != nil {
		return nil, Outcome{}, err
	}
	loans, stale, err := s.store.LoansByUser(ctx, userID)
	return loans, Outcome{Stale: stale}, err
}

// LoansByStatus lists every loan in status, newest first
func (s *Service) LoansByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, Outcome, error) {
	if !status.Valid() {
		return nil, Outcome{}, shared.ValidationError{Field: "status", Reason: "must be one of: applied approved rejected disbursed"}
	}
	loans, stale, err := s.store.LoansByStatus(ctx, status)
	return loans, Outcome{Stale: stale}, err
}

// Loan returns one loan
func (s *Service) Loan(ctx context.Context, loanID string) (*loan.Loan, Outcome, error) {
	id, err := parseID("loan_id", loanID)
	if err != nil {
		return nil, Outcome{}, err
	}
	l, stale, err := s.store.Loan(ctx, id)
	return l, Outcome{Stale: stale}, err
}

func loanEvent(eventType shared.EventType, l *loan.Loan) shared.LedgerEvent {
	return shared.LedgerEvent{
		Type:       eventType,
		UserID:     l.UserID,
		LoanID:     l.ID,
		Phone:      l.ContactPhone,
		Amount:     l.Principal,
		Status:     string(l.Status),
		OccurredAt: l.UpdatedAt,
	}
}

func scheduleError(err error) error {
	switch {
	case errors.Is(err, amortization.ErrInvalidPrincipal):
		return shared.ValidationError{Field: "principal", Reason: err.Error()}
	case errors.Is(err, amortization.ErrInvalidTenure):
		return shared.ValidationError{Field: "tenure_months", Reason: err.Error()}
	case errors.Is(err, amortization.ErrInvalidRate):
		return shared.ValidationError{Field: "annual_rate", Reason: err.Error()}
	default:
		return err
	}
}
