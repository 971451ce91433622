package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
	"github.com/boliseva-loan-ledger/internal/ledger/queue"
)

var _ queue.Applier = (*Service)(nil)

// Apply replays a queued action against the remote ledger only. Every kind is idempotent:
// replaying an action that already reached the remote changes nothing.
func (s *Service) Apply(ctx context.Context, action *syncqueue.Action) error {
	switch action.Kind {
	case syncqueue.KindSubmitLoan:
		return s.replaySubmit(ctx, action)
	case syncqueue.KindUpdateLoanStatus:
		return s.replayStatus(ctx, action)
	case syncqueue.KindCreateEMISchedule:
		return s.replaySchedule(ctx, action)
	case syncqueue.KindPayEMI:
		return s.replayPayment(ctx, action)
	case syncqueue.KindSweepOverdue:
		return s.replaySweep(ctx, action)
	case syncqueue.KindMarkReminded:
		return s.replayReminded(ctx, action)
	default:
		return shared.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown action kind %q", action.Kind)}
	}
}

// Settle clears the local pending flags of the records an action touched
func (s *Service) Settle(ctx context.Context, action *syncqueue.Action) error {
	return s.store.ClearPending(ctx, action)
}

func decode(action *syncqueue.Action, v any) error {
	if err := action.Decode(v); err != nil {
		return shared.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}

func (s *Service) replaySubmit(ctx context.Context, action *syncqueue.Action) error {
	var l loan.Loan
	if err := decode(action, &l); err != nil {
		return err
	}

	err := s.store.Remote(ctx, "replay submit loan", func(ctx context.Context) error {
		return s.loans.Create(ctx, &l)
	})
	var duplicate loan.ErrDuplicateLoan
	if errors.As(err, &duplicate) {
		return nil
	}
	if err != nil {
		return err
	}

	s.publish(ctx, loanEvent(shared.EventLoanSubmitted, &l))
	return nil
}

func (s *Service) replayStatus(ctx context.Context, action *syncqueue.Action) error {
	var payload syncqueue.StatusPayload
	if err := decode(action, &payload); err != nil {
		return err
	}
	id, err := parseID("loan_id", payload.LoanID)
	if err != nil {
		return err
	}

	var l *loan.Loan
	var changed bool
	err = s.store.Remote(ctx, "replay loan status", func(ctx context.Context) error {
		var err error
		if l, err = s.loans.GetByID(ctx, id); err != nil {
			return err
		}
		if changed, err = l.TransitionTo(loan.Status(payload.Status), payload.At); err != nil || !changed {
			return err
		}
		return s.loans.Update(ctx, l)
	})
	if err != nil {
		return err
	}

	if changed {
		s.publish(ctx, loanEvent(shared.EventLoanStatusChanged, l))
	}
	return nil
}

func (s *Service) replaySchedule(ctx context.Context, action *syncqueue.Action) error {
	var emis []*emi.EMI
	if err := decode(action, &emis); err != nil {
		return err
	}
	if len(emis) == 0 {
		return nil
	}
	loanID := emis[0].LoanID

	return s.store.Remote(ctx, "replay emi schedule", func(ctx context.Context) error {
		count, err := s.emis.CountByLoan(ctx, loanID)
		if err != nil {
			return err
		}
		if count > 0 {
			s.logger.Info("Schedule already present remotely, skipping replay", "loan_id", loanID.String(), "existing", count)
			return nil
		}
		return s.emis.CreateBatch(ctx, emis)
	})
}

func (s *Service) replayPayment(ctx context.Context, action *syncqueue.Action) error {
	var paid emi.EMI
	if err := decode(action, &paid); err != nil {
		return err
	}
	if paid.PaidAt == nil {
		return shared.ValidationError{Field: "paid_at", Reason: "is required"}
	}

	var current *emi.EMI
	applied := false
	err := s.store.Remote(ctx, "replay emi payment", func(ctx context.Context) error {
		var err error
		if current, err = s.emis.GetByID(ctx, paid.ID); err != nil {
			return err
		}
		if current.Status == emi.StatusPaid {
			return nil
		}
		if err := current.Pay(paid.PaymentMethod, *paid.PaidAt); err != nil {
			return err
		}
		applied = true
		return s.emis.Update(ctx, current)
	})
	if err != nil {
		return err
	}

	if applied {
		s.publish(ctx, s.emiEvent(ctx, shared.EventEMIPaid, current))
	}
	return nil
}

func (s *Service) replaySweep(ctx context.Context, action *syncqueue.Action) error {
	var payload syncqueue.SweepPayload
	if err := decode(action, &payload); err != nil {
		return err
	}

	return s.store.Remote(ctx, "replay overdue sweep", func(ctx context.Context) error {
		changed, err := s.emis.MarkOverdue(ctx, payload.AsOf)
		if err == nil && changed > 0 {
			s.logger.Info("Replayed overdue sweep", "as_of", payload.AsOf, "count", changed)
		}
		return err
	})
}

func (s *Service) replayReminded(ctx context.Context, action *syncqueue.Action) error {
	var payload syncqueue.RemindedPayload
	if err := decode(action, &payload); err != nil {
		return err
	}
	ids, err := emiIDs(payload.EMIIDs)
	if err != nil {
		return err
	}

	return s.store.Remote(ctx, "replay reminders sent", func(ctx context.Context) error {
		return s.emis.MarkReminded(ctx, ids)
	})
}
