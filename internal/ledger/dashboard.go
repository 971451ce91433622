package ledger

import (
	"context"
	"sort"

	"github.com/boliseva-loan-ledger/internal/domain/amortization"
	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

const upcomingLimit = 3

// Dashboard is the per-user summary shown on the home screen
type Dashboard struct {
	Loans        []*loan.Loan `json:"loans"`
	EMIs         []*emi.EMI   `json:"emis"`
	Upcoming     []*emi.EMI   `json:"upcoming"`
	OverdueCount int          `json:"overdue_count"`
	Outstanding  int64        `json:"outstanding"`
}

// Quote previews the schedule of a prospective loan
type Quote struct {
	Principal          int64                      `json:"principal"`
	AnnualRate         float64                    `json:"annual_rate"`
	TenureMonths       int                        `json:"tenure_months"`
	MonthlyInstallment int64                      `json:"monthly_installment"`
	TotalPayable       int64                      `json:"total_payable"`
	TotalInterest      int64                      `json:"total_interest"`
	Installments       []amortization.Installment `json:"installments"`
}

// Dashboard aggregates the user's loans and installments. A second request for the same
// user while one is running is skipped with shared.ErrFetchInFlight.
func (s *Service) Dashboard(ctx context.Context, userID string) (*Dashboard, Outcome, error) {
	if err := requireUser(userID); err != nil {
		return nil, Outcome{}, err
	}
	if _, running := s.inFlight.LoadOrStore(userID, struct{}{}); running {
		s.logger.Debug("Dashboard fetch already running, skipping", "user_id", userID)
		return nil, Outcome{}, shared.ErrFetchInFlight
	}
	defer s.inFlight.Delete(userID)

	loans, loansStale, err := s.store.LoansByUser(ctx, userID)
	if err != nil {
		return nil, Outcome{}, err
	}
	emis, emisStale, err := s.store.EMIsByUser(ctx, userID)
	if err != nil {
		return nil, Outcome{}, err
	}

	sort.SliceStable(emis, func(i, j int) bool {
		return emis[i].DueDate.Before(emis[j].DueDate)
	})

	d := &Dashboard{Loans: loans, EMIs: emis, Upcoming: []*emi.EMI{}}
	for _, e := range emis {
		if e.Status == emi.StatusPaid {
			continue
		}
		d.Outstanding += e.Amount
		if e.Status == emi.StatusOverdue {
			d.OverdueCount++
		}
		if len(d.Upcoming) < upcomingLimit {
			d.Upcoming = append(d.Upcoming, e)
		}
	}

	return d, Outcome{Stale: loansStale || emisStale}, nil
}

// Quote computes the schedule for the given terms without storing anything.
// A zero tenure uses the product default.
func (s *Service) Quote(principal int64, annualRate float64, tenure int) (*Quote, error) {
	if tenure == 0 {
		tenure = s.defaultTenure
	}

	schedule, err := s.engine.Schedule(principal, annualRate, tenure, s.clock.Now())
	if err != nil {
		return nil, scheduleError(err)
	}

	return &Quote{
		Principal:          principal,
		AnnualRate:         annualRate,
		TenureMonths:       tenure,
		MonthlyInstallment: schedule.MonthlyInstallment,
		TotalPayable:       schedule.Total(),
		TotalInterest:      schedule.TotalInterest(principal),
		Installments:       schedule.Installments,
	}, nil
}
