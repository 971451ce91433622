// Package commands is the upstream entry point to the ledger node. Every command returns a
// Result and never a bare error.
package commands

import (
	"context"
	"errors"
	"log/slog"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/ledger"
	"github.com/boliseva-loan-ledger/internal/ledger/login"
	"github.com/boliseva-loan-ledger/internal/ledger/queue"
)

// Result is the outcome of one command
type Result[T any] struct {
	Success   bool             `json:"success"`
	Degraded  bool             `json:"degraded"` // Stored locally and queued for sync
	Stale     bool             `json:"stale"`    // Served from the local cache
	ErrorKind shared.ErrorKind `json:"error_kind,omitempty"`
	Message   string           `json:"message,omitempty"`
	Data      T                `json:"data,omitempty"`
}

func ok[T any](data T, outcome ledger.Outcome) Result[T] {
	return Result[T]{Success: true, Degraded: outcome.Degraded, Stale: outcome.Stale, Data: data}
}

// Ledger is the loan ledger
type Ledger interface {
	Submit(ctx context.Context, draft loan.Draft) (*loan.Loan, ledger.Outcome, error)
	SetStatus(ctx context.Context, loanID string, status loan.Status) (*loan.Loan, ledger.Outcome, error)
	Loan(ctx context.Context, loanID string) (*loan.Loan, ledger.Outcome, error)
	LoansByUser(ctx context.Context, userID string) ([]*loan.Loan, ledger.Outcome, error)
	LoansByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, ledger.Outcome, error)
	EMIsByUser(ctx context.Context, userID string) ([]*emi.EMI, ledger.Outcome, error)
	EMIsByLoan(ctx context.Context, loanID string) ([]*emi.EMI, ledger.Outcome, error)
	PayEMI(ctx context.Context, emiID, method string) (*emi.EMI, ledger.Outcome, error)
	SweepOverdue(ctx context.Context) (int64, ledger.Outcome, error)
	BackfillMissingEMIs(ctx context.Context, userID string) (int, ledger.Outcome, error)
	Dashboard(ctx context.Context, userID string) (*ledger.Dashboard, ledger.Outcome, error)
	Quote(principal int64, annualRate float64, tenure int) (*ledger.Quote, error)
}

// RateLimiter tracks OTP attempts per phone
type RateLimiter interface {
	IsLimited(ctx context.Context, phone string) (bool, error)
	RecordAttempt(ctx context.Context, phone string) error
}

// Login issues and verifies OTP codes
type Login interface {
	RequestOTP(ctx context.Context, phone string) (*login.Issued, error)
	VerifyOTP(ctx context.Context, phone, code string) error
	Normalize(phone string) (string, error)
}

// SyncQueue replays queued mutations
type SyncQueue interface {
	Drain(ctx context.Context) (queue.Report, error)
	Stats(ctx context.Context) (queue.Stats, error)
}

// Commands dispatches upstream requests
type Commands struct {
	ledger  Ledger
	limiter RateLimiter
	login   Login
	queue   SyncQueue
	logger  *slog.Logger
}

func New(ledger Ledger, limiter RateLimiter, login Login, queue SyncQueue, logger *slog.Logger) *Commands {
	return &Commands{
		ledger:  ledger,
		limiter: limiter,
		login:   login,
		queue:   queue,
		logger:  logger,
	}
}

// fail converts an error into a failed Result. Unexpected errors are logged and hidden.
func fail[T any](logger *slog.Logger, command string, err error) Result[T] {
	kind := shared.KindOf(err)
	message := err.Error()

	switch kind {
	case shared.KindInternal:
		logger.Error("Command failed", "command", command, "error", err)
		message = "an internal error occurred"
	case shared.KindPersistence:
		logger.Error("Command failed to persist", "command", command, "error", err)
	default:
		logger.Debug("Command rejected", "command", command, "kind", kind, "error", err)
	}

	return Result[T]{ErrorKind: kind, Message: message}
}

func (c *Commands) SubmitLoan(ctx context.Context, draft loan.Draft) Result[*loan.Loan] {
	l, outcome, err := c.ledger.Submit(ctx, draft)
	if err != nil {
		return fail[*loan.Loan](c.logger, "SubmitLoan", err)
	}
	return ok(l, outcome)
}

func (c *Commands) GetLoan(ctx context.Context, loanID string) Result[*loan.Loan] {
	l, outcome, err := c.ledger.Loan(ctx, loanID)
	if err != nil {
		return fail[*loan.Loan](c.logger, "GetLoan", err)
	}
	return ok(l, outcome)
}

func (c *Commands) GetLoansByUser(ctx context.Context, userID string) Result[[]*loan.Loan] {
	loans, outcome, err := c.ledger.LoansByUser(ctx, userID)
	if err != nil {
		return fail[[]*loan.Loan](c.logger, "GetLoansByUser", err)
	}
	return ok(loans, outcome)
}

func (c *Commands) GetLoansByStatus(ctx context.Context, status string) Result[[]*loan.Loan] {
	loans, outcome, err := c.ledger.LoansByStatus(ctx, loan.Status(status))
	if err != nil {
		return fail[[]*loan.Loan](c.logger, "GetLoansByStatus", err)
	}
	return ok(loans, outcome)
}

func (c *Commands) SetLoanStatus(ctx context.Context, loanID, status string) Result[*loan.Loan] {
	l, outcome, err := c.ledger.SetStatus(ctx, loanID, loan.Status(status))
	if err != nil {
		return fail[*loan.Loan](c.logger, "SetLoanStatus", err)
	}
	return ok(l, outcome)
}

func (c *Commands) GetEMIsByUser(ctx context.Context, userID string) Result[[]*emi.EMI] {
	emis, outcome, err := c.ledger.EMIsByUser(ctx, userID)
	if err != nil {
		return fail[[]*emi.EMI](c.logger, "GetEMIsByUser", err)
	}
	return ok(emis, outcome)
}

func (c *Commands) GetEMIsByLoan(ctx context.Context, loanID string) Result[[]*emi.EMI] {
	emis, outcome, err := c.ledger.EMIsByLoan(ctx, loanID)
	if err != nil {
		return fail[[]*emi.EMI](c.logger, "GetEMIsByLoan", err)
	}
	return ok(emis, outcome)
}

func (c *Commands) PayEMI(ctx context.Context, emiID, method string) Result[*emi.EMI] {
	e, outcome, err := c.ledger.PayEMI(ctx, emiID, method)
	if err != nil {
		return fail[*emi.EMI](c.logger, "PayEMI", err)
	}
	return ok(e, outcome)
}

func (c *Commands) SweepOverdue(ctx context.Context) Result[int64] {
	changed, outcome, err := c.ledger.SweepOverdue(ctx)
	if err != nil {
		return fail[int64](c.logger, "SweepOverdue", err)
	}
	return ok(changed, outcome)
}

func (c *Commands) BackfillMissingEMIs(ctx context.Context, userID string) Result[int] {
	created, outcome, err := c.ledger.BackfillMissingEMIs(ctx, userID)
	if err != nil {
		return fail[int](c.logger, "BackfillMissingEMIs", err)
	}
	return ok(created, outcome)
}

func (c *Commands) Dashboard(ctx context.Context, userID string) Result[*ledger.Dashboard] {
	d, outcome, err := c.ledger.Dashboard(ctx, userID)
	if err != nil {
		return fail[*ledger.Dashboard](c.logger, "Dashboard", err)
	}
	return ok(d, outcome)
}

func (c *Commands) Quote(principal int64, annualRate float64, tenure int) Result[*ledger.Quote] {
	q, err := c.ledger.Quote(principal, annualRate, tenure)
	if err != nil {
		return fail[*ledger.Quote](c.logger, "Quote", err)
	}
	return ok(q, ledger.Outcome{})
}

// IsOtpLimited reports whether the phone has used up its attempts. A limiter that cannot be
// read answers false so login keeps working on a broken cache.
func (c *Commands) IsOtpLimited(ctx context.Context, phone string) Result[bool] {
	phone, err := c.login.Normalize(phone)
	if err != nil {
		return fail[bool](c.logger, "IsOtpLimited", err)
	}
	limited, err := c.limiter.IsLimited(ctx, phone)
	if err != nil {
		c.logger.Warn("Rate limiter unavailable, treating phone as not limited", "error", err)
		return Result[bool]{Success: true, Degraded: true, Data: false}
	}
	return ok(limited, ledger.Outcome{})
}

func (c *Commands) RecordOtpAttempt(ctx context.Context, phone string) Result[struct{}] {
	phone, err := c.login.Normalize(phone)
	if err != nil {
		return fail[struct{}](c.logger, "RecordOtpAttempt", err)
	}
	if err := c.limiter.RecordAttempt(ctx, phone); err != nil {
		return fail[struct{}](c.logger, "RecordOtpAttempt", &shared.PersistenceError{Op: "record otp attempt", Cause: shared.CauseLocal, Err: err})
	}
	return ok(struct{}{}, ledger.Outcome{})
}

func (c *Commands) RequestOTP(ctx context.Context, phone string) Result[*login.Issued] {
	issued, err := c.login.RequestOTP(ctx, phone)
	if err != nil {
		if errors.Is(err, login.ErrDeliveryFailed) {
			c.logger.Warn("OTP delivery failed", "error", err)
			return Result[*login.Issued]{ErrorKind: shared.KindInternal, Message: login.ErrDeliveryFailed.Error()}
		}
		return fail[*login.Issued](c.logger, "RequestOTP", err)
	}
	return ok(issued, ledger.Outcome{})
}

func (c *Commands) VerifyOTP(ctx context.Context, phone, code string) Result[bool] {
	if err := c.login.VerifyOTP(ctx, phone, code); err != nil {
		return fail[bool](c.logger, "VerifyOTP", err)
	}
	return ok(true, ledger.Outcome{})
}

func (c *Commands) DrainQueue(ctx context.Context) Result[queue.Report] {
	report, err := c.queue.Drain(ctx)
	if err != nil {
		return fail[queue.Report](c.logger, "DrainQueue", err)
	}
	return ok(report, ledger.Outcome{})
}

func (c *Commands) QueueStatus(ctx context.Context) Result[queue.Stats] {
	stats, err := c.queue.Stats(ctx)
	if err != nil {
		return fail[queue.Stats](c.logger, "QueueStatus", err)
	}
	return ok(stats, ledger.Outcome{})
}
