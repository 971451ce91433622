package commands

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/data/sqlite"
	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/otp"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/ledger"
	"github.com/boliseva-loan-ledger/internal/ledger/login"
	"github.com/boliseva-loan-ledger/internal/ledger/queue"
	"github.com/boliseva-loan-ledger/internal/ledger/ratelimit"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
	"github.com/boliseva-loan-ledger/internal/platform/sms"
)

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) Submit(ctx context.Context, draft loan.Draft) (*loan.Loan, ledger.Outcome, error) {
	args := m.Called(ctx, draft)
	l, _ := args.Get(0).(*loan.Loan)
	return l, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) SetStatus(ctx context.Context, loanID string, status loan.Status) (*loan.Loan, ledger.Outcome, error) {
	args := m.Called(ctx, loanID, status)
	l, _ := args.Get(0).(*loan.Loan)
	return l, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) Loan(ctx context.Context, loanID string) (*loan.Loan, ledger.Outcome, error) {
	args := m.Called(ctx, loanID)
	l, _ := args.Get(0).(*loan.Loan)
	return l, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) LoansByUser(ctx context.Context, userID string) ([]*loan.Loan, ledger.Outcome, error) {
	args := m.Called(ctx, userID)
	loans, _ := args.Get(0).([]*loan.Loan)
	return loans, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) LoansByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, ledger.Outcome, error) {
	args := m.Called(ctx, status)
	loans, _ := args.Get(0).([]*loan.Loan)
	return loans, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) EMIsByUser(ctx context.Context, userID string) ([]*emi.EMI, ledger.Outcome, error) {
	args := m.Called(ctx, userID)
	emis, _ := args.Get(0).([]*emi.EMI)
	return emis, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) EMIsByLoan(ctx context.Context, loanID string) ([]*emi.EMI, ledger.Outcome, error) {
	args := m.Called(ctx, loanID)
	emis, _ := args.Get(0).([]*emi.EMI)
	return emis, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) PayEMI(ctx context.Context, emiID, method string) (*emi.EMI, ledger.Outcome, error) {
	args := m.Called(ctx, emiID, method)
	e, _ := args.Get(0).(*emi.EMI)
	return e, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) SweepOverdue(ctx context.Context) (int64, ledger.Outcome, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) BackfillMissingEMIs(ctx context.Context, userID string) (int, ledger.Outcome, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) Dashboard(ctx context.Context, userID string) (*ledger.Dashboard, ledger.Outcome, error) {
	args := m.Called(ctx, userID)
	d, _ := args.Get(0).(*ledger.Dashboard)
	return d, args.Get(1).(ledger.Outcome), args.Error(2)
}

func (m *MockLedger) Quote(principal int64, annualRate float64, tenure int) (*ledger.Quote, error) {
	args := m.Called(principal, annualRate, tenure)
	q, _ := args.Get(0).(*ledger.Quote)
	return q, args.Error(1)
}

type MockRateLimiter struct {
	mock.Mock
}

func (m *MockRateLimiter) IsLimited(ctx context.Context, phone string) (bool, error) {
	args := m.Called(ctx, phone)
	return args.Bool(0), args.Error(1)
}

func (m *MockRateLimiter) RecordAttempt(ctx context.Context, phone string) error {
	args := m.Called(ctx, phone)
	return args.Error(0)
}

type MockLogin struct {
	mock.Mock
}

func (m *MockLogin) RequestOTP(ctx context.Context, phone string) (*login.Issued, error) {
	args := m.Called(ctx, phone)
	issued, _ := args.Get(0).(*login.Issued)
	return issued, args.Error(1)
}

func (m *MockLogin) VerifyOTP(ctx context.Context, phone, code string) error {
	args := m.Called(ctx, phone, code)
	return args.Error(0)
}

func (m *MockLogin) Normalize(phone string) (string, error) {
	if phone == "" {
		return "", shared.ValidationError{Field: "phone", Reason: "must be a valid mobile number"}
	}
	return sms.NormalizePhone(phone, "+91"), nil
}

type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Create(ctx context.Context, attempt *otp.Attempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockAttemptRepository) LatestActive(ctx context.Context, phone string) (*otp.Attempt, error) {
	args := m.Called(ctx, phone)
	a, _ := args.Get(0).(*otp.Attempt)
	return a, args.Error(1)
}

func (m *MockAttemptRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockSyncQueue struct {
	mock.Mock
}

func (m *MockSyncQueue) Drain(ctx context.Context) (queue.Report, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.Report), args.Error(1)
}

func (m *MockSyncQueue) Stats(ctx context.Context) (queue.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(queue.Stats), args.Error(1)
}

type mocks struct {
	ledger  *MockLedger
	limiter *MockRateLimiter
	login   *MockLogin
	queue   *MockSyncQueue
}

func newTestCommands() (*Commands, *mocks) {
	m := &mocks{ledger: &MockLedger{}, limiter: &MockRateLimiter{}, login: &MockLogin{}, queue: &MockSyncQueue{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(m.ledger, m.limiter, m.login, m.queue, logger), m
}

func TestCommands_SubmitLoan(t *testing.T) {
	draft := loan.Draft{UserID: "user-1", Category: loan.CategoryPersonal, Principal: 50000}
	submitted := &loan.Loan{ID: uuid.New(), UserID: "user-1", Status: loan.StatusApplied}

	tests := []struct {
		name       string
		setupMocks func(m *mocks)
		want       Result[*loan.Loan]
	}{
		{
			name: "online",
			setupMocks: func(m *mocks) {
				m.ledger.On("Submit", mock.Anything, draft).Return(submitted, ledger.Outcome{}, nil).Once()
			},
			want: Result[*loan.Loan]{Success: true, Data: submitted},
		},
		{
			name: "kept locally",
			setupMocks: func(m *mocks) {
				m.ledger.On("Submit", mock.Anything, draft).Return(submitted, ledger.Outcome{Degraded: true}, nil).Once()
			},
			want: Result[*loan.Loan]{Success: true, Degraded: true, Data: submitted},
		},
		{
			name: "invalid draft",
			setupMocks: func(m *mocks) {
				m.ledger.On("Submit", mock.Anything, draft).
					Return(nil, ledger.Outcome{}, shared.ValidationError{Field: "principal", Reason: "must be between 10000 and 500000 for personal loans"}).Once()
			},
			want: Result[*loan.Loan]{ErrorKind: shared.KindValidation, Message: "invalid principal: must be between 10000 and 500000 for personal loans"},
		},
		{
			name: "cache and remote both unavailable",
			setupMocks: func(m *mocks) {
				m.ledger.On("Submit", mock.Anything, draft).
					Return(nil, ledger.Outcome{}, &shared.PersistenceError{Op: "create loan", Cause: shared.CauseLocal, Err: errors.New("disk full")}).Once()
			},
			want: Result[*loan.Loan]{ErrorKind: shared.KindPersistence, Message: "create loan failed (local): disk full"},
		},
		{
			name: "unexpected error is hidden",
			setupMocks: func(m *mocks) {
				m.ledger.On("Submit", mock.Anything, draft).Return(nil, ledger.Outcome{}, errors.New("nil pointer somewhere")).Once()
			},
			want: Result[*loan.Loan]{ErrorKind: shared.KindInternal, Message: "an internal error occurred"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m := newTestCommands()
			tt.setupMocks(m)

			got := c.SubmitLoan(context.Background(), draft)

			assert.Equal(t, tt.want, got)
			m.ledger.AssertExpectations(t)
		})
	}
}

func TestCommands_Reads(t *testing.T) {
	c, m := newTestCommands()
	ctx := context.Background()
	loans := []*loan.Loan{{ID: uuid.New(), UserID: "user-1"}}
	emis := []*emi.EMI{{ID: uuid.New(), UserID: "user-1", DueDate: time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)}}

	m.ledger.On("LoansByUser", mock.Anything, "user-1").Return(loans, ledger.Outcome{Stale: true}, nil).Once()
	m.ledger.On("LoansByStatus", mock.Anything, loan.StatusApproved).Return(loans, ledger.Outcome{}, nil).Once()
	m.ledger.On("EMIsByUser", mock.Anything, "user-1").Return(emis, ledger.Outcome{Stale: true}, nil).Once()
	m.ledger.On("Dashboard", mock.Anything, "user-1").Return(nil, ledger.Outcome{}, shared.ErrFetchInFlight).Once()

	byUser := c.GetLoansByUser(ctx, "user-1")
	assert.True(t, byUser.Success)
	assert.True(t, byUser.Stale)
	assert.Equal(t, loans, byUser.Data)

	byStatus := c.GetLoansByStatus(ctx, "approved")
	assert.True(t, byStatus.Success)
	assert.False(t, byStatus.Stale)

	emiResult := c.GetEMIsByUser(ctx, "user-1")
	assert.True(t, emiResult.Stale)
	assert.Len(t, emiResult.Data, 1)

	busy := c.Dashboard(ctx, "user-1")
	assert.False(t, busy.Success)
	assert.Equal(t, shared.KindBusy, busy.ErrorKind)
	m.ledger.AssertExpectations(t)
}

func TestCommands_SetLoanStatus(t *testing.T) {
	c, m := newTestCommands()
	loanID := uuid.NewString()
	m.ledger.On("SetStatus", mock.Anything, loanID, loan.StatusDisbursed).
		Return(nil, ledger.Outcome{}, shared.InvalidTransitionError{Entity: "loan", ID: loanID, From: "applied", To: "disbursed"}).Once()

	got := c.SetLoanStatus(context.Background(), loanID, "disbursed")

	assert.False(t, got.Success)
	assert.Equal(t, shared.KindInvalidTransition, got.ErrorKind)
	assert.Contains(t, got.Message, "cannot move from applied to disbursed")
}

func TestCommands_PayEMI(t *testing.T) {
	c, m := newTestCommands()
	emiID := uuid.NewString()
	paid := &emi.EMI{Status: emi.StatusPaid}
	m.ledger.On("PayEMI", mock.Anything, emiID, "upi").Return(paid, ledger.Outcome{Degraded: true}, nil).Once()

	got := c.PayEMI(context.Background(), emiID, "upi")

	assert.True(t, got.Success)
	assert.True(t, got.Degraded)
	assert.Equal(t, paid, got.Data)
}

func TestCommands_Maintenance(t *testing.T) {
	c, m := newTestCommands()
	ctx := context.Background()
	m.ledger.On("SweepOverdue", mock.Anything).Return(int64(4), ledger.Outcome{}, nil).Once()
	m.ledger.On("BackfillMissingEMIs", mock.Anything, "user-1").Return(1, ledger.Outcome{}, nil).Once()
	m.queue.On("Drain", mock.Anything).Return(queue.Report{Applied: 2, Remaining: 1, Stopped: true}, nil).Once()
	m.queue.On("Stats", mock.Anything).Return(queue.Stats{Pending: 1, DeadLetters: 2}, nil).Once()

	assert.Equal(t, int64(4), c.SweepOverdue(ctx).Data)
	assert.Equal(t, 1, c.BackfillMissingEMIs(ctx, "user-1").Data)
	assert.Equal(t, 2, c.DrainQueue(ctx).Data.Applied)
	assert.Equal(t, queue.Stats{Pending: 1, DeadLetters: 2}, c.QueueStatus(ctx).Data)
}

func TestCommands_Quote(t *testing.T) {
	c, m := newTestCommands()
	m.ledger.On("Quote", int64(100000), 12.0, 12).Return(&ledger.Quote{MonthlyInstallment: 8885}, nil).Once()
	m.ledger.On("Quote", int64(0), 12.0, 12).Return(nil, shared.ValidationError{Field: "principal", Reason: "principal must be positive"}).Once()

	assert.Equal(t, int64(8885), c.Quote(100000, 12, 12).Data.MonthlyInstallment)
	assert.Equal(t, shared.KindValidation, c.Quote(0, 12, 12).ErrorKind)
}

func TestCommands_OtpLimits(t *testing.T) {
	ctx := context.Background()
	const phone = "+919876543210"

	t.Run("limited", func(t *testing.T) {
		c, m := newTestCommands()
		m.limiter.On("IsLimited", mock.Anything, phone).Return(true, nil).Once()

		got := c.IsOtpLimited(ctx, phone)

		assert.True(t, got.Success)
		assert.True(t, got.Data)
	})

	t.Run("unreadable limiter does not block login", func(t *testing.T) {
		c, m := newTestCommands()
		m.limiter.On("IsLimited", mock.Anything, phone).Return(false, errors.New("database is locked")).Once()

		got := c.IsOtpLimited(ctx, phone)

		assert.True(t, got.Success)
		assert.True(t, got.Degraded)
		assert.False(t, got.Data)
	})

	t.Run("record", func(t *testing.T) {
		c, m := newTestCommands()
		m.limiter.On("RecordAttempt", mock.Anything, phone).Return(nil).Once()

		assert.True(t, c.RecordOtpAttempt(ctx, phone).Success)
	})

	t.Run("record failure", func(t *testing.T) {
		c, m := newTestCommands()
		m.limiter.On("RecordAttempt", mock.Anything, phone).Return(errors.New("disk I/O error")).Once()

		got := c.RecordOtpAttempt(ctx, phone)

		assert.False(t, got.Success)
		assert.Equal(t, shared.KindPersistence, got.ErrorKind)
	})

	t.Run("phone required", func(t *testing.T) {
		c, _ := newTestCommands()

		assert.Equal(t, shared.KindValidation, c.IsOtpLimited(ctx, "").ErrorKind)
		assert.Equal(t, shared.KindValidation, c.RecordOtpAttempt(ctx, "").ErrorKind)
	})

	t.Run("local number is keyed like its international form", func(t *testing.T) {
		c, m := newTestCommands()
		m.limiter.On("IsLimited", mock.Anything, phone).Return(true, nil).Once()
		m.limiter.On("RecordAttempt", mock.Anything, phone).Return(nil).Once()

		assert.True(t, c.IsOtpLimited(ctx, "9876543210").Data)
		assert.True(t, c.RecordOtpAttempt(ctx, "98765 43210").Success)
		m.limiter.AssertExpectations(t)
	})
}

func TestCommands_OtpLimits_SharedWithRequestOTP(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)
	clock := shared.ClockFunc(func() time.Time { return now })

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, persistence.RunLocalMigrations(ctx, db))

	limiter := ratelimit.NewLimiter(&config.RateLimitConfig{MaxAttempts: 3, Window: 10 * time.Minute},
		ratelimit.NewLocalWindowStore(logger, sqlite.NewKVStore(db)), clock, logger)

	attempts := &MockAttemptRepository{}
	attempts.On("Create", mock.Anything, mock.AnythingOfType("*otp.Attempt")).Return(nil)

	svc := login.NewService(
		&config.OTPConfig{TTL: 5 * time.Minute, CodeLength: 6},
		&config.SMSConfig{DefaultCountryCode: "+91"},
		attempts, limiter, sms.NewConsoleGateway(logger, "+91"), clock, logger,
	)
	c := New(&MockLedger{}, limiter, svc, &MockSyncQueue{}, logger)

	for i := 0; i < 3; i++ {
		got := c.RequestOTP(ctx, "9876543210")
		require.True(t, got.Success, "request %d", i+1)
		assert.Equal(t, "+919876543210", got.Data.Phone)
	}
	assert.Equal(t, shared.KindRateLimited, c.RequestOTP(ctx, "9876543210").ErrorKind)

	for _, phone := range []string{"9876543210", "+919876543210", "+91 98765 43210"} {
		got := c.IsOtpLimited(ctx, phone)
		require.True(t, got.Success, phone)
		assert.False(t, got.Degraded, phone)
		assert.True(t, got.Data, phone)
	}

	other := c.IsOtpLimited(ctx, "9123456780")
	require.True(t, other.Success)
	assert.False(t, other.Data)
}

func TestCommands_Login(t *testing.T) {
	ctx := context.Background()
	const phone = "+919876543210"

	t.Run("request", func(t *testing.T) {
		c, m := newTestCommands()
		issued := &login.Issued{Phone: phone, Remaining: 99}
		m.login.On("RequestOTP", mock.Anything, phone).Return(issued, nil).Once()

		got := c.RequestOTP(ctx, phone)

		assert.True(t, got.Success)
		assert.Equal(t, issued, got.Data)
	})

	t.Run("rate limited", func(t *testing.T) {
		c, m := newTestCommands()
		m.login.On("RequestOTP", mock.Anything, phone).Return(nil, shared.RateLimitError{Phone: phone, RetryAfter: time.Minute}).Once()

		got := c.RequestOTP(ctx, phone)

		assert.Equal(t, shared.KindRateLimited, got.ErrorKind)
	})

	t.Run("delivery failed", func(t *testing.T) {
		c, m := newTestCommands()
		m.login.On("RequestOTP", mock.Anything, phone).Return(nil, login.ErrDeliveryFailed).Once()

		got := c.RequestOTP(ctx, phone)

		assert.False(t, got.Success)
		assert.Equal(t, login.ErrDeliveryFailed.Error(), got.Message)
	})

	t.Run("verify", func(t *testing.T) {
		c, m := newTestCommands()
		m.login.On("VerifyOTP", mock.Anything, phone, "123456").Return(nil).Once()
		m.login.On("VerifyOTP", mock.Anything, phone, "000000").
			Return(errors.Join(shared.ValidationError{Field: "code", Reason: "does not match"}, errors.New("mismatch"))).Once()

		assert.True(t, c.VerifyOTP(ctx, phone, "123456").Data)
		assert.Equal(t, shared.KindValidation, c.VerifyOTP(ctx, phone, "000000").ErrorKind)
	})
}
