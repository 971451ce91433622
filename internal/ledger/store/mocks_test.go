package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
)

type MockLoanRepository struct {
	mock.Mock
}

func (m *MockLoanRepository) Create(ctx context.Context, l *loan.Loan) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *MockLoanRepository) GetByID(ctx context.Context, id uuid.UUID) (*loan.Loan, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) ListByUser(ctx context.Context, userID string) ([]*loan.Loan, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) ListByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*loan.Loan), args.Error(1)
}

func (m *MockLoanRepository) Update(ctx context.Context, l *loan.Loan) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

type MockEMIRepository struct {
	mock.Mock
}

func (m *MockEMIRepository) CreateBatch(ctx context.Context, emis []*emi.EMI) error {
	args := m.Called(ctx, emis)
	return args.Error(0)
}

func (m *MockEMIRepository) GetByID(ctx context.Context, id uuid.UUID) (*emi.EMI, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*emi.EMI), args.Error(1)
}

func (m *MockEMIRepository) ListByLoan(ctx context.Context, loanID uuid.UUID) ([]*emi.EMI, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*emi.EMI), args.Error(1)
}

func (m *MockEMIRepository) ListByUser(ctx context.Context, userID string) ([]*emi.EMI, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*emi.EMI), args.Error(1)
}

func (m *MockEMIRepository) CountByLoan(ctx context.Context, loanID uuid.UUID) (int, error) {
	args := m.Called(ctx, loanID)
	return args.Int(0), args.Error(1)
}

func (m *MockEMIRepository) Update(ctx context.Context, e *emi.EMI) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockEMIRepository) MarkOverdue(ctx context.Context, asOf time.Time) (int64, error) {
	args := m.Called(ctx, asOf)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockEMIRepository) ListNeedingReminder(ctx context.Context, asOf time.Time) ([]*emi.EMI, error) {
	args := m.Called(ctx, asOf)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*emi.EMI), args.Error(1)
}

func (m *MockEMIRepository) MarkReminded(ctx context.Context, ids []uuid.UUID) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

type MockPendingCounter struct {
	mock.Mock
}

func (m *MockPendingCounter) CountPendingForEntity(ctx context.Context, entityID string) (int, error) {
	args := m.Called(ctx, entityID)
	return args.Int(0), args.Error(1)
}
