package login

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/domain/otp"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/platform/sms"
)

type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Create(ctx context.Context, attempt *otp.Attempt) error {
	args := m.Called(ctx, attempt)
	return args.Error(0)
}

func (m *MockAttemptRepository) LatestActive(ctx context.Context, phone string) (*otp.Attempt, error) {
	args := m.Called(ctx, phone)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*otp.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) MarkUsed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Check(ctx context.Context, phone string) error {
	args := m.Called(ctx, phone)
	return args.Error(0)
}

func (m *MockLimiter) RecordAttempt(ctx context.Context, phone string) error {
	args := m.Called(ctx, phone)
	return args.Error(0)
}

func (m *MockLimiter) Remaining(ctx context.Context, phone string) (int, error) {
	args := m.Called(ctx, phone)
	return args.Int(0), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Send(ctx context.Context, to, body string) error {
	args := m.Called(ctx, to, body)
	return args.Error(0)
}

func (m *MockGateway) SendOTP(ctx context.Context, phone, code string) sms.Result {
	args := m.Called(ctx, phone, code)
	return args.Get(0).(sms.Result)
}

const testPhone = "+919876543210"

var testNow = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

func newTestService() (*Service, *MockAttemptRepository, *MockLimiter, *MockGateway) {
	attempts := &MockAttemptRepository{}
	limiter := &MockLimiter{}
	gateway := &MockGateway{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewService(
		&config.OTPConfig{TTL: 5 * time.Minute, CodeLength: 6},
		&config.SMSConfig{DefaultCountryCode: "+91"},
		attempts, limiter, gateway,
		shared.ClockFunc(func() time.Time { return testNow }),
		logger,
	)
	svc.hashCost = bcrypt.MinCost
	return svc, attempts, limiter, gateway
}

func TestService_RequestOTP(t *testing.T) {
	t.Run("issues and sends a hashed code", func(t *testing.T) {
		svc, attempts, limiter, gateway := newTestService()
		var stored *otp.Attempt
		var sent string

		limiter.On("Check", mock.Anything, testPhone).Return(nil).Once()
		attempts.On("Create", mock.Anything, mock.AnythingOfType("*otp.Attempt")).Run(func(args mock.Arguments) {
			stored = args.Get(1).(*otp.Attempt)
		}).Return(nil).Once()
		limiter.On("RecordAttempt", mock.Anything, testPhone).Return(nil).Once()
		gateway.On("SendOTP", mock.Anything, testPhone, mock.AnythingOfType("string")).Run(func(args mock.Arguments) {
			sent = args.String(2)
		}).Return(sms.Result{Success: true}).Once()
		limiter.On("Remaining", mock.Anything, testPhone).Return(99, nil).Once()

		issued, err := svc.RequestOTP(context.Background(), "98765 43210")

		require.NoError(t, err)
		assert.Equal(t, testPhone, issued.Phone)
		assert.Equal(t, 99, issued.Remaining)
		assert.Equal(t, testNow.Add(5*time.Minute), issued.ExpiresAt)

		assert.Len(t, sent, 6)
		require.NotNil(t, stored)
		assert.NotEqual(t, []byte(sent), stored.CodeHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword(stored.CodeHash, []byte(sent)))
		mock.AssertExpectationsForObjects(t, attempts, limiter, gateway)
	})

	t.Run("rate limited", func(t *testing.T) {
		svc, attempts, limiter, gateway := newTestService()
		limiter.On("Check", mock.Anything, testPhone).
			Return(shared.RateLimitError{Phone: testPhone, RetryAfter: time.Minute}).Once()

		_, err := svc.RequestOTP(context.Background(), testPhone)

		assert.Equal(t, shared.KindRateLimited, shared.KindOf(err))
		attempts.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
		gateway.AssertNotCalled(t, "SendOTP", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid phone", func(t *testing.T) {
		svc, _, _, _ := newTestService()

		_, err := svc.RequestOTP(context.Background(), "12ab")

		var validationErr shared.ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "phone", validationErr.Field)
	})

	t.Run("delivery failure", func(t *testing.T) {
		svc, attempts, limiter, gateway := newTestService()
		limiter.On("Check", mock.Anything, testPhone).Return(nil).Once()
		attempts.On("Create", mock.Anything, mock.Anything).Return(nil).Once()
		limiter.On("RecordAttempt", mock.Anything, testPhone).Return(nil).Once()
		gateway.On("SendOTP", mock.Anything, testPhone, mock.Anything).Return(sms.Result{Error: "unreachable"}).Once()

		_, err := svc.RequestOTP(context.Background(), testPhone)

		assert.ErrorIs(t, err, ErrDeliveryFailed)
	})

	t.Run("attempt log unavailable", func(t *testing.T) {
		svc, attempts, limiter, _ := newTestService()
		limiter.On("Check", mock.Anything, testPhone).Return(nil).Once()
		attempts.On("Create", mock.Anything, mock.Anything).Return(errors.New("server selection timeout")).Once()

		_, err := svc.RequestOTP(context.Background(), testPhone)

		assert.Equal(t, shared.KindPersistence, shared.KindOf(err))
		limiter.AssertNotCalled(t, "RecordAttempt", mock.Anything, mock.Anything)
	})
}

func TestService_VerifyOTP(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("123456"), bcrypt.MinCost)
	require.NoError(t, err)

	active := func(expires time.Time) *otp.Attempt {
		return &otp.Attempt{ID: uuid.New(), Phone: testPhone, CodeHash: hash, ExpiresAt: expires, CreatedAt: testNow.Add(-time.Minute)}
	}

	tests := []struct {
		name       string
		code       string
		setupMocks func(attempts *MockAttemptRepository)
		wantErr    error
		wantKind   shared.ErrorKind
	}{
		{
			name: "valid code is consumed",
			code: "123456",
			setupMocks: func(attempts *MockAttemptRepository) {
				a := active(testNow.Add(4 * time.Minute))
				attempts.On("LatestActive", mock.Anything, testPhone).Return(a, nil).Once()
				attempts.On("MarkUsed", mock.Anything, a.ID).Return(nil).Once()
			},
		},
		{
			name: "wrong code",
			code: "654321",
			setupMocks: func(attempts *MockAttemptRepository) {
				attempts.On("LatestActive", mock.Anything, testPhone).Return(active(testNow.Add(time.Minute)), nil).Once()
			},
			wantErr:  otp.ErrCodeMismatch,
			wantKind: shared.KindValidation,
		},
		{
			name: "expired",
			code: "123456",
			setupMocks: func(attempts *MockAttemptRepository) {
				attempts.On("LatestActive", mock.Anything, testPhone).Return(active(testNow), nil).Once()
			},
			wantErr:  otp.ErrExpired,
			wantKind: shared.KindValidation,
		},
		{
			name: "nothing issued",
			code: "123456",
			setupMocks: func(attempts *MockAttemptRepository) {
				attempts.On("LatestActive", mock.Anything, testPhone).Return(nil, otp.ErrAttemptNotFound).Once()
			},
			wantErr:  otp.ErrAttemptNotFound,
			wantKind: shared.KindValidation,
		},
		{
			name:       "malformed code",
			code:       "12",
			setupMocks: func(attempts *MockAttemptRepository) {},
			wantKind:   shared.KindValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, attempts, _, _ := newTestService()
			tt.setupMocks(attempts)

			err := svc.VerifyOTP(context.Background(), testPhone, tt.code)

			if tt.wantKind == "" {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantKind, shared.KindOf(err))
				if tt.wantErr != nil {
					assert.ErrorIs(t, err, tt.wantErr)
				}
			}
			attempts.AssertExpectations(t)
		})
	}
}

func TestGenerateCode(t *testing.T) {
	code, err := generateCode(6)
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9]{6}$`, code)
}
