// Package login issues and verifies one-time login codes delivered by SMS.
package login

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/domain/otp"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/platform/sms"
)

// ErrDeliveryFailed is returned when the SMS gateway could not deliver a code
var ErrDeliveryFailed = errors.New("failed to deliver OTP")

// Limiter bounds how many codes a phone number may request
type Limiter interface {
	Check(ctx context.Context, phone string) error
	RecordAttempt(ctx context.Context, phone string) error
	Remaining(ctx context.Context, phone string) (int, error)
}

// Issued describes a code that was sent
type Issued struct {
	Phone     string    `json:"phone"`
	ExpiresAt time.Time `json:"expires_at"`
	Remaining int       `json:"remaining_attempts"`
}

// Service issues and verifies login codes
type Service struct {
	attempts    otp.Repository
	limiter     Limiter
	gateway     sms.Gateway
	clock       shared.Clock
	logger      *slog.Logger
	ttl         time.Duration
	codeLength  int
	countryCode string
	hashCost    int
}

func NewService(
	otpCfg *config.OTPConfig,
	smsCfg *config.SMSConfig,
	attempts otp.Repository,
	limiter Limiter,
	gateway sms.Gateway,
	clock shared.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		attempts:    attempts,
		limiter:     limiter,
		gateway:     gateway,
		clock:       clock,
		logger:      logger,
		ttl:         otpCfg.TTL,
		codeLength:  otpCfg.CodeLength,
		countryCode: smsCfg.DefaultCountryCode,
		hashCost:    bcrypt.DefaultCost,
	}
}

// Normalize returns the E.164 form of phone or a validation error. Rate limiting and OTP
// storage are keyed by this form.
func (s *Service) Normalize(phone string) (string, error) {
	normalized := sms.NormalizePhone(phone, s.countryCode)
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 8 || len(digits) > 15 || strings.Trim(digits, "0123456789") != "" {
		return "", shared.ValidationError{Field: "phone", Reason: "must be a valid mobile number"}
	}
	return normalized, nil
}

// RequestOTP sends a fresh code to phone unless it has exhausted its attempts
func (s *Service) RequestOTP(ctx context.Context, phone string) (*Issued, error) {
	phone, err := s.Normalize(phone)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Check(ctx, phone); err != nil {
		s.logger.Warn("OTP request rate limited", "phone", phone, "error", err)
		return nil, err
	}

	code, err := generateCode(s.codeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate OTP: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.clock.Now()
	attempt := &otp.Attempt{
		ID:        uuid.New(),
		Phone:     phone,
		CodeHash:  hash,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, &shared.PersistenceError{Op: "store otp", Cause: shared.CauseRemote, Err: err}
	}

	if err := s.limiter.RecordAttempt(ctx, phone); err != nil {
		s.logger.Error("Failed to record OTP attempt", "phone", phone, "error", err)
	}

	if result := s.gateway.SendOTP(ctx, phone, code); !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrDeliveryFailed, result.Error)
	}

	remaining, err := s.limiter.Remaining(ctx, phone)
	if err != nil {
		s.logger.Warn("Failed to read remaining OTP attempts", "phone", phone, "error", err)
	}

	s.logger.Info("OTP issued", "phone", phone, "attempt_id", attempt.ID.String())
	return &Issued{Phone: phone, ExpiresAt: attempt.ExpiresAt, Remaining: remaining}, nil
}

// VerifyOTP checks code against the newest unused code of phone and consumes it on success
func (s *Service) VerifyOTP(ctx context.Context, phone, code string) error {
	phone, err := s.Normalize(phone)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if len(code) != s.codeLength {
		return shared.ValidationError{Field: "code", Reason: fmt.Sprintf("must be %d digits", s.codeLength)}
	}

	attempt, err := s.attempts.LatestActive(ctx, phone)
	if err != nil {
		if errors.Is(err, otp.ErrAttemptNotFound) {
			return errors.Join(shared.ValidationError{Field: "code", Reason: "no active code, request a new one"}, err)
		}
		return &shared.PersistenceError{Op: "read otp", Cause: shared.CauseRemote, Err: err}
	}

	if attempt.Expired(s.clock.Now()) {
		return errors.Join(shared.ValidationError{Field: "code", Reason: "code has expired"}, otp.ErrExpired)
	}
	if err := bcrypt.CompareHashAndPassword(attempt.CodeHash, []byte(code)); err != nil {
		return errors.Join(shared.ValidationError{Field: "code", Reason: "code does not match"}, otp.ErrCodeMismatch)
	}

	if err := s.attempts.MarkUsed(ctx, attempt.ID); err != nil {
		return &shared.PersistenceError{Op: "consume otp", Cause: shared.CauseRemote, Err: err}
	}

	s.logger.Info("OTP verified", "phone", phone, "attempt_id", attempt.ID.String())
	return nil
}

func generateCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
