package otp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAttemptNotFound = errors.New("no active otp for phone")
	ErrCodeMismatch    = errors.New("otp does not match")
	ErrExpired         = errors.New("otp has expired")
)

// Attempt is one issued login code, stored hashed in the remote ledger
type Attempt struct {
	ID        uuid.UUID `json:"id" bson:"_id"`
	Phone     string    `json:"phone" bson:"phone"`
	CodeHash  []byte    `json:"-" bson:"code_hash"`
	Used      bool      `json:"used" bson:"used"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// Expired reports whether the code can no longer be used at now
func (a *Attempt) Expired(now time.Time) bool {
	return !now.Before(a.ExpiresAt)
}

// Repository persists issued codes
type Repository interface {
	Create(ctx context.Context, attempt *Attempt) error

	// LatestActive returns the newest unused attempt for phone
	LatestActive(ctx context.Context, phone string) (*Attempt, error)
	MarkUsed(ctx context.Context, id uuid.UUID) error
}
