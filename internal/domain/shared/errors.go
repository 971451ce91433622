package shared

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the machine-readable category carried by every command result
type ErrorKind string

const (
	KindValidation        ErrorKind = "VALIDATION_ERROR"
	KindPersistence       ErrorKind = "PERSISTENCE_ERROR"
	KindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	KindRateLimited       ErrorKind = "RATE_LIMITED"
	KindNotFound          ErrorKind = "NOT_FOUND"
	KindBusy              ErrorKind = "BUSY"
	KindInternal          ErrorKind = "INTERNAL_ERROR"
)

// ErrNotFound is matched by every typed not-found error of the domain packages
var ErrNotFound = errors.New("not found")

// ErrFetchInFlight is returned when an identical read is already running
var ErrFetchInFlight = errors.New("fetch already in flight")

// ErrCorruptRecord is returned when a cached record cannot be decoded
var ErrCorruptRecord = errors.New("corrupt cached record")

// FailureCause describes why a persistence operation failed
type FailureCause string

const (
	CauseNetwork    FailureCause = "network"
	CausePermission FailureCause = "permission"
	CauseTimeout    FailureCause = "timeout"
	CauseRemote     FailureCause = "remote"
	CauseLocal      FailureCause = "local"
	CauseQueued     FailureCause = "queued" // Earlier changes to the record are still waiting to sync
)

// ValidationError indicates caller-supplied data that violates a contract
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError indicates the remote ledger or the local cache could not be used
type PersistenceError struct {
	Op    string
	Cause FailureCause
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Cause, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Connectivity reports whether the failure is expected to clear once the remote is reachable again
func (e *PersistenceError) Connectivity() bool {
	return e.Cause == CauseNetwork || e.Cause == CauseTimeout
}

// InvalidTransitionError indicates a disallowed state change
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s %s cannot move from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// RateLimitError indicates too many OTP attempts inside the current window
type RateLimitError struct {
	Phone      string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("too many attempts for %s, retry after %s", e.Phone, e.RetryAfter.Round(time.Second))
	}
	return "too many attempts for " + e.Phone
}

// KindOf maps an error to its ErrorKind
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var validationErr ValidationError
	var transitionErr InvalidTransitionError
	var rateErr RateLimitError
	var persistenceErr *PersistenceError

	switch {
	case errors.As(err, &validationErr):
		return KindValidation
	case errors.As(err, &transitionErr):
		return KindInvalidTransition
	case errors.As(err, &rateErr):
		return KindRateLimited
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrFetchInFlight):
		return KindBusy
	case errors.As(err, &persistenceErr), errors.Is(err, context.DeadlineExceeded):
		return KindPersistence
	default:
		return KindInternal
	}
}

// IsPermanent reports whether retrying the same operation can never succeed
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindInvalidTransition, KindNotFound:
		return true
	default:
		return false
	}
}

// IsConnectivity reports whether err is a persistence failure caused by an unreachable or slow remote
func IsConnectivity(err error) bool {
	var persistenceErr *PersistenceError
	if errors.As(err, &persistenceErr) {
		return persistenceErr.Connectivity()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
