package store

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// isDomainError reports whether err is an answer from the remote ledger rather than a failure to reach it
func isDomainError(err error) bool {
	var duplicate loan.ErrDuplicateLoan
	var conflict loan.ErrConcurrentModification
	return errors.Is(err, shared.ErrNotFound) ||
		errors.As(err, &duplicate) ||
		errors.As(err, &conflict)
}

// classify maps a remote failure to a PersistenceError with its cause
func classify(op string, err error) *shared.PersistenceError {
	var persistenceErr *shared.PersistenceError
	if errors.As(err, &persistenceErr) {
		return persistenceErr
	}

	return &shared.PersistenceError{Op: op, Cause: causeOf(err), Err: err}
}

func causeOf(err error) shared.FailureCause {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) || pgconn.Timeout(err) {
		return shared.CauseTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42501", len(pgErr.Code) == 5 && pgErr.Code[:2] == "28":
			// insufficient_privilege, invalid_authorization_specification
			return shared.CausePermission
		case len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return shared.CauseNetwork
		case pgErr.Code == "57P01", pgErr.Code == "57P03":
			// admin_shutdown, cannot_connect_now
			return shared.CauseNetwork
		}
		return shared.CauseRemote
	}

	if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
		return shared.CausePermission
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr),
		errors.As(err, &netErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		if netErr != nil && netErr.Timeout() {
			return shared.CauseTimeout
		}
		return shared.CauseNetwork
	}

	return shared.CauseRemote
}
