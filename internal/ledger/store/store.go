// Package store provides the two-tier ledger store: the remote ledger first, the on-device
// cache when the remote cannot be reached, refuses access or answers too slowly.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
)

// ErrQueuedAhead is the cause of a write routed to the cache because earlier changes to the
// same record have not reached the remote ledger yet
var ErrQueuedAhead = errors.New("earlier changes to this record are waiting to sync")

// WriteResult reports whether a write only reached the local cache
type WriteResult struct {
	Degraded bool
	Cause    *shared.PersistenceError
}

// PendingCounter reports how many queued actions still reference an entity
type PendingCounter interface {
	CountPendingForEntity(ctx context.Context, entityID string) (int, error)
}

// Store owns where ledger records land
type Store struct {
	loans     loan.Repository
	emis      emi.Repository
	loanCache loan.Cache
	emiCache  emi.Cache
	pending   PendingCounter
	timeout   time.Duration
	logger    *slog.Logger
}

func New(
	logger *slog.Logger,
	loans loan.Repository,
	emis emi.Repository,
	loanCache loan.Cache,
	emiCache emi.Cache,
	pending PendingCounter,
	timeout time.Duration,
) *Store {
	return &Store{
		loans:     loans,
		emis:      emis,
		loanCache: loanCache,
		emiCache:  emiCache,
		pending:   pending,
		timeout:   timeout,
		logger:    logger,
	}
}

// remote runs fn against the remote ledger bounded by the configured timeout
func (s *Store) remote(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

// Remote runs fn against the remote ledger only. Failures to reach or use the remote come
// back as *shared.PersistenceError; answers such as not found or an invalid transition are
// returned unchanged.
func (s *Store) Remote(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	err := s.remote(ctx, fn)
	if err == nil || isDomainError(err) || shared.KindOf(err) != shared.KindInternal {
		return err
	}
	return classify(op, err)
}

// queuedAhead reports whether any of ids is still referenced by a queued action
func (s *Store) queuedAhead(ctx context.Context, ids ...uuid.UUID) bool {
	if s.pending == nil {
		return false
	}
	for _, id := range ids {
		count, err := s.pending.CountPendingForEntity(ctx, id.String())
		if err != nil {
			s.logger.Warn("Failed to inspect sync queue, writing remotely", "entity_id", id.String(), "error", err)
			return false
		}
		if count > 0 {
			return true
		}
	}
	return false
}

// degrade stores records locally with the pending flag after the remote write was skipped or failed
func (s *Store) degrade(op string, cause *shared.PersistenceError, local func() error) (WriteResult, error) {
	if err := local(); err != nil {
		s.logger.Error("Failed to write to local cache", "op", op, "error", err)
		return WriteResult{}, &shared.PersistenceError{
			Op:    op,
			Cause: shared.CauseLocal,
			Err:   errors.Join(cause, err),
		}
	}

	s.logger.Warn("Remote ledger unavailable, record kept locally", "op", op, "cause", cause.Cause, "error", cause.Err)
	return WriteResult{Degraded: true, Cause: cause}, nil
}

func (s *Store) write(ctx context.Context, op string, ids []uuid.UUID, remote func(ctx context.Context) error, cache func(pending bool) error) (WriteResult, error) {
	if s.queuedAhead(ctx, ids...) {
		cause := &shared.PersistenceError{Op: op, Cause: shared.CauseQueued, Err: ErrQueuedAhead}
		return s.degrade(op, cause, func() error { return cache(true) })
	}

	err := s.remote(ctx, remote)
	if err == nil {
		if cacheErr := cache(false); cacheErr != nil {
			s.logger.Warn("Failed to refresh local cache after remote write", "op", op, "error", cacheErr)
		}
		return WriteResult{}, nil
	}
	if isDomainError(err) {
		return WriteResult{}, err
	}

	return s.degrade(op, classify(op, err), func() error { return cache(true) })
}

// CreateLoan stores a new loan
func (s *Store) CreateLoan(ctx context.Context, l *loan.Loan) (WriteResult, error) {
	return s.write(ctx, "create loan", []uuid.UUID{l.ID},
		func(ctx context.Context) error { return s.loans.Create(ctx, l) },
		func(pending bool) error { return s.loanCache.Upsert(ctx, []*loan.Loan{l}, pending) },
	)
}

// UpdateLoan stores the new state of a loan
func (s *Store) UpdateLoan(ctx context.Context, l *loan.Loan) (WriteResult, error) {
	return s.write(ctx, "update loan", []uuid.UUID{l.ID},
		func(ctx context.Context) error { return s.loans.Update(ctx, l) },
		func(pending bool) error { return s.loanCache.Upsert(ctx, []*loan.Loan{l}, pending) },
	)
}

// CreateEMIs stores the schedule of one loan
func (s *Store) CreateEMIs(ctx context.Context, loanID uuid.UUID, emis []*emi.EMI) (WriteResult, error) {
	if len(emis) == 0 {
		return WriteResult{}, nil
	}
	return s.write(ctx, "create emi schedule", []uuid.UUID{loanID},
		func(ctx context.Context) error { return s.emis.CreateBatch(ctx, emis) },
		func(pending bool) error { return s.emiCache.Upsert(ctx, emis, pending) },
	)
}

// UpdateEMI stores the new state of an installment
func (s *Store) UpdateEMI(ctx context.Context, e *emi.EMI) (WriteResult, error) {
	return s.write(ctx, "update emi", []uuid.UUID{e.ID, e.LoanID},
		func(ctx context.Context) error { return s.emis.Update(ctx, e) },
		func(pending bool) error { return s.emiCache.Upsert(ctx, []*emi.EMI{e}, pending) },
	)
}

// MarkReminded flags installments whose reminder has been published
func (s *Store) MarkReminded(ctx context.Context, emis []*emi.EMI) (WriteResult, error) {
	if len(emis) == 0 {
		return WriteResult{}, nil
	}
	ids := make([]uuid.UUID, 0, len(emis))
	for _, e := range emis {
		ids = append(ids, e.ID)
	}
	return s.write(ctx, "mark reminders sent", nil,
		func(ctx context.Context) error { return s.emis.MarkReminded(ctx, ids) },
		func(pending bool) error { return s.emiCache.Upsert(ctx, emis, pending) },
	)
}

// MarkOverdue flips unpaid installments due before asOf and returns how many changed
func (s *Store) MarkOverdue(ctx context.Context, asOf time.Time) (int64, WriteResult, error) {
	const op = "sweep overdue"

	var changed int64
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		changed, err = s.emis.MarkOverdue(ctx, asOf)
		return err
	})
	if err == nil {
		if _, cacheErr := s.emiCache.MarkOverdue(ctx, asOf); cacheErr != nil {
			s.logger.Warn("Failed to sweep local cache after remote sweep", "error", cacheErr)
		}
		return changed, WriteResult{}, nil
	}

	var localChanged int64
	result, err := s.degrade(op, classify(op, err), func() error {
		var err error
		localChanged, err = s.emiCache.MarkOverdue(ctx, asOf)
		return err
	})
	return localChanged, result, err
}

// ListNeedingReminder returns outstanding installments due before asOf that were never reminded
func (s *Store) ListNeedingReminder(ctx context.Context, asOf time.Time) ([]*emi.EMI, error) {
	var emis []*emi.EMI
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		emis, err = s.emis.ListNeedingReminder(ctx, asOf)
		return err
	})
	if err != nil {
		return nil, classify("list emis needing reminder", err)
	}
	return emis, nil
}

// CountEMIs counts the installments of a loan. The remote ledger is authoritative; the
// cache is consulted when it is unreachable or holds a schedule not yet synced.
func (s *Store) CountEMIs(ctx context.Context, loanID uuid.UUID) (int, bool, error) {
	var count int
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.emis.CountByLoan(ctx, loanID)
		return err
	})
	if err == nil && count > 0 {
		return count, false, nil
	}

	cached, cacheErr := s.emiCache.ListByLoan(ctx, loanID)
	if cacheErr != nil {
		if errors.Is(cacheErr, shared.ErrCorruptRecord) {
			s.logger.Warn("Corrupt cached schedule", "loan_id", loanID.String(), "error", cacheErr)
			cached = nil
		} else if err != nil {
			return 0, true, &shared.PersistenceError{Op: "count emis", Cause: shared.CauseLocal, Err: errors.Join(err, cacheErr)}
		}
	}
	return len(cached), err != nil, nil
}

// Loan returns one loan. A locally pending copy shadows the remote one.
func (s *Store) Loan(ctx context.Context, id uuid.UUID) (*loan.Loan, bool, error) {
	var remote *loan.Loan
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.loans.GetByID(ctx, id)
		return err
	})

	if err == nil {
		if pending := s.pendingLoan(ctx, remote.UserID, id); pending != nil {
			return pending, false, nil
		}
		if cacheErr := s.loanCache.Upsert(ctx, []*loan.Loan{remote}, false); cacheErr != nil {
			s.logger.Warn("Failed to refresh cached loan", "loan_id", id.String(), "error", cacheErr)
		}
		return remote, false, nil
	}

	cached, cacheErr := s.loanCache.Get(ctx, id)
	if cacheErr == nil {
		return cached, true, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}
	if errors.Is(cacheErr, shared.ErrNotFound) {
		return nil, true, classify("get loan", err)
	}
	s.logger.Error("Failed to read cached loan", "loan_id", id.String(), "error", cacheErr)
	return nil, true, &shared.PersistenceError{Op: "get loan", Cause: shared.CauseLocal, Err: errors.Join(err, cacheErr)}
}

func (s *Store) pendingLoan(ctx context.Context, userID string, id uuid.UUID) *loan.Loan {
	pending, err := s.loanCache.ListPendingByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to read pending loans", "user_id", userID, "error", err)
		return nil
	}
	for _, l := range pending {
		if l.ID == id {
			return l
		}
	}
	return nil
}

// LoansByUser returns the user's loans, newest first
func (s *Store) LoansByUser(ctx context.Context, userID string) ([]*loan.Loan, bool, error) {
	var remote []*loan.Loan
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.loans.ListByUser(ctx, userID)
		return err
	})

	if err == nil {
		if cacheErr := s.loanCache.ReplaceForUser(ctx, userID, remote); cacheErr != nil {
			s.logger.Warn("Failed to refresh cached loans", "user_id", userID, "error", cacheErr)
		}
		pending, pendingErr := s.loanCache.ListPendingByUser(ctx, userID)
		if pendingErr != nil {
			s.logger.Warn("Failed to read pending loans", "user_id", userID, "error", pendingErr)
		}
		return mergeLoans(remote, pending), false, nil
	}

	s.logger.Warn("Serving loans from local cache", "user_id", userID, "error", err)
	cached, cacheErr := s.loanCache.ListByUser(ctx, userID)
	return fallback(s.logger, "list loans", err, cached, cacheErr)
}

// LoansByStatus returns every loan in status, newest first
func (s *Store) LoansByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, bool, error) {
	var remote []*loan.Loan
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.loans.ListByStatus(ctx, status)
		return err
	})
	if err == nil {
		pending, pendingErr := s.loanCache.ListPending(ctx)
		if pendingErr != nil {
			s.logger.Warn("Failed to read pending loans", "status", string(status), "error", pendingErr)
		}
		merged := mergeLoans(remote, pending)
		filtered := make([]*loan.Loan, 0, len(merged))
		for _, l := range merged {
			if l.Status == status {
				filtered = append(filtered, l)
			}
		}
		return filtered, false, nil
	}

	s.logger.Warn("Serving loans from local cache", "status", string(status), "error", err)
	cached, cacheErr := s.loanCache.ListByStatus(ctx, status)
	return fallback(s.logger, "list loans by status", err, cached, cacheErr)
}

// EMI returns one installment. A locally pending copy shadows the remote one.
func (s *Store) EMI(ctx context.Context, id uuid.UUID) (*emi.EMI, bool, error) {
	var remote *emi.EMI
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.emis.GetByID(ctx, id)
		return err
	})

	if err == nil {
		if pending := s.pendingEMI(ctx, remote.UserID, id); pending != nil {
			return pending, false, nil
		}
		if cacheErr := s.emiCache.Upsert(ctx, []*emi.EMI{remote}, false); cacheErr != nil {
			s.logger.Warn("Failed to refresh cached emi", "emi_id", id.String(), "error", cacheErr)
		}
		return remote, false, nil
	}

	cached, cacheErr := s.emiCache.Get(ctx, id)
	if cacheErr == nil {
		return cached, true, nil
	}
	if errors.Is(err, shared.ErrNotFound) {
		return nil, false, err
	}
	if errors.Is(cacheErr, shared.ErrNotFound) {
		return nil, true, classify("get emi", err)
	}
	s.logger.Error("Failed to read cached emi", "emi_id", id.String(), "error", cacheErr)
	return nil, true, &shared.PersistenceError{Op: "get emi", Cause: shared.CauseLocal, Err: errors.Join(err, cacheErr)}
}

func (s *Store) pendingEMI(ctx context.Context, userID string, id uuid.UUID) *emi.EMI {
	pending, err := s.emiCache.ListPendingByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("Failed to read pending emis", "user_id", userID, "error", err)
		return nil
	}
	for _, e := range pending {
		if e.ID == id {
			return e
		}
	}
	return nil
}

// EMIsByUser returns the user's installments ordered by due date
func (s *Store) EMIsByUser(ctx context.Context, userID string) ([]*emi.EMI, bool, error) {
	var remote []*emi.EMI
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.emis.ListByUser(ctx, userID)
		return err
	})

	if err == nil {
		if cacheErr := s.emiCache.ReplaceForUser(ctx, userID, remote); cacheErr != nil {
			s.logger.Warn("Failed to refresh cached emis", "user_id", userID, "error", cacheErr)
		}
		pending, pendingErr := s.emiCache.ListPendingByUser(ctx, userID)
		if pendingErr != nil {
			s.logger.Warn("Failed to read pending emis", "user_id", userID, "error", pendingErr)
		}
		return mergeEMIs(remote, pending), false, nil
	}

	s.logger.Warn("Serving emis from local cache", "user_id", userID, "error", err)
	cached, cacheErr := s.emiCache.ListByUser(ctx, userID)
	return fallback(s.logger, "list emis", err, cached, cacheErr)
}

// EMIsByLoan returns the schedule of one loan ordered by sequence
func (s *Store) EMIsByLoan(ctx context.Context, loanID uuid.UUID) ([]*emi.EMI, bool, error) {
	var remote []*emi.EMI
	err := s.remote(ctx, func(ctx context.Context) error {
		var err error
		remote, err = s.emis.ListByLoan(ctx, loanID)
		return err
	})

	if err == nil && len(remote) > 0 {
		pending, pendingErr := s.emiCache.ListPendingByUser(ctx, remote[0].UserID)
		if pendingErr != nil {
			s.logger.Warn("Failed to read pending emis", "loan_id", loanID.String(), "error", pendingErr)
		}
		merged := mergeEMIs(remote, pending)
		schedule := make([]*emi.EMI, 0, len(merged))
		for _, e := range merged {
			if e.LoanID == loanID {
				schedule = append(schedule, e)
			}
		}
		return schedule, false, nil
	}

	// An empty remote schedule may still be waiting in the cache
	cached, cacheErr := s.emiCache.ListByLoan(ctx, loanID)
	if err == nil {
		if cacheErr != nil || len(cached) == 0 {
			return remote, false, nil
		}
		return cached, true, nil
	}

	s.logger.Warn("Serving schedule from local cache", "loan_id", loanID.String(), "error", err)
	return fallback(s.logger, "list schedule", err, cached, cacheErr)
}

// fallback turns a cache read into a stale result. Undecodable rows degrade to an empty result.
func fallback[T any](logger *slog.Logger, op string, remoteErr error, cached []T, cacheErr error) ([]T, bool, error) {
	if cacheErr == nil {
		return cached, true, nil
	}
	if errors.Is(cacheErr, shared.ErrCorruptRecord) {
		logger.Error("Local cache holds an undecodable record, returning empty result", "op", op, "error", cacheErr)
		return []T{}, true, nil
	}
	return nil, true, &shared.PersistenceError{
		Op:    op,
		Cause: shared.CauseLocal,
		Err:   fmt.Errorf("remote: %w, cache: %w", remoteErr, cacheErr),
	}
}

// ClearPending drops the pending flags of the entities an applied or abandoned action touched,
// once no other queued action references them
func (s *Store) ClearPending(ctx context.Context, action *syncqueue.Action) error {
	ids, err := touchedIDs(action)
	if err != nil {
		return err
	}

	for _, id := range ids {
		referenced, err := s.referenced(ctx, id)
		if err != nil {
			return err
		}
		if referenced {
			continue
		}

		switch action.Kind {
		case syncqueue.KindSubmitLoan, syncqueue.KindUpdateLoanStatus, syncqueue.KindCreateEMISchedule:
			err = s.settleLoan(ctx, id)
		default:
			err = s.emiCache.MarkSynced(ctx, []uuid.UUID{id})
		}
		if err != nil {
			return fmt.Errorf("failed to clear pending flag of %s: %w", id, err)
		}
	}
	return nil
}

// DiscardLoan undoes a local loan write whose sync could not be queued. Without a previous
// state the loan is dropped from the cache; otherwise previous is restored, pending only while
// other queued actions still reference it.
func (s *Store) DiscardLoan(ctx context.Context, id uuid.UUID, previous *loan.Loan) error {
	if previous == nil {
		if err := s.loanCache.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to discard local loan %s: %w", id, err)
		}
		return nil
	}

	referenced, err := s.referenced(ctx, id)
	if err != nil {
		return err
	}
	if err := s.loanCache.Upsert(ctx, []*loan.Loan{previous}, referenced); err != nil {
		return fmt.Errorf("failed to restore local loan %s: %w", id, err)
	}
	return nil
}

// DiscardEMIs drops a locally created schedule whose sync could not be queued
func (s *Store) DiscardEMIs(ctx context.Context, created []*emi.EMI) error {
	ids := make([]uuid.UUID, 0, len(created))
	for _, e := range created {
		ids = append(ids, e.ID)
	}
	if err := s.emiCache.Delete(ctx, ids); err != nil {
		return fmt.Errorf("failed to discard local schedule: %w", err)
	}
	return nil
}

// RevertEMIs restores installments to their state before a local write whose sync could not
// be queued. Each stays pending only while a queued action references it or its loan.
func (s *Store) RevertEMIs(ctx context.Context, previous []*emi.EMI) error {
	for _, e := range previous {
		referenced, err := s.referenced(ctx, e.ID)
		if err != nil {
			return err
		}
		if !referenced {
			if referenced, err = s.referenced(ctx, e.LoanID); err != nil {
				return err
			}
		}
		if err := s.emiCache.Upsert(ctx, []*emi.EMI{e}, referenced); err != nil {
			return fmt.Errorf("failed to restore local emi %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *Store) referenced(ctx context.Context, id uuid.UUID) (bool, error) {
	if s.pending == nil {
		return false, nil
	}
	count, err := s.pending.CountPendingForEntity(ctx, id.String())
	if err != nil {
		return false, fmt.Errorf("failed to count queued actions for %s: %w", id, err)
	}
	return count > 0, nil
}

// settleLoan clears the loan and those of its installments no queued payment still references
func (s *Store) settleLoan(ctx context.Context, loanID uuid.UUID) error {
	if err := s.loanCache.MarkSynced(ctx, loanID); err != nil {
		return err
	}

	emis, err := s.emiCache.ListByLoan(ctx, loanID)
	if err != nil {
		return err
	}
	settled := make([]uuid.UUID, 0, len(emis))
	for _, e := range emis {
		referenced, err := s.referenced(ctx, e.ID)
		if err != nil {
			return err
		}
		if !referenced {
			settled = append(settled, e.ID)
		}
	}
	if len(settled) == 0 {
		return nil
	}
	return s.emiCache.MarkSynced(ctx, settled)
}

func touchedIDs(action *syncqueue.Action) ([]uuid.UUID, error) {
	switch action.Kind {
	case syncqueue.KindSweepOverdue:
		return nil, nil
	case syncqueue.KindMarkReminded:
		var payload syncqueue.RemindedPayload
		if err := action.Decode(&payload); err != nil {
			return nil, err
		}
		ids := make([]uuid.UUID, 0, len(payload.EMIIDs))
		for _, raw := range payload.EMIIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid emi id %q in action %d: %w", raw, action.ID, err)
			}
			ids = append(ids, id)
		}
		return ids, nil
	default:
		id, err := uuid.Parse(action.EntityID)
		if err != nil {
			return nil, fmt.Errorf("invalid entity id %q in action %d: %w", action.EntityID, action.ID, err)
		}
		return []uuid.UUID{id}, nil
	}
}

func mergeLoans(remote, pending []*loan.Loan) []*loan.Loan {
	if len(pending) == 0 {
		return remote
	}
	shadow := make(map[uuid.UUID]*loan.Loan, len(pending))
	for _, l := range pending {
		shadow[l.ID] = l
	}

	merged := make([]*loan.Loan, 0, len(remote)+len(pending))
	for _, l := range remote {
		if local, ok := shadow[l.ID]; ok {
			merged = append(merged, local)
			delete(shadow, l.ID)
			continue
		}
		merged = append(merged, l)
	}
	for _, l := range pending {
		if _, ok := shadow[l.ID]; ok {
			merged = append(merged, l)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return merged
}

func mergeEMIs(remote, pending []*emi.EMI) []*emi.EMI {
	if len(pending) == 0 {
		return remote
	}
	shadow := make(map[uuid.UUID]*emi.EMI, len(pending))
	for _, e := range pending {
		shadow[e.ID] = e
	}

	merged := make([]*emi.EMI, 0, len(remote)+len(pending))
	for _, e := range remote {
		if local, ok := shadow[e.ID]; ok {
			merged = append(merged, local)
			delete(shadow, e.ID)
			continue
		}
		merged = append(merged, e)
	}
	for _, e := range pending {
		if _, ok := shadow[e.ID]; ok {
			merged = append(merged, e)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].DueDate.Equal(merged[j].DueDate) {
			return merged[i].Sequence < merged[j].Sequence
		}
		return merged[i].DueDate.Before(merged[j].DueDate)
	})
	return merged
}
