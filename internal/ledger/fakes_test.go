package ledger

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"sort"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/data/sqlite"
	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
	"github.com/boliseva-loan-ledger/internal/ledger/queue"
	"github.com/boliseva-loan-ledger/internal/ledger/store"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
)

var errUnreachable = &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}

// remoteLedger is an in-memory remote ledger that can be taken offline
type remoteLedger struct {
	mu      sync.Mutex
	offline bool
	loans   map[uuid.UUID]loan.Loan
	emis    map[uuid.UUID]emi.EMI
}

func newRemoteLedger() *remoteLedger {
	return &remoteLedger{loans: map[uuid.UUID]loan.Loan{}, emis: map[uuid.UUID]emi.EMI{}}
}

func (r *remoteLedger) setOffline(offline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = offline
}

func (r *remoteLedger) lock() error {
	r.mu.Lock()
	if r.offline {
		r.mu.Unlock()
		return errUnreachable
	}
	return nil
}

func (r *remoteLedger) emisOf(loanID uuid.UUID) []emi.EMI {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []emi.EMI
	for _, e := range r.emis {
		if e.LoanID == loanID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out
}

func (r *remoteLedger) loan(id uuid.UUID) (loan.Loan, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loans[id]
	return l, ok
}

type remoteLoans struct{ *remoteLedger }

func (r remoteLoans) Create(_ context.Context, l *loan.Loan) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.mu.Unlock()
	if _, ok := r.loans[l.ID]; ok {
		return loan.ErrDuplicateLoan{LoanID: l.ID}
	}
	r.loans[l.ID] = *l
	return nil
}

func (r remoteLoans) GetByID(_ context.Context, id uuid.UUID) (*loan.Loan, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	l, ok := r.loans[id]
	if !ok {
		return nil, loan.ErrLoanNotFound{LoanID: id}
	}
	return &l, nil
}

func (r remoteLoans) ListByUser(_ context.Context, userID string) ([]*loan.Loan, error) {
	return r.list(func(l loan.Loan) bool { return l.UserID == userID })
}

func (r remoteLoans) ListByStatus(_ context.Context, status loan.Status) ([]*loan.Loan, error) {
	return r.list(func(l loan.Loan) bool { return l.Status == status })
}

func (r remoteLoans) list(match func(loan.Loan) bool) ([]*loan.Loan, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	out := []*loan.Loan{}
	for _, l := range r.loans {
		if match(l) {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r remoteLoans) Update(_ context.Context, l *loan.Loan) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.mu.Unlock()
	if _, ok := r.loans[l.ID]; !ok {
		return loan.ErrLoanNotFound{LoanID: l.ID}
	}
	r.loans[l.ID] = *l
	return nil
}

type remoteEMIs struct{ *remoteLedger }

func (r remoteEMIs) CreateBatch(_ context.Context, emis []*emi.EMI) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.mu.Unlock()
	for _, e := range emis {
		if _, ok := r.emis[e.ID]; !ok {
			r.emis[e.ID] = *e
		}
	}
	return nil
}

func (r remoteEMIs) GetByID(_ context.Context, id uuid.UUID) (*emi.EMI, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	e, ok := r.emis[id]
	if !ok {
		return nil, emi.ErrEMINotFound{EMIID: id}
	}
	return &e, nil
}

func (r remoteEMIs) ListByLoan(_ context.Context, loanID uuid.UUID) ([]*emi.EMI, error) {
	return r.list(func(e emi.EMI) bool { return e.LoanID == loanID })
}

func (r remoteEMIs) ListByUser(_ context.Context, userID string) ([]*emi.EMI, error) {
	return r.list(func(e emi.EMI) bool { return e.UserID == userID })
}

func (r remoteEMIs) ListNeedingReminder(_ context.Context, asOf time.Time) ([]*emi.EMI, error) {
	return r.list(func(e emi.EMI) bool { return e.NeedsReminder(asOf) })
}

func (r remoteEMIs) list(match func(emi.EMI) bool) ([]*emi.EMI, error) {
	if err := r.lock(); err != nil {
		return nil, err
	}
	defer r.mu.Unlock()
	out := []*emi.EMI{}
	for _, e := range r.emis {
		if match(e) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueDate.Equal(out[j].DueDate) {
			return out[i].Sequence < out[j].Sequence
		}
		return out[i].DueDate.Before(out[j].DueDate)
	})
	return out, nil
}

func (r remoteEMIs) CountByLoan(_ context.Context, loanID uuid.UUID) (int, error) {
	if err := r.lock(); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.emis {
		if e.LoanID == loanID {
			count++
		}
	}
	return count, nil
}

func (r remoteEMIs) Update(_ context.Context, e *emi.EMI) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.mu.Unlock()
	if _, ok := r.emis[e.ID]; !ok {
		return emi.ErrEMINotFound{EMIID: e.ID}
	}
	r.emis[e.ID] = *e
	return nil
}

func (r remoteEMIs) MarkOverdue(_ context.Context, asOf time.Time) (int64, error) {
	if err := r.lock(); err != nil {
		return 0, err
	}
	defer r.mu.Unlock()
	var changed int64
	for id, e := range r.emis {
		if e.MarkOverdue(asOf) {
			r.emis[id] = e
			changed++
		}
	}
	return changed, nil
}

func (r remoteEMIs) MarkReminded(_ context.Context, ids []uuid.UUID) error {
	if err := r.lock(); err != nil {
		return err
	}
	defer r.mu.Unlock()
	for _, id := range ids {
		if e, ok := r.emis[id]; ok {
			e.ReminderSent = true
			r.emis[id] = e
		}
	}
	return nil
}

// eventRecorder collects published events
type eventRecorder struct {
	mu     sync.Mutex
	events []shared.LedgerEvent
}

func (r *eventRecorder) PublishEvent(_ context.Context, event shared.LedgerEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) ofType(eventType shared.EventType) []shared.LedgerEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.LedgerEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

type harness struct {
	svc       *Service
	store     *store.Store
	remote    *remoteLedger
	queue     *queue.Queue
	events    *eventRecorder
	clock     *testClock
	loanCache *sqlite.LoanCache
	emiCache  *sqlite.EMICache
	logger    *slog.Logger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, persistence.RunLocalMigrations(context.Background(), db))

	h := &harness{
		remote:    newRemoteLedger(),
		events:    &eventRecorder{},
		clock:     &testClock{now: time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)},
		loanCache: sqlite.NewLoanCache(logger, db),
		emiCache:  sqlite.NewEMICache(logger, db),
		logger:    logger,
	}

	queueRepo := sqlite.NewQueueRepository(logger, db)
	h.queue = queue.New(&config.SyncQueueConfig{BatchSize: 10, MaxRetryAttempts: 3}, queueRepo, nil, h.clock, logger)

	loans := remoteLoans{h.remote}
	emis := remoteEMIs{h.remote}
	st := store.New(logger, loans, emis, h.loanCache, h.emiCache, queueRepo, time.Second)
	h.store = st

	h.svc = NewService(
		&config.LedgerConfig{DefaultTenureMonths: 12, DefaultAnnualRate: 12, AnchorDay: 5},
		st, loans, emis, h.queue, h.events, h.clock, logger,
	)
	h.queue.Attach(h.svc)
	return h
}

// failingEnqueuer rejects actions of one kind, or of every kind when kind is empty, and
// forwards the rest to next
type failingEnqueuer struct {
	next Enqueuer
	kind syncqueue.Kind
}

func (f failingEnqueuer) Enqueue(ctx context.Context, action *syncqueue.Action) error {
	if f.kind == "" || action.Kind == f.kind {
		return errors.New("sync queue unavailable")
	}
	return f.next.Enqueue(ctx, action)
}

// withBrokenQueue returns a service sharing the harness store whose queue rejects actions of kind
func (h *harness) withBrokenQueue(kind syncqueue.Kind) *Service {
	return NewService(
		&config.LedgerConfig{DefaultTenureMonths: 12, DefaultAnnualRate: 12, AnchorDay: 5},
		h.store, remoteLoans{h.remote}, remoteEMIs{h.remote}, failingEnqueuer{next: h.queue, kind: kind},
		h.events, h.clock, h.logger,
	)
}

func (h *harness) pendingActions(t *testing.T) int {
	t.Helper()
	stats, err := h.queue.Stats(context.Background())
	require.NoError(t, err)
	return stats.Pending
}

func farmerDraft(userID string) loan.Draft {
	return loan.Draft{
		UserID:        userID,
		Category:      loan.CategoryAgriculture,
		Principal:     100000,
		Purpose:       "seeds and fertiliser",
		MonthlyIncome: 15000,
		Employment:    loan.EmploymentFarmer,
		TenureMonths:  12,
		AnnualRate:    12,
		ContactPhone:  "+919876543210",
	}
}
