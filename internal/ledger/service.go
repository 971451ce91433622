// Package ledger owns every mutation of loans and installments. Writes go through the two-tier
// store; anything that only reached the local cache is queued for replay.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/domain/amortization"
	"github.com/boliseva-loan-ledger/internal/domain/emi"
	"github.com/boliseva-loan-ledger/internal/domain/loan"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/domain/syncqueue"
	"github.com/boliseva-loan-ledger/internal/ledger/store"
)

// Store is the two-tier persistence the ledger writes through
type Store interface {
	CreateLoan(ctx context.Context, l *loan.Loan) (store.WriteResult, error)
	UpdateLoan(ctx context.Context, l *loan.Loan) (store.WriteResult, error)
	CreateEMIs(ctx context.Context, loanID uuid.UUID, emis []*emi.EMI) (store.WriteResult, error)
	UpdateEMI(ctx context.Context, e *emi.EMI) (store.WriteResult, error)
	MarkReminded(ctx context.Context, emis []*emi.EMI) (store.WriteResult, error)
	MarkOverdue(ctx context.Context, asOf time.Time) (int64, store.WriteResult, error)
	ListNeedingReminder(ctx context.Context, asOf time.Time) ([]*emi.EMI, error)
	CountEMIs(ctx context.Context, loanID uuid.UUID) (int, bool, error)

	Loan(ctx context.Context, id uuid.UUID) (*loan.Loan, bool, error)
	LoansByUser(ctx context.Context, userID string) ([]*loan.Loan, bool, error)
	LoansByStatus(ctx context.Context, status loan.Status) ([]*loan.Loan, bool, error)
	EMI(ctx context.Context, id uuid.UUID) (*emi.EMI, bool, error)
	EMIsByUser(ctx context.Context, userID string) ([]*emi.EMI, bool, error)
	EMIsByLoan(ctx context.Context, loanID uuid.UUID) ([]*emi.EMI, bool, error)

	Remote(ctx context.Context, op string, fn func(ctx context.Context) error) error
	ClearPending(ctx context.Context, action *syncqueue.Action) error

	DiscardLoan(ctx context.Context, id uuid.UUID, previous *loan.Loan) error
	DiscardEMIs(ctx context.Context, created []*emi.EMI) error
	RevertEMIs(ctx context.Context, previous []*emi.EMI) error
}

// Enqueuer appends actions to the sync queue
type Enqueuer interface {
	Enqueue(ctx context.Context, action *syncqueue.Action) error
}

// EventPublisher publishes ledger events
type EventPublisher interface {
	PublishEvent(ctx context.Context, event shared.LedgerEvent) error
}

// Outcome tells the caller how far a command got
type Outcome struct {
	Degraded bool `json:"degraded"` // Written locally only, queued for replay
	Stale    bool `json:"stale"`    // Served from the local cache
}

func (o Outcome) merge(other Outcome) Outcome {
	return Outcome{Degraded: o.Degraded || other.Degraded, Stale: o.Stale || other.Stale}
}

// Service is the loan ledger
type Service struct {
	store         Store
	loans         loan.Repository
	emis          emi.Repository
	queue         Enqueuer
	events        EventPublisher
	engine        *amortization.Engine
	catalog       loan.Catalog
	clock         shared.Clock
	logger        *slog.Logger
	defaultTenure int
	defaultRate   float64
	inFlight      sync.Map
}

// NewService wires the ledger. loans and emis are the remote repositories used to replay
// queued actions.
func NewService(
	cfg *config.LedgerConfig,
	st Store,
	loans loan.Repository,
	emis emi.Repository,
	queue Enqueuer,
	events EventPublisher,
	clock shared.Clock,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:         st,
		loans:         loans,
		emis:          emis,
		queue:         queue,
		events:        events,
		engine:        amortization.NewEngine(cfg.AnchorDay),
		catalog:       loan.DefaultCatalog(),
		clock:         clock,
		logger:        logger,
		defaultTenure: cfg.DefaultTenureMonths,
		defaultRate:   cfg.DefaultAnnualRate,
	}
}

// enqueue records an action for a write that only reached the local cache
func (s *Service) enqueue(ctx context.Context, kind syncqueue.Kind, entityID, userID string, payload any) error {
	action, err := syncqueue.NewAction(kind, entityID, userID, payload, s.clock.Now())
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, action); err != nil {
		s.logger.Error("Failed to queue action, local change will not sync", "kind", kind, "entity_id", entityID, "error", err)
		return fmt.Errorf("failed to queue %s for %s: %w", kind, entityID, err)
	}
	return nil
}

// undo reverts a local write whose action could not be queued, so no pending row is left
// without an action to sync it
func (s *Service) undo(ctx context.Context, change string, revert func(ctx context.Context) error) {
	if err := revert(ctx); err != nil {
		s.logger.Error("Failed to undo local change that could not be queued", "change", change, "error", err)
	}
}

// publish sends an event; failures are logged and never undo the ledger change
func (s *Service) publish(ctx context.Context, event shared.LedgerEvent) {
	if s.events == nil {
		return
	}
	event.ID = uuid.New()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		s.logger.Warn("Failed to publish ledger event", "type", event.Type, "loan_id", event.LoanID.String(), "error", err)
	}
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, shared.ValidationError{Field: field, Reason: "must be a valid id"}
	}
	return id, nil
}

func requireUser(userID string) error {
	if userID == "" {
		return shared.ValidationError{Field: "user_id", Reason: "is required"}
	}
	return nil
}
