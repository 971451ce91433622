// Package app assembles a ledger node from configuration. The HTTP binary and the operator
// CLI share it so both see the same local store and sync queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/boliseva-loan-ledger/internal/commands"
	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/data/mongo"
	"github.com/boliseva-loan-ledger/internal/data/postgres"
	redisdata "github.com/boliseva-loan-ledger/internal/data/redis"
	"github.com/boliseva-loan-ledger/internal/data/sqlite"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
	"github.com/boliseva-loan-ledger/internal/ledger"
	"github.com/boliseva-loan-ledger/internal/ledger/login"
	"github.com/boliseva-loan-ledger/internal/ledger/queue"
	"github.com/boliseva-loan-ledger/internal/ledger/ratelimit"
	"github.com/boliseva-loan-ledger/internal/ledger/store"
	"github.com/boliseva-loan-ledger/internal/platform/connectivity"
	"github.com/boliseva-loan-ledger/internal/platform/messaging/producers"
	"github.com/boliseva-loan-ledger/internal/platform/persistence"
	"github.com/boliseva-loan-ledger/internal/platform/sms"
	"github.com/boliseva-loan-ledger/internal/platform/workerpool"
)

// Node is a fully wired ledger node
type Node struct {
	Config     *config.Config
	Logger     *slog.Logger
	Postgres   *persistence.PostgresDB
	Mongo      *persistence.MongoDB
	Redis      *goredis.Client
	Local      *persistence.LocalDB
	LoanCache  *sqlite.LoanCache
	Queue      *queue.Queue
	Ledger     *ledger.Service
	Reconciler *ledger.Reconciler
	Pool       *workerpool.Pool
	Commands   *commands.Commands
	Monitor    *connectivity.Monitor

	events producers.EventPublisher
	dlq    *producers.DLQProducer
}

// New opens every connection and builds the services. Remote stores that are unreachable at
// startup do not fail the node; only the local store is mandatory.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Node, error) {
	n := &Node{Config: cfg, Logger: log}
	clock := shared.SystemClock{}

	local, err := persistence.OpenLocalDB(ctx, log, &cfg.LocalStore)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	n.Local = local

	if n.Postgres, err = persistence.NewPostgresDB(ctx, log, &cfg.Postgres); err != nil {
		n.abandon(ctx)
		return nil, err
	}
	if n.Mongo, err = persistence.NewMongoDB(ctx, log, &cfg.MongoDB); err != nil {
		n.abandon(ctx)
		return nil, err
	}

	n.events, n.dlq = newPublishers(ctx, log, &cfg.Kafka)

	// Repositories and caches
	loanRepo := postgres.NewLoanRepository(log, n.Postgres)
	emiRepo := postgres.NewEMIRepository(log, n.Postgres)
	n.LoanCache = sqlite.NewLoanCache(log, local.DB())
	emiCache := sqlite.NewEMICache(log, local.DB())
	queueRepo := sqlite.NewQueueRepository(log, local.DB())

	var deadLetters queue.DeadLetterPublisher
	if n.dlq != nil {
		deadLetters = n.dlq
	}
	n.Queue = queue.New(&cfg.SyncQueue, queueRepo, deadLetters, clock, log)

	st := store.New(log, loanRepo, emiRepo, n.LoanCache, emiCache, queueRepo, cfg.Remote.Timeout)
	n.Ledger = ledger.NewService(&cfg.Ledger, st, loanRepo, emiRepo, n.Queue, n.events, clock, log)
	n.Queue.Attach(n.Ledger)

	if n.Pool, err = workerpool.New(cfg.WorkerPool.Size, log); err != nil {
		n.abandon(ctx)
		return nil, err
	}
	n.Reconciler = ledger.NewReconciler(n.Ledger, n.Pool, log)

	windows, err := n.windowStore(ctx)
	if err != nil {
		n.abandon(ctx)
		return nil, err
	}
	limiter := ratelimit.NewLimiter(&cfg.RateLimit, windows, clock, log)

	gateway := sms.NewGateway(log, &cfg.SMS)
	otpRepo := mongo.NewOTPAttemptRepository(log, n.Mongo.Database())
	loginSvc := login.NewService(&cfg.OTP, &cfg.SMS, otpRepo, limiter, gateway, clock, log)

	n.Commands = commands.New(n.Ledger, limiter, loginSvc, n.Queue, log)

	n.Monitor = connectivity.NewMonitor(&cfg.Connectivity, n.Postgres, log)
	n.Monitor.OnReconnect(n.Resync)

	return n, nil
}

// abandon releases whatever a failed New already opened
func (n *Node) abandon(ctx context.Context) {
	if err := n.Close(ctx); err != nil {
		n.Logger.Error("Error closing partially initialized ledger node", "error", err)
	}
}

// newPublishers connects the event and dead letter producers. A node that cannot reach Kafka
// keeps working without events.
func newPublishers(ctx context.Context, log *slog.Logger, cfg *config.KafkaConfig) (producers.EventPublisher, *producers.DLQProducer) {
	if !cfg.Enabled {
		log.Info("Kafka disabled, ledger events will not be published")
		return producers.NopPublisher{}, nil
	}

	var events producers.EventPublisher = producers.NopPublisher{}
	if p, err := producers.NewLedgerEventProducer(ctx, log, cfg); err != nil {
		log.Warn("Ledger event producer unavailable, events will be dropped", "error", err)
	} else {
		events = p
	}

	dlq, err := producers.NewDLQProducer(ctx, log, cfg)
	if err != nil {
		log.Warn("DLQ producer unavailable, dead letters stay local only", "error", err)
		return events, nil
	}
	return events, dlq
}

// windowStore picks where OTP attempts are counted
func (n *Node) windowStore(ctx context.Context) (ratelimit.WindowStore, error) {
	if n.Config.RateLimit.Backend != "redis" {
		return ratelimit.NewLocalWindowStore(n.Logger, sqlite.NewKVStore(n.Local.DB())), nil
	}

	client, err := persistence.NewRedisClient(ctx, n.Logger, &n.Config.Redis, nil)
	if err != nil {
		return nil, err
	}
	n.Redis = client
	return redisdata.NewWindowStore(client), nil
}

// Resync replays the sync queue and then backfills schedules for every cached borrower.
// It runs whenever the remote ledger becomes reachable again.
func (n *Node) Resync(ctx context.Context) {
	report, err := n.Queue.Drain(ctx)
	if err != nil {
		n.Logger.Error("Sync after reconnect failed", "error", err)
		return
	}
	n.Logger.Info("Sync after reconnect finished",
		"applied", report.Applied,
		"dead_lettered", report.DeadLettered,
		"remaining", report.Remaining,
	)
	if report.Stopped {
		return
	}

	users, err := n.LoanCache.Users(ctx)
	if err != nil {
		n.Logger.Error("Failed to list cached borrowers", "error", err)
		return
	}
	if _, err := n.Reconciler.BackfillUsers(ctx, users); err != nil {
		n.Logger.Warn("Backfill after reconnect incomplete", "error", err)
	}
}

// Close releases every connection. It is safe on a partially built node.
func (n *Node) Close(ctx context.Context) error {
	var errs []error

	if n.Pool != nil {
		n.Pool.Shutdown()
	}
	if n.events != nil {
		if err := n.events.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.dlq != nil {
		if err := n.dlq.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if n.Redis != nil {
		if err := n.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis client: %w", err))
		}
	}
	if n.Mongo != nil {
		if err := n.Mongo.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if n.Postgres != nil {
		n.Postgres.Close()
	}
	if n.Local != nil {
		if err := n.Local.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
