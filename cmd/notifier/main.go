package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/logger"
	"github.com/boliseva-loan-ledger/internal/notifier"
	"github.com/boliseva-loan-ledger/internal/platform/messaging/consumers"
	"github.com/boliseva-loan-ledger/internal/platform/messaging/producers"
	"github.com/boliseva-loan-ledger/internal/platform/sms"
	"github.com/boliseva-loan-ledger/internal/platform/workerpool"
)

func main() {
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	cfg, err := config.LoadConfig("notifier")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg)
	log.Info("Starting borrower notifier",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
		"topic", cfg.Kafka.EventsTopic,
	)

	pool, err := workerpool.New(cfg.WorkerPool.Size, log)
	if err != nil {
		log.Error("Failed to initialize worker pool", "error", err)
		os.Exit(1)
	}

	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka)
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	// dlqProducer is nil when no DLQ topic is configured
	var dlq producers.DeadLetterPublisher
	if dlqProducer != nil {
		dlq = dlqProducer
	}

	handler := notifier.New(log, sms.NewGateway(log, &cfg.SMS), dlq, pool)

	kafkaConsumer := consumers.NewKafkaConsumer(appCtx, log, &cfg.Kafka)
	if err := kafkaConsumer.Subscribe(appCtx, handler.HandleMessage); err != nil {
		log.Error("Failed to subscribe to ledger events", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	log.Info("Shutdown signal received")

	cancelAppCtx()

	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}
	pool.Shutdown()
	if dlqProducer != nil {
		if err = dlqProducer.Close(); err != nil {
			log.Error("Error closing DLQ Kafka producer", "error", err)
		}
	}

	log.Info("Notifier shutdown completed")
}
