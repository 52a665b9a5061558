// Worker consumes queued verification messages from Kafka and delivers them by SMTP.
// Set KAFKA_BROKERS, NOTIFY_KAFKA_TOPIC, KAFKA_GROUP_ID and the SMTP_* settings.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"manifold/backend/internal/app"
	"manifold/backend/internal/config"
	"manifold/backend/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.SMTPHost == "" {
		log.Fatal("worker: SMTP_HOST is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, shutdownTelemetry, err := app.Observability(ctx, cfg, "manifold/backend/cmd/worker")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTelemetry(sctx)
	}()

	renderer, err := notify.NewRenderer(cfg.PublicBaseURL, cfg.TokenTTL())
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	smtp, err := notify.NewSMTPNotifier(app.SMTPConfig(cfg), renderer)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    cfg.NotifyKafkaTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  1 * time.Second,
	})
	defer reader.Close()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info("worker: shutting down...")
		cancel()
	}()

	logger.Info("worker: consuming", "topic", cfg.NotifyKafkaTopic, "group", cfg.KafkaGroupID, "smtp_host", cfg.SMTPHost)
	if err := notify.NewConsumer(reader, smtp, logger, cfg.NotifyCallTimeout()).Run(ctx); err != nil {
		logger.Error("worker: stopped with error", "error", err)
		return
	}
	logger.Info("worker: stopped")
}
