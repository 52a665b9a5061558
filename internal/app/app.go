// Package app wires configuration into the registration services shared by cmd/server and cmd/seed.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"manifold/backend/internal/audit"
	auditrepo "manifold/backend/internal/audit/repository"
	"manifold/backend/internal/config"
	"manifold/backend/internal/db"
	identityrepo "manifold/backend/internal/identity/repository"
	"manifold/backend/internal/identity/registry"
	"manifold/backend/internal/kv"
	"manifold/backend/internal/notify"
	"manifold/backend/internal/policy/engine"
	"manifold/backend/internal/registration/service"
	"manifold/backend/internal/security"
	"manifold/backend/internal/server/middleware"
	"manifold/backend/internal/tokenstore"
	userrepo "manifold/backend/internal/user/repository"
)

// App holds the long-lived dependencies of the service.
type App struct {
	DB        *sql.DB
	Redis     *redis.Client
	Tokens    *tokenstore.RedisStore
	Policy    *engine.OPAEvaluator
	Users     userrepo.Repository
	AuditLogs auditrepo.Repository
	Audit     *audit.Logger
	Saga      *service.Saga
	Verifier  *service.Verifier

	closers []func() error
}

// Build opens the stores, compiles the admission policy and assembles the saga and verifier.
// notifier overrides the notifier selected by cfg.Notifier when non-nil.
func Build(ctx context.Context, cfg *config.Config, log *slog.Logger, notifier notify.Notifier) (*App, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: DATABASE_URL is required")
	}
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: database: %w", err)
	}
	a.DB = conn
	a.closers = append(a.closers, conn.Close)

	rdb, err := kv.Open(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("app: redis: %w", err)
	}
	a.Redis = rdb
	a.closers = append(a.closers, rdb.Close)
	a.Tokens = tokenstore.NewRedisStore(rdb, tokenstore.RedisOptions{
		Prefix:  cfg.RedisKeyPrefix,
		TTL:     cfg.TokenTTL(),
		Timeout: cfg.KVCallTimeout(),
	})

	a.Policy, err = engine.NewOPAEvaluator(ctx, cfg.BlockedEmailDomainsList())
	if err != nil {
		return nil, fmt.Errorf("app: admission policy: %w", err)
	}

	if notifier == nil {
		n, closeFn, err := NewNotifier(cfg, log)
		if err != nil {
			return nil, err
		}
		notifier = n
		if closeFn != nil {
			a.closers = append(a.closers, closeFn)
		}
	}

	a.Users = userrepo.NewPostgresRepository(conn)
	reg, err := registry.New(identityrepo.NewPostgresRepository(conn), security.NewHasher(cfg.BcryptCost))
	if err != nil {
		return nil, fmt.Errorf("app: registry: %w", err)
	}
	a.AuditLogs = auditrepo.NewPostgresRepository(conn)
	a.Audit = audit.NewLogger(a.AuditLogs, middleware.ClientIP, log, cfg.DBCallTimeout())

	deps := service.Deps{
		Users:    a.Users,
		Registry: reg,
		Tokens:   a.Tokens,
		Notifier: notifier,
		Policy:   a.Policy,
		Audit:    a.Audit,
		Log:      log,
		Timeouts: service.Timeouts{
			DB:     cfg.DBCallTimeout(),
			KV:     cfg.KVCallTimeout(),
			Notify: cfg.NotifyCallTimeout(),
		},
	}
	if a.Saga, err = service.NewSaga(deps); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if a.Verifier, err = service.NewVerifier(deps); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	ok = true
	return a, nil
}

// NewNotifier builds the notifier selected by cfg.Notifier. The returned close function may be nil.
func NewNotifier(cfg *config.Config, log *slog.Logger) (notify.Notifier, func() error, error) {
	switch cfg.Notifier {
	case "kafka":
		n, err := notify.NewKafkaNotifier(cfg.KafkaBrokersList(), cfg.NotifyKafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		return n, n.Close, nil
	}

	renderer, err := notify.NewRenderer(cfg.PublicBaseURL, cfg.TokenTTL())
	if err != nil {
		return nil, nil, fmt.Errorf("app: templates: %w", err)
	}
	switch cfg.Notifier {
	case "smtp":
		n, err := notify.NewSMTPNotifier(SMTPConfig(cfg), renderer)
		if err != nil {
			return nil, nil, err
		}
		return n, nil, nil
	case "log", "":
		return notify.NewLogNotifier(renderer, log), nil, nil
	}
	return nil, nil, fmt.Errorf("app: unknown notifier %q", cfg.Notifier)
}

// SMTPConfig extracts the SMTP settings from cfg.
func SMTPConfig(cfg *config.Config) notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		TLS:      cfg.SMTPTLS,
		Timeout:  cfg.NotifyCallTimeout(),
	}
}

// Close releases everything Build opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
