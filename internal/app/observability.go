package app

import (
	"context"
	"fmt"
	"log/slog"

	otellog "go.opentelemetry.io/otel/log"

	"manifold/backend/internal/config"
	"manifold/backend/internal/logging"
	"manifold/backend/internal/telemetry/otel"
)

// Observability creates the OTel providers, installs them globally and returns a logger that
// also feeds the OTel log pipeline when an endpoint is configured. Call shutdown before exit.
func Observability(ctx context.Context, cfg *config.Config, name string) (log *slog.Logger, shutdown func(context.Context) error, err error) {
	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()

	var lp otellog.LoggerProvider
	if providers.Exporting {
		lp = providers.LoggerProvider
	}
	log, err = logging.New(logging.Options{
		Development:    cfg.IsDevelopment(),
		Level:          cfg.LogLevel,
		LoggerProvider: lp,
		Name:           name,
	})
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, nil, fmt.Errorf("logging: %w", err)
	}
	return log.With("service", cfg.ServiceName), providers.Shutdown, nil
}
