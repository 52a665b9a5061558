// migrate applies or rolls back the embedded users, login_identities and audit_logs migrations.
//
//	go run ./cmd/migrate                     # all the way up
//	go run ./cmd/migrate -direction down -steps 1
package main

import (
	"flag"
	"fmt"
	"log"

	"manifold/backend/internal/config"
	"manifold/backend/internal/db/migrate"
	"manifold/backend/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	steps := flag.Int("steps", 0, "Number of migrations to apply (0 = all)")
	flag.Parse()

	dir, err := migrate.ParseDirection(*direction)
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(logging.Options{Development: cfg.IsDevelopment(), Level: cfg.LogLevel})
	if err != nil {
		log.Fatalf("logging: %v", err)
	}

	status, err := migrate.Run(cfg.DatabaseURL, migrate.Options{Direction: dir, Steps: *steps, Log: logger})
	if err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Printf("migrate %s: schema at version %d (dirty=%t)\n", dir, status.Version, status.Dirty)
}
