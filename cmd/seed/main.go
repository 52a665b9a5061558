// seed registers development users through the registration saga for local testing.
// Idempotent: users whose email is already registered are skipped. The dev user is verified
// immediately; the member user is left unverified and its verification link is printed. Finishes
// with a listing of users and their recent audit entries.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"manifold/backend/internal/app"
	"manifold/backend/internal/config"
	identitydomain "manifold/backend/internal/identity/domain"
	"manifold/backend/internal/notify"
	"manifold/backend/internal/registration/service"
)

const (
	devUsername    = "dev"
	devUserEmail   = "dev@example.com"
	memberUsername = "member"
	memberEmail    = "member@example.com"
	devPassword    = "password123"
)

// capturingNotifier keeps the last message per recipient instead of delivering it.
type capturingNotifier struct {
	mu   sync.Mutex
	sent map[string]notify.Message
}

func (c *capturingNotifier) Send(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[msg.Recipient] = msg
	return nil
}

func (c *capturingNotifier) token(recipient string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[recipient].Token
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	logger, shutdownTelemetry, err := app.Observability(ctx, cfg, "manifold/backend/cmd/seed")
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer func() { _ = shutdownTelemetry(ctx) }()

	captured := &capturingNotifier{sent: make(map[string]notify.Message)}
	a, err := app.Build(ctx, cfg, logger, captured)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	renderer, err := notify.NewRenderer(cfg.PublicBaseURL, cfg.TokenTTL())
	if err != nil {
		log.Fatalf("templates: %v", err)
	}

	if register(ctx, a.Saga, devUsername, devUserEmail) {
		userID, err := a.Verifier.Verify(ctx, captured.token(devUserEmail))
		if err != nil {
			log.Fatalf("verify dev user: %v", err)
		}
		log.Printf("Verified dev user %s.", userID)
	}
	if register(ctx, a.Saga, memberUsername, memberEmail) {
		log.Printf("Member verification link: %s", renderer.VerifyURL(captured.token(memberEmail)))
	}

	if err := summarize(ctx, a); err != nil {
		log.Fatalf("summary: %v", err)
	}
	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s / %s\n", devUserEmail, devPassword)
	fmt.Printf("Member login: %s / %s\n", memberEmail, devPassword)
}

// register creates one user and reports whether it was new.
func register(ctx context.Context, saga *service.Saga, username, email string) bool {
	user, err := saga.Register(ctx, service.NewUser{
		Username: username,
		Identity: identitydomain.EmailPassword{Email: email, Password: devPassword},
	})
	if errors.Is(err, service.ErrDuplicateIdentity) {
		log.Printf("Seed user %s already exists. Skipping.", email)
		return false
	}
	if err != nil {
		log.Fatalf("register %s: %v", email, err)
	}
	log.Printf("Registered %s as %s.", email, user.ID)
	return true
}

// summarize prints the first page of users with their most recent audit entries.
func summarize(ctx context.Context, a *app.App) error {
	users, err := a.Users.List(ctx, 20, 0)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range users {
		fmt.Printf("%s  %-10s created %s\n", u.ID, u.Username, u.CreatedAt.Format(time.RFC3339))
		entries, err := a.AuditLogs.ListByUser(ctx, u.ID, 5, 0)
		if err != nil {
			return fmt.Errorf("audit for %s: %w", u.ID, err)
		}
		for _, e := range entries {
			fmt.Printf("    %s  %s %s\n", e.CreatedAt.Format(time.RFC3339), e.Action, e.Metadata)
		}
	}
	return nil
}
