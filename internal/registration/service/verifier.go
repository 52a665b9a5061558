package service

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	auditdomain "manifold/backend/internal/audit/domain"
	"manifold/backend/internal/tokenstore"
)

// Verifier redeems verification tokens and marks the owning login identity verified.
type Verifier struct {
	tokens   tokenstore.Store
	registry IdentityRegistry
	audit    AuditLogger
	log      *slog.Logger
	timeouts Timeouts
	inst     *instruments
}

// NewVerifier returns a Verifier. Tokens and Registry are required; the rest of d is optional.
func NewVerifier(d Deps) (*Verifier, error) {
	if d.Tokens == nil || d.Registry == nil {
		return nil, errors.New("verification: tokens and registry are required")
	}
	if d.Log == nil {
		d.Log = slog.New(slog.DiscardHandler)
	}
	return &Verifier{
		tokens:   d.Tokens,
		registry: d.Registry,
		audit:    d.Audit,
		log:      d.Log,
		timeouts: d.Timeouts.withDefaults(),
		inst:     newInstruments(),
	}, nil
}

// Verify redeems token and marks the subject's identity verified, returning the subject's user ID.
// A token is consumed by the attempt even when persisting the verification fails; the caller must
// issue a new one in that case.
func (v *Verifier) Verify(ctx context.Context, token string) (string, error) {
	ctx, span := v.inst.tracer.Start(context.WithoutCancel(ctx), "registration.Verify")
	defer span.End()

	userID, err := v.verify(ctx, token)
	outcome := "success"
	if err != nil {
		var verr *VerificationError
		if errors.As(err, &verr) {
			outcome = verr.Kind.Error()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "verification failed")
	}
	v.inst.verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return userID, err
}

func (v *Verifier) verify(ctx context.Context, token string) (string, error) {
	claims, err := call(ctx, v.timeouts.KV, func(ctx context.Context) (*tokenstore.Claims, error) {
		return v.tokens.Redeem(ctx, token)
	})
	if err != nil {
		if errors.Is(err, tokenstore.ErrTokenNotFound) {
			v.log.InfoContext(ctx, "verification: token not found or expired")
			return "", &VerificationError{Kind: ErrInvalidOrExpiredToken}
		}
		v.log.ErrorContext(ctx, "verification: token store failure", "error", err)
		return "", &VerificationError{Kind: ErrStoreUnavailable, Cause: err}
	}

	err = do(ctx, v.timeouts.DB, func(ctx context.Context) error {
		return v.registry.MarkVerified(ctx, claims.Subject, claims.Kind)
	})
	if err != nil {
		v.log.ErrorContext(ctx, "verification: token consumed but identity not marked verified",
			"user_id", claims.Subject, "kind", claims.Kind, "error", err)
		return "", &VerificationError{Kind: ErrVerificationPersistFailed, UserID: claims.Subject, Cause: err}
	}

	if v.audit != nil {
		v.audit.LogEvent(ctx, claims.Subject, auditdomain.ActionIdentityVerified, "login_identity",
			map[string]string{"kind": string(claims.Kind)})
	}
	v.log.InfoContext(ctx, "verification: identity verified", "user_id", claims.Subject, "kind", claims.Kind)
	return claims.Subject, nil
}
