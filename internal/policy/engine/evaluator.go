package engine

import "context"

// AdmissionInput is what the admission policy sees about a registration attempt.
// It never carries secrets.
type AdmissionInput struct {
	Username   string
	Kind       string
	Identifier string
}

// Decision is the result of an admission evaluation.
type Decision struct {
	Allowed bool
	// Reasons lists every deny message produced by the policy, sorted.
	Reasons []string
}

// Evaluator decides whether a registration may proceed.
type Evaluator interface {
	EvaluateAdmission(ctx context.Context, in AdmissionInput) (Decision, error)
}
