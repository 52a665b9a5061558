package engine

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const admissionQuery = "data.manifold.registration.deny"

//go:embed admission.rego
var admissionPolicy string

// reservedUsernames cannot be registered by clients.
var reservedUsernames = []string{"admin", "root", "system", "support"}

// OPAEvaluator evaluates the registration admission policy with an in-process OPA Rego engine.
// The policy is compiled once at construction.
type OPAEvaluator struct {
	query   rego.PreparedEvalQuery
	blocked []string
}

// NewOPAEvaluator compiles the admission policy. blockedDomains are compared case-insensitively.
func NewOPAEvaluator(ctx context.Context, blockedDomains []string) (*OPAEvaluator, error) {
	compiler, err := ast.CompileModules(map[string]string{"admission.rego": admissionPolicy})
	if err != nil {
		return nil, fmt.Errorf("compile admission policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(admissionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare admission policy: %w", err)
	}
	blocked := make([]string, 0, len(blockedDomains))
	for _, d := range blockedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			blocked = append(blocked, d)
		}
	}
	return &OPAEvaluator{query: q, blocked: blocked}, nil
}

// EvaluateAdmission implements Evaluator.
func (e *OPAEvaluator) EvaluateAdmission(ctx context.Context, in AdmissionInput) (Decision, error) {
	input := map[string]interface{}{
		"username": in.Username,
		"identity": map[string]interface{}{
			"kind":       in.Kind,
			"identifier": in.Identifier,
		},
		"blocked_domains":    toInterfaces(e.blocked),
		"reserved_usernames": toInterfaces(reservedUsernames),
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval admission policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("admission policy returned no result")
	}
	set, ok := rs[0].Expressions[0].Value.([]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("admission policy returned %T, want set", rs[0].Expressions[0].Value)
	}
	reasons := make([]string, 0, len(set))
	for _, v := range set {
		if s, ok := v.(string); ok {
			reasons = append(reasons, s)
		}
	}
	sort.Strings(reasons)
	return Decision{Allowed: len(reasons) == 0, Reasons: reasons}, nil
}

// HealthCheck verifies that the prepared policy evaluates against a minimal input.
// Does not touch any external store. Returns nil on success.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.EvaluateAdmission(ctx, AdmissionInput{Username: "healthcheck", Kind: "email", Identifier: "health@check.invalid"})
	return err
}

func toInterfaces(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
