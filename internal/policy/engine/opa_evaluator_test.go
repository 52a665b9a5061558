package engine

import (
	"context"
	"strings"
	"testing"
)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_EvaluateAdmission(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, []string{" Mailinator.com ", "", "spam.example"})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}

	testCases := []struct {
		name       string
		in         AdmissionInput
		allowed    bool
		reasonPart string
	}{
		{"allowed", AdmissionInput{Username: "alice", Kind: "email", Identifier: "alice@example.com"}, true, ""},
		{"blocked domain", AdmissionInput{Username: "bob", Kind: "email", Identifier: "bob@mailinator.com"}, false, "mailinator.com"},
		{"blocked domain mixed case", AdmissionInput{Username: "bob", Kind: "email", Identifier: "bob@SPAM.Example"}, false, "spam.example"},
		{"subdomain not blocked", AdmissionInput{Username: "bob", Kind: "email", Identifier: "bob@eu.mailinator.com"}, true, ""},
		{"reserved username", AdmissionInput{Username: "Admin", Kind: "email", Identifier: "x@example.com"}, false, "reserved"},
		{"other kind ignores domains", AdmissionInput{Username: "carol", Kind: "phone", Identifier: "carol@mailinator.com"}, true, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := e.EvaluateAdmission(ctx, tc.in)
			if err != nil {
				t.Fatalf("EvaluateAdmission: %v", err)
			}
			if d.Allowed != tc.allowed {
				t.Fatalf("Allowed = %v, want %v (reasons %v)", d.Allowed, tc.allowed, d.Reasons)
			}
			if tc.reasonPart != "" && (len(d.Reasons) == 0 || !strings.Contains(d.Reasons[0], tc.reasonPart)) {
				t.Errorf("Reasons = %v, want one containing %q", d.Reasons, tc.reasonPart)
			}
			if tc.allowed && len(d.Reasons) != 0 {
				t.Errorf("allowed decision should carry no reasons, got %v", d.Reasons)
			}
		})
	}
}

func TestOPAEvaluator_MultipleReasons(t *testing.T) {
	ctx := context.Background()
	e, err := NewOPAEvaluator(ctx, []string{"mailinator.com"})
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	d, err := e.EvaluateAdmission(ctx, AdmissionInput{Username: "root", Kind: "email", Identifier: "r@mailinator.com"})
	if err != nil {
		t.Fatalf("EvaluateAdmission: %v", err)
	}
	if d.Allowed || len(d.Reasons) != 2 {
		t.Fatalf("decision = %+v, want two deny reasons", d)
	}
}
