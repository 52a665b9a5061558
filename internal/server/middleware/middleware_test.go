package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientIPFromRequest(t *testing.T) {
	testCases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.1"},
		{"forwarded single", map[string]string{"X-Forwarded-For": " 203.0.113.9 "}, "", "203.0.113.9"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.2:1234", "198.51.100.7"},
		{"remote addr", nil, "192.0.2.3:5555", "192.0.2.3"},
		{"remote addr without port", nil, "192.0.2.3", "192.0.2.3"},
		{"nothing", nil, "", "unknown"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				r.Header.Set(k, v)
			}
			if got := clientIPFromRequest(r); got != tc.want {
				t.Errorf("clientIPFromRequest = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequestContext(t *testing.T) {
	var got string
	h := RequestContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIP(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "198.51.100.7")
	h.ServeHTTP(httptest.NewRecorder(), r)
	if got != "198.51.100.7" {
		t.Errorf("ClientIP = %q", got)
	}
	if ClientIP(context.Background()) != "unknown" {
		t.Error("empty context should give unknown")
	}
}

func TestRequestLog(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	h := RequestLog(log, map[string]bool{"/healthz": true})(mux)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("skipped path was logged: %s", buf.String())
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/users", nil))
	out := buf.String()
	for _, want := range []string{"level=WARN", "status=409", `route="POST /users"`, "method=POST"} {
		if !strings.Contains(out, want) {
			t.Errorf("log %q missing %q", out, want)
		}
	}
}

type auditEvent struct{ userID, action, resource, status string }

type recordingAudit struct{ events []auditEvent }

func (r *recordingAudit) LogEvent(_ context.Context, userID, action, resource string, meta map[string]string) {
	r.events = append(r.events, auditEvent{userID, action, resource, meta["status"]})
}

func TestAuditRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/verify", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("DELETE /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("POST /users", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	audit := &recordingAudit{}
	h := AuditRejected(audit, nil)(mux)
	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/users/verify", nil),
		httptest.NewRequest(http.MethodDelete, "/users/abc", nil),
		httptest.NewRequest(http.MethodPost, "/users", nil),
		httptest.NewRequest(http.MethodGet, "/users/abc", nil),
		httptest.NewRequest(http.MethodPost, "/missing", nil),
	} {
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	want := []auditEvent{
		{"", "user.verify.rejected", "user", "400"},
		{"abc", "user.delete.rejected", "user", "404"},
	}
	if len(audit.events) != len(want) {
		t.Fatalf("events = %+v, want %+v", audit.events, want)
	}
	for i := range want {
		if audit.events[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, audit.events[i], want[i])
		}
	}
}

func TestAuditRejected_NilLogger(t *testing.T) {
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if h := AuditRejected(nil, nil)(next); h == nil {
		t.Fatal("nil logger should pass through")
	}
}
