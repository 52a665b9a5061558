package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"

	"manifold/backend/internal/identity/domain"
)

// VerificationSubject is the subject line of verification emails.
const VerificationSubject = "Manifold Account Verification"

//go:embed templates/*
var templateFS embed.FS

// Rendered is a message ready for a transport.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

type templatePair struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// Renderer renders per-kind verification messages.
type Renderer struct {
	verifyURL *url.URL
	ttl       time.Duration
	templates map[domain.LoginIdentityType]templatePair
}

// NewRenderer parses the embedded templates. baseURL is the public base of verification links
// (PUBLIC_BASE_URL). Fails if any kind in domain.AllLoginIdentityTypes has no template.
func NewRenderer(baseURL string, tokenTTL time.Duration) (*Renderer, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/verify")
	if err != nil {
		return nil, fmt.Errorf("notify: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("notify: base url %q must be absolute", baseURL)
	}
	r := &Renderer{verifyURL: u, ttl: tokenTTL, templates: make(map[domain.LoginIdentityType]templatePair)}
	for _, k := range domain.AllLoginIdentityTypes() {
		name, ok := templateName(k)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedKind, k)
		}
		h, err := htmltemplate.ParseFS(templateFS, "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s.html: %w", name, err)
		}
		t, err := texttemplate.ParseFS(templateFS, "templates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("notify: parse %s.txt: %w", name, err)
		}
		r.templates[k] = templatePair{html: h, text: t}
	}
	return r, nil
}

func templateName(kind domain.LoginIdentityType) (string, bool) {
	switch kind {
	case domain.LoginIdentityTypeEmail:
		return "verification_email", true
	}
	return "", false
}

// VerifyURL returns the link a user follows to redeem token.
func (r *Renderer) VerifyURL(token string) string {
	u := *r.verifyURL
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Render produces subject and bodies for msg.
func (r *Renderer) Render(msg Message) (Rendered, error) {
	pair, ok := r.templates[msg.Kind]
	if !ok {
		return Rendered{}, fmt.Errorf("%w: %q", ErrUnsupportedKind, msg.Kind)
	}
	data := struct {
		Subject   string
		Username  string
		VerifyURL string
		ExpiresIn string
	}{
		Subject:   VerificationSubject,
		Username:  msg.Username,
		VerifyURL: r.VerifyURL(msg.Token),
		ExpiresIn: humanDuration(r.ttl),
	}
	var html, text bytes.Buffer
	if err := pair.html.Execute(&html, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render html: %w", err)
	}
	if err := pair.text.Execute(&text, data); err != nil {
		return Rendered{}, fmt.Errorf("notify: render text: %w", err)
	}
	return Rendered{Subject: VerificationSubject, HTML: html.String(), Text: text.String()}, nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "24 hours"
	case d%(24*time.Hour) == 0:
		n := int(d / (24 * time.Hour))
		if n == 1 {
			return "24 hours"
		}
		return fmt.Sprintf("%d days", n)
	case d%time.Hour == 0:
		n := int(d / time.Hour)
		if n == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", n)
	default:
		return fmt.Sprintf("%d minutes", int(d.Round(time.Minute)/time.Minute))
	}
}
