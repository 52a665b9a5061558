package notify

import (
	"context"
	"log/slog"
)

// LogNotifier writes the verification link to the log instead of delivering it. Development only.
type LogNotifier struct {
	renderer *Renderer
	log      *slog.Logger
}

// NewLogNotifier returns a notifier that logs rendered verification links.
func NewLogNotifier(renderer *Renderer, log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &LogNotifier{renderer: renderer, log: log}
}

// Send implements Notifier.
func (n *LogNotifier) Send(ctx context.Context, msg Message) error {
	r, err := n.renderer.Render(msg)
	if err != nil {
		return err
	}
	n.log.InfoContext(ctx, "verification message",
		"kind", msg.Kind,
		"user_id", msg.UserID,
		"recipient", msg.Recipient,
		"subject", r.Subject,
		"verify_url", n.renderer.VerifyURL(msg.Token),
	)
	return nil
}
