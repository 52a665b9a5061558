package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer delivers queued verification messages through a downstream Notifier.
type Consumer struct {
	reader   messageReader
	notifier Notifier
	log      *slog.Logger
	timeout  time.Duration
}

// NewConsumer returns a Consumer reading from reader (typically a *kafka.Reader) and delivering
// through notifier, each delivery bounded by timeout.
func NewConsumer(reader messageReader, notifier Notifier, log *slog.Logger, timeout time.Duration) *Consumer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Consumer{reader: reader, notifier: notifier, log: log, timeout: timeout}
}

// Run fetches and delivers messages until ctx is canceled. Each message is committed after one
// delivery attempt whether or not it succeeded; failures are logged.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "notify: kafka fetch failed", "error", err)
			continue
		}
		if err := c.Handle(ctx, m.Value); err != nil {
			c.log.ErrorContext(ctx, "notify: delivery failed",
				"partition", m.Partition, "offset", m.Offset, "error", err)
		}
		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.ErrorContext(ctx, "notify: kafka commit failed", "offset", m.Offset, "error", err)
		}
	}
}

// Handle decodes one queued payload and delivers it.
func (c *Consumer) Handle(ctx context.Context, payload []byte) error {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.notifier.Send(sendCtx, msg); err != nil {
		return err
	}
	c.log.InfoContext(ctx, "notify: delivered verification message", "user_id", msg.UserID, "kind", msg.Kind)
	return nil
}
