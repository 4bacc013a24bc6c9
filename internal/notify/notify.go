// Package notify delivers best-effort outbound text: watchdog alerts, job
// failures, and results of detached tasks.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Notifier sends one text message. Delivery is not guaranteed.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Message is the JSON body used by the webhook and Redis sinks.
type Message struct {
	Source string    `json:"source"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, string) error { return nil }

// Multi fans a message out to every sink. All sinks are attempted; their
// errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort sends text and logs, rather than returns, any failure.
func BestEffort(ctx context.Context, n Notifier, logger *slog.Logger, text string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, text); err != nil && logger != nil {
		logger.Warn("notification failed", "error", err)
	}
}
