// Package notify delivers job findings to humans. Delivery failures are a
// logging matter only: a lost alert must never abort the job that produced
// it.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier delivers one message over one channel.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// Fanout sends to every channel, logging failures instead of returning them.
type Fanout struct {
	Notifiers []Notifier
	Logger    *zap.Logger
}

func (f *Fanout) Notify(ctx context.Context, subject, body string) error {
	for _, n := range f.Notifiers {
		if err := n.Notify(ctx, subject, body); err != nil {
			f.Logger.Error("Failed to deliver notification", zap.String("subject", subject), zap.Error(err))
		}
	}
	return nil
}

// Noop drops everything; used when no delivery channel is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string, string) error { return nil }
