// Package notify contains Notifier implementations. Email delivery itself
// is left to an external service that consumes these events.
package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/digitorus/signflow"
)

var (
	_ signflow.Notifier = Log{}
	_ signflow.Notifier = Func(nil)
	_ signflow.Notifier = Multi(nil)
)

// Log writes every event as a structured log line. Share links are not
// logged.
type Log struct {
	Logger zerolog.Logger
}

// Notify logs e.
func (l Log) Notify(_ context.Context, e signflow.Event) error {
	emails := make([]string, 0, len(e.Recipients))
	for _, r := range e.Recipients {
		emails = append(emails, r.Email)
	}
	ev := l.Logger.Info().
		Str("event", string(e.Type)).
		Str("document", e.DocumentID).
		Str("name", e.DocumentName).
		Strs("recipients", emails).
		Time("at", e.At)
	if e.ActorID != "" {
		ev = ev.Str("actor", e.ActorID)
	}
	if e.Reason != "" {
		ev = ev.Str("reason", e.Reason)
	}
	ev.Msg("notification")
	return nil
}

// Func adapts a function to a Notifier.
type Func func(ctx context.Context, e signflow.Event) error

// Notify calls f.
func (f Func) Notify(ctx context.Context, e signflow.Event) error {
	return f(ctx, e)
}

// Multi delivers to every notifier and joins their errors.
type Multi []signflow.Notifier

// Notify calls every notifier, even after one fails.
func (m Multi) Notify(ctx context.Context, e signflow.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
