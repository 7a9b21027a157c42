package signflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/digitorus/signflow/audit"
)

// expire moves the document of t to Expired.
func (w *Workflow) expire(t *txn) {
	d := t.doc
	d.Status = Expired
	d.UpdatedAt = t.now
	d.AuditTrail.Append(audit.Entry{
		Activity:  audit.Expired,
		Artifact:  d.ExpiresAt.UTC().Format(time.RFC3339),
		Timestamp: t.now,
	})
	router := d.router()
	t.emit(Event{
		Type: EventExpired,
		Recipients: w.recipients(d, func(s Signer) bool {
			return s.Role == RoleViewer || !router.Completed(s.ID)
		}),
	})
	w.log.Info().Str("document", d.ID).Time("expires_at", d.ExpiresAt).Msg("document expired")
}

// ExtendExpiry moves the expiry of a non-terminal document to at, which must
// be in the future. A zero at removes the expiry. Only the owner may extend.
func (w *Workflow) ExtendExpiry(ctx context.Context, id string, at time.Time) (*Document, error) {
	const op = "extend expiry"
	return w.update(ctx, op, id, owner, func(t *txn) error {
		if !at.IsZero() && !at.After(t.now) {
			return invalid("expiry must be in the future")
		}
		t.doc.ExpiresAt = at
		artifact := ""
		if !at.IsZero() {
			artifact = at.UTC().Format(time.RFC3339)
		}
		actor, _ := ActorFrom(ctx)
		t.doc.AuditTrail.Append(audit.Entry{
			Activity:  audit.ExpiryExtended,
			ActorID:   actor.ID,
			Artifact:  artifact,
			Timestamp: t.now,
		})
		return nil
	})
}

// SweepExpired expires every document whose expiry has passed and returns
// how many were expired. It keeps going when a single document fails.
func (w *Workflow) SweepExpired(ctx context.Context) (int, error) {
	ids, err := w.store.ListExpirable(ctx, w.now())
	if err != nil {
		return 0, &Error{Kind: KindStorageFailure, Op: "sweep", Err: err}
	}

	var errs []error
	n := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		_, events, err := w.locked(ctx, "sweep", id, func(*txn) error { return errUnchanged })
		w.deliver(ctx, events)
		switch {
		case errors.Is(err, ErrDocumentExpired):
			n++
		case err != nil:
			errs = append(errs, err)
		}
	}
	return n, errors.Join(errs...)
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (w *Workflow) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := w.SweepExpired(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("expiry sweep")
			}
			if n > 0 {
				w.log.Info().Int("expired", n).Msg("expiry sweep")
			}
		}
	}
}
