package signflow

import (
	"context"
	"time"

	"github.com/digitorus/signflow/sharelink"
)

// Store persists documents. Implementations must return errors wrapping
// ErrNotFound for unknown ids and ErrConflict when Save is called with a
// Version older than the stored one. Save must refuse audit trails that do
// not extend the stored trail.
type Store interface {
	Create(ctx context.Context, doc *Document) error
	Load(ctx context.Context, id string) (*Document, error)
	// Save stores doc and increments doc.Version.
	Save(ctx context.Context, doc *Document) error
	// ListExpirable returns the ids of non-terminal documents whose expiry
	// is before now.
	ListExpirable(ctx context.Context, now time.Time) ([]string, error)
}

// BlobStore keeps PDF files. Get returns an error wrapping ErrNotFound for
// unknown keys.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Locker serialises operations on one document.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Notifier delivers lifecycle events. Errors are logged by the workflow
// and never undo a transition.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Sealer signs the completed PDF.
type Sealer interface {
	Seal(ctx context.Context, data []byte) ([]byte, error)
}

// Actor is the authenticated caller as established by the auth layer.
type Actor struct {
	ID       string
	TenantID string
}

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != ""
}

type linkKey struct{}

// WithShareLink returns a context carrying a resolved share link. It is the
// credential of a signer acting on their own placements; an Actor never is.
func WithShareLink(ctx context.Context, l sharelink.Link) context.Context {
	return context.WithValue(ctx, linkKey{}, l)
}

// ShareLinkFrom returns the share link stored in ctx.
func ShareLinkFrom(ctx context.Context) (sharelink.Link, bool) {
	l, ok := ctx.Value(linkKey{}).(sharelink.Link)
	return l, ok && l.SignerID != ""
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }
