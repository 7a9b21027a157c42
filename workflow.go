// Package signflow runs the signing workflow of a document: an owner
// uploads a PDF and arranges placeholders for each signer, sends it, the
// signers view, sign or decline through their share links, and once every
// required signer has signed the placements are baked into the final PDF.
//
// Every operation that changes a document holds the document's lock from
// load to save, so a completion, the check for full completion and the
// resulting transition happen as one step.
package signflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/digitorus/signflow/fonts"
	"github.com/digitorus/signflow/lock"
	"github.com/digitorus/signflow/pages"
	"github.com/digitorus/signflow/sharelink"
)

// Workflow is the document lifecycle coordinator. It is safe for
// concurrent use.
type Workflow struct {
	store    Store
	blobs    BlobStore
	links    *sharelink.Issuer
	locker   Locker
	notifier Notifier
	sealer   Sealer
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string

	maxUpload int64
	font      *fonts.Font
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLocker replaces the in-process document lock, for example with a
// lock shared between workers.
func WithLocker(l Locker) Option {
	return func(w *Workflow) { w.locker = l }
}

// WithNotifier sets the receiver of lifecycle events.
func WithNotifier(n Notifier) Option {
	return func(w *Workflow) { w.notifier = n }
}

// WithSealer seals every completed document.
func WithSealer(s Sealer) Option {
	return func(w *Workflow) { w.sealer = s }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Workflow) { w.log = l }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithIDGenerator sets the generator of document and signer ids.
func WithIDGenerator(f func() string) Option {
	return func(w *Workflow) { w.newID = f }
}

// WithMaxUploadBytes sets the size ceiling of uploaded files. Zero keeps
// the default.
func WithMaxUploadBytes(n int64) Option {
	return func(w *Workflow) {
		if n > 0 {
			w.maxUpload = n
		}
	}
}

// WithFont sets the font of typed signatures, dates and text.
func WithFont(f *fonts.Font) Option {
	return func(w *Workflow) { w.font = f }
}

// New returns a Workflow over the given store, blob store and share link
// issuer.
func New(store Store, blobs BlobStore, links *sharelink.Issuer, opts ...Option) (*Workflow, error) {
	if store == nil || blobs == nil || links == nil {
		return nil, errors.New("signflow: store, blob store and share link issuer are required")
	}
	w := &Workflow{
		store:     store,
		blobs:     blobs,
		links:     links,
		locker:    lock.NewKeyed(),
		notifier:  nopNotifier{},
		log:       zerolog.Nop(),
		now:       time.Now,
		newID:     uuid.NewString,
		maxUpload: pages.DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// errUnchanged is returned by a transaction that decided not to write.
var errUnchanged = errors.New("unchanged")

// txn is one locked unit of work on a document.
type txn struct {
	doc    *Document
	now    time.Time
	events []Event
}

func (t *txn) emit(e Event) {
	e.DocumentID = t.doc.ID
	e.DocumentName = t.doc.Name
	e.At = t.now
	t.events = append(t.events, e)
}

type authorizer func(ctx context.Context, d *Document) error

// update loads document id under its lock, expires it when due, rejects
// terminal documents and saves the document when fn succeeds. Events queued
// by fn are delivered after the lock is released.
func (w *Workflow) update(ctx context.Context, op, id string, auth authorizer, fn func(*txn) error) (*Document, error) {
	doc, events, err := w.locked(ctx, op, id, func(t *txn) error {
		if auth != nil {
			if err := auth(ctx, t.doc); err != nil {
				return err
			}
		}
		if t.doc.Status.Terminal() {
			return lockedError(t.doc)
		}
		return fn(t)
	})
	w.deliver(ctx, events)
	return doc, err
}

func (w *Workflow) locked(ctx context.Context, op, id string, fn func(*txn) error) (*Document, []Event, error) {
	unlock, err := w.locker.Lock(ctx, "document:"+id)
	if err != nil {
		return nil, nil, wrap(op, id, KindStorageFailure, fmt.Errorf("lock: %w", err))
	}
	defer unlock()

	doc, err := w.load(ctx, op, id)
	if err != nil {
		return nil, nil, err
	}

	t := &txn{doc: doc, now: w.now()}
	if doc.ExpiryDue(t.now) {
		w.expire(t)
		if err := w.save(ctx, op, t.doc); err != nil {
			return nil, nil, err
		}
		return nil, t.events, wrap(op, id, KindDocumentExpired, lockedError(doc))
	}

	switch err := fn(t); {
	case errors.Is(err, errUnchanged):
		return doc.Clone(), nil, nil
	case err != nil:
		return nil, nil, wrap(op, id, KindValidation, err)
	}

	doc.UpdatedAt = t.now
	if err := w.save(ctx, op, doc); err != nil {
		return nil, nil, err
	}
	return doc.Clone(), t.events, nil
}

// read loads document id without taking its lock. A document whose expiry
// is due is expired first.
func (w *Workflow) read(ctx context.Context, op, id string, auth authorizer) (*Document, error) {
	doc, err := w.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if auth != nil {
		if err := auth(ctx, doc); err != nil {
			return nil, wrap(op, id, KindForbidden, err)
		}
	}
	if !doc.ExpiryDue(w.now()) {
		return doc, nil
	}

	doc, events, err := w.locked(ctx, op, id, func(*txn) error { return errUnchanged })
	w.deliver(ctx, events)
	if err != nil && !errors.Is(err, ErrDocumentExpired) {
		return nil, err
	}
	if doc != nil {
		return doc, nil
	}
	return w.load(ctx, op, id)
}

func (w *Workflow) load(ctx context.Context, op, id string) (*Document, error) {
	doc, err := w.store.Load(ctx, id)
	if err != nil {
		return nil, wrap(op, id, KindStorageFailure, err)
	}
	return doc, nil
}

func (w *Workflow) save(ctx context.Context, op string, doc *Document) error {
	if err := w.store.Save(ctx, doc); err != nil {
		return &Error{Kind: KindStorageFailure, Op: op, DocumentID: doc.ID, Err: err}
	}
	return nil
}

func (w *Workflow) deliver(ctx context.Context, events []Event) {
	for _, e := range events {
		if err := w.notifier.Notify(ctx, e); err != nil {
			w.log.Warn().Err(err).
				Str("document", e.DocumentID).
				Str("event", string(e.Type)).
				Msg("notification failed")
		}
	}
}

// lockedError is the error for any change attempted on a terminal document.
// Expired documents report DocumentExpired so clients can tell the two apart;
// both match ErrDocumentLocked.
func lockedError(d *Document) error {
	if d.Status == Expired {
		return &Error{Kind: KindDocumentExpired, Err: ErrDocumentLocked}
	}
	return &Error{Kind: KindDocumentLocked, Err: fmt.Errorf("status is %s", d.Status)}
}

// owner allows the document's owner within the owner's tenant.
func owner(ctx context.Context, d *Document) error {
	a, ok := ActorFrom(ctx)
	if !ok {
		return &Error{Kind: KindForbidden, Err: errors.New("no authenticated actor")}
	}
	if a.ID != d.OwnerID || a.TenantID != d.TenantID {
		return &Error{Kind: KindForbidden, Err: fmt.Errorf("actor %s does not own the document", a.ID)}
	}
	return nil
}

// activeSigner returns the index of a signer that may act on d.
func activeSigner(d *Document, signerID string) (int, error) {
	i := d.signerIndex(signerID)
	if i < 0 || d.Signers[i].IsDeleted {
		return -1, &Error{Kind: KindSignerNotFound, Err: fmt.Errorf("signer %q", signerID)}
	}
	return i, nil
}

// recipients returns the signers selected by keep that asked for
// notifications, each with their share link.
func (w *Workflow) recipients(d *Document, keep func(Signer) bool) []Recipient {
	var out []Recipient
	for _, s := range d.Signers {
		if s.IsDeleted || !s.Notify || !keep(s) {
			continue
		}
		token, err := w.links.Issue(linkFor(d, s))
		if err != nil {
			w.log.Error().Err(err).Str("document", d.ID).Str("signer", s.ID).Msg("issue share link")
			continue
		}
		out = append(out, Recipient{SignerID: s.ID, Email: s.Email, Name: s.Name, Link: token})
	}
	return out
}

func linkFor(d *Document, s Signer) sharelink.Link {
	return sharelink.Link{
		DocumentID:  d.ID,
		SignerEmail: s.Email,
		SignerID:    s.ID,
		Notify:      s.Notify,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
