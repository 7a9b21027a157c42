package signflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/digitorus/signflow/audit"
	"github.com/digitorus/signflow/images"
	"github.com/digitorus/signflow/pages"
	"github.com/digitorus/signflow/placement"
	"github.com/digitorus/signflow/routing"
)

// CreateRequest describes a new document.
type CreateRequest struct {
	Name    string
	Note    string
	FileURL string
	// File is the PDF to be signed.
	File    []byte
	Signers []Signer
	// Placeholders may reference a signer by id or by email.
	Placeholders []placement.Placement
	Routing      routing.Mode
	ExpiresAt    time.Time
}

func sourceKey(docID string, n int) string {
	return fmt.Sprintf("documents/%s/source-%d.pdf", docID, n)
}

func completedKey(docID string) string {
	return "documents/" + docID + "/completed.pdf"
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CreateDocument stores a new Draft document owned by the actor in ctx.
func (w *Workflow) CreateDocument(ctx context.Context, req CreateRequest) (*Document, error) {
	const op = "create"
	actor, ok := ActorFrom(ctx)
	if !ok {
		return nil, &Error{Kind: KindForbidden, Op: op, Err: fmt.Errorf("no authenticated actor")}
	}
	if err := pages.CheckSize(int64(len(req.File)), w.maxUpload); err != nil {
		return nil, wrap(op, "", KindValidation, err)
	}

	now := w.now()
	doc := &Document{
		ID:           w.newID(),
		Name:         strings.TrimSpace(req.Name),
		Note:         req.Note,
		FileURL:      req.FileURL,
		OwnerID:      actor.ID,
		TenantID:     actor.TenantID,
		Status:       Draft,
		Routing:      req.Routing,
		Placeholders: placement.Set{},
		ExpiresAt:    req.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if doc.Name == "" {
		return nil, wrap(op, "", KindValidation, invalid("name is required"))
	}
	if !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(now) {
		return nil, wrap(op, "", KindValidation, invalid("expiry must be in the future"))
	}

	signers, err := w.prepareSigners(req.Signers)
	if err != nil {
		return nil, wrap(op, "", KindValidation, err)
	}
	doc.Signers = signers

	seq, err := pages.Load(0, req.File, w.maxUpload)
	if err != nil {
		return nil, wrap(op, "", KindValidation, err)
	}
	doc.Pages = seq

	if err := assignPlaceholders(doc, req.Placeholders); err != nil {
		return nil, wrap(op, "", KindValidation, err)
	}

	key := sourceKey(doc.ID, 0)
	if err := w.blobs.Put(ctx, key, req.File); err != nil {
		return nil, &Error{Kind: KindStorageFailure, Op: op, Err: err}
	}
	doc.Sources = []Source{{BlobKey: key, Size: int64(len(req.File)), Pages: len(seq), Digest: digest(req.File)}}

	if err := w.store.Create(ctx, doc); err != nil {
		if derr := w.blobs.Delete(ctx, key); derr != nil {
			w.log.Warn().Err(derr).Str("blob", key).Msg("remove orphaned upload")
		}
		return nil, &Error{Kind: KindStorageFailure, Op: op, DocumentID: doc.ID, Err: err}
	}
	w.log.Info().Str("document", doc.ID).Str("owner", doc.OwnerID).Int("pages", len(seq)).Msg("document created")
	return doc.Clone(), nil
}

func (w *Workflow) prepareSigners(in []Signer) ([]Signer, error) {
	if len(in) == 0 {
		return nil, invalid("at least one signer is required")
	}
	out := make([]Signer, 0, len(in))
	ids := make(map[string]bool)
	emails := make(map[string]bool)
	for i, s := range in {
		s.Email = strings.TrimSpace(s.Email)
		s.Name = strings.TrimSpace(s.Name)
		if !govalidator.IsEmail(s.Email) {
			return nil, invalid(fmt.Sprintf("signer %d: invalid email %q", i, s.Email))
		}
		key := strings.ToLower(s.Email)
		if emails[key] {
			return nil, invalid(fmt.Sprintf("signer %d: duplicate email %s", i, s.Email))
		}
		emails[key] = true
		switch s.Role {
		case "":
			s.Role = RoleSigner
		case RoleSigner, RoleViewer:
		default:
			return nil, invalid(fmt.Sprintf("signer %d: unknown role %q", i, s.Role))
		}
		if s.ID == "" {
			s.ID = w.newID()
		}
		if ids[s.ID] {
			return nil, invalid(fmt.Sprintf("signer %d: duplicate id %s", i, s.ID))
		}
		ids[s.ID] = true
		s.IsDeleted = false
		out = append(out, s)
	}
	return out, nil
}

// assignPlaceholders groups ps by signer, resolving emails to ids.
func assignPlaceholders(doc *Document, ps []placement.Placement) error {
	grouped := make(map[string][]placement.Placement)
	var order []string
	for i, p := range ps {
		id := ""
		for _, s := range doc.Signers {
			if p.SignerID == s.ID || strings.EqualFold(p.SignerID, s.Email) {
				id = s.ID
				break
			}
		}
		if id == "" {
			return &Error{Kind: KindSignerNotFound, Err: fmt.Errorf("placeholder %d: signer %q", i, p.SignerID)}
		}
		p.SignerID = id
		if _, ok := grouped[id]; !ok {
			order = append(order, id)
		}
		grouped[id] = append(grouped[id], p)
	}
	for _, id := range order {
		if err := putPlacements(doc, id, grouped[id]); err != nil {
			return err
		}
	}
	return nil
}

// putPlacements replaces the placements of signerID after checking that
// they fit the page sequence and that their images decode.
func putPlacements(doc *Document, signerID string, ps []placement.Placement) error {
	next := doc.Placeholders.Clone()
	if next == nil {
		next = placement.Set{}
	}
	if err := next.Put(signerID, ps); err != nil {
		return err
	}
	if err := next.Validate(doc.PageCount()); err != nil {
		return err
	}
	for _, p := range next[signerID] {
		if len(p.Image) == 0 {
			continue
		}
		if _, err := images.Decode(p.Image, images.MaxSide); err != nil {
			return fmt.Errorf("page %d %s: %w", p.Page, p.Kind, err)
		}
	}
	doc.Placeholders = next
	return nil
}

// GetDocument returns the document. Only the owner may read it.
func (w *Workflow) GetDocument(ctx context.Context, id string) (*Document, error) {
	return w.read(ctx, "get", id, owner)
}

// GetAuditTrail returns the audit entries of the document in append order.
func (w *Workflow) GetAuditTrail(ctx context.Context, id string) ([]audit.Entry, error) {
	doc, err := w.read(ctx, "audit trail", id, owner)
	if err != nil {
		return nil, err
	}
	return doc.AuditTrail.Entries(), nil
}

// GetPlaceholders returns the placements of signerID in rendering order.
// The owner and the signer may read them.
func (w *Workflow) GetPlaceholders(ctx context.Context, id, signerID string) ([]placement.Placement, error) {
	doc, err := w.read(ctx, "get placeholders", id, ownerOrSigner(signerID))
	if err != nil {
		return nil, err
	}
	if _, ok := doc.Signer(signerID); !ok {
		return nil, &Error{Kind: KindSignerNotFound, Op: "get placeholders", DocumentID: id, Err: fmt.Errorf("signer %q", signerID)}
	}
	return doc.Placeholders.For(signerID), nil
}

func ownerOrSigner(signerID string) authorizer {
	return func(ctx context.Context, d *Document) error {
		if actsAs(ctx, d, signerID) {
			return nil
		}
		return owner(ctx, d)
	}
}

// actsAs reports whether ctx carries the share link of signerID on d.
func actsAs(ctx context.Context, d *Document, signerID string) bool {
	l, ok := ShareLinkFrom(ctx)
	return ok && l.DocumentID == d.ID && l.SignerID == signerID
}

// SetPlaceholders replaces the placements of signerID. The owner may set
// any signer's placements while the document is a Draft; a signer may set
// their own once the document is sent and until they have signed.
func (w *Workflow) SetPlaceholders(ctx context.Context, id, signerID string, ps []placement.Placement) (*Document, error) {
	const op = "set placeholders"
	return w.update(ctx, op, id, ownerOrSigner(signerID), func(t *txn) error {
		d := t.doc
		if _, err := activeSigner(d, signerID); err != nil {
			return err
		}
		if actsAs(ctx, d, signerID) {
			if d.Status == Draft {
				return invalid("document has not been sent")
			}
			if d.router().Completed(signerID) {
				return invalid("signer has already signed")
			}
		} else if d.Status != Draft {
			return invalid("placeholders can only be arranged before the document is sent")
		}
		return putPlacements(d, signerID, ps)
	})
}

// SendDocument dispatches a Draft document to its signers.
func (w *Workflow) SendDocument(ctx context.Context, id string) (*Document, error) {
	const op = "send"
	return w.update(ctx, op, id, owner, func(t *txn) error {
		d := t.doc
		if d.Status != Draft {
			return invalid("document has already been sent")
		}
		required := 0
		for _, s := range d.Signers {
			if !s.Required() {
				continue
			}
			required++
			if d.Placeholders.Count(s.ID) == 0 {
				return invalid(fmt.Sprintf("signer %s has no placeholders", s.Email))
			}
		}
		if required == 0 {
			return invalid("at least one required signer is needed")
		}
		if err := d.Placeholders.Validate(d.PageCount()); err != nil {
			return err
		}

		d.Status = Sent
		d.SentTo = d.SentTo[:0]
		for _, s := range d.Signers {
			if !s.IsDeleted {
				d.SentTo = append(d.SentTo, s.Email)
			}
		}
		d.AuditTrail.Append(audit.Entry{
			Activity:  audit.Sent,
			ActorID:   d.OwnerID,
			Artifact:  d.FileURL,
			Timestamp: t.now,
		})

		eligible := d.router().NextEligible()
		t.emit(Event{
			Type:    EventSent,
			ActorID: d.OwnerID,
			Recipients: w.recipients(d, func(s Signer) bool {
				return s.Role == RoleViewer || contains(eligible, s.ID)
			}),
		})
		w.log.Info().Str("document", d.ID).Int("signers", required).Str("routing", d.Routing.String()).Msg("document sent")
		return nil
	})
}

// RemoveSigner soft-deletes a signer. A removed signer no longer blocks
// completion, so removing the last outstanding signer completes the
// document.
func (w *Workflow) RemoveSigner(ctx context.Context, id, signerID string) (*Document, error) {
	const op = "remove signer"
	return w.update(ctx, op, id, owner, func(t *txn) error {
		d := t.doc
		i, err := activeSigner(d, signerID)
		if err != nil {
			return err
		}
		if d.Signers[i].Required() {
			left := 0
			for _, s := range d.Signers {
				if s.Required() {
					left++
				}
			}
			if left == 1 {
				return invalid("cannot remove the last required signer")
			}
		}
		before := d.router().NextEligible()
		d.Signers[i].IsDeleted = true
		d.AuditTrail.Append(audit.Entry{
			Activity:  audit.SignerRemoved,
			ActorID:   d.OwnerID,
			Artifact:  signerID,
			Timestamp: t.now,
		})
		if d.Status == Draft {
			return nil
		}
		router := d.router()
		if router.IsFullyComplete() {
			return w.complete(ctx, t)
		}

		// In sequential routing the next signer only now gets their turn.
		recipients := w.recipients(d, func(s Signer) bool {
			return contains(router.NextEligible(), s.ID) && !contains(before, s.ID)
		})
		if len(recipients) > 0 {
			t.emit(Event{Type: EventSignerRemoved, ActorID: d.OwnerID, Reason: signerID, Recipients: recipients})
		}
		return nil
	})
}
