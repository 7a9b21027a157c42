package signflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/digitorus/signflow/audit"
	"github.com/digitorus/signflow/bake"
	"github.com/digitorus/signflow/placement"
)

func notSent(d *Document) error {
	if d.Status == Draft {
		return invalid("document has not been sent")
	}
	return nil
}

// RecordView records that signerID opened the document.
func (w *Workflow) RecordView(ctx context.Context, id, signerID, ip string) error {
	const op = "view"
	_, err := w.update(ctx, op, id, nil, func(t *txn) error {
		d := t.doc
		if err := notSent(d); err != nil {
			return err
		}
		i, err := activeSigner(d, signerID)
		if err != nil {
			return err
		}
		d.AuditTrail.Append(audit.Entry{
			Activity:  audit.Viewed,
			ActorID:   signerID,
			IPAddress: ip,
			Timestamp: t.now,
		})
		if !contains(d.Viewers, d.Signers[i].Email) {
			d.Viewers = append(d.Viewers, d.Signers[i].Email)
		}
		if d.Status == Sent {
			d.Status = InProgress
		}
		return nil
	})
	return err
}

// SubmitSignature records the signature of signerID. Non-empty ps replace
// the signer's placements; every placement of the signer must then carry
// its value. Submitting again after signing changes nothing.
//
// When this completes the document, the baked PDF is stored before the
// document is saved as Completed. If baking or storing fails nothing is
// saved, not even this signer's completion.
func (w *Workflow) SubmitSignature(ctx context.Context, id, signerID string, ps []placement.Placement, ip string) (*Document, error) {
	const op = "submit signature"
	return w.update(ctx, op, id, nil, func(t *txn) error {
		d := t.doc
		if err := notSent(d); err != nil {
			return err
		}
		i, err := activeSigner(d, signerID)
		if err != nil {
			return err
		}
		if d.Signers[i].Role != RoleSigner {
			return invalid("viewers cannot sign")
		}

		router := d.router()
		if router.Completed(signerID) {
			return errUnchanged
		}
		if err := router.CheckTurn(signerID); err != nil {
			return err
		}

		if len(ps) > 0 {
			if err := putPlacements(d, signerID, ps); err != nil {
				return err
			}
		}
		if d.Placeholders.Count(signerID) == 0 {
			return invalid("signer has no placeholders")
		}
		for _, p := range d.Placeholders[signerID] {
			if err := p.Ready(); err != nil {
				return fmt.Errorf("page %d %s: %w", p.Page, p.Kind, err)
			}
			if err := bake.Typeable(p, d.Signers[i].Name); err != nil {
				return fmt.Errorf("page %d %s: %w, supply an image", p.Page, p.Kind, err)
			}
		}

		if _, err := router.RecordCompletion(signerID, t.now); err != nil {
			return err
		}
		d.AuditTrail.Append(audit.Entry{
			Activity:  audit.Signed,
			ActorID:   signerID,
			IPAddress: ip,
			Timestamp: t.now,
		})
		if d.Status == Sent {
			d.Status = InProgress
		}

		if router.IsFullyComplete() {
			return w.complete(ctx, t)
		}

		next := router.NextEligible()
		t.emit(Event{
			Type:    EventSigned,
			ActorID: signerID,
			Recipients: w.recipients(d, func(s Signer) bool {
				return contains(next, s.ID)
			}),
		})
		w.log.Info().Str("document", d.ID).Str("signer", signerID).Strs("outstanding", router.Outstanding()).Msg("signature recorded")
		return nil
	})
}

// complete bakes the document of t, stores the result and marks it
// Completed. The caller holds the document lock.
func (w *Workflow) complete(ctx context.Context, t *txn) error {
	d := t.doc

	in := bake.Input{
		Title:      d.Name,
		Pages:      d.Pages,
		Placements: d.Placeholders,
		Font:       w.font,
	}
	for _, src := range d.Sources {
		data, err := w.blobs.Get(ctx, src.BlobKey)
		if err != nil {
			return &Error{Kind: KindStorageFailure, Err: fmt.Errorf("read %s: %w", src.BlobKey, err)}
		}
		in.Sources = append(in.Sources, data)
	}
	for _, s := range d.Signers {
		at, ok := d.Completions[s.ID]
		if s.IsDeleted || !ok {
			continue
		}
		in.Signers = append(in.Signers, bake.Signer{ID: s.ID, Name: s.Name, Email: s.Email, CompletedAt: at})
	}

	out, err := bake.Bake(in)
	if err != nil {
		return &Error{Kind: KindStorageFailure, Err: fmt.Errorf("bake: %w", err)}
	}
	key := completedKey(d.ID)
	if err := w.blobs.Put(ctx, key, out); err != nil {
		return &Error{Kind: KindStorageFailure, Err: fmt.Errorf("store completed file: %w", err)}
	}
	d.CompletedFile = key
	d.CompletedDigest = digest(out)

	if w.sealer != nil {
		if err := w.seal(ctx, d, out); err != nil {
			w.log.Warn().Err(err).Str("document", d.ID).Msg("completed document left unsealed")
		}
	}

	d.Status = Completed
	d.AuditTrail.Append(audit.Entry{
		Activity:  audit.Completed,
		Artifact:  key,
		Timestamp: t.now,
	})
	t.emit(Event{
		Type:       EventCompleted,
		Recipients: w.recipients(d, func(Signer) bool { return true }),
	})
	w.log.Info().Str("document", d.ID).Str("digest", d.CompletedDigest).Int("bytes", len(out)).Msg("document completed")
	return nil
}

func (w *Workflow) seal(ctx context.Context, d *Document, data []byte) error {
	sig, err := w.sealer.Seal(ctx, data)
	if err != nil {
		return err
	}
	key := d.CompletedFile + ".p7s"
	if err := w.blobs.Put(ctx, key, sig); err != nil {
		return err
	}
	d.Seal = key
	return nil
}

// DeclineDocument records that a required signer refuses to sign. The
// reason may be empty.
func (w *Workflow) DeclineDocument(ctx context.Context, id, signerID, reason, ip string) (*Document, error) {
	const op = "decline"
	return w.update(ctx, op, id, nil, func(t *txn) error {
		d := t.doc
		if err := notSent(d); err != nil {
			return err
		}
		i, err := activeSigner(d, signerID)
		if err != nil {
			return err
		}
		if !d.Signers[i].Required() {
			return invalid("only required signers can decline")
		}
		router := d.router()
		if router.Completed(signerID) {
			return invalid("signer has already signed")
		}

		d.Status = Declined
		d.DeclineReason = &reason
		d.AuditTrail.Append(audit.Entry{
			Activity:  audit.Declined,
			ActorID:   signerID,
			IPAddress: ip,
			Artifact:  reason,
			Timestamp: t.now,
		})
		t.emit(Event{
			Type:    EventDeclined,
			ActorID: signerID,
			Reason:  reason,
			Recipients: w.recipients(d, func(s Signer) bool {
				return s.ID != signerID
			}),
		})
		w.log.Info().Str("document", d.ID).Str("signer", signerID).Msg("document declined")
		return nil
	})
}

// File is a completed document.
type File struct {
	PDF    []byte
	Digest string
	// Seal is the detached PKCS#7 seal, nil when the document was not sealed.
	Seal []byte
}

// CompletedFile returns the baked PDF of a completed document.
func (w *Workflow) CompletedFile(ctx context.Context, id string) (*File, error) {
	const op = "completed file"
	doc, err := w.read(ctx, op, id, owner)
	if err != nil {
		return nil, err
	}
	if doc.Status != Completed || doc.CompletedFile == "" {
		return nil, wrap(op, id, KindValidation, invalid("document is not completed"))
	}
	f := &File{Digest: doc.CompletedDigest}
	if f.PDF, err = w.blobs.Get(ctx, doc.CompletedFile); err != nil {
		return nil, &Error{Kind: KindStorageFailure, Op: op, DocumentID: id, Err: err}
	}
	if digest(f.PDF) != doc.CompletedDigest {
		return nil, &Error{Kind: KindStorageFailure, Op: op, DocumentID: id, Err: errors.New("completed file does not match its digest")}
	}
	if doc.Seal != "" {
		if f.Seal, err = w.blobs.Get(ctx, doc.Seal); err != nil {
			return nil, &Error{Kind: KindStorageFailure, Op: op, DocumentID: id, Err: err}
		}
	}
	return f, nil
}
