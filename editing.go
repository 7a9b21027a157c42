package signflow

import (
	"context"

	"github.com/digitorus/signflow/pages"
)

// unsigned rejects page edits once anyone has signed: a signer agreed to
// the pages as they were, and their placements must survive until baking.
func unsigned(d *Document) error {
	if len(d.Completions) > 0 {
		return invalid("pages cannot change after a signer has signed")
	}
	return nil
}

// MergePage appends the pages of an uploaded PDF to the document. Existing
// placements keep their page numbers.
func (w *Workflow) MergePage(ctx context.Context, id string, data []byte) (*Document, error) {
	const op = "merge pages"
	if err := pages.CheckSize(int64(len(data)), w.maxUpload); err != nil {
		return nil, wrap(op, id, KindValidation, err)
	}
	return w.update(ctx, op, id, owner, func(t *txn) error {
		d := t.doc
		if err := unsigned(d); err != nil {
			return err
		}
		n := len(d.Sources)
		uploaded, err := pages.Load(n, data, w.maxUpload)
		if err != nil {
			return err
		}
		key := sourceKey(d.ID, n)
		if err := w.blobs.Put(ctx, key, data); err != nil {
			return &Error{Kind: KindStorageFailure, Err: err}
		}
		d.Sources = append(d.Sources, Source{BlobKey: key, Size: int64(len(data)), Pages: len(uploaded), Digest: digest(data)})
		d.Pages = pages.Merge(d.Pages, uploaded)
		w.log.Info().Str("document", d.ID).Int("added", len(uploaded)).Int("pages", len(d.Pages)).Msg("pages merged")
		return nil
	})
}

// DeletePage removes page n. Placements on the page are dropped and those
// on later pages move up one page. The last page cannot be deleted.
func (w *Workflow) DeletePage(ctx context.Context, id string, n int) (*Document, error) {
	const op = "delete page"
	return w.update(ctx, op, id, owner, func(t *txn) error {
		d := t.doc
		if err := unsigned(d); err != nil {
			return err
		}
		seq, err := pages.Delete(d.Pages, n)
		if err != nil {
			return err
		}
		d.Pages = seq
		d.Placeholders = d.Placeholders.DropPage(n)
		return nil
	})
}

// RotatePage rotates page n by degrees, one of -90, 90 or 180. Placement
// coordinates are not transformed.
func (w *Workflow) RotatePage(ctx context.Context, id string, n, degrees int) (*Document, error) {
	const op = "rotate page"
	return w.update(ctx, op, id, owner, func(t *txn) error {
		if err := unsigned(t.doc); err != nil {
			return err
		}
		seq, err := pages.Rotate(t.doc.Pages, n, degrees)
		if err != nil {
			return err
		}
		t.doc.Pages = seq
		return nil
	})
}
