package signflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/digitorus/signflow/sharelink"
)

// IssueShareLink returns the share link token of signerID. The token is
// derived from the document and signer alone, so issuing it twice yields
// the same token. It is a bearer capability: anyone holding it can act as
// the signer.
func (w *Workflow) IssueShareLink(ctx context.Context, id, signerID string) (string, error) {
	const op = "issue share link"
	doc, err := w.read(ctx, op, id, owner)
	if err != nil {
		return "", err
	}
	i, err := activeSigner(doc, signerID)
	if err != nil {
		return "", wrap(op, id, KindSignerNotFound, err)
	}
	token, err := w.links.Issue(linkFor(doc, doc.Signers[i]))
	if err != nil {
		return "", &Error{Kind: KindValidation, Op: op, DocumentID: id, Err: err}
	}
	return token, nil
}

// ResolveShareLink decodes token and checks that the signer it names still
// belongs to the document.
func (w *Workflow) ResolveShareLink(ctx context.Context, token string) (sharelink.Link, error) {
	const op = "resolve share link"
	l, err := w.links.Resolve(token)
	if err != nil {
		return sharelink.Link{}, wrap(op, "", KindMalformedToken, err)
	}
	doc, err := w.load(ctx, op, l.DocumentID)
	if err != nil {
		return sharelink.Link{}, err
	}
	s, ok := doc.Signer(l.SignerID)
	if !ok || s.IsDeleted || !strings.EqualFold(s.Email, l.SignerEmail) {
		return sharelink.Link{}, &Error{Kind: KindSignerNotFound, Op: op, DocumentID: doc.ID, Err: fmt.Errorf("signer %q", l.SignerID)}
	}
	return l, nil
}
