package signflow

import (
	"errors"
	"strings"

	"github.com/digitorus/signflow/images"
	"github.com/digitorus/signflow/pages"
	"github.com/digitorus/signflow/placement"
	"github.com/digitorus/signflow/routing"
	"github.com/digitorus/signflow/sharelink"
)

// Kind classifies an Error so callers can react to it without matching
// messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDocumentLocked
	KindDocumentExpired
	KindSignerOutOfTurn
	KindSignerNotFound
	KindLastPageUndeletable
	KindFileTooLarge
	KindMalformedToken
	KindStorageFailure
	KindNotFound
	KindForbidden
)

var kindNames = map[Kind]string{
	KindUnknown:             "unknown error",
	KindValidation:          "validation failed",
	KindDocumentLocked:      "document locked",
	KindDocumentExpired:     "document expired",
	KindSignerOutOfTurn:     "signer out of turn",
	KindSignerNotFound:      "signer not found",
	KindLastPageUndeletable: "last page undeletable",
	KindFileTooLarge:        "file too large",
	KindMalformedToken:      "malformed token",
	KindStorageFailure:      "storage failure",
	KindNotFound:            "not found",
	KindForbidden:           "forbidden",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// Error is returned by every Workflow operation.
type Error struct {
	Kind       Kind
	Op         string
	DocumentID string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.DocumentID != "" {
		b.WriteString("document ")
		b.WriteString(e.DocumentID)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the bare sentinels below by kind, so
// errors.Is(err, ErrDocumentLocked) holds for any locked document error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.DocumentID != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for use with errors.Is.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrDocumentLocked      = &Error{Kind: KindDocumentLocked}
	ErrDocumentExpired     = &Error{Kind: KindDocumentExpired}
	ErrSignerOutOfTurn     = &Error{Kind: KindSignerOutOfTurn}
	ErrSignerNotFound      = &Error{Kind: KindSignerNotFound}
	ErrLastPageUndeletable = &Error{Kind: KindLastPageUndeletable}
	ErrFileTooLarge        = &Error{Kind: KindFileTooLarge}
	ErrMalformedToken      = &Error{Kind: KindMalformedToken}
	ErrStorageFailure      = &Error{Kind: KindStorageFailure}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrForbidden           = &Error{Kind: KindForbidden}
)

// ErrConflict is returned by stores when a document was saved by someone
// else since it was loaded.
var ErrConflict = errors.New("document was modified concurrently")

// KindOf returns the kind of err. Errors from the sub-packages are
// classified by their sentinel values.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, pages.ErrLastPageUndeletable):
		return KindLastPageUndeletable
	case errors.Is(err, pages.ErrFileTooLarge):
		return KindFileTooLarge
	case errors.Is(err, routing.ErrSignerOutOfTurn):
		return KindSignerOutOfTurn
	case errors.Is(err, routing.ErrUnknownParticipant):
		return KindSignerNotFound
	case errors.Is(err, sharelink.ErrMalformedToken):
		return KindMalformedToken
	case errors.Is(err, pages.ErrPageOutOfRange),
		errors.Is(err, pages.ErrInvalidRotation),
		errors.Is(err, pages.ErrEmptyFile),
		errors.Is(err, pages.ErrMalformed),
		errors.Is(err, placement.ErrInvalid),
		errors.Is(err, placement.ErrIncomplete),
		errors.Is(err, placement.ErrForeignSigner),
		errors.Is(err, placement.ErrPageOutOfRange),
		errors.Is(err, images.ErrUnsupported):
		return KindValidation
	}
	return KindUnknown
}

// wrap turns err into an *Error for op. Errors that are already classified
// keep their kind; anything else becomes fallback.
func wrap(op, id string, fallback Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op != "" {
			return err
		}
		if error(e) == err {
			return &Error{Kind: e.Kind, Op: op, DocumentID: id, Err: e.Err}
		}
	}
	k := KindOf(err)
	if k == KindUnknown {
		k = fallback
	}
	return &Error{Kind: k, Op: op, DocumentID: id, Err: err}
}

func invalid(msg string) error {
	return &Error{Kind: KindValidation, Err: errors.New(msg)}
}
