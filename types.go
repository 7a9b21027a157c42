package signflow

import (
	"time"

	"github.com/digitorus/signflow/audit"
	"github.com/digitorus/signflow/pages"
	"github.com/digitorus/signflow/placement"
	"github.com/digitorus/signflow/routing"
)

// Status is the lifecycle state of a document.
type Status string

const (
	// Draft documents are being prepared by their owner.
	Draft Status = "draft"
	// Sent documents have been dispatched to their signers.
	Sent Status = "sent"
	// InProgress documents have been viewed or signed at least once.
	InProgress Status = "in_progress"
	// Completed documents have been signed by every required signer and
	// carry the baked PDF.
	Completed Status = "completed"
	// Declined documents were refused by a required signer.
	Declined Status = "declined"
	// Expired documents passed their expiry date before completing.
	Expired Status = "expired"
)

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == Completed || s == Declined || s == Expired
}

// Role tells whether a signer must sign or only receives copies.
type Role string

const (
	// RoleSigner must sign before the document completes.
	RoleSigner Role = "signer"
	// RoleViewer is kept informed but never blocks completion.
	RoleViewer Role = "viewer"
)

// Signer is a participant of a document.
type Signer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
	// Notify is carried in the signer's share link and controls whether
	// the signer receives notifications.
	Notify    bool `json:"notify"`
	IsDeleted bool `json:"isDeleted,omitempty"`
}

// Required reports whether the signer has to sign.
func (s Signer) Required() bool {
	return s.Role == RoleSigner && !s.IsDeleted
}

// Source is an uploaded PDF file.
type Source struct {
	BlobKey string `json:"blobKey"`
	Size    int64  `json:"size"`
	Pages   int    `json:"pages"`
	Digest  string `json:"digest"`
}

// Document is the aggregate the workflow operates on.
type Document struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Note     string `json:"note,omitempty"`
	FileURL  string `json:"fileUrl,omitempty"`
	OwnerID  string `json:"ownerId"`
	TenantID string `json:"tenantId,omitempty"`

	Status  Status       `json:"status"`
	Routing routing.Mode `json:"routing"`
	Signers []Signer     `json:"signers"`

	Placeholders placement.Set  `json:"placeholders"`
	Sources      []Source       `json:"sources"`
	Pages        []pages.Page   `json:"pages"`
	Completions  routing.Ledger `json:"completions,omitempty"`

	// ExpiresAt is zero when the document never expires.
	ExpiresAt  time.Time   `json:"expiresAt,omitempty"`
	AuditTrail audit.Trail `json:"auditTrail"`
	// DeclineReason is non-nil only for declined documents.
	DeclineReason *string  `json:"declineReason,omitempty"`
	SentTo        []string `json:"sentTo,omitempty"`
	Viewers       []string `json:"viewers,omitempty"`

	CompletedFile   string `json:"completedFile,omitempty"`
	CompletedDigest string `json:"completedDigest,omitempty"`
	Seal            string `json:"seal,omitempty"`

	// Version is incremented by the store on every save.
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Signer returns the signer with the given id, including removed signers.
func (d *Document) Signer(id string) (Signer, bool) {
	for _, s := range d.Signers {
		if s.ID == id {
			return s, true
		}
	}
	return Signer{}, false
}

func (d *Document) signerIndex(id string) int {
	for i, s := range d.Signers {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// PageCount returns the number of pages in the current page sequence.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// ExpiryDue reports whether the document should be expired at now.
func (d *Document) ExpiryDue(now time.Time) bool {
	return !d.Status.Terminal() && !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}

// router returns the routing engine over the document's signers. Completions
// recorded through it are written to d.Completions.
func (d *Document) router() *routing.Engine {
	if d.Completions == nil {
		d.Completions = routing.Ledger{}
	}
	participants := make([]routing.Participant, 0, len(d.Signers))
	for _, s := range d.Signers {
		participants = append(participants, routing.Participant{
			ID:       s.ID,
			Required: s.Role == RoleSigner,
			Deleted:  s.IsDeleted,
		})
	}
	return routing.New(d.Routing, participants, d.Completions)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Signers = append([]Signer(nil), d.Signers...)
	c.Placeholders = d.Placeholders.Clone()
	c.Sources = append([]Source(nil), d.Sources...)
	c.Pages = append([]pages.Page(nil), d.Pages...)
	c.Completions = d.Completions.Clone()
	c.AuditTrail = append(audit.Trail(nil), d.AuditTrail...)
	if d.DeclineReason != nil {
		r := *d.DeclineReason
		c.DeclineReason = &r
	}
	c.SentTo = append([]string(nil), d.SentTo...)
	c.Viewers = append([]string(nil), d.Viewers...)
	return &c
}

// EventType names a notification.
type EventType string

// Events delivered to the Notifier.
const (
	EventSent      EventType = "sent"
	EventSigned    EventType = "signed"
	EventDeclined  EventType = "declined"
	EventCompleted EventType = "completed"
	EventExpired   EventType = "expired"
	// EventSignerRemoved goes to signers whose turn came because another
	// signer was removed. Reason holds the removed signer's id.
	EventSignerRemoved EventType = "signer_removed"
)

// Recipient is a signer to be notified, with the share link they act through.
type Recipient struct {
	SignerID string `json:"signerId"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Link     string `json:"link,omitempty"`
}

// Event describes a committed lifecycle transition.
type Event struct {
	Type         EventType   `json:"type"`
	DocumentID   string      `json:"documentId"`
	DocumentName string      `json:"documentName"`
	ActorID      string      `json:"actorId,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	Recipients   []Recipient `json:"recipients"`
	At           time.Time   `json:"at"`
}
