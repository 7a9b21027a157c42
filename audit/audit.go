// Package audit records the lifecycle of a document as an append-only,
// sequence numbered trail.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// Activity names a lifecycle step.
type Activity string

// Activities recorded on a trail.
const (
	Sent           Activity = "sent"
	Viewed         Activity = "viewed"
	Signed         Activity = "signed"
	Declined       Activity = "declined"
	ExpiryExtended Activity = "expiry_extended"
	Completed      Activity = "completed"
	Expired        Activity = "expired"
	SignerRemoved  Activity = "signer_removed"
)

// ErrSequence reports a trail whose sequence numbers are not 1, 2, 3, ...
var ErrSequence = errors.New("audit trail out of sequence")

// Entry is a single audit record.
type Entry struct {
	Seq       uint64    `json:"seq"`
	Activity  Activity  `json:"activity"`
	ActorID   string    `json:"actorId,omitempty"`
	IPAddress string    `json:"ipAddress,omitempty"`
	Artifact  string    `json:"artifact,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Trail is the audit trail of one document in append order.
// Entries are never modified or removed once appended.
type Trail []Entry

// Append assigns the next sequence number to e, adds it and returns the
// stored entry.
func (t *Trail) Append(e Entry) Entry {
	e.Seq = t.LastSeq() + 1
	*t = append(*t, e)
	return e
}

// Entries returns a copy of the trail in append order.
func (t Trail) Entries() []Entry {
	return append([]Entry(nil), t...)
}

// LastSeq returns the sequence number of the newest entry, or 0.
func (t Trail) LastSeq() uint64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].Seq
}

// Engaged reports whether a signer has viewed or signed the document.
func (t Trail) Engaged() bool {
	for _, e := range t {
		if e.Activity == Viewed || e.Activity == Signed {
			return true
		}
	}
	return false
}

// Count returns the number of entries with activity a.
func (t Trail) Count(a Activity) int {
	n := 0
	for _, e := range t {
		if e.Activity == a {
			n++
		}
	}
	return n
}

// Verify checks that sequence numbers start at 1 and have no gaps.
func (t Trail) Verify() error {
	for i, e := range t {
		if e.Seq != uint64(i+1) {
			return fmt.Errorf("%w: entry %d has seq %d", ErrSequence, i, e.Seq)
		}
	}
	return nil
}

// Extends reports whether t is prev followed by zero or more new entries.
// Stores use it to refuse writes that would rewrite history.
func (t Trail) Extends(prev Trail) bool {
	if len(t) < len(prev) {
		return false
	}
	for i := range prev {
		if !equal(t[i], prev[i]) {
			return false
		}
	}
	return true
}

// Digest returns the hex SHA-256 of the trail in RFC 8785 canonical JSON.
// Two parties holding the same trail compute the same digest.
func (t Trail) Digest() (string, error) {
	data, err := json.Marshal(t.Entries())
	if err != nil {
		return "", fmt.Errorf("encode audit trail: %w", err)
	}
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("canonicalize audit trail: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func equal(a, b Entry) bool {
	return a.Seq == b.Seq &&
		a.Activity == b.Activity &&
		a.ActorID == b.ActorID &&
		a.IPAddress == b.IPAddress &&
		a.Artifact == b.Artifact &&
		a.Timestamp.Equal(b.Timestamp)
}
