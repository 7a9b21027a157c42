// Package routing decides which signers may act on a document and when the
// document has collected every required signature.
package routing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Mode selects how signers are routed.
type Mode int

const (
	// Parallel lets every required signer act in any order.
	Parallel Mode = iota
	// Sequential requires signers to act in the order they were added.
	Sequential
)

func (m Mode) String() string {
	switch m {
	case Parallel:
		return "parallel"
	case Sequential:
		return "sequential"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "parallel" or "sequential". An empty string is Parallel.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "parallel":
		return Parallel, nil
	case "sequential":
		return Sequential, nil
	}
	return Parallel, fmt.Errorf("unknown routing mode %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

var (
	// ErrSignerOutOfTurn is returned when a sequential document is signed
	// by someone other than the next eligible signer.
	ErrSignerOutOfTurn = errors.New("signer out of turn")
	// ErrUnknownParticipant is returned for ids that are not routed.
	ErrUnknownParticipant = errors.New("unknown participant")
)

// Participant is a signer as seen by the routing engine.
type Participant struct {
	ID       string
	Required bool
	Deleted  bool
}

func (p Participant) counts() bool { return p.Required && !p.Deleted }

// Ledger records the completion time per signer id.
type Ledger map[string]time.Time

// Clone returns a copy of l.
func (l Ledger) Clone() Ledger {
	if l == nil {
		return nil
	}
	out := make(Ledger, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Engine evaluates a document's participants against its ledger.
// RecordCompletion writes to the ledger it was built with.
type Engine struct {
	mode         Mode
	participants []Participant
	ledger       Ledger
}

// New returns an Engine over participants in routing order. A nil ledger is
// allocated on first write; use Ledger to read it back.
func New(mode Mode, participants []Participant, ledger Ledger) *Engine {
	return &Engine{mode: mode, participants: participants, ledger: ledger}
}

// Ledger returns the engine's completion ledger.
func (e *Engine) Ledger() Ledger { return e.ledger }

// Completed reports whether signerID has a completion record.
func (e *Engine) Completed(signerID string) bool {
	_, ok := e.ledger[signerID]
	return ok
}

// RecordCompletion records that signerID completed at the given time. It
// reports false, without changing the ledger, when a record already exists.
func (e *Engine) RecordCompletion(signerID string, at time.Time) (bool, error) {
	if _, ok := e.find(signerID); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParticipant, signerID)
	}
	if e.Completed(signerID) {
		return false, nil
	}
	if e.ledger == nil {
		e.ledger = Ledger{}
	}
	e.ledger[signerID] = at
	return true, nil
}

// IsFullyComplete reports whether every required, non-deleted participant
// has completed. It is vacuously true when no participant is required.
func (e *Engine) IsFullyComplete() bool {
	for _, p := range e.participants {
		if p.counts() && !e.Completed(p.ID) {
			return false
		}
	}
	return true
}

// NextEligible returns the participants allowed to act now. In parallel mode
// these are all incomplete required participants; in sequential mode only
// the first of them.
func (e *Engine) NextEligible() []string {
	var out []string
	for _, p := range e.participants {
		if !p.counts() || e.Completed(p.ID) {
			continue
		}
		out = append(out, p.ID)
		if e.mode == Sequential {
			break
		}
	}
	return out
}

// CheckTurn returns ErrSignerOutOfTurn when signerID may not act yet.
func (e *Engine) CheckTurn(signerID string) error {
	if _, ok := e.find(signerID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, signerID)
	}
	if e.mode != Sequential || e.Completed(signerID) {
		return nil
	}
	next := e.NextEligible()
	if len(next) == 0 || next[0] == signerID {
		return nil
	}
	return fmt.Errorf("%w: %s must sign before %s", ErrSignerOutOfTurn, next[0], signerID)
}

// Outstanding returns the incomplete required participants in order.
func (e *Engine) Outstanding() []string {
	var out []string
	for _, p := range e.participants {
		if p.counts() && !e.Completed(p.ID) {
			out = append(out, p.ID)
		}
	}
	return out
}

func (e *Engine) find(id string) (Participant, bool) {
	for _, p := range e.participants {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}
