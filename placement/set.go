package placement

import (
	"fmt"
	"sort"
)

// Set holds the placements of a document keyed by signer id.
// Put changes the Set in place; Clone it first to keep the previous state.
type Set map[string][]Placement

// Put replaces the placements of signerID. Placements with an empty SignerID
// are assigned to signerID; placements carrying another id are rejected.
func (s Set) Put(signerID string, ps []Placement) error {
	if signerID == "" {
		return fmt.Errorf("%w: empty signer id", ErrInvalid)
	}
	next := make([]Placement, 0, len(ps))
	for i, p := range ps {
		if p.SignerID == "" {
			p.SignerID = signerID
		}
		if p.SignerID != signerID {
			return fmt.Errorf("%w: placement %d is for %q", ErrForeignSigner, i, p.SignerID)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("placement %d: %w", i, err)
		}
		next = append(next, p)
	}
	if len(next) == 0 {
		delete(s, signerID)
		return nil
	}
	s[signerID] = next
	return nil
}

// For returns the placements of signerID in rendering order: page
// ascending, then z-index ascending. Placements with equal keys keep their
// insertion order.
func (s Set) For(signerID string) []Placement {
	out := append([]Placement(nil), s[signerID]...)
	sortRendering(out)
	return out
}

// Count returns the number of placements held for signerID.
func (s Set) Count(signerID string) int {
	return len(s[signerID])
}

// Layer returns every placement on page for the given signers, in painting
// order: z-index ascending, then signer order, then insertion order.
func (s Set) Layer(page int, signers []string) []Placement {
	var out []Placement
	for _, id := range signers {
		for _, p := range s[id] {
			if p.Page == page {
				out = append(out, p)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Position.ZIndex < out[j].Position.ZIndex
	})
	return out
}

// Validate checks that every placement references one of pageCount pages.
func (s Set) Validate(pageCount int) error {
	for _, id := range s.signers() {
		for _, p := range s[id] {
			if p.Page < 1 || p.Page > pageCount {
				return fmt.Errorf("%w: signer %s page %d of %d", ErrPageOutOfRange, id, p.Page, pageCount)
			}
		}
	}
	return nil
}

// DropPage returns a copy of s without the placements on page n. Placements
// on later pages move up by one so they keep pointing at the same content.
func (s Set) DropPage(n int) Set {
	out := make(Set, len(s))
	for id, ps := range s {
		kept := make([]Placement, 0, len(ps))
		for _, p := range ps {
			switch {
			case p.Page == n:
				continue
			case p.Page > n:
				p.Page--
			}
			kept = append(kept, p)
		}
		if len(kept) > 0 {
			out[id] = kept
		}
	}
	return out
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for id, ps := range s {
		cp := make([]Placement, len(ps))
		for i, p := range ps {
			if p.Image != nil {
				p.Image = append([]byte(nil), p.Image...)
			}
			cp[i] = p
		}
		out[id] = cp
	}
	return out
}

func (s Set) signers() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortRendering(ps []Placement) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Page != ps[j].Page {
			return ps[i].Page < ps[j].Page
		}
		return ps[i].Position.ZIndex < ps[j].Position.ZIndex
	})
}
