package placement

import (
	"encoding/json"
	"errors"
	"testing"
)

func box(page, z int) Placement {
	return Placement{
		Page:     page,
		Kind:     Signature,
		Position: Position{X: 10, Y: 20, Width: 100, Height: 40, ZIndex: z},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		p       Placement
		wantErr bool
	}{
		{"signature", box(1, 0), false},
		{"zero page", box(0, 0), true},
		{"date with layout", Placement{Page: 1, Kind: Date, DateLayout: "02 Jan 2006", Position: Position{Width: 80, Height: 12}}, false},
		{"date with text", Placement{Page: 1, Kind: Date, Text: "x", Position: Position{Width: 80, Height: 12}}, true},
		{"text with image", Placement{Page: 1, Kind: Text, Text: "x", Image: []byte{1}, Position: Position{Width: 80, Height: 12}}, true},
		{"signature with text", Placement{Page: 1, Kind: Signature, Text: "x", Position: Position{Width: 80, Height: 12}}, true},
		{"unknown kind", Placement{Page: 1, Kind: 42, Position: Position{Width: 80, Height: 12}}, true},
		{"no width", Placement{Page: 1, Kind: Signature, Position: Position{Height: 12}}, true},
		{"negative scale", Placement{Page: 1, Kind: Signature, Position: Position{Width: 1, Height: 1, Scale: -1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestReady(t *testing.T) {
	stamp := Placement{Page: 1, Kind: Stamp, Position: Position{Width: 10, Height: 10}}
	if err := stamp.Ready(); !errors.Is(err, ErrIncomplete) {
		t.Errorf("stamp without image: got %v", err)
	}
	stamp.Image = []byte{0x89}
	if err := stamp.Ready(); err != nil {
		t.Errorf("stamp with image: got %v", err)
	}
	if err := box(1, 0).Ready(); err != nil {
		t.Errorf("typed signature fallback should be ready: %v", err)
	}
}

func TestPositionSize(t *testing.T) {
	w, h := Position{Width: 100, Height: 40}.Size()
	if w != 100 || h != 40 {
		t.Errorf("unscaled size = %v,%v", w, h)
	}
	w, h = Position{Width: 100, Height: 40, Scale: 0.5}.Size()
	if w != 50 || h != 20 {
		t.Errorf("scaled size = %v,%v", w, h)
	}
}

func TestKindJSON(t *testing.T) {
	b, err := json.Marshal(box(1, 0))
	if err != nil {
		t.Fatal(err)
	}
	var got Placement
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.Kind != Signature {
		t.Errorf("kind = %v", got.Kind)
	}
	if err := json.Unmarshal([]byte(`{"kind":"hologram"}`), &got); err == nil {
		t.Error("expected unknown kind to fail")
	}
}

func TestSetPut(t *testing.T) {
	s := Set{}
	if err := s.Put("alice", []Placement{box(1, 0)}); err != nil {
		t.Fatal(err)
	}
	if got := s["alice"][0].SignerID; got != "alice" {
		t.Errorf("signer id not assigned: %q", got)
	}

	foreign := box(1, 0)
	foreign.SignerID = "bob"
	if err := s.Put("alice", []Placement{foreign}); !errors.Is(err, ErrForeignSigner) {
		t.Errorf("foreign placement: got %v", err)
	}
	if s.Count("alice") != 1 {
		t.Errorf("failed Put changed the set")
	}

	if err := s.Put("alice", nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := s["alice"]; ok {
		t.Error("empty Put should remove the signer")
	}
}

func TestSetForOrdering(t *testing.T) {
	s := Set{}
	a := box(2, 0)
	b := box(1, 5)
	c := box(1, 1)
	d := box(1, 1)
	d.Position.X = 99
	if err := s.Put("alice", []Placement{a, b, c, d}); err != nil {
		t.Fatal(err)
	}
	got := s.For("alice")
	want := []struct {
		page, z int
		x       float64
	}{{1, 1, 10}, {1, 1, 99}, {1, 5, 10}, {2, 0, 10}}
	for i, w := range want {
		if got[i].Page != w.page || got[i].Position.ZIndex != w.z || got[i].Position.X != w.x {
			t.Errorf("For()[%d] = page %d z %d x %v, want %+v", i, got[i].Page, got[i].Position.ZIndex, got[i].Position.X, w)
		}
	}
	if s["alice"][0].Page != 2 {
		t.Error("For() must not reorder the stored slice")
	}
}

func TestSetLayer(t *testing.T) {
	s := Set{
		"alice": {box(1, 2), box(2, 0)},
		"bob":   {box(1, 0), box(1, 2)},
	}
	s["alice"][0].SignerID = "alice"
	s["bob"][0].SignerID = "bob"
	s["bob"][1].SignerID = "bob"

	got := s.Layer(1, []string{"alice", "bob"})
	if len(got) != 3 {
		t.Fatalf("Layer() returned %d placements", len(got))
	}
	order := []string{got[0].SignerID, got[1].SignerID, got[2].SignerID}
	want := []string{"bob", "alice", "bob"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Layer() order = %v, want %v", order, want)
		}
	}
}

func TestSetDropPage(t *testing.T) {
	s := Set{"alice": {box(1, 0), box(2, 0), box(3, 0)}, "bob": {box(2, 0)}}
	got := s.DropPage(2)

	if len(got["alice"]) != 2 || got["alice"][0].Page != 1 || got["alice"][1].Page != 2 {
		t.Errorf("alice after DropPage(2) = %+v", got["alice"])
	}
	if _, ok := got["bob"]; ok {
		t.Error("bob's only placement was on the dropped page")
	}
	if len(s["alice"]) != 3 || s["alice"][2].Page != 3 {
		t.Error("DropPage modified the receiver")
	}
}

func TestSetValidate(t *testing.T) {
	s := Set{"alice": {box(1, 0), box(3, 0)}}
	if err := s.Validate(3); err != nil {
		t.Errorf("Validate(3) = %v", err)
	}
	if err := s.Validate(2); !errors.Is(err, ErrPageOutOfRange) {
		t.Errorf("Validate(2) = %v", err)
	}
}

func TestSetClone(t *testing.T) {
	p := box(1, 0)
	p.Kind = Stamp
	p.Image = []byte{1, 2, 3}
	s := Set{"alice": {p}}
	c := s.Clone()
	c["alice"][0].Image[0] = 9
	c["alice"][0].Page = 7
	if s["alice"][0].Image[0] != 1 || s["alice"][0].Page != 1 {
		t.Error("Clone shares memory with the original")
	}
}
