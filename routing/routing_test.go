package routing

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func participants() []Participant {
	return []Participant{
		{ID: "a", Required: true},
		{ID: "cc", Required: false},
		{ID: "b", Required: true},
	}
}

func TestParallelCompletion(t *testing.T) {
	e := New(Parallel, participants(), nil)
	if e.IsFullyComplete() {
		t.Fatal("fresh engine reported complete")
	}
	if err := e.CheckTurn("b"); err != nil {
		t.Fatalf("parallel CheckTurn(b) = %v", err)
	}
	if got := e.NextEligible(); len(got) != 2 {
		t.Errorf("NextEligible() = %v", got)
	}

	ok, err := e.RecordCompletion("b", t0)
	if err != nil || !ok {
		t.Fatalf("RecordCompletion(b) = %v, %v", ok, err)
	}
	ok, err = e.RecordCompletion("b", t0.Add(time.Hour))
	if err != nil || ok {
		t.Fatalf("second RecordCompletion(b) = %v, %v", ok, err)
	}
	if !e.Ledger()["b"].Equal(t0) {
		t.Error("idempotent completion overwrote the first record")
	}
	if e.IsFullyComplete() {
		t.Fatal("complete with a required signer outstanding")
	}
	if _, err := e.RecordCompletion("a", t0); err != nil {
		t.Fatal(err)
	}
	if !e.IsFullyComplete() {
		t.Error("viewer should not block completion")
	}
}

func TestSequentialTurns(t *testing.T) {
	e := New(Sequential, participants(), Ledger{})
	if err := e.CheckTurn("b"); !errors.Is(err, ErrSignerOutOfTurn) {
		t.Fatalf("CheckTurn(b) = %v, want out of turn", err)
	}
	if err := e.CheckTurn("a"); err != nil {
		t.Fatalf("CheckTurn(a) = %v", err)
	}
	if _, err := e.RecordCompletion("a", t0); err != nil {
		t.Fatal(err)
	}
	if err := e.CheckTurn("b"); err != nil {
		t.Fatalf("CheckTurn(b) after a = %v", err)
	}
	if got := e.NextEligible(); len(got) != 1 || got[0] != "b" {
		t.Errorf("NextEligible() = %v", got)
	}
	if err := e.CheckTurn("a"); err != nil {
		t.Errorf("completed signer retrying: %v", err)
	}
}

func TestDeletedParticipantsAreIgnored(t *testing.T) {
	ps := participants()
	ps[0].Deleted = true
	e := New(Sequential, ps, nil)
	if err := e.CheckTurn("b"); err != nil {
		t.Fatalf("CheckTurn(b) with a deleted = %v", err)
	}
	if _, err := e.RecordCompletion("b", t0); err != nil {
		t.Fatal(err)
	}
	if !e.IsFullyComplete() {
		t.Error("deleted signer blocked completion")
	}
}

func TestVacuousCompletion(t *testing.T) {
	e := New(Parallel, []Participant{{ID: "cc"}}, nil)
	if !e.IsFullyComplete() {
		t.Error("no required participants should be vacuously complete")
	}
}

func TestUnknownParticipant(t *testing.T) {
	e := New(Parallel, participants(), nil)
	if _, err := e.RecordCompletion("zed", t0); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("RecordCompletion(zed) = %v", err)
	}
	if err := e.CheckTurn("zed"); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("CheckTurn(zed) = %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Parallel, "Parallel": Parallel, "sequential": Sequential} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("round-robin"); err == nil {
		t.Error("expected error")
	}
}
