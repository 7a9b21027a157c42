package audit

import (
	"errors"
	"testing"
	"time"
)

func TestAppendAssignsSequence(t *testing.T) {
	var tr Trail
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, a := range []Activity{Sent, Viewed, Signed} {
		e := tr.Append(Entry{Activity: a, Seq: 99, Timestamp: now})
		if e.Seq != uint64(i+1) {
			t.Errorf("Append(%s).Seq = %d, want %d", a, e.Seq, i+1)
		}
	}
	if err := tr.Verify(); err != nil {
		t.Fatal(err)
	}
	if tr.LastSeq() != 3 {
		t.Errorf("LastSeq() = %d", tr.LastSeq())
	}
}

func TestEntriesIsACopy(t *testing.T) {
	var tr Trail
	tr.Append(Entry{Activity: Sent})
	es := tr.Entries()
	es[0].Activity = Declined
	if tr[0].Activity != Sent {
		t.Error("Entries() exposed the backing array")
	}
}

func TestEngaged(t *testing.T) {
	var tr Trail
	tr.Append(Entry{Activity: Sent})
	if tr.Engaged() {
		t.Error("sent only is not engaged")
	}
	tr.Append(Entry{Activity: Viewed})
	if !tr.Engaged() {
		t.Error("viewed is engaged")
	}
}

func TestVerifyDetectsGaps(t *testing.T) {
	tr := Trail{{Seq: 1}, {Seq: 3}}
	if err := tr.Verify(); !errors.Is(err, ErrSequence) {
		t.Errorf("Verify() = %v", err)
	}
}

func TestExtends(t *testing.T) {
	var prev Trail
	prev.Append(Entry{Activity: Sent, ActorID: "owner"})
	next := append(Trail(nil), prev...)
	next.Append(Entry{Activity: Viewed})
	if !next.Extends(prev) {
		t.Error("appended trail should extend its prefix")
	}

	rewritten := next.Entries()
	rewritten[0].ActorID = "mallory"
	if Trail(rewritten).Extends(prev) {
		t.Error("rewritten entry accepted")
	}
	if prev.Extends(next) {
		t.Error("shorter trail accepted")
	}
}

func TestDigest(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var a, b Trail
	a.Append(Entry{Activity: Sent, ActorID: "owner", Timestamp: now})
	b.Append(Entry{Activity: Sent, ActorID: "owner", Timestamp: now})

	da, err := a.Digest()
	if err != nil {
		t.Fatal(err)
	}
	db, err := b.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if da != db || len(da) != 64 {
		t.Fatalf("digests %q and %q differ", da, db)
	}

	b.Append(Entry{Activity: Viewed, ActorID: "alice", Timestamp: now})
	if db, _ = b.Digest(); db == da {
		t.Error("digest did not change after append")
	}
}
