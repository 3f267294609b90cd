package consensus

import (
	"testing"
	"time"
)

func TestGate_SingleVoterThresholdReachesImmediately(t *testing.T) {
	g := NewGate(16, time.Minute)

	res := g.Vote("hash-1", "peer-1", []byte("payload"), 4, 1, 1)
	if res.Status != Reached {
		t.Fatalf("expected Reached on first vote with required=1, got %v", res.Status)
	}
	if res.Votes != 1 {
		t.Fatalf("expected votes=1, got %d", res.Votes)
	}
	if g.Len() != 0 {
		t.Fatalf("required=1 path must never insert a pending entry, got len=%d", g.Len())
	}
}

func TestGate_KOfNQuorum(t *testing.T) {
	g := NewGate(16, time.Minute)
	hash := "hash-k"
	required := 3

	r1 := g.Vote(hash, "p1", []byte("payload"), 0, required, 5)
	if r1.Status != Pending || r1.Votes != 1 {
		t.Fatalf("vote 1: expected Pending votes=1, got %v votes=%d", r1.Status, r1.Votes)
	}

	r2 := g.Vote(hash, "p2", []byte("payload"), 0, required, 5)
	if r2.Status != Pending || r2.Votes != 2 {
		t.Fatalf("vote 2: expected Pending votes=2, got %v votes=%d", r2.Status, r2.Votes)
	}

	r3 := g.Vote(hash, "p3", []byte("payload"), 0, required, 5)
	if r3.Status != Reached || r3.Votes != 3 {
		t.Fatalf("vote 3: expected Reached votes=3, got %v votes=%d", r3.Status, r3.Votes)
	}
	if string(r3.Payload) != "payload" {
		t.Fatalf("expected first voter's payload to be released, got %q", r3.Payload)
	}
}

func TestGate_RepeatedPeerDoesNotChangeVoteCount(t *testing.T) {
	g := NewGate(16, time.Minute)
	hash := "hash-repeat"
	required := 3

	g.Vote(hash, "p1", []byte("x"), 0, required, 5)
	r := g.Vote(hash, "p1", []byte("x"), 0, required, 5)
	if r.Status != AlreadyVoted {
		t.Fatalf("expected AlreadyVoted for repeated peer, got %v", r.Status)
	}
	if r.Votes != 1 {
		t.Fatalf("expected vote count unchanged at 1, got %d", r.Votes)
	}
}

func TestGate_SecondVoterPayloadDiscarded(t *testing.T) {
	g := NewGate(16, time.Minute)
	hash := "hash-payload"
	required := 2

	g.Vote(hash, "p1", []byte("first"), 0, required, 5)
	r := g.Vote(hash, "p2", []byte("second"), 0, required, 5)
	if r.Status != Reached {
		t.Fatalf("expected Reached, got %v", r.Status)
	}
	if string(r.Payload) != "first" {
		t.Fatalf("expected first voter's payload to win, got %q", r.Payload)
	}
}

func TestGate_FirstVoterConcurrentHintWins(t *testing.T) {
	g := NewGate(16, time.Minute)
	hash := "hash-hint"
	required := 2

	g.Vote(hash, "p1", []byte("x"), 4, required, 5)
	r := g.Vote(hash, "p2", []byte("x"), 9, required, 5)
	if r.ConcurrentHint != 4 {
		t.Fatalf("expected first voter's hint 4 to be retained, got %d", r.ConcurrentHint)
	}
}

func TestGate_Isolation(t *testing.T) {
	g := NewGate(16, time.Minute)
	required := 3

	g.Vote("h1", "p1", nil, 0, required, 5)
	g.Vote("h2", "p1", nil, 0, required, 5)
	g.Vote("h2", "p2", nil, 0, required, 5)
	g.Vote("h3", "p1", nil, 0, required, 5)

	if g.Len() != 3 {
		t.Fatalf("expected 3 distinct pending fingerprints, got %d", g.Len())
	}
}

func TestGate_IsAtCapacity(t *testing.T) {
	g := NewGate(2, time.Minute)
	g.Vote("h1", "p1", nil, 0, 3, 5)
	if g.IsAtCapacity() {
		t.Fatalf("should not be at capacity with 1 pending entry and max 2")
	}
	g.Vote("h2", "p1", nil, 0, 3, 5)
	if !g.IsAtCapacity() {
		t.Fatalf("should be at capacity with 2 pending entries and max 2")
	}
}

func TestGate_ReapEvictsExpiredEntries(t *testing.T) {
	g := NewGate(16, 10*time.Millisecond)
	g.Vote("h1", "p1", nil, 0, 3, 5)

	time.Sleep(20 * time.Millisecond)
	g.reapOnce()

	if g.Len() != 0 {
		t.Fatalf("expected expired entry to be reaped, got len=%d", g.Len())
	}
}
