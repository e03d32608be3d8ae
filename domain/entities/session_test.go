package entities

import "testing"

func TestNewSession(t *testing.T) {
	a := NewSession()
	b := NewSession()

	if a.ID == "" {
		t.Fatal("Expected session id to be set")
	}
	if a.ID == b.ID {
		t.Error("Expected fresh sessions to have distinct ids")
	}
	if a.StartedAt.IsZero() {
		t.Error("Expected start time to be set")
	}
}

func TestClaimSeqStrictlyIncreasing(t *testing.T) {
	s := NewSession()

	for want := uint32(0); want < 100; want++ {
		if got := s.NextSeq(); got != want {
			t.Fatalf("Expected next seq %d, got %d", want, got)
		}
		if got := s.ClaimSeq(); got != want {
			t.Fatalf("Expected claimed seq %d, got %d", want, got)
		}
	}
}

func TestFreshSessionRestartsSequence(t *testing.T) {
	s := NewSession()
	s.ClaimSeq()
	s.ClaimSeq()

	// A reconnect is always a fresh session: new id, sequence back at zero.
	next := NewSession()
	if next.ID == s.ID {
		t.Error("Expected a fresh session id")
	}
	if got := next.ClaimSeq(); got != 0 {
		t.Errorf("Expected fresh session to start at seq 0, got %d", got)
	}
}
