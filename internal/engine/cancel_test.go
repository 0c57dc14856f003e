package engine

import "testing"

func TestStopSetConsumeResetsFlag(t *testing.T) {
	t.Parallel()

	stops := newStopSet()
	stops.request("sess-1")
	if !stops.consume("sess-1") {
		t.Fatalf("expected flag to be set")
	}
	if stops.consume("sess-1") {
		t.Fatalf("expected flag to reset after consume")
	}
}

func TestStopSetClearDropsStaleRequest(t *testing.T) {
	t.Parallel()

	stops := newStopSet()
	stops.request("sess-1")
	stops.clear("sess-1")
	if stops.consume("sess-1") {
		t.Fatalf("expected cleared flag to stay unset")
	}
}

func TestStopSetUnknownSessionIsNoOp(t *testing.T) {
	t.Parallel()

	stops := newStopSet()
	stops.request("")
	if stops.consume("missing") {
		t.Fatalf("expected no flag for unknown session")
	}
}
