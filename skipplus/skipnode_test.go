package skipplus

import (
	"context"
	"testing"
	"time"

	overlay "github.com/skipplus-go/skipplus"
)

// newFixedSkipNode builds a SkipNode with a caller-chosen rs instead of a
// randomly drawn one, so ordering between nodes in a test is deterministic.
func newFixedSkipNode(t *testing.T, port uint16, bits overlay.BitString) *SkipNode {
	t.Helper()
	ref := overlay.NewSkipReference("127.0.0.1", port, bits)
	core := overlay.NewNode(ref, overlay.NewTCPTransport())
	sn := &SkipNode{
		core:            core,
		rs:              bits,
		ref:             ref,
		n:               make(map[string]overlay.Reference),
		nodesInRanges:   make(map[string]overlay.Reference),
		timeoutInterval: time.Hour, // tests drive linearise explicitly
		stopTimeout:     make(chan struct{}),
	}
	sn.registerMethods()
	if err := sn.Start(); err != nil {
		t.Fatalf("starting node on port %d: %v", port, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sn.Stop(ctx)
	})
	return sn
}

func fullBits(bits ...bool) overlay.BitString {
	return overlay.NewBitString(bits)
}

// Invariant 1: a node's own reference never appears in its own N.
func TestLineariseNeverAddsSelf(t *testing.T) {
	a := newFixedSkipNode(t, 19300, fullBits(true, false, false, false))
	a.Linearise(a.Reference())
	if len(a.N()) != 0 {
		t.Errorf("linearise(self) should be a no-op, got N=%v", a.N())
	}
}

// Scenario 5 / corner case: a lone first neighbour is always retained in
// N, whether because it ends up inside nodesInRanges (the common case, since
// a singleton neighbourhood trivially satisfies level 0's range) or because
// nodesInRanges came back empty and N was deliberately left untouched.
func TestLineariseRetainsSoleNeighbour(t *testing.T) {
	a := newFixedSkipNode(t, 19310, fullBits(true, false, false, false))
	u := overlay.NewSkipReference("10.0.0.9", 1, fullBits(false, true, true, true))

	a.Linearise(u)

	n := a.N()
	if len(n) != 1 || !n[0].Equal(u) {
		t.Fatalf("expected N={%s}, got %v", u, n)
	}
}

// Idempotence: linearise(u) invoked repeatedly with the same u is
// observationally equivalent to a single invocation.
func TestLineariseIsIdempotent(t *testing.T) {
	a := newFixedSkipNode(t, 19320, fullBits(true, false, false, false))
	u := overlay.NewSkipReference("10.0.0.9", 1, fullBits(false, true, true, true))

	a.Linearise(u)
	first := a.N()
	for i := 0; i < 3; i++ {
		a.Linearise(u)
	}
	second := a.N()

	if len(first) != len(second) {
		t.Fatalf("repeated linearise changed N: %v -> %v", first, second)
	}
	for _, r := range second {
		if !r.Equal(u) {
			t.Errorf("unexpected neighbour %s after repeated linearise", r)
		}
	}
}

// Invariants 2 & 3: every cached range is a subset of N, and every member
// of ranges[i] shares v's i-bit prefix.
func TestRangesAreSubsetsOfNAndSharePrefix(t *testing.T) {
	a := newFixedSkipNode(t, 19330, fullBits(true, false, false, false))
	peers := []overlay.BitString{
		fullBits(true, true, false, false),
		fullBits(false, false, true, true),
		fullBits(true, false, true, false),
	}
	for i, bits := range peers {
		a.Linearise(overlay.NewSkipReference("10.0.0.1", uint16(100+i), bits))
	}

	n := a.N()
	ranges := a.Ranges()
	for i, level := range ranges {
		for _, w := range level {
			found := false
			for _, m := range n {
				if m.Equal(w) {
					found = true
				}
			}
			if !found {
				t.Errorf("ranges[%d] contains %s which is not in N", i, w)
			}
			if !prefix(i, w).Equal(prefix(i, a.Reference())) {
				t.Errorf("ranges[%d] member %s does not share the level-%d prefix", i, w, i)
			}
		}
	}
}

// Scenario 4: two nodes a, b with a.rs < b.rs and disjoint N. Invoking
// a.linearise(b.reference) over the wire (here short-circuited, since both
// nodes live in this process) adds b to a.N; explicitly introducing the
// symmetric direction -- which a converged network's periodic timeout
// firings would eventually do -- adds a to b.N.
func TestTwoNodeLineariseConverges(t *testing.T) {
	a := newFixedSkipNode(t, 19340, fullBits(false, false, false, false))
	b := newFixedSkipNode(t, 19341, fullBits(true, true, true, true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.Core().CallRemote(ctx, a.Reference(), "linearise", overlay.ReferenceValue(b.Reference()))
	if err != nil {
		t.Fatalf("a.linearise(b) failed: %v", err)
	}
	found := false
	for _, r := range a.N() {
		if r.Equal(b.Reference()) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected b.reference in a.N after linearise, got %v", a.N())
	}

	_, err = b.Core().CallRemote(ctx, b.Reference(), "linearise", overlay.ReferenceValue(a.Reference()))
	if err != nil {
		t.Fatalf("b.linearise(a) failed: %v", err)
	}
	found = false
	for _, r := range b.N() {
		if r.Equal(a.Reference()) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a.reference in b.N after symmetric linearise, got %v", b.N())
	}
}

// A remote linearise call whose argument is not a Reference is rejected
// with an error instead of being treated as a neighbour introduction.
func TestLineariseRemoteCallRejectsMalformedArgs(t *testing.T) {
	a := newFixedSkipNode(t, 19350, fullBits(true, false, false, false))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := a.Core().CallRemote(ctx, a.Reference(), "linearise", overlay.StringValue("not-a-reference"))
	if err == nil {
		t.Fatalf("expected an error for a non-Reference argument")
	}
}
