// Package skipplus builds the Skip+ maintenance protocol on top of the
// overlay package's remote-invocation substrate: a neighbourhood set N, a
// per-level range cache, and the linearise/timeout rules that drive the
// network to converge on the unique legal Skip+ topology.
package skipplus

import (
	overlay "github.com/skipplus-go/skipplus"
)

// RsByteLength is the width of a node's random bit string in bytes.
const RsByteLength = 2

// RsBitLength is the width of a node's random bit string in bits.
const RsBitLength = RsByteLength * 8

// rank distinguishes the sentinel values from real, rs-bearing references
// for the purposes of pred/succ ordering. Sentinels must never reach N or
// the wire; they exist purely as order-theoretic identity elements.
type rank int

const (
	rankLowest rank = iota
	rankNormal
	rankHighest
)

// ranked wraps either a real reference or one of the LOWEST/HIGHEST
// sentinels so pred/succ/low/high can compare the two uniformly without
// ever letting a sentinel leak into a neighbourhood set.
type ranked struct {
	kind rank
	ref  overlay.Reference
}

var lowestRanked = ranked{kind: rankLowest}
var highestRanked = ranked{kind: rankHighest}

func refRanked(r overlay.Reference) ranked { return ranked{kind: rankNormal, ref: r} }

// less compares two ranked values. Sentinels sort below/above every real
// reference; two real references compare by rs.
func (r ranked) less(other ranked) bool {
	if r.kind != other.kind {
		return r.kind < other.kind
	}
	if r.kind != rankNormal {
		return false
	}
	return r.ref.Rs.Less(*other.ref.Rs)
}

func (r ranked) equal(other ranked) bool {
	if r.kind != other.kind {
		return false
	}
	if r.kind != rankNormal {
		return true
	}
	return r.ref.Equal(other.ref)
}

func min2(a, b ranked) ranked {
	if b.less(a) {
		return b
	}
	return a
}

func max2(a, b ranked) ranked {
	if a.less(b) {
		return b
	}
	return a
}

// prefix returns the first i bits of v's rs.
func prefix(i int, v overlay.Reference) overlay.BitString {
	return v.Rs.Prefix(i)
}

// commonPrefixLength returns the number of leading bits a and b's rs
// share.
func commonPrefixLength(a, b overlay.Reference) int {
	return overlay.CommonPrefixLen(*a.Rs, *b.Rs)
}

// pred(v, W) = arg max (w ∈ W ∪ {LOWEST}) {w < v}
func pred(v overlay.Reference, w []overlay.Reference) ranked {
	best := lowestRanked
	for _, candidate := range w {
		rc := refRanked(candidate)
		if rc.less(refRanked(v)) && best.less(rc) {
			best = rc
		}
	}
	return best
}

// succ(v, W) = arg min (w ∈ W ∪ {HIGHEST}) {w > v}
func succ(v overlay.Reference, w []overlay.Reference) ranked {
	best := highestRanked
	rv := refRanked(v)
	for _, candidate := range w {
		rc := refRanked(candidate)
		if rv.less(rc) && rc.less(best) {
			best = rc
		}
	}
	return best
}

// levelNodes returns {w ∈ N | prefix(i+1, w) = prefix(i, v)◦x}.
func levelNodes(i int, v overlay.Reference, x bool, n []overlay.Reference) []overlay.Reference {
	want := prefix(i, v).Append(x)
	var out []overlay.Reference
	for _, w := range n {
		if prefix(i+1, w).Equal(want) {
			out = append(out, w)
		}
	}
	return out
}

func levelPred(i int, v overlay.Reference, x bool, n []overlay.Reference) ranked {
	return pred(v, levelNodes(i, v, x, n))
}

func levelSucc(i int, v overlay.Reference, x bool, n []overlay.Reference) ranked {
	return succ(v, levelNodes(i, v, x, n))
}

// low(i, v, N) = min{levelPred(i, v, 0, N), levelPred(i, v, 1, N)}
func low(i int, v overlay.Reference, n []overlay.Reference) ranked {
	return min2(levelPred(i, v, false, n), levelPred(i, v, true, n))
}

// high(i, v, N) = max{levelSucc(i, v, 0, N), levelSucc(i, v, 1, N)}.
// The source documents this as built from levelPred but implements it
// with levelSucc; the implemented form is the one consistent with the
// range definition below, and is what's reproduced here.
func high(i int, v overlay.Reference, n []overlay.Reference) ranked {
	return max2(levelSucc(i, v, false, n), levelSucc(i, v, true, n))
}

// skipRange(i, v, N) = { w ∈ N : prefix(i, w) = prefix(i, v) ∧ low(i,v,N) ≤ w ≤ high(i,v,N) }
func skipRange(i int, v overlay.Reference, n []overlay.Reference) []overlay.Reference {
	vPrefix := prefix(i, v)
	l := low(i, v, n)
	h := high(i, v, n)
	var out []overlay.Reference
	for _, w := range n {
		if !prefix(i, w).Equal(vPrefix) {
			continue
		}
		rw := refRanked(w)
		if !rw.less(l) && !h.less(rw) {
			out = append(out, w)
		}
	}
	return out
}

// longestCommonPrefixNode returns the reference in w with the longest rs
// prefix in common with target, breaking ties by rs order.
func longestCommonPrefixNode(target overlay.Reference, w []overlay.Reference) overlay.Reference {
	best := w[0]
	bestLen := commonPrefixLength(best, target)
	for _, candidate := range w[1:] {
		l := commonPrefixLength(candidate, target)
		if l > bestLen || (l == bestLen && candidate.Rs.Less(*best.Rs)) {
			best, bestLen = candidate, l
		}
	}
	return best
}
