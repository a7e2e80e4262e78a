package skipplus

import (
	"testing"

	overlay "github.com/skipplus-go/skipplus"
)

func refWithBits(bits ...bool) overlay.Reference {
	return overlay.NewSkipReference("10.0.0.1", 9000, overlay.NewBitString(bits))
}

func TestPrefixAndCommonPrefixLength(t *testing.T) {
	a := refWithBits(true, true, false, true)
	b := refWithBits(true, true, true, false)

	if got := prefix(2, a); !got.Equal(overlay.NewBitString([]bool{true, true})) {
		t.Errorf("prefix(2, a) = %s, want 11", got)
	}
	if got := commonPrefixLength(a, b); got != 2 {
		t.Errorf("commonPrefixLength = %d, want 2", got)
	}
}

func TestPredSuccFallBackToSentinels(t *testing.T) {
	v := refWithBits(true, false, false, false)
	p := pred(v, nil)
	if p.kind != rankLowest {
		t.Errorf("pred(v, {}) should fall back to LOWEST")
	}
	s := succ(v, nil)
	if s.kind != rankHighest {
		t.Errorf("succ(v, {}) should fall back to HIGHEST")
	}
}

func TestPredSuccPickClosestBound(t *testing.T) {
	v := refWithBits(true, false, false, false) // 1000
	lower := refWithBits(false, true, true, true) // 0111 < v
	higher := refWithBits(true, true, false, false) // 1100 > v

	p := pred(v, []overlay.Reference{lower, higher})
	if p.kind != rankNormal || !p.ref.Equal(lower) {
		t.Errorf("pred should pick %s, got %+v", lower, p)
	}

	s := succ(v, []overlay.Reference{lower, higher})
	if s.kind != rankNormal || !s.ref.Equal(higher) {
		t.Errorf("succ should pick %s, got %+v", higher, s)
	}
}

func TestSkipRangeHonoursLevelPrefix(t *testing.T) {
	self := refWithBits(true, false, false, false)
	sameLevel0 := refWithBits(true, true, true, true) // shares prefix(0) with everything
	otherPrefix := refWithBits(false, true, true, true)

	n := []overlay.Reference{sameLevel0, otherPrefix}
	r := skipRange(0, self, n)
	found := false
	for _, w := range r {
		if w.Equal(otherPrefix) {
			found = true
		}
	}
	if !found {
		t.Errorf("level 0 range should include every neighbour sharing the empty prefix, got %v", r)
	}
}

func TestLongestCommonPrefixNodePicksClosestRs(t *testing.T) {
	target := refWithBits(true, true, false, false)
	closer := refWithBits(true, true, false, true)
	far := refWithBits(false, false, false, false)

	got := longestCommonPrefixNode(target, []overlay.Reference{far, closer})
	if !got.Equal(closer) {
		t.Errorf("longestCommonPrefixNode = %s, want %s", got, closer)
	}
}
