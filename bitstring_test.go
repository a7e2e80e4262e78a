package overlay

import "testing"

// Make sure RandomBitString yields the requested number of bits.
func TestRandomBitStringLength(t *testing.T) {
	bs, err := RandomBitString(2)
	if err != nil {
		t.Fatalf(err.Error())
	}
	if bs.Len() != 16 {
		t.Errorf("expected 16 bits, got %d", bs.Len())
	}
}

func TestBitStringPrefix(t *testing.T) {
	bs := NewBitString([]bool{true, false, true, true})
	if !bs.Prefix(0).Equal(NewBitString(nil)) {
		t.Errorf("prefix(0, v) should be empty")
	}
	if !bs.Prefix(bs.Len()).Equal(bs) {
		t.Errorf("prefix(len(v), v) should equal v")
	}
	if !bs.Prefix(2).Equal(NewBitString([]bool{true, false})) {
		t.Errorf("prefix(2, v) was %s", bs.Prefix(2))
	}
}

func TestBitStringLess(t *testing.T) {
	a := NewBitString([]bool{false, true})
	b := NewBitString([]bool{true, false})
	if !a.Less(b) {
		t.Errorf("%s should be less than %s", a, b)
	}
	if b.Less(a) {
		t.Errorf("%s should not be less than %s", b, a)
	}
	if a.Less(a) {
		t.Errorf("a BitString should never be less than itself")
	}
}

func TestCommonPrefixLen(t *testing.T) {
	a := NewBitString([]bool{true, true, false, true})
	b := NewBitString([]bool{true, true, true, false})
	if got := CommonPrefixLen(a, b); got != 2 {
		t.Errorf("expected common prefix length 2, got %d", got)
	}
}

// Serialising and deserialising a BitString should round-trip bit-for-bit.
func TestBitStringRoundTrip(t *testing.T) {
	bs, err := RandomBitString(16)
	if err != nil {
		t.Fatalf(err.Error())
	}
	raw, err := bs.MarshalBinary()
	if err != nil {
		t.Fatalf(err.Error())
	}
	var out BitString
	if err := out.UnmarshalBinary(raw); err != nil {
		t.Fatalf(err.Error())
	}
	if !bs.Equal(out) {
		t.Errorf("round-tripped BitString %s does not equal original %s", out, bs)
	}
}

func TestBitStringEqualDifferentLengths(t *testing.T) {
	a := NewBitString([]bool{true})
	b := NewBitString([]bool{true, false})
	if a.Equal(b) {
		t.Errorf("BitStrings of different lengths should not be equal")
	}
}
