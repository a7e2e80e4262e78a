package overlay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValueRoundTripPrimitives(t *testing.T) {
	cases := []Value{
		Void(),
		BoolValue(true),
		IntValue(-42),
		StringValue("value"),
	}
	for _, v := range cases {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		var out Value
		require.NoError(t, json.Unmarshal(data, &out))
		require.Equal(t, v.kind, out.kind)
	}
}

func TestValueRoundTripBitStringAndReference(t *testing.T) {
	rs, err := RandomBitString(2)
	require.NoError(t, err)
	ref := NewSkipReference("127.0.0.1", 9000, rs)

	bsv := BitStringValue(rs)
	data, err := json.Marshal(bsv)
	require.NoError(t, err)
	var outBS Value
	require.NoError(t, json.Unmarshal(data, &outBS))
	got, ok := outBS.BitStringVal()
	require.True(t, ok)
	require.True(t, got.Equal(rs))

	refv := ReferenceValue(ref)
	data, err = json.Marshal(refv)
	require.NoError(t, err)
	var outRef Value
	require.NoError(t, json.Unmarshal(data, &outRef))
	gotRef, ok := outRef.ReferenceVal()
	require.True(t, ok)
	require.True(t, gotRef.Equal(ref))
}

func TestValueRoundTripSlice(t *testing.T) {
	sv := SliceValue([]Value{IntValue(1), IntValue(2), IntValue(3)})
	data, err := json.Marshal(sv)
	require.NoError(t, err)
	var out Value
	require.NoError(t, json.Unmarshal(data, &out))
	items, ok := out.Slice()
	require.True(t, ok)
	require.Len(t, items, 3)
}

func TestFromGoRejectsUnknownType(t *testing.T) {
	type notWire struct{ X int }
	_, err := FromGo(notWire{X: 1})
	require.Error(t, err)
	require.IsType(t, UnknownTypeError{}, err)
}
