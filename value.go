package overlay

import (
	"encoding/json"
	"fmt"
)

// valueKind tags which branch of the closed serialisable universe a Value
// holds. The universe is fixed by the wire protocol: booleans, integers,
// strings, BitStrings, References, and homogeneous sequences or sets of
// the above.
type valueKind string

const (
	kindVoid      valueKind = "void"
	kindBool      valueKind = "bool"
	kindInt       valueKind = "int"
	kindString    valueKind = "string"
	kindBitString valueKind = "bitstring"
	kindReference valueKind = "reference"
	kindSlice     valueKind = "slice"
	kindSet       valueKind = "set"
)

// Value is an argument or return value drawn from the wire protocol's
// closed serialisable universe. It round-trips through JSON as a tagged
// union so the receiver knows which Go type to rehydrate without relying
// on interface{} reflection over the wire.
type Value struct {
	kind  valueKind
	b     bool
	i     int64
	s     string
	bits  BitString
	ref   Reference
	items []Value
}

// Void is the empty return value, used by calls that carry no result.
func Void() Value { return Value{kind: kindVoid} }

// BoolValue wraps a boolean.
func BoolValue(b bool) Value { return Value{kind: kindBool, b: b} }

// IntValue wraps an integer.
func IntValue(i int64) Value { return Value{kind: kindInt, i: i} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{kind: kindString, s: s} }

// BitStringValue wraps a BitString.
func BitStringValue(b BitString) Value { return Value{kind: kindBitString, bits: NewBitString(b)} }

// ReferenceValue wraps a Reference.
func ReferenceValue(r Reference) Value { return Value{kind: kindReference, ref: r} }

// SliceValue wraps an ordered, homogeneous sequence of Values.
func SliceValue(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: kindSlice, items: cp}
}

// SetValue wraps an unordered, homogeneous collection of Values.
func SetValue(items []Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: kindSet, items: cp}
}

// IsVoid reports whether the Value carries no payload.
func (v Value) IsVoid() bool { return v.kind == kindVoid }

// Bool returns the wrapped boolean and whether the Value actually held one.
func (v Value) Bool() (bool, bool) { return v.b, v.kind == kindBool }

// Int returns the wrapped integer and whether the Value actually held one.
func (v Value) Int() (int64, bool) { return v.i, v.kind == kindInt }

// String returns the wrapped string and whether the Value actually held one.
func (v Value) String() (string, bool) { return v.s, v.kind == kindString }

// BitStringVal returns the wrapped BitString and whether the Value actually held one.
func (v Value) BitStringVal() (BitString, bool) { return v.bits, v.kind == kindBitString }

// ReferenceVal returns the wrapped Reference and whether the Value actually held one.
func (v Value) ReferenceVal() (Reference, bool) { return v.ref, v.kind == kindReference }

// Slice returns the wrapped sequence and whether the Value actually held one.
func (v Value) Slice() ([]Value, bool) { return v.items, v.kind == kindSlice }

// Set returns the wrapped collection and whether the Value actually held one.
func (v Value) Set() ([]Value, bool) { return v.items, v.kind == kindSet }

// wireValue is the JSON-level shape of a Value.
type wireValue struct {
	Kind  valueKind   `json:"kind"`
	Bool  bool        `json:"bool,omitempty"`
	Int   int64       `json:"int,omitempty"`
	Str   string      `json:"str,omitempty"`
	Bits  []byte      `json:"bits,omitempty"`
	Ref   *Reference  `json:"ref,omitempty"`
	Items []wireValue `json:"items,omitempty"`
}

func (v Value) toWire() (wireValue, error) {
	w := wireValue{Kind: v.kind}
	switch v.kind {
	case kindVoid:
	case kindBool:
		w.Bool = v.b
	case kindInt:
		w.Int = v.i
	case kindString:
		w.Str = v.s
	case kindBitString:
		bits, err := v.bits.MarshalBinary()
		if err != nil {
			return wireValue{}, err
		}
		w.Bits = bits
	case kindReference:
		r := v.ref
		w.Ref = &r
	case kindSlice, kindSet:
		w.Items = make([]wireValue, len(v.items))
		for i, item := range v.items {
			wi, err := item.toWire()
			if err != nil {
				return wireValue{}, err
			}
			w.Items[i] = wi
		}
	default:
		return wireValue{}, UnknownTypeError{Value: v}
	}
	return w, nil
}

func (w wireValue) toValue() (Value, error) {
	v := Value{kind: w.Kind}
	switch w.Kind {
	case kindVoid:
	case kindBool:
		v.b = w.Bool
	case kindInt:
		v.i = w.Int
	case kindString:
		v.s = w.Str
	case kindBitString:
		var bits BitString
		if err := bits.UnmarshalBinary(w.Bits); err != nil {
			return Value{}, err
		}
		v.bits = bits
	case kindReference:
		if w.Ref == nil {
			return Value{}, fmt.Errorf("overlay: reference value missing its reference payload")
		}
		v.ref = *w.Ref
	case kindSlice, kindSet:
		v.items = make([]Value, len(w.Items))
		for i, wi := range w.Items {
			item, err := wi.toValue()
			if err != nil {
				return Value{}, err
			}
			v.items[i] = item
		}
	default:
		return Value{}, UnknownTypeError{Value: w}
	}
	return v, nil
}

// MarshalJSON implements the wire format for a Value.
func (v Value) MarshalJSON() ([]byte, error) {
	w, err := v.toWire()
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the wire format for a Value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := w.toValue()
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromGo lifts a plain Go value into the wire protocol's closed universe,
// returning UnknownTypeError for anything outside it. It is the
// convenience boundary registered method handlers use so they can work
// with ordinary Go types instead of constructing Values by hand.
func FromGo(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Void(), nil
	case bool:
		return BoolValue(t), nil
	case int:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint16:
		return IntValue(int64(t)), nil
	case string:
		return StringValue(t), nil
	case BitString:
		return BitStringValue(t), nil
	case Reference:
		return ReferenceValue(t), nil
	case []Reference:
		items := make([]Value, len(t))
		for i, r := range t {
			items[i] = ReferenceValue(r)
		}
		return SliceValue(items), nil
	case []Value:
		return SliceValue(t), nil
	default:
		return Value{}, UnknownTypeError{Value: x}
	}
}
