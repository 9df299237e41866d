package dbus

import (
	"fmt"
	"math"
	"strings"
)

// ObjectPath is a D-Bus object path, e.g. "/org/freedesktop/DBus".
type ObjectPath string

// IsValid reports whether p follows object path syntax: starts with '/',
// contains only ASCII letters, digits, and underscore between slashes,
// has no empty path elements, and (unless it is the root) no trailing
// slash.
func (p ObjectPath) IsValid() bool {
	s := string(p)
	if s == "" || s[0] != '/' {
		return false
	}
	if s == "/" {
		return true
	}
	if s[len(s)-1] == '/' {
		return false
	}
	for _, elem := range strings.Split(s[1:], "/") {
		if elem == "" {
			return false
		}
		for i := 0; i < len(elem); i++ {
			c := elem[i]
			if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
				return false
			}
		}
	}
	return true
}

// UnixFD is the wire representation of a UNIX_FD value: an index into an
// out-of-band array of descriptors. Actual descriptor transfer is out of
// scope for this package (spec §1); this type only carries the integer.
type UnixFD uint32

// Array is the payload of a Value with Kind == KindArray. Elem is carried
// explicitly (not inferred from Items) so an empty array still knows its
// element type, per spec §3.
type Array struct {
	Elem  Type
	Items []Value
}

// DictEntry is the payload of a Value with Kind == KindDictEntry. It only
// ever appears as the Elem of an Array (spec §3: "DICT_ENTRY only legal as
// the element of an ARRAY").
type DictEntry struct {
	Key Value
	Val Value
}

// Variant is the payload of a Value with Kind == KindVariant: a
// self-describing value carrying both its own signature and a payload.
type Variant struct {
	Value Value
}

// Value is a tagged union over the D-Bus type system (spec §3). The zero
// Value is not meaningful; construct one with the New* helpers or via
// decode.
type Value struct {
	Kind    TypeKind
	payload any
}

// Type reconstructs the full type descriptor for v, recursing into
// containers. For Array this returns the Elem carried alongside the
// items (so it is correct even for an empty array); for Variant it
// returns basicType(KindVariant) since the wire type of a variant slot
// is always 'v' regardless of what it contains.
func (v Value) Type() Type {
	switch v.Kind {
	case KindArray:
		a := v.array()
		e := a.Elem
		return Type{Kind: KindArray, Elem: &e}
	case KindStruct:
		fields := v.fields()
		types := make([]Type, len(fields))
		for i, f := range fields {
			types[i] = f.Type()
		}
		return Type{Kind: KindStruct, Fields: types}
	default:
		return basicType(v.Kind)
	}
}

func (v Value) array() *Array { return v.payload.(*Array) }
func (v Value) fields() []Value { return v.payload.([]Value) }

// --- constructors ---

func NewByte(b byte) Value          { return Value{Kind: KindByte, payload: b} }
func NewBool(b bool) Value          { return Value{Kind: KindBoolean, payload: b} }
func NewInt16(n int16) Value        { return Value{Kind: KindInt16, payload: n} }
func NewUint16(n uint16) Value      { return Value{Kind: KindUint16, payload: n} }
func NewInt32(n int32) Value        { return Value{Kind: KindInt32, payload: n} }
func NewUint32(n uint32) Value      { return Value{Kind: KindUint32, payload: n} }
func NewInt64(n int64) Value        { return Value{Kind: KindInt64, payload: n} }
func NewUint64(n uint64) Value      { return Value{Kind: KindUint64, payload: n} }
func NewDouble(f float64) Value     { return Value{Kind: KindDouble, payload: f} }
func NewString(s string) Value      { return Value{Kind: KindString, payload: s} }
func NewObjectPath(p ObjectPath) Value {
	return Value{Kind: KindObjectPath, payload: p}
}
func NewSignatureValue(s Signature) Value {
	return Value{Kind: KindSignature, payload: s}
}
func NewUnixFD(fd UnixFD) Value { return Value{Kind: KindUnixFD, payload: fd} }

func NewVariant(inner Value) Value {
	return Value{Kind: KindVariant, payload: &Variant{Value: inner}}
}

// NewArray builds an ARRAY value. elem is required even when items is
// empty, so the empty array still carries its element type on the wire
// context (spec §3, §8: "decoder preserves the element type from the
// context signature").
func NewArray(elem Type, items []Value) Value {
	return Value{Kind: KindArray, payload: &Array{Elem: elem, Items: items}}
}

// NewStruct builds a STRUCT value from its fields in declared order.
// STRUCT may not be empty (spec §3: "field-list, non-empty").
func NewStruct(fields ...Value) Value {
	return Value{Kind: KindStruct, payload: fields}
}

// NewDict builds a dictionary: an ARRAY whose element type is
// DICT_ENTRY(keyKind, valType). keyKind must be a basic type.
func NewDict(keyKind TypeKind, valType Type, entries []DictEntry) Value {
	items := make([]Value, len(entries))
	for i, e := range entries {
		items[i] = Value{Kind: KindDictEntry, payload: &DictEntry{Key: e.Key, Val: e.Val}}
	}
	elem := Type{Kind: KindDictEntry, KeyKind: keyKind, Elem: &valType}
	return Value{Kind: KindArray, payload: &Array{Elem: elem, Items: items}}
}

// --- accessors ---

func (v Value) Byte() byte             { return v.payload.(byte) }
func (v Value) Bool() bool             { return v.payload.(bool) }
func (v Value) Int16() int16           { return v.payload.(int16) }
func (v Value) Uint16() uint16         { return v.payload.(uint16) }
func (v Value) Int32() int32           { return v.payload.(int32) }
func (v Value) Uint32() uint32         { return v.payload.(uint32) }
func (v Value) Int64() int64           { return v.payload.(int64) }
func (v Value) Uint64() uint64         { return v.payload.(uint64) }
func (v Value) Double() float64        { return v.payload.(float64) }
func (v Value) Str() string            { return v.payload.(string) }
func (v Value) ObjectPathValue() ObjectPath { return v.payload.(ObjectPath) }
func (v Value) SignatureValue() Signature   { return v.payload.(Signature) }
func (v Value) UnixFDValue() UnixFD    { return v.payload.(UnixFD) }
func (v Value) VariantValue() *Variant { return v.payload.(*Variant) }
func (v Value) ArrayValue() *Array     { return v.payload.(*Array) }
func (v Value) StructFields() []Value  { return v.payload.([]Value) }
func (v Value) DictEntryValue() *DictEntry { return v.payload.(*DictEntry) }

// IsDict reports whether v is an ARRAY whose element type is DICT_ENTRY.
func (v Value) IsDict() bool {
	return v.Kind == KindArray && v.array().Elem.Kind == KindDictEntry
}

// Equal performs structural comparison, per spec §8: NaN payloads compare
// equal by bit pattern (handled naturally since Go's == on float64 would
// say NaN != NaN, so doubles are compared via math.Float64bits).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindDouble:
		return math.Float64bits(v.Double()) == math.Float64bits(o.Double())
	case KindVariant:
		return v.VariantValue().Value.Equal(o.VariantValue().Value)
	case KindArray:
		a, b := v.array(), o.array()
		if a.Elem.String() != b.Elem.String() || len(a.Items) != len(b.Items) {
			return false
		}
		if a.Elem.Kind == KindDictEntry {
			return dictItemsEqual(a.Items, b.Items)
		}
		for i := range a.Items {
			if !a.Items[i].Equal(b.Items[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		fa, fb := v.fields(), o.fields()
		if len(fa) != len(fb) {
			return false
		}
		for i := range fa {
			if !fa[i].Equal(fb[i]) {
				return false
			}
		}
		return true
	case KindDictEntry:
		ea, eb := v.DictEntryValue(), o.DictEntryValue()
		return ea.Key.Equal(eb.Key) && ea.Val.Equal(eb.Val)
	default:
		return v.payload == o.payload
	}
}

func (v Value) String() string {
	return fmt.Sprintf("%v", v.payload)
}

// dictItemsEqual compares two DICT_ENTRY item lists independent of order
// (spec §8: dictionaries compare regardless of map iteration order), by
// matching each entry of a against an unused entry of b with an equal key
// and value. O(n^2) but dictionaries in this protocol are small.
func dictItemsEqual(a, b []Value) bool {
	used := make([]bool, len(b))
	for _, ea := range a {
		found := false
		for j, eb := range b {
			if used[j] {
				continue
			}
			if ea.DictEntryValue().Key.Equal(eb.DictEntryValue().Key) && ea.DictEntryValue().Val.Equal(eb.DictEntryValue().Val) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
