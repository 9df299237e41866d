package dbus

import "unicode/utf8"

// strictBooleanDecoding resolves the open question in spec §9 on whether
// boolean wire values other than 0 and 1 should be rejected or accepted
// as truthy: this package rejects anything else, matching the formal
// D-Bus wire format text rather than the source's accept-any-nonzero
// behavior (see DESIGN.md).
const strictBooleanDecoding = true

// decodeValue reads one value of type t from r. Containers recurse;
// ARRAY bounds its element loop to the declared length via reader.limit
// rather than copying a sub-slice (spec §4.3).
func decodeValue(r *reader, t Type) (Value, error) {
	return decodeValueDepth(r, t, 0)
}

// decodeValueDepth tracks recursion depth across nested VARIANTs. Unlike
// ARRAY/STRUCT nesting, which parseSignature already bounds at
// maxNesting before any bytes are decoded, a VARIANT's contained
// signature is parsed fresh at each level and so carries no depth
// information of its own; without an explicit counter here, a message
// containing variants nested thousands of levels deep would recurse
// through decodeVariant/decodeValue without bound and crash the process
// on stack exhaustion. maxNesting is reused as the same cap the
// signature grammar already enforces for other containers.
func decodeValueDepth(r *reader, t Type, depth int) (Value, error) {
	if depth > maxNesting {
		return Value{}, newErr(ErrKindInvalidSignature, "variant nesting exceeds maximum depth")
	}
	switch t.Kind {
	case KindByte:
		b, err := r.readByte()
		return NewByte(b), err
	case KindBoolean:
		u, err := r.readUint32()
		if err != nil {
			return Value{}, err
		}
		if strictBooleanDecoding && u != 0 && u != 1 {
			return Value{}, newErr(ErrKindInvalidBoolean, "boolean value must be 0 or 1")
		}
		return NewBool(u != 0), nil
	case KindInt16:
		n, err := r.readInt16()
		return NewInt16(n), err
	case KindUint16:
		n, err := r.readUint16()
		return NewUint16(n), err
	case KindInt32:
		n, err := r.readInt32()
		return NewInt32(n), err
	case KindUint32:
		n, err := r.readUint32()
		return NewUint32(n), err
	case KindInt64:
		n, err := r.readInt64()
		return NewInt64(n), err
	case KindUint64:
		n, err := r.readUint64()
		return NewUint64(n), err
	case KindDouble:
		f, err := r.readFloat64()
		return NewDouble(f), err
	case KindString:
		s, err := decodeString(r)
		return NewString(s), err
	case KindObjectPath:
		s, err := decodeString(r)
		if err != nil {
			return Value{}, err
		}
		p := ObjectPath(s)
		if !p.IsValid() {
			return Value{}, newErr(ErrKindInvalidString, "invalid object path "+s)
		}
		return NewObjectPath(p), nil
	case KindSignature:
		s, err := decodeSignatureString(r)
		return NewSignatureValue(SignatureFromString(s)), err
	case KindUnixFD:
		u, err := r.readUint32()
		return NewUnixFD(UnixFD(u)), err
	case KindVariant:
		return decodeVariant(r, depth)
	case KindArray:
		return decodeArray(r, t, depth)
	case KindStruct:
		return decodeStruct(r, t, depth)
	case KindDictEntry:
		return decodeDictEntry(r, t, depth)
	default:
		return Value{}, newErr(ErrKindUnsupportedType, t.Kind.description())
	}
}

// decodeString reads the STRING/OBJECT_PATH wire form and validates it:
// UTF-8 content and a NUL terminator (spec §7: InvalidUTF8/InvalidString).
func decodeString(r *reader) (string, error) {
	n, err := r.readUint32()
	if err != nil {
		return "", err
	}
	b, err := r.readSlice(int(n))
	if err != nil {
		return "", err
	}
	term, err := r.readByte()
	if err != nil {
		return "", err
	}
	if term != 0 {
		return "", newErr(ErrKindInvalidString, "string missing NUL terminator")
	}
	if !utf8.Valid(b) {
		return "", newErr(ErrKindInvalidUTF8, "string is not valid utf-8")
	}
	return string(b), nil
}

// decodeSignatureString reads the SIGNATURE wire form (u8 length, bytes,
// NUL) without validating it against the grammar; callers that need a
// parsed Type tree call Signature.Types() explicitly, as decodeVariant
// does for the contained value's signature.
func decodeSignatureString(r *reader) (string, error) {
	n, err := r.readByte()
	if err != nil {
		return "", err
	}
	b, err := r.readSlice(int(n))
	if err != nil {
		return "", err
	}
	term, err := r.readByte()
	if err != nil {
		return "", err
	}
	if term != 0 {
		return "", newErr(ErrKindInvalidString, "signature missing NUL terminator")
	}
	return string(b), nil
}

// decodeVariant parses the contained type's signature fresh at each
// level, so depth (unlike ARRAY/STRUCT nesting) carries no information
// from the outer signature and must be passed down explicitly and
// incremented here; see decodeValueDepth.
func decodeVariant(r *reader, depth int) (Value, error) {
	sig, err := decodeSignatureString(r)
	if err != nil {
		return Value{}, err
	}
	types, err := SignatureFromString(sig).Types()
	if err != nil {
		return Value{}, err
	}
	if len(types) != 1 {
		return Value{}, newErr(ErrKindInvalidSignature, "variant signature must describe exactly one type")
	}
	if err := r.alignRead(types[0].alignment()); err != nil {
		return Value{}, err
	}
	inner, err := decodeValueDepth(r, types[0], depth+1)
	if err != nil {
		return Value{}, err
	}
	return NewVariant(inner), nil
}

// decodeArray implements spec §4.3's decode contract: read the u32
// length, align to the element's alignment, then bound all element reads
// to that many bytes, looping until the bounded view is exhausted. An
// empty array still carries t.Elem so the returned Value knows its
// element type even with zero Items.
func decodeArray(r *reader, t Type, depth int) (Value, error) {
	n, err := r.readUint32()
	if err != nil {
		return Value{}, err
	}
	if n > maxArrayBytes {
		return Value{}, newErr(ErrKindUnsupportedType, "array exceeds maximum marshalled size")
	}
	if err := r.alignRead(t.Elem.alignment()); err != nil {
		return Value{}, err
	}
	sub, err := r.limit(int(n))
	if err != nil {
		return Value{}, err
	}
	var items []Value
	for sub.remaining() > 0 {
		item, err := decodeValueDepth(sub, *t.Elem, depth)
		if err != nil {
			return Value{}, err
		}
		items = append(items, item)
	}
	r.pos = sub.end
	return NewArray(*t.Elem, items), nil
}

func decodeStruct(r *reader, t Type, depth int) (Value, error) {
	if len(t.Fields) == 0 {
		return Value{}, newErr(ErrKindInvalidSignature, "struct type has no fields")
	}
	if err := r.alignRead(8); err != nil {
		return Value{}, err
	}
	fields := make([]Value, len(t.Fields))
	for i, ft := range t.Fields {
		v, err := decodeValueDepth(r, ft, depth)
		if err != nil {
			return Value{}, err
		}
		fields[i] = v
	}
	return NewStruct(fields...), nil
}

func decodeDictEntry(r *reader, t Type, depth int) (Value, error) {
	if err := r.alignRead(8); err != nil {
		return Value{}, err
	}
	key, err := decodeValueDepth(r, basicType(t.KeyKind), depth)
	if err != nil {
		return Value{}, err
	}
	val, err := decodeValueDepth(r, *t.Elem, depth)
	if err != nil {
		return Value{}, err
	}
	return Value{Kind: KindDictEntry, payload: &DictEntry{Key: key, Val: val}}, nil
}
