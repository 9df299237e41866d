package dbus

import "unicode/utf8"

// maxArrayBytes bounds a single ARRAY's marshalled body, matching the
// limit godbus/dbus enforces (1<<26, i.e. 64 MiB) to keep a malformed or
// hostile length from driving unbounded allocation.
const maxArrayBytes = 1 << 26

// encodeValue writes v to c, aligning per v's lead type code first (spec
// §4.3: "first align writer per the value's lead type code, then write
// the payload").
func encodeValue(c *cursor, v Value) error {
	switch v.Kind {
	case KindByte:
		c.writeByte(v.Byte())
	case KindBoolean:
		if v.Bool() {
			c.writeUint32(1)
		} else {
			c.writeUint32(0)
		}
	case KindInt16:
		c.writeInt16(v.Int16())
	case KindUint16:
		c.writeUint16(v.Uint16())
	case KindInt32:
		c.writeInt32(v.Int32())
	case KindUint32:
		c.writeUint32(v.Uint32())
	case KindInt64:
		c.writeInt64(v.Int64())
	case KindUint64:
		c.writeUint64(v.Uint64())
	case KindDouble:
		c.writeFloat64(v.Double())
	case KindString:
		return encodeString(c, v.Str())
	case KindObjectPath:
		p := v.ObjectPathValue()
		if !p.IsValid() {
			return newErr(ErrKindInvalidString, "invalid object path "+string(p))
		}
		return encodeString(c, string(p))
	case KindSignature:
		return encodeSignature(c, v.SignatureValue().String())
	case KindUnixFD:
		c.writeUint32(uint32(v.UnixFDValue()))
	case KindVariant:
		return encodeVariant(c, v.VariantValue())
	case KindArray:
		return encodeArray(c, v.array())
	case KindStruct:
		return encodeStruct(c, v.fields())
	case KindDictEntry:
		return encodeDictEntry(c, v.DictEntryValue())
	default:
		return newErr(ErrKindUnsupportedType, v.Kind.description())
	}
	return nil
}

func (k TypeKind) description() string {
	if k == 0 {
		return "invalid"
	}
	return string(byte(k))
}

// encodeString writes the STRING/OBJECT_PATH wire form: align 4, u32
// length excluding the NUL, the UTF-8 bytes, then a single NUL
// terminator (spec §4.3).
func encodeString(c *cursor, s string) error {
	if !utf8.ValidString(s) {
		return newErr(ErrKindInvalidUTF8, "string is not valid utf-8")
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return newErr(ErrKindInvalidString, "string contains an embedded NUL")
		}
	}
	c.writeUint32(uint32(len(s)))
	c.writeBytes([]byte(s))
	c.writeByte(0)
	return nil
}

// encodeSignature writes the SIGNATURE wire form: u8 length, bytes, NUL
// terminator. Unlike STRING, no alignment precedes it (spec §4.3).
func encodeSignature(c *cursor, s string) error {
	if len(s) > maxSignatureLen {
		return sigErr(ReasonTooLong, len(s))
	}
	c.writeByte(byte(len(s)))
	c.writeBytes([]byte(s))
	c.writeByte(0)
	return nil
}

// encodeVariant writes the contained type's signature, aligns to the
// contained type's alignment, then writes the contained value (spec
// §4.3).
func encodeVariant(c *cursor, va *Variant) error {
	t := va.Value.Type()
	if err := encodeSignature(c, t.String()); err != nil {
		return err
	}
	c.alignWrite(t.alignment())
	return encodeValue(c, va.Value)
}

// encodeArray implements the array-length bookkeeping in spec §4.3:
// the u32 length placeholder is reserved before the element-alignment
// padding, and start is recorded only after that padding, so the padding
// between the length and the first element is excluded from the
// reported length while any alignment padding the elements themselves
// introduce is included.
func encodeArray(c *cursor, a *Array) error {
	lenAt := c.reserveUint32()
	c.alignWrite(a.Elem.alignment())
	start := c.pos
	for _, item := range a.Items {
		if err := encodeValue(c, item); err != nil {
			return err
		}
	}
	length := c.pos - start
	if length > maxArrayBytes {
		return newErr(ErrKindUnsupportedType, "array exceeds maximum marshalled size")
	}
	c.setUint32At(lenAt, uint32(length))
	return nil
}

func encodeStruct(c *cursor, fields []Value) error {
	if len(fields) == 0 {
		return newErr(ErrKindInvalidSignature, "struct must have at least one field")
	}
	c.alignWrite(8)
	for _, f := range fields {
		if err := encodeValue(c, f); err != nil {
			return err
		}
	}
	return nil
}

func encodeDictEntry(c *cursor, e *DictEntry) error {
	c.alignWrite(8)
	if err := encodeValue(c, e.Key); err != nil {
		return err
	}
	return encodeValue(c, e.Val)
}
