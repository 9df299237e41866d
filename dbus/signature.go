package dbus

import "strings"

// TypeKind tags the variant in Type and Value. It mirrors the D-Bus type
// code alphabet one-for-one except for DICT_ENTRY, which the grammar only
// ever admits as an ARRAY element (spec §3).
type TypeKind byte

const (
	KindInvalid    TypeKind = 0
	KindByte       TypeKind = 'y'
	KindBoolean    TypeKind = 'b'
	KindInt16      TypeKind = 'n'
	KindUint16     TypeKind = 'q'
	KindInt32      TypeKind = 'i'
	KindUint32     TypeKind = 'u'
	KindInt64      TypeKind = 'x'
	KindUint64     TypeKind = 't'
	KindDouble     TypeKind = 'd'
	KindString     TypeKind = 's'
	KindObjectPath TypeKind = 'o'
	KindSignature  TypeKind = 'g'
	KindUnixFD     TypeKind = 'h'
	KindVariant    TypeKind = 'v'
	KindArray      TypeKind = 'a'
	KindStruct     TypeKind = '('
	KindDictEntry  TypeKind = '{'
)

// maxSignatureLen and maxNesting are the hard limits from spec §3/§8.
const (
	maxSignatureLen = 255
	maxNesting      = 32
)

// Type is a recursive descriptor for one D-Bus type, as produced by
// parseSignature. ARRAY carries Elem; STRUCT carries Fields; DICT_ENTRY
// carries KeyKind and Elem (the value type); every other kind is a leaf.
type Type struct {
	Kind    TypeKind
	Elem    *Type
	Fields  []Type
	KeyKind TypeKind
}

func basicType(k TypeKind) Type { return Type{Kind: k} }

// isBasicKind reports whether k is legal as a DICT_ENTRY key (spec §3: "dict
// keys restricted to basic types (everything except VARIANT, ARRAY,
// STRUCT, DICT_ENTRY)").
func isBasicKind(k TypeKind) bool {
	switch k {
	case KindByte, KindBoolean, KindInt16, KindUint16, KindInt32, KindUint32,
		KindInt64, KindUint64, KindDouble, KindString, KindObjectPath,
		KindSignature, KindUnixFD:
		return true
	default:
		return false
	}
}

// alignment returns the byte alignment a value of this type must start
// at, per the table in spec §3.
func (t Type) alignment() int {
	switch t.Kind {
	case KindByte, KindSignature, KindVariant:
		return 1
	case KindInt16, KindUint16:
		return 2
	case KindBoolean, KindInt32, KindUint32, KindString, KindObjectPath, KindUnixFD, KindArray:
		return 4
	case KindInt64, KindUint64, KindDouble, KindStruct, KindDictEntry:
		return 8
	default:
		return 1
	}
}

// String renders the type back into its signature form. Composed with
// parseSignature, Type.String is the signature-round-trip half of spec
// §8's invariant: signature(parse(s)) == s.
func (t Type) String() string {
	var b strings.Builder
	t.writeTo(&b)
	return b.String()
}

func (t Type) writeTo(b *strings.Builder) {
	switch t.Kind {
	case KindArray:
		b.WriteByte('a')
		t.Elem.writeTo(b)
	case KindStruct:
		b.WriteByte('(')
		for _, f := range t.Fields {
			f.writeTo(b)
		}
		b.WriteByte(')')
	case KindDictEntry:
		b.WriteByte('{')
		b.WriteByte(byte(t.KeyKind))
		t.Elem.writeTo(b)
		b.WriteByte('}')
	default:
		b.WriteByte(byte(t.Kind))
	}
}

// Signature is a parsed or unparsed D-Bus type signature string. Most
// APIs in this package accept a Signature and lazily parse it; Types()
// does the actual parse.
type Signature struct {
	str string
}

// SignatureFromString wraps a raw signature string without parsing it
// yet. Use Types to parse.
func SignatureFromString(s string) Signature {
	return Signature{str: s}
}

func (s Signature) String() string { return s.str }

func (s Signature) Empty() bool { return s.str == "" }

// Types parses the full signature into a sequence of top-level type
// descriptors (spec §4.2: "sig = type*").
func (s Signature) Types() ([]Type, error) {
	types, atEnd, err := parseSignature(s.str)
	if err != nil {
		return nil, err
	}
	if !atEnd {
		return nil, sigErr(ReasonExtraCharacters, len(s.str))
	}
	return types, nil
}

// SignatureForTypes renders a sequence of types back into one signature
// string, the inverse of Types for a sequence (used to compute the
// SIGNATURE header field from a message body, spec §4.4 step 8).
func SignatureForTypes(types []Type) Signature {
	var b strings.Builder
	for _, t := range types {
		t.writeTo(&b)
	}
	return Signature{str: b.String()}
}

// parseSignature is a hand-written recursive-descent scanner over the
// grammar in spec §4.2:
//
//	sig  = type*
//	type = basic | 'a' type | '(' type+ ')' | 'a{' basic type '}' | 'v'
//
// It tracks array and struct nesting depth independently, both capped at
// maxNesting, and enforces the 255-byte signature length cap up front.
func parseSignature(s string) ([]Type, bool, error) {
	if len(s) > maxSignatureLen {
		return nil, false, sigErr(ReasonTooLong, maxSignatureLen)
	}
	p := &sigParser{s: s}
	var types []Type
	for p.pos < len(p.s) {
		if p.s[p.pos] == ')' || p.s[p.pos] == '}' {
			break
		}
		t, err := p.parseOne(0, 0)
		if err != nil {
			return nil, false, err
		}
		types = append(types, t)
	}
	return types, p.pos == len(p.s), nil
}

type sigParser struct {
	s   string
	pos int
}

func (p *sigParser) parseOne(arrayDepth, structDepth int) (Type, error) {
	if p.pos >= len(p.s) {
		return Type{}, sigErr(ReasonUnexpectedEnd, p.pos)
	}
	c := p.s[p.pos]
	switch c {
	case byte(KindByte), byte(KindBoolean), byte(KindInt16), byte(KindUint16),
		byte(KindInt32), byte(KindUint32), byte(KindInt64), byte(KindUint64),
		byte(KindDouble), byte(KindString), byte(KindObjectPath),
		byte(KindSignature), byte(KindUnixFD):
		p.pos++
		return basicType(TypeKind(c)), nil
	case byte(KindVariant):
		p.pos++
		return basicType(KindVariant), nil
	case 'a':
		return p.parseArray(arrayDepth, structDepth)
	case '(':
		return p.parseStruct(arrayDepth, structDepth)
	case ')':
		return Type{}, sigErr(ReasonUnmatchedParenthesis, p.pos)
	case '{':
		return Type{}, sigErr(ReasonUnmatchedBrace, p.pos)
	case '}':
		return Type{}, sigErr(ReasonUnmatchedBrace, p.pos)
	default:
		return Type{}, sigErrChar(ReasonInvalidTypeChar, p.pos, c)
	}
}

func (p *sigParser) parseArray(arrayDepth, structDepth int) (Type, error) {
	// p.s[p.pos] == 'a'
	if arrayDepth+1 > maxNesting {
		return Type{}, sigErr(ReasonTooDeep, p.pos)
	}
	p.pos++
	if p.pos < len(p.s) && p.s[p.pos] == '{' {
		return p.parseDictEntry(arrayDepth+1, structDepth)
	}
	elem, err := p.parseOne(arrayDepth+1, structDepth)
	if err != nil {
		return Type{}, err
	}
	e := elem
	return Type{Kind: KindArray, Elem: &e}, nil
}

func (p *sigParser) parseDictEntry(arrayDepth, structDepth int) (Type, error) {
	// p.s[p.pos] == '{'
	braceDepth := structDepth + 1
	if braceDepth > maxNesting {
		return Type{}, sigErr(ReasonTooDeep, p.pos)
	}
	p.pos++
	if p.pos >= len(p.s) {
		return Type{}, sigErr(ReasonUnexpectedEnd, p.pos)
	}
	keyChar := p.s[p.pos]
	keyType, err := p.parseOne(arrayDepth, braceDepth)
	if err != nil {
		return Type{}, err
	}
	if !isBasicKind(keyType.Kind) {
		return Type{}, sigErrChar(ReasonInvalidDictKey, p.pos, keyChar)
	}
	valType, err := p.parseOne(arrayDepth, braceDepth)
	if err != nil {
		return Type{}, err
	}
	if p.pos >= len(p.s) || p.s[p.pos] != '}' {
		return Type{}, sigErr(ReasonUnmatchedBrace, p.pos)
	}
	p.pos++
	v := valType
	return Type{Kind: KindArray, Elem: &Type{Kind: KindDictEntry, KeyKind: keyType.Kind, Elem: &v}}, nil
}

func (p *sigParser) parseStruct(arrayDepth, structDepth int) (Type, error) {
	// p.s[p.pos] == '('
	depth := structDepth + 1
	if depth > maxNesting {
		return Type{}, sigErr(ReasonTooDeep, p.pos)
	}
	start := p.pos
	p.pos++
	var fields []Type
	for {
		if p.pos >= len(p.s) {
			return Type{}, sigErr(ReasonUnexpectedEnd, p.pos)
		}
		if p.s[p.pos] == ')' {
			p.pos++
			break
		}
		f, err := p.parseOne(arrayDepth, depth)
		if err != nil {
			return Type{}, err
		}
		fields = append(fields, f)
	}
	if len(fields) == 0 {
		return Type{}, sigErr(ReasonEmptyStruct, start)
	}
	return Type{Kind: KindStruct, Fields: fields}, nil
}
