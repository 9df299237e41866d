package dbus

import "errors"

// MessageType identifies the four D-Bus message kinds (spec §3).
type MessageType byte

const (
	TypeInvalid      MessageType = 0
	TypeMethodCall   MessageType = 1
	TypeMethodReturn MessageType = 2
	TypeError        MessageType = 3
	TypeSignal       MessageType = 4
)

// HeaderFlags is the bitset carried in the fourth header byte.
type HeaderFlags byte

const (
	FlagNoReplyExpected              HeaderFlags = 0x1
	FlagNoAutoStart                  HeaderFlags = 0x2
	FlagAllowInteractiveAuthorization HeaderFlags = 0x4
)

// HeaderFieldCode identifies one entry of the header-fields array.
type HeaderFieldCode byte

const (
	FieldPath        HeaderFieldCode = 1
	FieldInterface   HeaderFieldCode = 2
	FieldMember      HeaderFieldCode = 3
	FieldErrorName   HeaderFieldCode = 4
	FieldReplySerial HeaderFieldCode = 5
	FieldDestination HeaderFieldCode = 6
	FieldSender      HeaderFieldCode = 7
	FieldSignature   HeaderFieldCode = 8
	FieldUnixFDs     HeaderFieldCode = 9
)

const protocolVersion = 1

// HeaderField is one (code, variant) pair of the header-fields array
// (spec §3, §4.4 step 5).
type HeaderField struct {
	Code  HeaderFieldCode
	Value Value
}

// Message is the fully decoded representation of one D-Bus frame: fixed
// header, header-fields array, and body (spec §3). Body is stored already
// split into its component values (the SIGNATURE field describes their
// joined type sequence).
type Message struct {
	ByteOrder ByteOrder
	Type      MessageType
	Flags     HeaderFlags
	Serial    uint32
	Headers   []HeaderField
	Body      []Value
}

func (m *Message) header(code HeaderFieldCode) (Value, bool) {
	for _, h := range m.Headers {
		if h.Code == code {
			return h.Value, true
		}
	}
	return Value{}, false
}

// Path returns the PATH header field, if present.
func (m *Message) Path() (ObjectPath, bool) {
	v, ok := m.header(FieldPath)
	if !ok {
		return "", false
	}
	return v.ObjectPathValue(), true
}

// Interface returns the INTERFACE header field, if present.
func (m *Message) Interface() (string, bool) {
	v, ok := m.header(FieldInterface)
	if !ok {
		return "", false
	}
	return v.Str(), true
}

// Member returns the MEMBER header field, if present.
func (m *Message) Member() (string, bool) {
	v, ok := m.header(FieldMember)
	if !ok {
		return "", false
	}
	return v.Str(), true
}

// ReplySerial returns the REPLY_SERIAL header field, if present. C6 uses
// this to route an inbound message to a per-serial waiter (spec §4.6).
func (m *Message) ReplySerial() (uint32, bool) {
	v, ok := m.header(FieldReplySerial)
	if !ok {
		return 0, false
	}
	return v.Uint32(), true
}

// ErrorName returns the ERROR_NAME header field, if present.
func (m *Message) ErrorName() (string, bool) {
	v, ok := m.header(FieldErrorName)
	if !ok {
		return "", false
	}
	return v.Str(), true
}

func stringHeader(code HeaderFieldCode, s string) HeaderField {
	return HeaderField{Code: code, Value: NewString(s)}
}

func pathHeader(code HeaderFieldCode, p ObjectPath) HeaderField {
	return HeaderField{Code: code, Value: NewObjectPath(p)}
}

func uint32Header(code HeaderFieldCode, n uint32) HeaderField {
	return HeaderField{Code: code, Value: NewUint32(n)}
}

// bodySignature joins the signatures of body's values into the SIGNATURE
// header field's string form (spec §4.4: "computing SIGNATURE from the
// body").
func bodySignature(body []Value) Signature {
	types := make([]Type, len(body))
	for i, v := range body {
		types[i] = v.Type()
	}
	return SignatureForTypes(types)
}

// NewMethodCall builds a METHOD_CALL message, auto-populating PATH,
// INTERFACE (optional), MEMBER, DESTINATION (optional), and SIGNATURE
// (spec §4.4 "convenience constructors").
func NewMethodCall(serial uint32, destination string, path ObjectPath, iface, member string, body ...Value) *Message {
	m := &Message{
		Type:   TypeMethodCall,
		Serial: serial,
		Body:   body,
	}
	m.Headers = append(m.Headers, pathHeader(FieldPath, path))
	if iface != "" {
		m.Headers = append(m.Headers, stringHeader(FieldInterface, iface))
	}
	m.Headers = append(m.Headers, stringHeader(FieldMember, member))
	if destination != "" {
		m.Headers = append(m.Headers, stringHeader(FieldDestination, destination))
	}
	if len(body) > 0 {
		m.Headers = append(m.Headers, HeaderField{Code: FieldSignature, Value: NewSignatureValue(bodySignature(body))})
	}
	return m
}

// NewMethodReturn builds a METHOD_RETURN replying to call.
func NewMethodReturn(serial uint32, call *Message, body ...Value) *Message {
	m := &Message{
		Type:   TypeMethodReturn,
		Serial: serial,
		Body:   body,
	}
	m.Headers = append(m.Headers, uint32Header(FieldReplySerial, call.Serial))
	if len(body) > 0 {
		m.Headers = append(m.Headers, HeaderField{Code: FieldSignature, Value: NewSignatureValue(bodySignature(body))})
	}
	return m
}

// NewError builds an ERROR message replying to call.
func NewError(serial uint32, call *Message, errorName string, body ...Value) *Message {
	m := &Message{
		Type:   TypeError,
		Serial: serial,
		Body:   body,
	}
	m.Headers = append(m.Headers, stringHeader(FieldErrorName, errorName))
	m.Headers = append(m.Headers, uint32Header(FieldReplySerial, call.Serial))
	if len(body) > 0 {
		m.Headers = append(m.Headers, HeaderField{Code: FieldSignature, Value: NewSignatureValue(bodySignature(body))})
	}
	return m
}

// NewSignal builds a SIGNAL message.
func NewSignal(serial uint32, path ObjectPath, iface, member string, body ...Value) *Message {
	m := &Message{
		Type:   TypeSignal,
		Serial: serial,
		Body:   body,
	}
	m.Headers = append(m.Headers, pathHeader(FieldPath, path))
	m.Headers = append(m.Headers, stringHeader(FieldInterface, iface))
	m.Headers = append(m.Headers, stringHeader(FieldMember, member))
	if len(body) > 0 {
		m.Headers = append(m.Headers, HeaderField{Code: FieldSignature, Value: NewSignatureValue(bodySignature(body))})
	}
	return m
}

// headerFieldValueType returns the type a given header field code's
// variant must contain, per spec §4.4 step 5's code→type table. Unknown
// codes are accepted with whatever type the variant itself declares, so
// forward-compatible extensions do not break decoding.
func headerFieldValueType(code HeaderFieldCode) (Type, bool) {
	switch code {
	case FieldPath:
		return basicType(KindObjectPath), true
	case FieldInterface, FieldMember, FieldErrorName, FieldDestination, FieldSender:
		return basicType(KindString), true
	case FieldReplySerial, FieldUnixFDs:
		return basicType(KindUint32), true
	case FieldSignature:
		return basicType(KindSignature), true
	default:
		return Type{}, false
	}
}

// EncodeMessage serializes m following the 12-step order in spec §4.4:
// fixed header, body-length and serial placeholders, header-fields array
// (back-patched), align to 8, body, then back-patch both lengths.
func EncodeMessage(m *Message) ([]byte, error) {
	order := m.ByteOrder
	if order == 0 {
		order = nativeByteOrder
	}
	if !order.valid() {
		return nil, ErrInvalidByteOrder
	}
	c := newCursor(order.binary())

	c.writeByte(byte(order))
	c.writeByte(byte(m.Type))
	c.writeByte(byte(m.Flags))
	c.writeByte(protocolVersion)

	bodyLenAt := c.reserveUint32()
	c.writeUint32(m.Serial)

	headerLenAt := c.reserveUint32()
	c.alignWrite(8)
	headerStart := c.pos
	for _, h := range m.Headers {
		c.alignWrite(8)
		c.writeByte(byte(h.Code))
		if err := encodeVariant(c, &Variant{Value: h.Value}); err != nil {
			return nil, err
		}
	}
	c.setUint32At(headerLenAt, uint32(c.pos-headerStart))

	c.alignWrite(8)
	bodyStart := c.pos
	for _, v := range m.Body {
		if err := encodeValue(c, v); err != nil {
			return nil, err
		}
	}
	c.setUint32At(bodyLenAt, uint32(c.pos-bodyStart))

	return c.buf, nil
}

// DecodeMessage parses one frame from buf. It returns ErrNeedMoreData
// (without error-wrapping detail, so callers can errors.Is against it)
// when buf does not yet hold a complete frame; no bytes are consumed in
// that case, matching spec §4.4's "parser reports NeedMoreData without
// consuming bytes" contract. consumed reports how many leading bytes of
// buf the frame occupied, for the caller to advance its own buffer.
func DecodeMessage(buf []byte) (m *Message, consumed int, err error) {
	if len(buf) < 16 {
		return nil, 0, ErrNeedMoreData
	}
	order := ByteOrder(buf[0])
	if !order.valid() {
		return nil, 0, ErrInvalidByteOrder
	}
	mtype := MessageType(buf[1])
	if mtype < TypeMethodCall || mtype > TypeSignal {
		return nil, 0, ErrInvalidMessageType
	}
	r := newReader(buf, order.binary())
	r.pos = 4

	bodyLen, err := r.readUint32()
	if err != nil {
		return nil, 0, ErrNeedMoreData
	}
	serial, err := r.readUint32()
	if err != nil {
		return nil, 0, ErrNeedMoreData
	}
	headerLen, err := r.readUint32()
	if err != nil {
		return nil, 0, ErrNeedMoreData
	}

	if err := r.alignRead(8); err != nil {
		return nil, 0, ErrNeedMoreData
	}
	headerStart := r.pos
	sub, err := r.limit(int(headerLen))
	if err != nil {
		return nil, 0, ErrNeedMoreData
	}
	var headers []HeaderField
	for sub.remaining() > 0 {
		if err := sub.alignRead(8); err != nil {
			return nil, 0, ErrNeedMoreData
		}
		if sub.remaining() == 0 {
			break
		}
		codeByte, err := sub.readByte()
		if err != nil {
			return nil, 0, ErrNeedMoreData
		}
		code := HeaderFieldCode(codeByte)
		v, err := decodeVariant(sub, 0)
		if err != nil {
			if errors.Is(err, ErrEarlyEOF) {
				return nil, 0, ErrNeedMoreData
			}
			return nil, 0, wrapErr(ErrKindInvalidHeader, "header field", err)
		}
		if want, ok := headerFieldValueType(code); ok && want.Kind != v.Kind {
			return nil, 0, newErr(ErrKindInvalidHeader, "header field variant has unexpected type")
		}
		headers = append(headers, HeaderField{Code: code, Value: v})
	}
	r.pos = headerStart + int(headerLen)

	if err := r.alignRead(8); err != nil {
		return nil, 0, ErrNeedMoreData
	}
	if r.remaining() < int(bodyLen) {
		return nil, 0, ErrNeedMoreData
	}
	bodyBuf, err := r.limit(int(bodyLen))
	if err != nil {
		return nil, 0, ErrNeedMoreData
	}

	m = &Message{ByteOrder: order, Type: mtype, Flags: HeaderFlags(buf[2]), Serial: serial, Headers: headers}

	sigField, hasSig := m.header(FieldSignature)
	if hasSig && !sigField.SignatureValue().Empty() {
		types, err := sigField.SignatureValue().Types()
		if err != nil {
			return nil, 0, err
		}
		body := make([]Value, 0, len(types))
		for _, t := range types {
			if err := bodyBuf.alignRead(t.alignment()); err != nil {
				return nil, 0, ErrNeedMoreData
			}
			v, err := decodeValue(bodyBuf, t)
			if err != nil {
				return nil, 0, err
			}
			body = append(body, v)
		}
		m.Body = body
	}

	consumed = r.pos + int(bodyLen)
	return m, consumed, nil
}
