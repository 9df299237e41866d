package dbus

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures this package can report. It lets
// callers use errors.Is against a stable sentinel instead of matching
// error strings.
type ErrorKind int

const (
	_ ErrorKind = iota
	// ErrKindEarlyEOF means a decode ran out of input before it had read
	// everything required to finish parsing the current value.
	ErrKindEarlyEOF
	// ErrKindInvalidByteOrder means the leading byte-order marker of a
	// message was neither 'l' (0x6c) nor 'B' (0x42).
	ErrKindInvalidByteOrder
	// ErrKindInvalidMessageType means the message-type byte was not one
	// of METHOD_CALL, METHOD_RETURN, ERROR, SIGNAL.
	ErrKindInvalidMessageType
	// ErrKindInvalidHeader means the header-fields array was structurally
	// malformed (bad field struct, wrong variant signature for a known
	// code, and so on).
	ErrKindInvalidHeader
	// ErrKindNeedMoreData means the transport buffer held fewer bytes
	// than the frame currently being parsed requires; no bytes were
	// consumed and the caller should retry once more data has arrived.
	ErrKindNeedMoreData
	// ErrKindInvalidSignature means a signature string violated the
	// type grammar in signature.go.
	ErrKindInvalidSignature
	// ErrKindUnsupportedType means a wire type code was recognized by
	// the grammar but has no decoder implemented. It is also reported
	// for an ARRAY whose marshalled size exceeds maxArrayBytes, on both
	// encode and decode.
	ErrKindUnsupportedType
	// ErrKindInvalidUTF8 means a STRING or OBJECT_PATH payload was not
	// valid UTF-8.
	ErrKindInvalidUTF8
	// ErrKindInvalidString means a STRING, OBJECT_PATH, or SIGNATURE
	// value failed a structural check beyond UTF-8 validity (embedded
	// NUL, missing terminator, malformed object path).
	ErrKindInvalidString
	// ErrKindInvalidBoolean means a BOOLEAN wire value was neither 0 nor
	// 1 under strict decoding.
	ErrKindInvalidBoolean
	// ErrKindInvalidAuthCommand means the server's authentication reply
	// was not a complete "OK <guid>" line.
	ErrKindInvalidAuthCommand
	// ErrKindNotConnected means an operation was attempted on a
	// connection that is closed or never finished authenticating.
	ErrKindNotConnected
	// ErrKindCancelled means the connection's scope was exited while the
	// caller was waiting on a reply or the inbound stream.
	ErrKindCancelled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrKindEarlyEOF:
		return "early EOF"
	case ErrKindInvalidByteOrder:
		return "invalid byte order"
	case ErrKindInvalidMessageType:
		return "invalid message type"
	case ErrKindInvalidHeader:
		return "invalid header"
	case ErrKindNeedMoreData:
		return "need more data"
	case ErrKindInvalidSignature:
		return "invalid signature"
	case ErrKindUnsupportedType:
		return "unsupported type"
	case ErrKindInvalidUTF8:
		return "invalid utf8"
	case ErrKindInvalidString:
		return "invalid string"
	case ErrKindInvalidBoolean:
		return "invalid boolean"
	case ErrKindInvalidAuthCommand:
		return "invalid auth command"
	case ErrKindNotConnected:
		return "not connected"
	case ErrKindCancelled:
		return "cancelled"
	default:
		return "unknown dbus error"
	}
}

// ProtocolError is the concrete error type returned for every failure
// classified by an ErrorKind. It wraps an optional underlying cause and
// carries a human-readable detail string.
type ProtocolError struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return "dbus: " + e.Kind.String()
	}
	return fmt.Sprintf("dbus: %s: %s", e.Kind, e.Detail)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrEarlyEOF) match any *ProtocolError of the
// corresponding kind, without requiring pointer identity.
func (e *ProtocolError) Is(target error) bool {
	sentinel, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return sentinel.Kind == e.Kind && sentinel.Detail == ""
}

func newErr(kind ErrorKind, detail string) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: detail}
}

func wrapErr(kind ErrorKind, detail string, cause error) *ProtocolError {
	return &ProtocolError{Kind: kind, Detail: detail, Cause: cause}
}

// Sentinel errors. Compare with errors.Is, e.g.:
//
//	if errors.Is(err, dbus.ErrInvalidSignature) { ... }
var (
	ErrEarlyEOF             = &ProtocolError{Kind: ErrKindEarlyEOF}
	ErrInvalidByteOrder     = &ProtocolError{Kind: ErrKindInvalidByteOrder}
	ErrInvalidMessageType   = &ProtocolError{Kind: ErrKindInvalidMessageType}
	ErrInvalidHeader        = &ProtocolError{Kind: ErrKindInvalidHeader}
	ErrNeedMoreData         = &ProtocolError{Kind: ErrKindNeedMoreData}
	ErrInvalidSignature     = &ProtocolError{Kind: ErrKindInvalidSignature}
	ErrUnsupportedType      = &ProtocolError{Kind: ErrKindUnsupportedType}
	ErrInvalidUTF8          = &ProtocolError{Kind: ErrKindInvalidUTF8}
	ErrInvalidString        = &ProtocolError{Kind: ErrKindInvalidString}
	ErrInvalidBoolean       = &ProtocolError{Kind: ErrKindInvalidBoolean}
	ErrInvalidAuthCommand   = &ProtocolError{Kind: ErrKindInvalidAuthCommand}
	ErrNotConnected         = &ProtocolError{Kind: ErrKindNotConnected}
	ErrCancelled            = &ProtocolError{Kind: ErrKindCancelled}
)

// SignatureErrorReason names exactly which grammar rule a SignatureError
// (a more specific subkind of ErrInvalidSignature) reports as violated
// (spec §4.2/§7).
type SignatureErrorReason int

const (
	_ SignatureErrorReason = iota
	ReasonUnexpectedEnd
	ReasonUnmatchedParenthesis
	ReasonUnmatchedBrace
	ReasonInvalidTypeChar
	ReasonExtraCharacters
	ReasonTooLong
	ReasonTooDeep
	ReasonEmptyStruct
	ReasonInvalidDictKey
)

func (r SignatureErrorReason) String() string {
	switch r {
	case ReasonUnexpectedEnd:
		return "unexpectedEnd"
	case ReasonUnmatchedParenthesis:
		return "unmatchedParenthesis"
	case ReasonUnmatchedBrace:
		return "unmatchedBrace"
	case ReasonInvalidTypeChar:
		return "invalidTypeChar"
	case ReasonExtraCharacters:
		return "extraCharacters"
	case ReasonTooLong:
		return "tooLong"
	case ReasonTooDeep:
		return "tooDeep"
	case ReasonEmptyStruct:
		return "emptyStruct"
	case ReasonInvalidDictKey:
		return "invalidDictKey"
	default:
		return "unknown"
	}
}

// SignatureError reports why a signature string failed to parse.
type SignatureError struct {
	Reason SignatureErrorReason
	Pos    int
	Char   byte
}

func (e *SignatureError) Error() string {
	if e.Char != 0 {
		return fmt.Sprintf("dbus: invalid signature at %d: %s (%q)", e.Pos, e.Reason, e.Char)
	}
	return fmt.Sprintf("dbus: invalid signature at %d: %s", e.Pos, e.Reason)
}

func (e *SignatureError) Unwrap() error {
	return ErrInvalidSignature
}

func (e *SignatureError) Is(target error) bool {
	return errors.Is(ErrInvalidSignature, target)
}

func sigErr(reason SignatureErrorReason, pos int) error {
	return &SignatureError{Reason: reason, Pos: pos}
}

func sigErrChar(reason SignatureErrorReason, pos int, c byte) error {
	return &SignatureError{Reason: reason, Pos: pos, Char: c}
}
