package dbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var ignoreValuePayload = cmpopts.IgnoreUnexported(Value{})

// TestHelloMethodCallWireForm is scenario 1 from the testable-properties
// section: the first 12 bytes of an empty-body METHOD_CALL and its
// four string-valued header fields round-tripping through the codec.
func TestHelloMethodCallWireForm(t *testing.T) {
	m := NewMethodCall(1, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello")
	m.ByteOrder = LittleEndian

	b, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{'l', 1, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0}
	if diff := cmp.Diff(want, b[:12]); diff != "" {
		t.Errorf("first 12 bytes mismatch (-want +got):\n%s", diff)
	}

	decoded, consumed, err := DecodeMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(b) {
		t.Errorf("expected to consume all %d bytes, consumed %d", len(b), consumed)
	}
	path, _ := decoded.Path()
	iface, _ := decoded.Interface()
	member, _ := decoded.Member()
	dest, ok := decoded.header(FieldDestination)
	if !ok {
		t.Fatal("expected a DESTINATION header field")
	}
	if path != "/org/freedesktop/DBus" || iface != "org.freedesktop.DBus" || member != "Hello" || dest.Str() != "org.freedesktop.DBus" {
		t.Errorf("header fields did not round trip: path=%q iface=%q member=%q dest=%q", path, iface, member, dest.Str())
	}
}

func TestMessageWithBodyRoundTrip(t *testing.T) {
	m := NewMethodCall(2, "com.example.Service", "/com/example/Object", "com.example.Iface", "DoThing",
		NewString("argument"), NewUint32(42), NewArray(basicType(KindString), []Value{NewString("a"), NewString("b")}))
	m.ByteOrder = BigEndian

	b, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	decoded, consumed, err := DecodeMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(b) {
		t.Errorf("expected to consume all %d bytes, consumed %d", len(b), consumed)
	}
	if len(decoded.Body) != len(m.Body) {
		t.Fatalf("expected %d body values, got %d", len(m.Body), len(decoded.Body))
	}
	for i := range m.Body {
		if !m.Body[i].Equal(decoded.Body[i]) {
			t.Errorf("body[%d] mismatch: got %v want %v", i, decoded.Body[i], m.Body[i])
		}
	}
}

func TestDecodeNeedMoreData(t *testing.T) {
	m := NewMethodCall(1, "org.freedesktop.DBus", "/org/freedesktop/DBus", "org.freedesktop.DBus", "Hello")
	m.ByteOrder = LittleEndian
	b, err := EncodeMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	for n := 0; n < len(b); n++ {
		_, _, err := DecodeMessage(b[:n])
		if err != ErrNeedMoreData {
			t.Fatalf("prefix of %d/%d bytes: expected ErrNeedMoreData, got %v", n, len(b), err)
		}
	}
	_, consumed, err := DecodeMessage(b)
	if err != nil || consumed != len(b) {
		t.Fatalf("full buffer should decode cleanly, got consumed=%d err=%v", consumed, err)
	}
}

func TestMethodReturnAndErrorCorrelation(t *testing.T) {
	call := NewMethodCall(5, "", "/obj", "", "Ping")
	ret := NewMethodReturn(6, call, NewString("pong"))
	b, err := EncodeMessage(ret)
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err := DecodeMessage(b)
	if err != nil {
		t.Fatal(err)
	}
	serial, ok := decoded.ReplySerial()
	if !ok || serial != 5 {
		t.Fatalf("expected REPLY_SERIAL 5, got %d (present=%v)", serial, ok)
	}

	errMsg := NewError(7, call, "com.example.Error.Failed", NewString("boom"))
	eb, err := EncodeMessage(errMsg)
	if err != nil {
		t.Fatal(err)
	}
	decodedErr, _, err := DecodeMessage(eb)
	if err != nil {
		t.Fatal(err)
	}
	name, ok := decodedErr.ErrorName()
	if !ok || name != "com.example.Error.Failed" {
		t.Fatalf("expected ERROR_NAME, got %q (present=%v)", name, ok)
	}
}

func TestInvalidByteOrderRejected(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = 'X'
	if _, _, err := DecodeMessage(buf); err != ErrInvalidByteOrder {
		t.Errorf("expected ErrInvalidByteOrder, got %v", err)
	}
}

func TestInvalidMessageTypeRejected(t *testing.T) {
	buf := make([]byte, 16)
	buf[0] = byte(LittleEndian)
	buf[1] = 0 // TypeInvalid
	if _, _, err := DecodeMessage(buf); err != ErrInvalidMessageType {
		t.Errorf("expected ErrInvalidMessageType, got %v", err)
	}
}

func TestHeaderFieldEqualityIgnoresPayload(t *testing.T) {
	a := HeaderField{Code: FieldMember, Value: NewString("Hello")}
	b := HeaderField{Code: FieldMember, Value: NewString("Hello")}
	if diff := cmp.Diff(a, b, ignoreValuePayload); diff != "" {
		t.Errorf("unexpected diff: %s", diff)
	}
}
