package dbus

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"
)

// TestAuthGreetingExternal is scenario 4's client-side half: the initial
// NUL byte followed by the AUTH command for EXTERNAL, hex-encoding the
// configured user id byte-by-byte.
func TestAuthGreetingExternal(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthExternal, UserID: "1000"})
	got := am.greeting()
	want := append([]byte{0}, []byte("AUTH EXTERNAL "+hex.EncodeToString([]byte("1000"))+"\r\n")...)
	if !bytes.Equal(got, want) {
		t.Errorf("greeting mismatch: got %q want %q", got, want)
	}
}

func TestAuthGreetingAnonymous(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthAnonymous})
	got := am.greeting()
	want := []byte("\x00AUTH ANONYMOUS\r\n")
	if !bytes.Equal(got, want) {
		t.Errorf("greeting mismatch: got %q want %q", got, want)
	}
}

// TestAuthSuccessEmitsBegin is scenario 4: an OK reply makes the machine
// emit BEGIN and drain anything queued during the handshake.
func TestAuthSuccessEmitsBegin(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthAnonymous})
	am.greeting()
	am.QueueWrite([]byte("queued-frame"))

	consumed, toWrite, err := am.Feed([]byte("OK 1234abcd5678ef90\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len("OK 1234abcd5678ef90\r\n") {
		t.Errorf("expected to consume the whole OK line, consumed %d", consumed)
	}
	want := append([]byte("BEGIN\r\n"), []byte("queued-frame")...)
	if !bytes.Equal(toWrite, want) {
		t.Errorf("expected BEGIN followed by the queued frame, got %q", toWrite)
	}
	if !am.Done() || !am.Authenticated() {
		t.Error("expected the machine to be Done and Authenticated")
	}
}

// TestAuthRejectionFails is scenario 5: REJECTED fails the handshake
// without ever emitting BEGIN.
func TestAuthRejectionFails(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthExternal, UserID: "1000"})
	am.greeting()

	_, toWrite, err := am.Feed([]byte("REJECTED EXTERNAL\r\n"))
	if !errors.Is(err, ErrInvalidAuthCommand) {
		t.Fatalf("expected ErrInvalidAuthCommand, got %v", err)
	}
	if len(toWrite) != 0 {
		t.Errorf("expected no BEGIN to be emitted on rejection, got %q", toWrite)
	}
	if !am.Done() || am.Authenticated() {
		t.Error("expected the machine to be Done and not Authenticated")
	}
}

func TestAuthFeedPartialLineWaits(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthAnonymous})
	am.greeting()

	consumed, toWrite, err := am.Feed([]byte("OK 1234"))
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 0 || len(toWrite) != 0 {
		t.Fatalf("a partial line must not be consumed, got consumed=%d toWrite=%q", consumed, toWrite)
	}
	if am.Done() {
		t.Error("machine should not be done on a partial line")
	}
}

func TestAuthUnrecognizedLineFails(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthAnonymous})
	am.greeting()

	_, _, err := am.Feed([]byte("DATA deadbeef\r\n"))
	if !errors.Is(err, ErrInvalidAuthCommand) {
		t.Fatalf("expected ErrInvalidAuthCommand, got %v", err)
	}
}

// TestAuthServerSentNullByteBeforeOK covers the WaitingForNullReply state:
// a server that sends a standalone NUL byte ahead of its first
// CRLF-terminated line must not have that byte folded into the line, which
// would break the "OK " prefix check and misreport success as failure.
func TestAuthServerSentNullByteBeforeOK(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthAnonymous})
	am.greeting()

	consumed, toWrite, err := am.Feed([]byte("\x00OK 1234abcd5678ef90\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len("\x00OK 1234abcd5678ef90\r\n") {
		t.Errorf("expected to consume the NUL byte and the whole OK line, consumed %d", consumed)
	}
	if !bytes.HasPrefix(toWrite, []byte("BEGIN\r\n")) {
		t.Errorf("expected BEGIN to be emitted, got %q", toWrite)
	}
	if !am.Done() || !am.Authenticated() {
		t.Error("expected the machine to be Done and Authenticated")
	}
}

// TestAuthServerSentNullByteSplitAcrossFeeds covers the same NUL byte
// arriving in its own Feed call, ahead of the OK line arriving later.
func TestAuthServerSentNullByteSplitAcrossFeeds(t *testing.T) {
	am := newAuthMachine(AuthConfig{Mechanism: AuthAnonymous})
	am.greeting()

	consumed, toWrite, err := am.Feed([]byte("\x00"))
	if err != nil {
		t.Fatal(err)
	}
	if consumed != 1 || len(toWrite) != 0 {
		t.Fatalf("expected the lone NUL byte to be consumed with no output, got consumed=%d toWrite=%q", consumed, toWrite)
	}
	if am.Done() {
		t.Error("machine should not be done after only the NUL byte")
	}

	consumed, toWrite, err = am.Feed([]byte("OK 1234abcd5678ef90\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len("OK 1234abcd5678ef90\r\n") {
		t.Errorf("expected to consume the whole OK line, consumed %d", consumed)
	}
	if !bytes.HasPrefix(toWrite, []byte("BEGIN\r\n")) {
		t.Errorf("expected BEGIN to be emitted, got %q", toWrite)
	}
	if !am.Done() || !am.Authenticated() {
		t.Error("expected the machine to be Done and Authenticated")
	}
}
