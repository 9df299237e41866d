package dbus

import (
	"bytes"
	"encoding/hex"
)

// AuthMechanism selects the SASL-style mechanism driven by authMachine
// (spec §4.5, §6: "mechanism: ANONYMOUS | EXTERNAL").
type AuthMechanism int

const (
	AuthExternal AuthMechanism = iota
	AuthAnonymous
)

// AuthConfig configures the handshake C6 drives before switching to
// binary message framing.
type AuthConfig struct {
	Mechanism AuthMechanism
	// UserID is the ASCII digit string identifying the local user, hex
	// encoded byte-by-byte for AUTH EXTERNAL. Unused for ANONYMOUS.
	UserID string
}

type authState int

const (
	authWaitingForNullReply authState = iota
	authWaitingForOK
	authAuthenticated
	authFailed
)

// authMachine drives the textual handshake in spec §4.5 as an explicit
// state machine fed incrementally from the connection's single read loop,
// rather than the teacher's blocking auth(net.Conn) function
// (dbus/auth.go) which reads a line at a time with bufio.Scanner. Feed
// must be safe to call repeatedly with whatever bytes have arrived so
// far; it consumes an optional leading NUL byte from the server and then
// only complete CRLF-terminated lines, leaving the remainder for the next
// call.
type authMachine struct {
	state   authState
	cfg     AuthConfig
	pending [][]byte // writes queued until BEGIN is sent
}

func newAuthMachine(cfg AuthConfig) *authMachine {
	return &authMachine{state: authWaitingForNullReply, cfg: cfg}
}

// greeting returns the bytes the client must send as soon as the
// transport is open: the initial NUL byte followed by the AUTH command
// for the configured mechanism (spec §4.5).
func (a *authMachine) greeting() []byte {
	var b bytes.Buffer
	b.WriteByte(0)
	switch a.cfg.Mechanism {
	case AuthAnonymous:
		b.WriteString("AUTH ANONYMOUS\r\n")
	default:
		b.WriteString("AUTH EXTERNAL " + hex.EncodeToString([]byte(a.cfg.UserID)) + "\r\n")
	}
	return b.Bytes()
}

// Done reports whether the handshake has finished, successfully or not.
func (a *authMachine) Done() bool {
	return a.state == authAuthenticated || a.state == authFailed
}

func (a *authMachine) Authenticated() bool {
	return a.state == authAuthenticated
}

// QueueWrite buffers an outbound frame until the handshake completes
// (spec §4.5: "writes received before authentication completes are
// buffered in order and replayed immediately after BEGIN"). Conn.Dial
// runs the handshake synchronously and returns no usable Conn until it
// finishes, so no caller in this package can race a Send against an
// in-progress handshake and this path is never exercised outside
// auth_test.go; it documents the state machine's full contract for a
// caller that drives it directly against a concurrent, non-blocking
// handshake.
func (a *authMachine) QueueWrite(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	a.pending = append(a.pending, cp)
}

// Feed consumes an optional leading NUL byte (only while waiting for the
// server's first reply) and complete lines from buf (a connection-owned
// accumulation buffer). It returns the number of leading bytes of buf it consumed, any
// bytes that must now be written to the transport (BEGIN plus the drained
// write queue, in order), and an error if the server's reply was
// malformed.
func (a *authMachine) Feed(buf []byte) (consumed int, toWrite []byte, err error) {
	for {
		if a.state == authWaitingForNullReply {
			// Most servers do not reply to the initial NUL at all, going
			// straight to OK/REJECTED. Some send a standalone NUL byte
			// first, outside any CRLF-terminated line, so it must be
			// consumed on its own rather than folded into the next
			// splitLine call, which would otherwise see it as part of
			// the OK/REJECTED line and fail the "OK " prefix check.
			if consumed >= len(buf) {
				return consumed, toWrite, nil
			}
			if buf[consumed] == 0 {
				consumed++
			}
			a.state = authWaitingForOK
			continue
		}
		line, n, ok := splitLine(buf[consumed:])
		if !ok {
			return consumed, toWrite, nil
		}
		consumed += n
		switch a.state {
		case authWaitingForOK:
			switch {
			case bytes.HasPrefix(line, []byte("OK ")) || bytes.Equal(line, []byte("OK")):
				a.state = authAuthenticated
				out := append([]byte("BEGIN\r\n"), flatten(a.pending)...)
				a.pending = nil
				toWrite = append(toWrite, out...)
			case bytes.HasPrefix(line, []byte("REJECTED")):
				a.state = authFailed
				return consumed, toWrite, wrapErr(ErrKindInvalidAuthCommand, string(line), nil)
			default:
				a.state = authFailed
				return consumed, toWrite, wrapErr(ErrKindInvalidAuthCommand, string(line), nil)
			}
		case authAuthenticated, authFailed:
			return consumed, toWrite, nil
		}
	}
}

// splitLine extracts one CRLF-terminated line from the front of buf. ok
// is false if no complete line is available yet.
func splitLine(buf []byte) (line []byte, consumed int, ok bool) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		return nil, 0, false
	}
	return buf[:idx], idx + 2, true
}

func flatten(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
