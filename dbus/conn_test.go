package dbus

import (
	"context"
	"io"
	"net"
	"testing"
	"time"
)

// fakeServer drives the server side of the handshake and message
// exchange over one half of a net.Pipe, so Conn can be exercised without
// a real Unix socket.
type fakeServer struct {
	conn net.Conn
}

func (s *fakeServer) expectGreetingAndReplyOK(t *testing.T) {
	t.Helper()
	buf := make([]byte, 4096)
	n, err := s.conn.Read(buf)
	if err != nil {
		t.Fatalf("server read greeting: %v", err)
	}
	if buf[0] != 0 {
		t.Fatalf("expected leading NUL byte, got %v", buf[:n])
	}
	if _, err := s.conn.Write([]byte("OK 0123456789abcdef0123456789abcdef\r\n")); err != nil {
		t.Fatalf("server write OK: %v", err)
	}
	begin := make([]byte, len("BEGIN\r\n"))
	if _, err := io.ReadFull(s.conn, begin); err != nil {
		t.Fatalf("server read BEGIN: %v", err)
	}
}

func dialTestConn(t *testing.T) (*Conn, *fakeServer) {
	t.Helper()
	client, server := net.Pipe()
	srv := &fakeServer{conn: server}

	type result struct {
		conn *Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		c, err := Dial(context.Background(), Config{
			Transport: client,
			Auth:      AuthConfig{Mechanism: AuthAnonymous},
		})
		done <- result{c, err}
	}()

	srv.expectGreetingAndReplyOK(t)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Dial failed: %v", r.err)
		}
		return r.conn, srv
	case <-time.After(2 * time.Second):
		t.Fatal("Dial did not complete in time")
		return nil, nil
	}
}

func TestDialAuthenticates(t *testing.T) {
	conn, _ := dialTestConn(t)
	defer conn.Close()
}

// TestSendAndAwaitReplyCorrelation is scenario 6: replies arriving out of
// submission order are still delivered to the waiter matching their own
// REPLY_SERIAL.
func TestSendAndAwaitReplyCorrelation(t *testing.T) {
	conn, srv := dialTestConn(t)
	defer conn.Close()

	type outcome struct {
		serial uint32
		reply  *Message
		err    error
	}
	results := make(chan outcome, 2)

	call2 := NewMethodCall(0, "", "/obj", "", "Method2")
	call3 := NewMethodCall(0, "", "/obj", "", "Method3")

	go func() {
		r, err := conn.SendAndAwaitReply(context.Background(), call2)
		results <- outcome{2, r, err}
	}()
	go func() {
		r, err := conn.SendAndAwaitReply(context.Background(), call3)
		results <- outcome{3, r, err}
	}()

	// Drain both outbound method calls from the server side before
	// replying, since SendAndAwaitReply assigns serials itself.
	buf := make([]byte, 0, 4096)
	readOne := func() *Message {
		for {
			m, consumed, err := DecodeMessage(buf)
			if err == nil {
				buf = buf[consumed:]
				return m
			}
			chunk := make([]byte, 4096)
			n, rerr := srv.conn.Read(chunk)
			if rerr != nil {
				t.Fatalf("server read: %v", rerr)
			}
			buf = append(buf, chunk[:n]...)
		}
	}

	first := readOne()
	second := readOne()

	// Reply to the *second* call first and the first call last, to prove
	// correlation is order-independent.
	retFirst := NewMethodReturn(100, second, NewString("result-for-"+mustMember(second)))
	retSecond := NewMethodReturn(101, first, NewString("result-for-"+mustMember(first)))

	for _, m := range []*Message{retFirst, retSecond} {
		b, err := EncodeMessage(m)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := srv.conn.Write(b); err != nil {
			t.Fatal(err)
		}
	}

	got := map[uint32]outcome{}
	for i := 0; i < 2; i++ {
		select {
		case o := <-results:
			got[o.serial] = o
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for replies")
		}
	}

	for _, serial := range []uint32{2, 3} {
		o := got[serial]
		if o.err != nil {
			t.Fatalf("serial %d: %v", serial, o.err)
		}
		if len(o.reply.Body) != 1 || !o.reply.Body[0].Equal(NewString("result-for-"+memberForSerial(serial))) {
			t.Fatalf("serial %d got unexpected body %v", serial, o.reply.Body)
		}
	}
}

func mustMember(m *Message) string {
	member, _ := m.Member()
	return member
}

func memberForSerial(serial uint32) string {
	if serial == 2 {
		return "Method2"
	}
	return "Method3"
}

// TestDuplicateReplySerialFallsThroughToSignals covers spec.md's
// linearizable-per-serial guarantee: once a REPLY_SERIAL has been
// delivered to its waiter, the waiter is retired, so a second inbound
// message carrying the same serial (a duplicate or misbehaving-server
// reply) must fall through to the generic stream instead of being
// silently dropped or redelivered.
func TestDuplicateReplySerialFallsThroughToSignals(t *testing.T) {
	conn, srv := dialTestConn(t)
	defer conn.Close()

	call := NewMethodCall(0, "", "/obj", "", "Method")
	replyCh := make(chan struct {
		msg *Message
		err error
	}, 1)
	go func() {
		m, err := conn.SendAndAwaitReply(context.Background(), call)
		replyCh <- struct {
			msg *Message
			err error
		}{m, err}
	}()

	buf := make([]byte, 0, 4096)
	var sent *Message
	for sent == nil {
		m, consumed, derr := DecodeMessage(buf)
		if derr == nil {
			buf = buf[consumed:]
			sent = m
			break
		}
		chunk := make([]byte, 4096)
		n, rerr := srv.conn.Read(chunk)
		if rerr != nil {
			t.Fatalf("server read: %v", rerr)
		}
		buf = append(buf, chunk[:n]...)
	}
	first := NewMethodReturn(100, sent, NewString("first"))
	fb, err := EncodeMessage(first)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srv.conn.Write(fb); err != nil {
		t.Fatal(err)
	}

	var result struct {
		msg *Message
		err error
	}
	select {
	case result = <-replyCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first reply")
	}
	reply, err := result.msg, result.err
	if err != nil {
		t.Fatalf("first reply: %v", err)
	}
	if len(reply.Body) != 1 || reply.Body[0].Str() != "first" {
		t.Fatalf("unexpected first reply body: %v", reply.Body)
	}

	dup := NewMethodReturn(200, call, NewString("duplicate"))
	b, err := EncodeMessage(dup)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srv.conn.Write(b); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-conn.Signals():
		if len(m.Body) != 1 || m.Body[0].Str() != "duplicate" {
			t.Fatalf("unexpected message on Signals(): %v", m.Body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("duplicate reply was not forwarded to Signals()")
	}
}

func TestCloseReleasesWaiters(t *testing.T) {
	conn, _ := dialTestConn(t)

	call := NewMethodCall(0, "", "/obj", "", "NeverReplied")
	errCh := make(chan error, 1)
	go func() {
		_, err := conn.SendAndAwaitReply(context.Background(), call)
		errCh <- err
	}()

	// Give the goroutine a chance to install its waiter before closing.
	time.Sleep(50 * time.Millisecond)
	conn.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not released by Close")
	}
}
