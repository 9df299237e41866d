package dbus

import "context"

// Replies is the pull-style iterator over the generic inbound stream
// (spec §4.7: "a pull-style replies iterator, yielding fully-parsed
// inbound messages"). It is a thin wrapper over Conn.Signals() so C7's
// surface matches the spec's vocabulary independent of Conn's own
// channel-based API.
type Replies struct {
	ch <-chan *Message
}

// Next blocks until a message arrives on the generic stream, ctx is
// cancelled, or the connection's inbound loop ends. ok is false in the
// latter two cases.
func (r *Replies) Next(ctx context.Context) (msg *Message, ok bool) {
	select {
	case m, open := <-r.ch:
		return m, open
	case <-ctx.Done():
		return nil, false
	}
}

// Client is the scoped request/reply handle C7 hands to a user's body: a
// raw send plus the generic reply stream, with reply correlation left to
// SendAndAwaitReply (spec §4.7).
type Client struct {
	conn *Conn
}

// Send forwards to the underlying Conn (spec §4.7: "a send(message)
// operation").
func (cl *Client) Send(m *Message) error {
	return cl.conn.Send(m)
}

// SendAndAwaitReply waits for the inbound message whose REPLY_SERIAL
// equals the outbound serial, per spec §4.7, skipping non-matching
// messages (Conn's dispatch already routes those to the generic stream
// rather than this call, so no explicit skip loop is needed here).
func (cl *Client) SendAndAwaitReply(ctx context.Context, m *Message) (*Message, error) {
	return cl.conn.SendAndAwaitReply(ctx, m)
}

// Replies returns the generic inbound stream (signals and unsolicited
// errors).
func (cl *Client) Replies() *Replies {
	return &Replies{ch: cl.conn.Signals()}
}

// NextSerial exposes the connection's serial generator for callers that
// build a Message by hand and want to assign Send (rather than
// SendAndAwaitReply, which assigns one itself) a fresh serial.
func (cl *Client) NextSerial() uint32 {
	return cl.conn.nextSerial()
}

// WithConnection is the single scoped operation in spec §4.7: it
// establishes the connection, runs the handshake, invokes body with a
// *Client, and guarantees the connection is closed and its resources
// released when body returns, regardless of outcome.
func WithConnection(ctx context.Context, cfg Config, body func(ctx context.Context, cl *Client) error) error {
	conn, err := Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	return body(ctx, &Client{conn: conn})
}
