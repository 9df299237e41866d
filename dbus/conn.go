package dbus

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// connState mirrors spec §3's connection state machine
// {CONNECTING, AUTH_IN_PROGRESS, AUTHENTICATED, CLOSED, FAILED}.
type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateAuthenticated
	stateClosed
	stateFailed
)

// Config configures a Conn (spec §6: endpoint, authentication, logger).
// Transport establishment itself is out of scope for this package; the
// caller dials and hands in the resulting io.ReadWriteCloser (see
// DialUnix in transport_unix.go for the reference implementation).
type Config struct {
	Transport io.ReadWriteCloser
	Auth      AuthConfig
	Logger    Logger
	// ByteOrder overrides the byte order used for outbound messages.
	// Zero means host-native (spec §6).
	ByteOrder ByteOrder
}

// Conn is the connection orchestrator (C6): it owns the transport, splices
// the auth handshake then the message codec into one duplex pipeline,
// queues outbound writes until authenticated, and routes inbound frames to
// callers by serial (spec §4.6). It is grounded in the teacher's Conn
// (dbus/conn.go: pending map, nextSerial, readLoop) generalized with
// NeedMoreData-driven re-framing and context cancellation in place of the
// teacher's blocking io.ReadFull read loop.
type Conn struct {
	transport io.ReadWriteCloser
	order     ByteOrder
	log       Logger

	mu      sync.Mutex
	state   connState
	pending map[uint32]chan *Message
	signals chan *Message
	err     error

	serial uint32

	cancel context.CancelFunc
	done   chan struct{}
}

// Dial performs the handshake over cfg.Transport and, once authenticated,
// starts the inbound read loop. The returned Conn is ready for Send /
// SendAndAwaitReply / Signals.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.Transport == nil {
		return nil, errors.New("dbus: Config.Transport is required")
	}
	order := cfg.ByteOrder
	if order == 0 {
		order = nativeByteOrder
	}
	log := cfg.Logger
	if log == nil {
		log = nopLogger{}
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		transport: cfg.Transport,
		order:     order,
		log:       log,
		state:     stateConnecting,
		pending:   make(map[uint32]chan *Message),
		signals:   make(chan *Message, 32),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if err := c.handshake(cfg.Auth); err != nil {
		c.transport.Close()
		cancel()
		return nil, err
	}

	go c.readLoop(cctx)
	return c, nil
}

// handshake drives authMachine synchronously over c.transport before the
// read loop starts, implementing spec §4.5/§4.6's "line-framing decoder
// used only until authentication completes" by reading raw bytes and
// feeding them to authMachine.Feed until it reports Done.
func (c *Conn) handshake(cfg AuthConfig) error {
	c.state = stateAuthenticating
	am := newAuthMachine(cfg)
	if _, err := c.transport.Write(am.greeting()); err != nil {
		c.state = stateFailed
		return err
	}

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := c.transport.Read(chunk)
		if err != nil {
			c.state = stateFailed
			return err
		}
		buf = append(buf, chunk[:n]...)

		consumed, toWrite, err := am.Feed(buf)
		buf = buf[consumed:]
		if len(toWrite) > 0 {
			if _, werr := c.transport.Write(toWrite); werr != nil {
				c.state = stateFailed
				return werr
			}
		}
		if err != nil {
			c.state = stateFailed
			return err
		}
		if am.Done() {
			if !am.Authenticated() {
				c.state = stateFailed
				return ErrInvalidAuthCommand
			}
			c.state = stateAuthenticated
			c.log.Debugf("dbus: authenticated")
			return nil
		}
	}
}

// nextSerial returns a monotonically increasing, nonzero serial (spec
// §4.6). Grounded in the teacher's atomic nextSerial.
func (c *Conn) nextSerial() uint32 {
	return atomic.AddUint32(&c.serial, 1)
}

// Send writes m to the transport, assigning it no serial management
// beyond what the caller already set on m (spec §4.7: "a send(message)
// operation"). FIFO ordering of outbound writes is provided by the
// exclusive mutex around transport writes.
func (c *Conn) Send(m *Message) error {
	m.ByteOrder = c.order
	b, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateClosed || c.state == stateFailed {
		return ErrNotConnected
	}
	_, err = c.transport.Write(b)
	return err
}

// SendAndAwaitReply assigns m a fresh serial, installs a waiter for it
// before releasing the write (spec §9: "orchestrator atomically installs
// a waiter before releasing the outbound write"), sends m, and blocks
// until the matching REPLY_SERIAL arrives, ctx is cancelled, or the
// connection fails.
func (c *Conn) SendAndAwaitReply(ctx context.Context, m *Message) (*Message, error) {
	serial := c.nextSerial()
	m.Serial = serial
	m.ByteOrder = c.order

	ch := make(chan *Message, 1)
	c.mu.Lock()
	if c.state == stateClosed || c.state == stateFailed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[serial] = ch
	c.mu.Unlock()
	// dispatch deletes the pending entry itself at the moment it finds
	// and delivers to it, so this is only a safety net for the paths
	// below that return without any message ever having been dispatched
	// (ctx cancelled, connection failed): those leave the map entry
	// pointing at a channel nobody will ever receive from again.
	defer func() {
		c.mu.Lock()
		delete(c.pending, serial)
		c.mu.Unlock()
	}()

	b, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	_, err = c.transport.Write(b)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	select {
	case reply, ok := <-ch:
		if !ok || reply == nil {
			return nil, c.connError()
		}
		return reply, nil
	case <-ctx.Done():
		return nil, ErrCancelled
	case <-c.done:
		return nil, c.connError()
	}
}

func (c *Conn) connError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	return ErrNotConnected
}

// Signals returns the generic inbound stream: messages without a
// recognized waiter, delivered in arrival order (spec §4.6).
func (c *Conn) Signals() <-chan *Message {
	return c.signals
}

// Close terminates the inbound loop, releases pending waiters with a
// cancellation failure, and closes the transport (spec §4.6, §5). The
// transport is closed before mu is taken, so a Send or SendAndAwaitReply
// blocked in a transport Write while holding mu is unblocked instead of
// keeping Close waiting on the lock.
func (c *Conn) Close() error {
	c.cancel()
	err := c.transport.Close()
	c.mu.Lock()
	wasClosed := c.state == stateClosed
	c.state = stateClosed
	c.mu.Unlock()
	if wasClosed {
		return nil
	}
	return err
}

// readLoop is the single goroutine reading from the transport (spec §5:
// "one goroutine per connection ... the inbound loop", grounded in the
// teacher's go c.readLoop()). Unlike the teacher's blocking
// io.ReadFull-based readMessage, DecodeMessage tolerates partial frames:
// on ErrNeedMoreData the loop retains the buffered bytes and reads more
// instead of treating a short read as an error.
func (c *Conn) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.signals)

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			c.failAll(ErrCancelled)
			return
		default:
		}

		msg, consumed, err := DecodeMessage(buf)
		if err == nil {
			buf = buf[consumed:]
			c.dispatch(msg)
			continue
		}
		if !errors.Is(err, ErrNeedMoreData) {
			c.failAll(err)
			return
		}

		n, rerr := c.transport.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			switch {
			case ctx.Err() != nil:
				// Close cancels ctx before closing the transport, so a read
				// failing after that is reported as a cancellation.
				c.failAll(ErrCancelled)
			case rerr == io.EOF:
				c.failAll(nil)
			default:
				c.failAll(rerr)
			}
			return
		}
	}
}

// dispatch routes msg to its waiter, if any, retiring the waiter in the
// same locked section that finds it (spec §4.6: deliver exactly once and
// retire the waiter as one step). Looking the channel up and deleting it
// together means a second inbound message carrying the same REPLY_SERIAL
// (a duplicate or misbehaving-server reply) finds no waiter on its turn
// through dispatch and falls through to the generic signals stream,
// rather than racing SendAndAwaitReply's own deferred cleanup to decide
// whether the channel is still there to send on.
func (c *Conn) dispatch(msg *Message) {
	if serial, ok := msg.ReplySerial(); ok {
		c.mu.Lock()
		ch := c.pending[serial]
		delete(c.pending, serial)
		c.mu.Unlock()
		if ch != nil {
			ch <- msg
			return
		}
	}
	select {
	case c.signals <- msg:
	default:
		c.log.Errorf("dbus: dropping inbound message, signal buffer full")
	}
}

// failAll marks the connection FAILED (unless Close has already marked it
// CLOSED), records cause for connError (nil for a clean EOF, which
// connError then reports as ErrNotConnected), and releases every pending
// waiter by closing its channel so SendAndAwaitReply's receivers observe
// connError (spec §9: "waiters learn of cancellation via the
// completion-slot fault path").
func (c *Conn) failAll(cause error) {
	c.mu.Lock()
	if c.state != stateClosed {
		c.state = stateFailed
	}
	c.err = cause
	waiters := c.pending
	c.pending = make(map[uint32]chan *Message)
	c.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
