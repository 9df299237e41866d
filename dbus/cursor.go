package dbus

import (
	"encoding/binary"
	"math"
)

// ByteOrder is the D-Bus wire byte-order marker: 'l' for little-endian,
// 'B' for big-endian. It carries its own encoding/binary.ByteOrder so
// callers never have to keep the two in sync by hand.
type ByteOrder byte

const (
	LittleEndian ByteOrder = 'l'
	BigEndian    ByteOrder = 'B'
)

// nativeByteOrder is the byte order used for outbound messages unless a
// caller overrides it (spec §6: "host-endian by default"). Go has no
// portable way to query host endianness at runtime without unsafe, and
// every platform this package targets (Linux, the reference transport) is
// little-endian, so it is fixed here rather than probed.
var nativeByteOrder = LittleEndian

func (o ByteOrder) binary() binary.ByteOrder {
	if o == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (o ByteOrder) valid() bool {
	return o == LittleEndian || o == BigEndian
}

// cursor is a length-tracking, alignment-aware write cursor. Positions
// are measured from the start of the frame being built (spec §4.1: "from
// the start of the marshalled top-level frame"); newCursor starts at
// offset 0, and nested values (e.g. a STRUCT field inside an ARRAY) are
// written through the same cursor, so their alignment is frame-relative.
type cursor struct {
	buf   []byte
	pos   int
	order binary.ByteOrder
}

func newCursor(order binary.ByteOrder) *cursor {
	return &cursor{order: order}
}

// alignWrite advances the cursor to the next multiple of n, writing zero
// bytes for the padding.
func (c *cursor) alignWrite(n int) {
	pad := padding(c.pos, n)
	if pad == 0 {
		return
	}
	for range pad {
		c.buf = append(c.buf, 0)
	}
	c.pos += pad
}

// padding returns how many bytes must be inserted after position pos to
// reach the next multiple of align.
func padding(pos, align int) int {
	rem := pos % align
	if rem == 0 {
		return 0
	}
	return align - rem
}

func (c *cursor) writeByte(b byte) {
	c.buf = append(c.buf, b)
	c.pos++
}

func (c *cursor) writeBytes(b []byte) {
	c.buf = append(c.buf, b...)
	c.pos += len(b)
}

func (c *cursor) writeUint16(v uint16) {
	c.alignWrite(2)
	var tmp [2]byte
	c.order.PutUint16(tmp[:], v)
	c.writeBytes(tmp[:])
}

func (c *cursor) writeUint32(v uint32) {
	c.alignWrite(4)
	var tmp [4]byte
	c.order.PutUint32(tmp[:], v)
	c.writeBytes(tmp[:])
}

func (c *cursor) writeUint64(v uint64) {
	c.alignWrite(8)
	var tmp [8]byte
	c.order.PutUint64(tmp[:], v)
	c.writeBytes(tmp[:])
}

func (c *cursor) writeInt16(v int16)  { c.writeUint16(uint16(v)) }
func (c *cursor) writeInt32(v int32)  { c.writeUint32(uint32(v)) }
func (c *cursor) writeInt64(v int64)  { c.writeUint64(uint64(v)) }
func (c *cursor) writeFloat64(v float64) {
	c.writeUint64(math.Float64bits(v))
}

// reserveUint32 writes a zero placeholder and returns its frame offset, to
// be back-patched later via setUint32At. It aligns first so the returned
// offset is the placeholder's actual position, not wherever the cursor
// happened to be before writeUint32's own internal alignment moved it.
func (c *cursor) reserveUint32() int {
	c.alignWrite(4)
	at := c.pos
	c.writeUint32(0)
	return at
}

func (c *cursor) setUint32At(at int, v uint32) {
	c.order.PutUint32(c.buf[at:at+4], v)
}

// reader is the decode-side counterpart to cursor. Reads are bounds
// checked; underruns return ErrEarlyEOF without partially advancing pos,
// so a caller that gets ErrEarlyEOF can safely retry once more bytes are
// buffered (used by the message codec's NeedMoreData path). end bounds
// the readable region independently of len(buf), so a container's
// element loop (spec §4.3: "bound all reads to reader+len") can share the
// parent's backing array instead of copying a sub-slice.
type reader struct {
	buf   []byte
	pos   int
	end   int
	order binary.ByteOrder
}

func newReader(buf []byte, order binary.ByteOrder) *reader {
	return &reader{buf: buf, end: len(buf), order: order}
}

func (r *reader) remaining() int {
	return r.end - r.pos
}

func (r *reader) alignRead(n int) error {
	pad := padding(r.pos, n)
	if pad == 0 {
		return nil
	}
	if r.remaining() < pad {
		return ErrEarlyEOF
	}
	r.pos += pad
	return nil
}

func (r *reader) readByte() (byte, error) {
	if r.remaining() < 1 {
		return 0, ErrEarlyEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// readSlice returns a bounded view of the next n bytes without copying,
// and advances past them. It is the primitive behind ARRAY/body decoding,
// which must never read past the length prefix it was given.
func (r *reader) readSlice(n int) ([]byte, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrEarlyEOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// limit returns a view of r restricted to its next n bytes, sharing the
// same backing array and absolute position numbering (so alignment stays
// relative to the frame origin, spec §4.1). The returned reader's pos
// starts where r's does; the caller should resume reading from r at
// r.pos+n once finished with the limited view (see decodeArray in
// decode.go).
func (r *reader) limit(n int) (*reader, error) {
	if n < 0 || r.remaining() < n {
		return nil, ErrEarlyEOF
	}
	return &reader{buf: r.buf, pos: r.pos, end: r.pos + n, order: r.order}, nil
}

func (r *reader) readUint16() (uint16, error) {
	start := r.pos
	if err := r.alignRead(2); err != nil {
		return 0, err
	}
	b, err := r.readSlice(2)
	if err != nil {
		r.pos = start
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *reader) readUint32() (uint32, error) {
	start := r.pos
	if err := r.alignRead(4); err != nil {
		return 0, err
	}
	b, err := r.readSlice(4)
	if err != nil {
		r.pos = start
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *reader) readUint64() (uint64, error) {
	start := r.pos
	if err := r.alignRead(8); err != nil {
		return 0, err
	}
	b, err := r.readSlice(8)
	if err != nil {
		r.pos = start
		return 0, err
	}
	return r.order.Uint64(b), nil
}

func (r *reader) readInt16() (int16, error) {
	v, err := r.readUint16()
	return int16(v), err
}

func (r *reader) readInt32() (int32, error) {
	v, err := r.readUint32()
	return int32(v), err
}

func (r *reader) readInt64() (int64, error) {
	v, err := r.readUint64()
	return int64(v), err
}

func (r *reader) readFloat64() (float64, error) {
	v, err := r.readUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

