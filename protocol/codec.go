package protocol

import (
	"encoding/binary"

	"github.com/encodeous/meshlink/state"
)

// Encoder appends fields in wire order to a growable buffer
type Encoder struct {
	buf []byte
}

func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) Bytes() []byte {
	return e.buf
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) U8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *Encoder) U32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) I32(v int32) {
	e.U32(uint32(v))
}

func (e *Encoder) U64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *Encoder) UUID(u state.UUID) {
	e.buf = append(e.buf, u[:]...)
}

// Blob writes a u32 length followed by the bytes
func (e *Encoder) Blob(b []byte) {
	e.U32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *Encoder) Text(s string) {
	e.U32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// PutU32At overwrites 4 bytes at off, used to patch the frame length after the body is written
func (e *Encoder) PutU32At(off int, v uint32) {
	binary.BigEndian.PutUint32(e.buf[off:off+4], v)
}

// Decoder reads fields in wire order. The first failure is sticky, every later read returns zero values.
type Decoder struct {
	buf []byte
	off int
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) Err() error {
	return d.err
}

func (d *Decoder) Remaining() int {
	return len(d.buf) - d.off
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.Remaining() < n {
		d.err = ErrTruncated
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *Decoder) U8() uint8 {
	b := d.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *Decoder) U32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (d *Decoder) I32() int32 {
	return int32(d.U32())
}

func (d *Decoder) U64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (d *Decoder) UUID() state.UUID {
	var u state.UUID
	b := d.take(len(u))
	if b != nil {
		copy(u[:], b)
	}
	return u
}

// Blob returns a copy of a length prefixed byte string
func (d *Decoder) Blob() []byte {
	n := d.U32()
	b := d.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (d *Decoder) Text() string {
	n := d.U32()
	return string(d.take(int(n)))
}

// Count reads a u32 element count and rejects counts that cannot fit in the remaining bytes
func (d *Decoder) Count(minElemSize int) int {
	n := d.U32()
	if d.err != nil {
		return 0
	}
	if uint64(n)*uint64(minElemSize) > uint64(d.Remaining()) {
		d.err = ErrTruncated
		return 0
	}
	return int(n)
}
