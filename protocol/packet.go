package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/encodeous/meshlink/state"
)

type PacketType uint8

const (
	TypeHandshakeReq PacketType = iota + 1
	TypeHandshakeReqRes
	TypeHandshakeRes
	TypeDatagram
	TypeGraphUpdateReq
	TypeGraphUpdateRes
	TypeHeartbeatReq
	TypeHeartbeatRes
)

// HeaderSize is type:u8 + length:u32
const HeaderSize = 5

var (
	ErrTruncated     = errors.New("packet truncated")
	ErrUnknownType   = errors.New("unknown packet type")
	ErrTrailingBytes = errors.New("trailing bytes after packet")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrTypeMismatch  = errors.New("packet type does not match payload")
)

func (t PacketType) String() string {
	switch t {
	case TypeHandshakeReq:
		return "HandshakeReq"
	case TypeHandshakeReqRes:
		return "HandshakeReqRes"
	case TypeHandshakeRes:
		return "HandshakeRes"
	case TypeDatagram:
		return "Datagram"
	case TypeGraphUpdateReq:
		return "GraphUpdateReq"
	case TypeGraphUpdateRes:
		return "GraphUpdateRes"
	case TypeHeartbeatReq:
		return "HeartbeatReq"
	case TypeHeartbeatRes:
		return "HeartbeatRes"
	default:
		return fmt.Sprintf("PacketType(%d)", uint8(t))
	}
}

func (t PacketType) Valid() bool {
	return t >= TypeHandshakeReq && t <= TypeHeartbeatRes
}

func (t PacketType) IsHandshake() bool {
	return t >= TypeHandshakeReq && t <= TypeHandshakeRes
}

func (t PacketType) IsGraphUpdate() bool {
	return t == TypeGraphUpdateReq || t == TypeGraphUpdateRes
}

func (t PacketType) IsHeartbeat() bool {
	return t == TypeHeartbeatReq || t == TypeHeartbeatRes
}

// Header is the common frame header. Length counts the bytes that follow the header.
type Header struct {
	Type   PacketType
	Length uint32
}

// FrameSize is the total number of bytes of the frame, header included
func (h Header) FrameSize() int {
	return HeaderSize + int(h.Length)
}

// PeekHeader decodes the header at the start of buf, ok is false if fewer than HeaderSize bytes are present
func PeekHeader(buf []byte) (Header, bool) {
	if len(buf) < HeaderSize {
		return Header{}, false
	}
	return Header{
		Type:   PacketType(buf[0]),
		Length: binary.BigEndian.Uint32(buf[1:HeaderSize]),
	}, true
}

// Packet is a mesh routing frame
type Packet interface {
	Type() PacketType
	// Src is the node that created the packet
	Src() state.UUID
	// Dst is the node the packet is addressed to, empty during the first handshake
	Dst() state.UUID
	encodeBody(e *Encoder)
	decodeBody(d *Decoder)
}

// Marshal encodes a complete frame
func Marshal(p Packet) []byte {
	e := NewEncoder(64)
	e.U8(uint8(p.Type()))
	e.U32(0)
	p.encodeBody(e)
	e.PutU32At(1, uint32(e.Len()-HeaderSize))
	return e.Bytes()
}

func newPacket(t PacketType) (Packet, error) {
	switch {
	case t.IsHandshake():
		return &HandshakePacket{Kind: t}, nil
	case t == TypeDatagram:
		return &DatagramPacket{}, nil
	case t.IsGraphUpdate():
		return &GraphUpdatePacket{Kind: t}, nil
	case t.IsHeartbeat():
		return &HeartbeatPacket{Kind: t}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
}

// Unmarshal decodes exactly one complete frame
func Unmarshal(frame []byte) (Packet, error) {
	h, ok := PeekHeader(frame)
	if !ok {
		return nil, ErrTruncated
	}
	if int(h.Length) > state.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d", ErrFrameTooLarge, h.Length)
	}
	if len(frame) < h.FrameSize() {
		return nil, ErrTruncated
	}
	if len(frame) > h.FrameSize() {
		return nil, ErrTrailingBytes
	}
	p, err := newPacket(h.Type)
	if err != nil {
		return nil, err
	}
	d := NewDecoder(frame[HeaderSize:])
	p.decodeBody(d)
	if d.Err() != nil {
		return nil, fmt.Errorf("decode %s: %w", h.Type, d.Err())
	}
	if d.Remaining() != 0 {
		return nil, fmt.Errorf("decode %s: %w", h.Type, ErrTrailingBytes)
	}
	return p, nil
}
