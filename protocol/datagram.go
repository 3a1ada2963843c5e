package protocol

import (
	"fmt"

	"github.com/encodeous/meshlink/state"
)

// DatagramPacket carries upper layer payload between two mesh nodes
type DatagramPacket struct {
	Source  state.UUID
	Dest    state.UUID
	Payload []byte
}

func (p *DatagramPacket) Type() PacketType { return TypeDatagram }
func (p *DatagramPacket) Src() state.UUID  { return p.Source }
func (p *DatagramPacket) Dst() state.UUID  { return p.Dest }

func (p *DatagramPacket) encodeBody(e *Encoder) {
	e.UUID(p.Source)
	e.UUID(p.Dest)
	e.Blob(p.Payload)
}

func (p *DatagramPacket) decodeBody(d *Decoder) {
	p.Source = d.UUID()
	p.Dest = d.UUID()
	p.Payload = d.Blob()
}

func (p *DatagramPacket) String() string {
	return fmt.Sprintf("Datagram(src: %s, dst: %s, len: %d)", p.Source, p.Dest, len(p.Payload))
}

// DatagramDest reads the destination of a datagram frame without decoding the payload
func DatagramDest(frame []byte) (state.UUID, bool) {
	h, ok := PeekHeader(frame)
	if !ok || h.Type != TypeDatagram || len(frame) < HeaderSize+32 {
		return state.EmptyUUID, false
	}
	var u state.UUID
	copy(u[:], frame[HeaderSize+16:HeaderSize+32])
	return u, true
}
