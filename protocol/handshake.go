package protocol

import (
	"fmt"

	"github.com/encodeous/meshlink/state"
)

// HandshakePacket carries HandshakeReq, HandshakeReqRes and HandshakeRes
type HandshakePacket struct {
	Kind       PacketType
	Source     state.UUID
	Dest       state.UUID
	Graph      state.GraphInfo
	DeviceName string
	// UpdateTime is the sender's version of the direct edge between both nodes
	UpdateTime uint64
}

func (p *HandshakePacket) Type() PacketType { return p.Kind }
func (p *HandshakePacket) Src() state.UUID  { return p.Source }
func (p *HandshakePacket) Dst() state.UUID  { return p.Dest }

func (p *HandshakePacket) encodeBody(e *Encoder) {
	e.UUID(p.Source)
	e.UUID(p.Dest)
	encodeGraph(e, p.Graph)
	e.Text(p.DeviceName)
	e.U64(p.UpdateTime)
}

func (p *HandshakePacket) decodeBody(d *Decoder) {
	p.Source = d.UUID()
	p.Dest = d.UUID()
	p.Graph = decodeGraph(d)
	p.DeviceName = d.Text()
	p.UpdateTime = d.U64()
}

func (p *HandshakePacket) String() string {
	return fmt.Sprintf("%s(src: %s, dst: %s, name: %q, edges: %d, nodes: %d, t: %d)",
		p.Kind, p.Source, p.Dest, p.DeviceName, len(p.Graph.Edges), len(p.Graph.Nodes), p.UpdateTime)
}
