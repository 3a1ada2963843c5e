package protocol

import (
	"fmt"

	"github.com/encodeous/meshlink/state"
)

// GraphUpdatePacket carries GraphUpdateReq and its acknowledgement GraphUpdateRes
type GraphUpdatePacket struct {
	Kind   PacketType
	Source state.UUID
	Dest   state.UUID
	// UpdateTime identifies the update, the acknowledgement echoes it
	UpdateTime uint64
	Graph      state.GraphInfo
	// Edge is the single edge that triggered the update, empty for full graph broadcasts
	Edge state.MeshEdge
}

func (p *GraphUpdatePacket) Type() PacketType { return p.Kind }
func (p *GraphUpdatePacket) Src() state.UUID  { return p.Source }
func (p *GraphUpdatePacket) Dst() state.UUID  { return p.Dest }

func (p *GraphUpdatePacket) encodeBody(e *Encoder) {
	e.UUID(p.Source)
	e.UUID(p.Dest)
	e.U64(p.UpdateTime)
	encodeGraph(e, p.Graph)
	encodeEdge(e, p.Edge)
}

func (p *GraphUpdatePacket) decodeBody(d *Decoder) {
	p.Source = d.UUID()
	p.Dest = d.UUID()
	p.UpdateTime = d.U64()
	p.Graph = decodeGraph(d)
	p.Edge = decodeEdge(d)
}

func (p *GraphUpdatePacket) String() string {
	return fmt.Sprintf("%s(src: %s, dst: %s, t: %d, edges: %d, nodes: %d, edge: %s)",
		p.Kind, p.Source, p.Dest, p.UpdateTime, len(p.Graph.Edges), len(p.Graph.Nodes), p.Edge)
}
