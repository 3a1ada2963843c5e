package protocol

import "github.com/encodeous/meshlink/state"

const (
	// cost + two ids + update time
	edgeSize = 4 + 16 + 16 + 8
	// id + name length + type + update time
	minNodeSize = 16 + 4 + 1 + 8
)

func encodeEdge(e *Encoder, edge state.MeshEdge) {
	e.I32(edge.Cost)
	e.UUID(edge.FirstUid)
	e.UUID(edge.SecondUid)
	e.U64(edge.UpdateTime)
}

func decodeEdge(d *Decoder) state.MeshEdge {
	return state.MeshEdge{
		Cost:       d.I32(),
		FirstUid:   d.UUID(),
		SecondUid:  d.UUID(),
		UpdateTime: d.U64(),
	}
}

func encodeNode(e *Encoder, node state.MeshNode) {
	e.UUID(node.Uid)
	e.Text(node.DeviceName)
	e.U8(node.Type)
	e.U64(node.UpdateTime)
}

func decodeNode(d *Decoder) state.MeshNode {
	return state.MeshNode{
		Uid:        d.UUID(),
		DeviceName: d.Text(),
		Type:       d.U8(),
		UpdateTime: d.U64(),
	}
}

func encodeGraph(e *Encoder, g state.GraphInfo) {
	e.U32(uint32(len(g.Edges)))
	for _, edge := range g.Edges {
		encodeEdge(e, edge)
	}
	e.U32(uint32(len(g.Nodes)))
	for _, node := range g.Nodes {
		encodeNode(e, node)
	}
}

func decodeGraph(d *Decoder) state.GraphInfo {
	var g state.GraphInfo
	if n := d.Count(edgeSize); n > 0 {
		g.Edges = make([]state.MeshEdge, 0, n)
		for range n {
			g.Edges = append(g.Edges, decodeEdge(d))
		}
	}
	if n := d.Count(minNodeSize); n > 0 {
		g.Nodes = make([]state.MeshNode, 0, n)
		for range n {
			g.Nodes = append(g.Nodes, decodeNode(d))
		}
	}
	return g
}
