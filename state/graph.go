package state

import (
	"fmt"
	"slices"
)

// MeshNode describes a device participating in the mesh
type MeshNode struct {
	Uid        UUID
	DeviceName string
	// Type is an application defined traffic class, 0 means untyped
	Type       uint8
	UpdateTime uint64
}

func (n MeshNode) IsEmpty() bool {
	return n.Uid.IsZero()
}

func (n MeshNode) String() string {
	return fmt.Sprintf("(node: %s, name: %q, type: %d, t: %d)", n.Uid, n.DeviceName, n.Type, n.UpdateTime)
}

// MeshEdge is a directed record of a link. A cost <= 0 is a tombstone that marks the link as removed at
// UpdateTime.
type MeshEdge struct {
	FirstUid   UUID
	SecondUid  UUID
	Cost       int32
	UpdateTime uint64
}

// EdgeKey identifies an undirected edge, A is always the smaller id
type EdgeKey struct {
	A, B UUID
}

func MakeEdgeKey(a, b UUID) EdgeKey {
	if b.Less(a) {
		a, b = b, a
	}
	return EdgeKey{A: a, B: b}
}

func (e MeshEdge) IsEmpty() bool {
	return e.FirstUid.IsZero() && e.SecondUid.IsZero()
}

// Exists is false for tombstones
func (e MeshEdge) Exists() bool {
	return e.Cost > 0
}

func (e MeshEdge) Key() EdgeKey {
	return MakeEdgeKey(e.FirstUid, e.SecondUid)
}

func (e MeshEdge) Reverse() MeshEdge {
	e.FirstUid, e.SecondUid = e.SecondUid, e.FirstUid
	return e
}

// Equal compares the endpoints only, in either direction
func (e MeshEdge) Equal(o MeshEdge) bool {
	return e.Key() == o.Key()
}

// Other returns the opposite endpoint of uid
func (e MeshEdge) Other(uid UUID) UUID {
	if e.FirstUid == uid {
		return e.SecondUid
	}
	return e.FirstUid
}

func (e MeshEdge) SortKey() UUID {
	return e.FirstUid.Add(e.SecondUid)
}

func (e MeshEdge) String() string {
	return fmt.Sprintf("(%s -> %s, cost: %d, t: %d)", e.FirstUid, e.SecondUid, e.Cost, e.UpdateTime)
}

// GraphInfo is a snapshot or delta of the graph exchanged between neighbours
type GraphInfo struct {
	Edges []MeshEdge
	Nodes []MeshNode
}

func (g GraphInfo) IsEmpty() bool {
	return len(g.Edges) == 0 && len(g.Nodes) == 0
}

// Merge returns a new GraphInfo containing the records of both, g first
func (g GraphInfo) Merge(o GraphInfo) GraphInfo {
	return GraphInfo{
		Edges: append(slices.Clone(g.Edges), o.Edges...),
		Nodes: append(slices.Clone(g.Nodes), o.Nodes...),
	}
}

func (g GraphInfo) WithEdge(e MeshEdge) GraphInfo {
	return g.Merge(GraphInfo{Edges: []MeshEdge{e}})
}

func (g GraphInfo) WithNode(n MeshNode) GraphInfo {
	return g.Merge(GraphInfo{Nodes: []MeshNode{n}})
}

// SortEdges orders edges deterministically by their symmetric sort key
func SortEdges(edges []MeshEdge) {
	slices.SortFunc(edges, func(a, b MeshEdge) int {
		if c := a.SortKey().Compare(b.SortKey()); c != 0 {
			return c
		}
		return a.FirstUid.Compare(b.FirstUid)
	})
}

func SortNodes(nodes []MeshNode) {
	slices.SortFunc(nodes, func(a, b MeshNode) int {
		return a.Uid.Compare(b.Uid)
	})
}

// GraphChangeInfo reports a net addition or removal of an edge
type GraphChangeInfo struct {
	IsAdd bool
	Edge  MeshEdge
}

func (c GraphChangeInfo) String() string {
	if c.IsAdd {
		return "add " + c.Edge.String()
	}
	return "remove " + c.Edge.String()
}
