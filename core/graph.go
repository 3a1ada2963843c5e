package core

import (
	"log/slog"
	"net/netip"
	"sync"

	"github.com/encodeous/meshlink/state"
	"github.com/gaissmai/bart"
)

// Closest is the nearest reachable node of a traffic type
type Closest struct {
	Uid      state.UUID
	Address  netip.Addr
	Distance int64
}

// MeshGraph holds the local view of the mesh topology. It is safe for concurrent use; every mutation happens
// under a single lock, so callers never see a partially updated graph.
type MeshGraph struct {
	mu   sync.Mutex
	self state.UUID
	log  *slog.Logger

	// edgeUpdates holds the last accepted version of every undirected edge, including tombstones
	// and edges that are currently unreachable
	edgeUpdates map[state.EdgeKey]state.MeshEdge
	// edgeMatrix is the adjacency of live edges, restricted to the component reachable from self
	edgeMatrix map[state.UUID]map[state.UUID]state.MeshEdge
	// nodePath maps a destination to the edge towards its next hop, Cost holds the total path cost
	nodePath map[state.UUID]state.MeshEdge
	// nodes holds metadata of reachable nodes only
	nodes map[state.UUID]state.MeshNode
	// addrs indexes reachable node addresses
	addrs    bart.Table[state.UUID]
	revision uint64

	closestMu sync.RWMutex
	closest   map[uint8]Closest
}

func NewMeshGraph(self state.MeshNode, log *slog.Logger) *MeshGraph {
	g := &MeshGraph{
		self:        self.Uid,
		log:         log,
		edgeUpdates: make(map[state.EdgeKey]state.MeshEdge),
		edgeMatrix:  make(map[state.UUID]map[state.UUID]state.MeshEdge),
		nodePath:    make(map[state.UUID]state.MeshEdge),
		nodes:       make(map[state.UUID]state.MeshNode),
		closest:     make(map[uint8]Closest),
	}
	g.nodes[self.Uid] = self
	g.refreshGraph()
	g.refreshClosest()
	return g
}

func (g *MeshGraph) SelfUid() state.UUID {
	return g.self
}

// Self returns the local node record
func (g *MeshGraph) Self() state.MeshNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[g.self]
}

// Revision increases whenever the graph accepts information it did not already have
func (g *MeshGraph) Revision() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.revision
}

// UpdateGraph merges every edge and node of info, and reports the edges that were added or removed
func (g *MeshGraph) UpdateGraph(info state.GraphInfo) []state.GraphChangeInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	changes := make([]state.GraphChangeInfo, 0)
	for _, edge := range info.Edges {
		if change, ok := g.applyEdge(edge); ok {
			changes = append(changes, change)
		}
	}

	g.refreshGraph()

	for _, node := range info.Nodes {
		g.applyNode(node)
	}
	for uid := range g.nodes {
		if _, ok := g.nodePath[uid]; !ok {
			delete(g.nodes, uid)
		}
	}
	g.rebuildAddresses()
	g.refreshClosest()
	return changes
}

// applyEdge must be called with mu held
func (g *MeshGraph) applyEdge(edge state.MeshEdge) (state.GraphChangeInfo, bool) {
	if edge.IsEmpty() || edge.FirstUid == edge.SecondUid || edge.FirstUid.IsZero() || edge.SecondUid.IsZero() {
		return state.GraphChangeInfo{}, false
	}
	key := edge.Key()
	prev, known := g.edgeUpdates[key]
	if known && edge.UpdateTime < prev.UpdateTime {
		g.log.Debug("stale edge ignored", "edge", edge, "current", prev)
		return state.GraphChangeInfo{}, false
	}
	if !edge.Exists() {
		edge.Cost = state.TombstoneCost
	}
	g.edgeUpdates[key] = edge

	if !known || edge.UpdateTime > prev.UpdateTime || edge.Cost != prev.Cost {
		g.revision++
	}

	wasLive := known && prev.Exists()
	switch {
	case edge.Exists() && !wasLive:
		return state.GraphChangeInfo{IsAdd: true, Edge: edge}, true
	case !edge.Exists() && wasLive:
		return state.GraphChangeInfo{IsAdd: false, Edge: edge}, true
	}
	return state.GraphChangeInfo{}, false
}

// applyNode must be called with mu held, after refreshGraph
func (g *MeshGraph) applyNode(node state.MeshNode) {
	// only we may change our own record
	if node.Uid.IsZero() || node.Uid == g.self {
		return
	}
	if _, ok := g.nodePath[node.Uid]; !ok {
		return
	}
	cur, ok := g.nodes[node.Uid]
	if ok && cur.UpdateTime >= node.UpdateTime {
		return
	}
	g.nodes[node.Uid] = node
	g.revision++
}

// refreshGraph rebuilds the reachable adjacency from the accepted edge versions, then recomputes the
// next hop table. Must be called with mu held.
func (g *MeshGraph) refreshGraph() {
	full := make(map[state.UUID][]state.MeshEdge)
	for _, edge := range g.edgeUpdates {
		if !edge.Exists() {
			continue
		}
		full[edge.FirstUid] = append(full[edge.FirstUid], edge)
		full[edge.SecondUid] = append(full[edge.SecondUid], edge.Reverse())
	}

	matrix := make(map[state.UUID]map[state.UUID]state.MeshEdge)
	visited := state.NewUuidSet(g.self)
	queue := []state.UUID{g.self}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, edge := range full[cur] {
			if edge.FirstUid != cur {
				edge = edge.Reverse()
			}
			if matrix[cur] == nil {
				matrix[cur] = make(map[state.UUID]state.MeshEdge)
			}
			matrix[cur][edge.SecondUid] = edge
			if !visited.Contains(edge.SecondUid) {
				visited.Add(edge.SecondUid)
				queue = append(queue, edge.SecondUid)
			}
		}
	}
	g.edgeMatrix = matrix
	g.nodePath = computePaths(g.self, matrix)
}

// must be called with mu held
func (g *MeshGraph) rebuildAddresses() {
	g.addrs = bart.Table[state.UUID]{}
	for uid := range g.nodePath {
		g.addrs.Insert(netip.PrefixFrom(uid.Address(), 128), uid)
	}
}

// refreshClosest must be called with mu held
func (g *MeshGraph) refreshClosest() {
	closest := make(map[uint8]Closest)
	for uid, node := range g.nodes {
		if uid == g.self || node.Type == 0 {
			continue
		}
		path, ok := g.nodePath[uid]
		if !ok {
			continue
		}
		dist := int64(path.Cost)
		cur, exists := closest[node.Type]
		if !exists || dist < cur.Distance || dist == cur.Distance && uid.Less(cur.Uid) {
			closest[node.Type] = Closest{
				Uid:      uid,
				Address:  uid.Address(),
				Distance: dist,
			}
		}
	}
	g.closestMu.Lock()
	g.closest = closest
	g.closestMu.Unlock()
}

// GetFastestEdge returns the edge from self towards the next hop for dest. Cost holds the total path cost.
func (g *MeshGraph) GetFastestEdge(dest state.UUID) (state.MeshEdge, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	edge, ok := g.nodePath[dest]
	return edge, ok
}

// GetNeighborEdge returns the direct edge between self and dest, regardless of routing
func (g *MeshGraph) GetNeighborEdge(dest state.UUID) (state.MeshEdge, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	edge, ok := g.edgeMatrix[g.self][dest]
	return edge, ok
}

// EdgeVersion is the last accepted update time of the undirected edge (a, b), 0 if unknown
func (g *MeshGraph) EdgeVersion(a, b state.UUID) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.edgeUpdates[state.MakeEdgeKey(a, b)].UpdateTime
}

// GetGraph returns the reachable edges, one record per undirected pair, and the reachable nodes
func (g *MeshGraph) GetGraph() state.GraphInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	info := state.GraphInfo{
		Edges: make([]state.MeshEdge, 0),
		Nodes: make([]state.MeshNode, 0, len(g.nodes)),
	}
	for first, row := range g.edgeMatrix {
		for second, edge := range row {
			if first.Less(second) {
				info.Edges = append(info.Edges, edge)
			}
		}
	}
	for _, node := range g.nodes {
		info.Nodes = append(info.Nodes, node)
	}
	state.SortEdges(info.Edges)
	state.SortNodes(info.Nodes)
	return info
}

// GetDisconnGraph returns our tombstones that are newer than what other believes, so that a peer that was
// unreachable learns about links that died in the meantime
func (g *MeshGraph) GetDisconnGraph(other state.GraphInfo) state.GraphInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := state.GraphInfo{Edges: make([]state.MeshEdge, 0)}
	seen := make(map[state.EdgeKey]struct{})
	for _, theirs := range other.Edges {
		key := theirs.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		ours, ok := g.edgeUpdates[key]
		if ok && !ours.Exists() && ours.UpdateTime > theirs.UpdateTime {
			seen[key] = struct{}{}
			res.Edges = append(res.Edges, ours)
		}
	}
	state.SortEdges(res.Edges)
	return res
}

// GetConnectedNodes returns every node currently reachable, self included
func (g *MeshGraph) GetConnectedNodes() state.UuidSet {
	g.mu.Lock()
	defer g.mu.Unlock()
	res := make(state.UuidSet, len(g.nodePath))
	for uid := range g.nodePath {
		res.Add(uid)
	}
	return res
}

// GetRemovedNodes returns the nodes of prev that are no longer reachable
func (g *MeshGraph) GetRemovedNodes(prev state.UuidSet) state.UuidSet {
	return prev.Difference(g.GetConnectedNodes())
}

func (g *MeshGraph) IsReachable(uid state.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.nodePath[uid]
	return ok
}

func (g *MeshGraph) GetNode(uid state.UUID) (state.MeshNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	node, ok := g.nodes[uid]
	return node, ok
}

// LookupAddress resolves a mesh address to a reachable node
func (g *MeshGraph) LookupAddress(addr netip.Addr) (state.UUID, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addrs.Lookup(addr)
}

// SetMeshNodeType changes the traffic class of the local node and returns the new record
func (g *MeshGraph) SetMeshNodeType(t uint8, now uint64) state.MeshNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	self := g.nodes[g.self]
	self.Type = t
	self.UpdateTime = max(self.UpdateTime+1, now)
	g.nodes[g.self] = self
	g.revision++
	g.refreshClosest()
	return self
}

// TouchSelf bumps the update time of the local node so that peers accept it over older copies
func (g *MeshGraph) TouchSelf(now uint64) state.MeshNode {
	g.mu.Lock()
	defer g.mu.Unlock()
	self := g.nodes[g.self]
	if now > self.UpdateTime {
		self.UpdateTime = now
		g.nodes[g.self] = self
	}
	return self
}

func (g *MeshGraph) GetClosestMeshNode(t uint8) (Closest, bool) {
	g.closestMu.RLock()
	defer g.closestMu.RUnlock()
	c, ok := g.closest[t]
	return c, ok
}

// GraphSnapshot is a consistent copy of the routing state
type GraphSnapshot struct {
	Self     state.UUID
	Revision uint64
	Nodes    []state.MeshNode
	Edges    []state.MeshEdge
	NextHops map[state.UUID]state.MeshEdge
	Closest  map[uint8]Closest
}

func (g *MeshGraph) Snapshot() GraphSnapshot {
	info := g.GetGraph()
	g.mu.Lock()
	snap := GraphSnapshot{
		Self:     g.self,
		Revision: g.revision,
		Nodes:    info.Nodes,
		Edges:    info.Edges,
		NextHops: make(map[state.UUID]state.MeshEdge, len(g.nodePath)),
	}
	for uid, edge := range g.nodePath {
		snap.NextHops[uid] = edge
	}
	g.mu.Unlock()

	g.closestMu.RLock()
	snap.Closest = make(map[uint8]Closest, len(g.closest))
	for t, c := range g.closest {
		snap.Closest[t] = c
	}
	g.closestMu.RUnlock()
	return snap
}
