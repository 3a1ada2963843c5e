package core

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/encodeous/meshlink/protocol"
	"github.com/encodeous/meshlink/state"
)

var (
	ErrNotReachable     = errors.New("destination is not reachable")
	ErrNeighborNotReady = errors.New("next hop is not established")
	ErrHandshakeTimeout = errors.New("handshake timed out")
	ErrChannelClosed    = errors.New("channel closed before the handshake completed")
	ErrNetworkClosed    = errors.New("mesh network closed")
)

// Upper receives the events of the mesh that concern the layer above it
type Upper interface {
	OnMeshConnected(info state.ChannelInfo, uid state.UUID)
	OnMeshConnectFail(info state.ChannelInfo)
	OnReadMeshPacketFromNetwork(src netip.Addr, connType state.ConnType, payload []byte)
	// OnMeshNodeClosed reports nodes that are no longer reachable, forced is set when the loss was caused by
	// a timeout instead of an orderly close
	OnMeshNodeClosed(addrs []netip.Addr, forced bool)
	CloseNeighborChannel(channelId uint16)
}

type Config struct {
	Self  state.MeshNode
	Link  Link
	Upper Upper
	Log   *slog.Logger
	// Clock defaults to time.Now
	Clock func() time.Time
}

// MeshNetwork runs the routing protocol over the channels handed to it by the link layer
type MeshNetwork struct {
	self  state.UUID
	name  string
	graph *MeshGraph
	link  Link
	upper Upper
	log   *slog.Logger
	clock func() time.Time

	mu        sync.Mutex
	neighbors map[uint16]*Neighbor
	closed    bool

	bufMu   sync.Mutex
	buffers map[uint16][]byte

	timeMu   sync.Mutex
	lastTime uint64

	futures *connectFutures
}

func NewMeshNetwork(cfg Config) (*MeshNetwork, error) {
	if cfg.Self.Uid.IsZero() {
		return nil, fmt.Errorf("mesh network requires a node id")
	}
	if cfg.Link == nil || cfg.Upper == nil {
		return nil, fmt.Errorf("mesh network requires a link and an upper layer")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	m := &MeshNetwork{
		self:      cfg.Self.Uid,
		name:      cfg.Self.DeviceName,
		link:      cfg.Link,
		upper:     cfg.Upper,
		log:       cfg.Log.With("node", cfg.Self.Uid.String()),
		clock:     cfg.Clock,
		neighbors: make(map[uint16]*Neighbor),
		buffers:   make(map[uint16][]byte),
		futures:   newConnectFutures(state.ConnectFutureTTL),
	}
	m.graph = NewMeshGraph(cfg.Self, m.log)
	m.graph.TouchSelf(m.now())
	return m, nil
}

// now returns a strictly increasing millisecond timestamp
func (m *MeshNetwork) now() uint64 {
	m.timeMu.Lock()
	defer m.timeMu.Unlock()
	t := max(uint64(m.clock().UnixMilli()), m.lastTime+1)
	m.lastTime = t
	return t
}

func (m *MeshNetwork) Self() state.UUID {
	return m.self
}

func (m *MeshNetwork) Graph() *MeshGraph {
	return m.graph
}

func (m *MeshNetwork) neighbor(channelId uint16) *Neighbor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.neighbors[channelId]
}

// snapshot copies the neighbor map ordered by channel id, so that callers never fan out while holding mu
func (m *MeshNetwork) snapshot() []*Neighbor {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := slices.Collect(maps.Values(m.neighbors))
	slices.SortFunc(res, func(a, b *Neighbor) int {
		return cmp.Compare(a.ChannelId(), b.ChannelId())
	})
	return res
}

// established returns the first established neighbor with the given id
func (m *MeshNetwork) established(uid state.UUID) *Neighbor {
	for _, n := range m.snapshot() {
		if n.Uid() == uid && n.IsEstablished() {
			return n
		}
	}
	return nil
}

// addNeighbor registers a fresh neighbor, closing whatever was left on the same channel id
func (m *MeshNetwork) addNeighbor(info state.ChannelInfo, status NeighborStatus) (*Neighbor, bool) {
	n := newNeighbor(info, status, m.link, m.neighborClosed, m.log)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false
	}
	old := m.neighbors[info.Id]
	m.neighbors[info.Id] = n
	m.mu.Unlock()
	if old != nil {
		m.log.Warn("channel reused before close", "ch", info.Id)
		old.Close(true)
	}
	m.dropBuffer(info.Id)
	return n, true
}

// OnChannelConnected starts the handshake on a channel we opened
func (m *MeshNetwork) OnChannelConnected(info state.ChannelInfo) *ConnectFuture {
	n, ok := m.addNeighbor(info, StatusHandshakeSent)
	if !ok {
		f := newConnectFuture(info)
		f.resolve(state.EmptyUUID, ErrNetworkClosed)
		return f
	}
	f := m.futures.add(info)
	m.log.Debug("channel connected", "ch", info)
	n.writeHandshake(&protocol.HandshakePacket{
		Kind:       protocol.TypeHandshakeReq,
		Source:     m.self,
		Dest:       state.EmptyUUID,
		Graph:      m.graph.GetGraph(),
		DeviceName: m.name,
		UpdateTime: 0,
	}, true)
	return f
}

// OnChannelAccepted waits for the remote end to start the handshake
func (m *MeshNetwork) OnChannelAccepted(info state.ChannelInfo) {
	if _, ok := m.addNeighbor(info, StatusAccepted); ok {
		m.log.Debug("channel accepted", "ch", info)
	}
}

// OnChannelClosed is called by the link layer once a channel is gone
func (m *MeshNetwork) OnChannelClosed(channelId uint16) {
	if n := m.neighbor(channelId); n != nil {
		n.Close(false)
	}
	m.dropBuffer(channelId)
}

// Write sends payload to dst, it returns false when dst cannot be reached right now
func (m *MeshNetwork) Write(dst state.UUID, payload []byte) bool {
	return m.Send(dst, payload) == nil
}

// Send is Write with the reason for failure
func (m *MeshNetwork) Send(dst state.UUID, payload []byte) error {
	edge, ok := m.graph.GetFastestEdge(dst)
	if !ok || dst == m.self {
		return ErrNotReachable
	}
	next := m.established(edge.SecondUid)
	if next == nil {
		return ErrNeighborNotReady
	}
	frame := protocol.Marshal(&protocol.DatagramPacket{
		Source:  m.self,
		Dest:    dst,
		Payload: payload,
	})
	if !next.Write(frame) {
		return ErrNeighborNotReady
	}
	return nil
}

// SetMeshNodeType changes the traffic class of this node and tells the mesh about it
func (m *MeshNetwork) SetMeshNodeType(t uint8) state.MeshNode {
	node := m.graph.SetMeshNodeType(t, m.now())
	m.broadcast(state.GraphInfo{Nodes: []state.MeshNode{node}}, state.MeshEdge{}, state.EmptyUUID)
	return node
}

func (m *MeshNetwork) GetClosestMeshNode(t uint8) (Closest, bool) {
	return m.graph.GetClosestMeshNode(t)
}

// Clean tombstones the direct edge to uid and returns the other nodes that became unreachable because of it
func (m *MeshNetwork) Clean(uid state.UUID) state.UuidSet {
	removed := m.tombstone(uid)
	delete(removed, uid)
	return removed
}

// tombstone removes the direct edge to uid, broadcasts the removal and returns every node lost with it
func (m *MeshNetwork) tombstone(uid state.UUID) state.UuidSet {
	prev := m.graph.GetConnectedNodes()
	rev := m.graph.Revision()
	edge := state.MeshEdge{
		FirstUid:   m.self,
		SecondUid:  uid,
		Cost:       state.TombstoneCost,
		UpdateTime: m.graph.EdgeVersion(m.self, uid) + 1,
	}
	changes := m.graph.UpdateGraph(state.GraphInfo{Edges: []state.MeshEdge{edge}})
	m.log.Debug("edge tombstoned", "edge", edge, "changes", changes)
	if m.graph.Revision() != rev {
		m.broadcast(state.GraphInfo{}, edge, uid)
	}
	return m.graph.GetRemovedNodes(prev)
}

// NeighborInfo is a point in time view of a neighbor
type NeighborInfo struct {
	Channel    state.ChannelInfo
	Uid        state.UUID
	DeviceName string
	Status     NeighborStatus
	Pending    []uint64
}

func (m *MeshNetwork) Neighbors() []NeighborInfo {
	res := make([]NeighborInfo, 0)
	for _, n := range m.snapshot() {
		res = append(res, NeighborInfo{
			Channel:    n.Info(),
			Uid:        n.Uid(),
			DeviceName: n.DeviceName(),
			Status:     n.Status(),
			Pending:    n.PendingGraphUpdates(),
		})
	}
	return res
}

// Close force closes every neighbor and fails pending connects
func (m *MeshNetwork) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.futures.closeAll(ErrNetworkClosed)
	for _, n := range m.snapshot() {
		n.Close(true)
		m.link.Close(n.ChannelId(), true)
	}
}
