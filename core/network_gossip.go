package core

import (
	"github.com/encodeous/meshlink/perf"
	"github.com/encodeous/meshlink/protocol"
	"github.com/encodeous/meshlink/state"
)

// broadcast queues a graph update on every neighbor that has started or finished its handshake, except the
// ones that lead to exclude
func (m *MeshNetwork) broadcast(info state.GraphInfo, edge state.MeshEdge, exclude state.UUID) {
	id := m.now()
	for _, n := range m.snapshot() {
		switch n.Status() {
		case StatusHandshakeSent, StatusHandshakeRecv, StatusEstablished:
		default:
			continue
		}
		uid := n.Uid()
		if !exclude.IsZero() && uid == exclude {
			continue
		}
		n.WriteGraphUpdate(&protocol.GraphUpdatePacket{
			Kind:       protocol.TypeGraphUpdateReq,
			Source:     m.self,
			Dest:       uid,
			UpdateTime: id,
			Graph:      info,
			Edge:       edge,
		})
	}
}

func (m *MeshNetwork) onGraphUpdatePacket(n *Neighbor, pkt *protocol.GraphUpdatePacket) {
	if !n.IsEstablished() {
		m.log.Debug("graph update before handshake completed", "type", pkt.Kind, "ch", n.ChannelId())
		return
	}
	if pkt.Kind == protocol.TypeGraphUpdateRes {
		n.ReceivedGraphUpdatePacketRes(pkt.UpdateTime)
		return
	}
	perf.GraphUpdatesRecv.Add(1)

	empty := pkt.Edge.IsEmpty()
	if empty || pkt.Edge.UpdateTime > m.graph.EdgeVersion(pkt.Edge.FirstUid, pkt.Edge.SecondUid) {
		prev := m.graph.GetConnectedNodes()
		rev := m.graph.Revision()
		update := pkt.Graph
		if !empty {
			update = update.WithEdge(pkt.Edge)
		}
		changes := m.graph.UpdateGraph(update)
		if len(changes) > 0 {
			m.log.Debug("graph changed", "from", pkt.Source, "changes", changes)
		}
		if removed := m.graph.GetRemovedNodes(prev); len(removed) > 0 {
			m.upper.OnMeshNodeClosed(removed.Addresses(), false)
		}
		if m.graph.Revision() != rev {
			m.broadcast(pkt.Graph, pkt.Edge, n.Uid())
		}
	}
	// acknowledged even when stale, the sender only needs to know we have it
	n.write(protocol.Marshal(&protocol.GraphUpdatePacket{
		Kind:       protocol.TypeGraphUpdateRes,
		Source:     m.self,
		Dest:       pkt.Source,
		UpdateTime: pkt.UpdateTime,
	}))
}

func (m *MeshNetwork) onHeartbeatPacket(n *Neighbor, pkt *protocol.HeartbeatPacket) {
	if !n.IsEstablished() {
		return
	}
	n.ResetHeartbeat()
	if pkt.Kind == protocol.TypeHeartbeatReq {
		n.writeHeartbeat(protocol.TypeHeartbeatRes, m.self)
	}
}

// neighborClosed runs once per neighbor, after its timers are stopped
func (m *MeshNetwork) neighborClosed(n *Neighbor, prev NeighborStatus, force bool) {
	ch := n.ChannelId()
	m.mu.Lock()
	if m.neighbors[ch] == n {
		delete(m.neighbors, ch)
	}
	m.mu.Unlock()
	m.dropBuffer(ch)
	perf.NeighborCloses.Add(1)

	if prev == StatusHandshakeSent {
		m.futures.resolve(ch, state.EmptyUUID, ErrChannelClosed)
		m.upper.OnMeshConnectFail(n.Info())
		return
	}
	if prev != StatusEstablished {
		return
	}
	uid := n.Uid()
	if m.established(uid) != nil {
		m.log.Debug("neighbor closed, another channel is still up", "peer", uid, "ch", ch)
		return
	}
	removed := m.tombstone(uid)
	m.log.Info("neighbor closed", "peer", uid, "ch", ch, "force", force, "unreachable", removed.Slice())
	if len(removed) > 0 {
		m.upper.OnMeshNodeClosed(removed.Addresses(), force)
	}
}

// retransmit handles a timer expiry that still has retries left
func (m *MeshNetwork) retransmit(n *Neighbor, kind TimerKind) {
	switch kind {
	case TimerHandshake:
		n.resendHandshake()
	case TimerGraphUpdate:
		if n.IsEstablished() && len(n.PendingGraphUpdates()) > 0 {
			perf.Retransmissions.Add(1)
			n.flushGraphUpdates()
		}
	case TimerHeartbeat:
		n.writeHeartbeat(protocol.TypeHeartbeatReq, m.self)
	}
}

// retransmissionFailed gives up on a neighbor whose timer ran out of retries
func (m *MeshNetwork) retransmissionFailed(n *Neighbor, kind TimerKind) {
	ch := n.ChannelId()
	m.log.Warn("retransmission failed", "timer", kind, "ch", ch, "peer", n.Uid(), "status", n.Status())
	established := n.IsEstablished()
	if kind == TimerHandshake {
		m.futures.resolve(ch, state.EmptyUUID, ErrHandshakeTimeout)
	}
	n.Close(true)
	m.link.Close(ch, true)
	if established {
		m.upper.CloseNeighborChannel(ch)
	}
}

// Timeout advances every neighbor timer by one tick, it is called once per TimeoutBase
func (m *MeshNetwork) Timeout() {
	m.futures.expire()
	for _, n := range m.snapshot() {
		switch n.Status() {
		case StatusClosed, StatusAccepted:
			continue
		}
		for _, ev := range n.UpdateTimer() {
			if ev.Failed {
				m.retransmissionFailed(n, ev.Kind)
				break
			}
			m.retransmit(n, ev.Kind)
		}
	}
}
