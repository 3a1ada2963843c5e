package core

import (
	"github.com/encodeous/meshlink/protocol"
	"github.com/encodeous/meshlink/state"
)

func (m *MeshNetwork) onHandshakePacket(n *Neighbor, pkt *protocol.HandshakePacket) {
	if pkt.Source.IsZero() || pkt.Source == m.self {
		m.log.Warn("handshake with invalid source, closing", "ch", n.ChannelId(), "src", pkt.Source)
		m.futures.resolve(n.ChannelId(), state.EmptyUUID, ErrChannelClosed)
		n.Close(true)
		m.link.Close(n.ChannelId(), true)
		return
	}
	status := n.Status()
	switch pkt.Kind {
	case protocol.TypeHandshakeReq:
		switch status {
		case StatusAccepted:
			m.onHandshakeReq(n, pkt)
		case StatusHandshakeRecv:
			n.resendHandshake()
		default:
			m.log.Debug("unexpected handshake", "type", pkt.Kind, "status", status, "ch", n.ChannelId())
		}
	case protocol.TypeHandshakeReqRes:
		switch status {
		case StatusHandshakeSent:
			m.onHandshakeReqRes(n, pkt)
		case StatusEstablished:
			// our HandshakeRes was lost
			n.resendHandshake()
		default:
			m.log.Debug("unexpected handshake", "type", pkt.Kind, "status", status, "ch", n.ChannelId())
		}
	case protocol.TypeHandshakeRes:
		if status != StatusHandshakeRecv || pkt.Source != n.Uid() {
			m.log.Debug("unexpected handshake", "type", pkt.Kind, "status", status, "ch", n.ChannelId())
			return
		}
		m.onHandshakeRes(n, pkt)
	}
}

// onHandshakeReq runs on the passive side
func (m *MeshNetwork) onHandshakeReq(n *Neighbor, pkt *protocol.HandshakePacket) {
	n.setPeer(pkt.Source, pkt.DeviceName)
	n.setPeerGraph(pkt.Graph)
	graph := m.graph.GetGraph().Merge(m.graph.GetDisconnGraph(pkt.Graph))
	n.setStatus(StatusHandshakeRecv)
	n.writeHandshake(&protocol.HandshakePacket{
		Kind:       protocol.TypeHandshakeReqRes,
		Source:     m.self,
		Dest:       pkt.Source,
		Graph:      graph,
		DeviceName: m.name,
		UpdateTime: m.graph.EdgeVersion(m.self, pkt.Source),
	}, true)
}

// onHandshakeReqRes runs on the active side, it picks the version of the new edge
func (m *MeshNetwork) onHandshakeReqRes(n *Neighbor, pkt *protocol.HandshakePacket) {
	n.cancelTimer(TimerHandshake)
	n.setPeer(pkt.Source, pkt.DeviceName)
	edge := state.MeshEdge{
		FirstUid:   m.self,
		SecondUid:  pkt.Source,
		Cost:       state.LinkCost,
		UpdateTime: max(m.graph.EdgeVersion(m.self, pkt.Source), pkt.UpdateTime) + 1,
	}
	n.writeHandshake(&protocol.HandshakePacket{
		Kind:       protocol.TypeHandshakeRes,
		Source:     m.self,
		Dest:       pkt.Source,
		Graph:      m.graph.GetDisconnGraph(pkt.Graph),
		DeviceName: m.name,
		UpdateTime: edge.UpdateTime,
	}, false)
	// the passive side never picks a version below ours
	m.establish(n, pkt.Graph, edge, edge.UpdateTime)
}

// onHandshakeRes runs on the passive side
func (m *MeshNetwork) onHandshakeRes(n *Neighbor, pkt *protocol.HandshakePacket) {
	n.cancelTimer(TimerHandshake)
	peer := n.Uid()
	edge := state.MeshEdge{
		FirstUid:   m.self,
		SecondUid:  peer,
		Cost:       state.LinkCost,
		UpdateTime: max(pkt.UpdateTime, m.graph.EdgeVersion(m.self, peer)+1),
	}
	m.establish(n, n.takePeerGraph().Merge(pkt.Graph), edge, pkt.UpdateTime)
}

// establish merges what the peer told us together with the new direct edge, then announces the edge to
// everyone else. peerVersion is the edge version the peer settled on, if ours is newer the peer is told as well.
func (m *MeshNetwork) establish(n *Neighbor, peerGraph state.GraphInfo, edge state.MeshEdge, peerVersion uint64) {
	peer := n.Uid()
	prev := m.graph.GetConnectedNodes()
	self := m.graph.TouchSelf(m.now())
	update := peerGraph.WithEdge(edge).WithNode(self)
	changes := m.graph.UpdateGraph(update)

	n.setStatus(StatusEstablished)
	n.armTimer(TimerHeartbeat)
	m.log.Info("neighbor established", "peer", peer, "name", n.DeviceName(), "ch", n.Info(), "edge", edge)
	m.log.Debug("handshake merged graph", "changes", changes)

	m.futures.resolve(n.ChannelId(), peer, nil)
	m.upper.OnMeshConnected(n.Info(), peer)
	if removed := m.graph.GetRemovedNodes(prev); len(removed) > 0 {
		m.upper.OnMeshNodeClosed(removed.Addresses(), false)
	}
	m.broadcast(update, edge, peer)
	n.flushGraphUpdates()
	if edge.UpdateTime != peerVersion {
		// our version of the edge moved while the handshake was in flight
		m.log.Debug("correcting peer edge version", "peer", peer, "ours", edge.UpdateTime, "theirs", peerVersion)
		n.WriteGraphUpdate(&protocol.GraphUpdatePacket{
			Kind:       protocol.TypeGraphUpdateReq,
			Source:     m.self,
			Dest:       peer,
			UpdateTime: m.now(),
			Edge:       edge,
		})
	}
}
