package core

import (
	"errors"
	"fmt"
	"slices"

	"github.com/encodeous/meshlink/perf"
	"github.com/encodeous/meshlink/protocol"
	"github.com/encodeous/meshlink/state"
)

// OnRead consumes bytes received on a channel. Streams may split or coalesce frames, so data is buffered
// per channel until a whole frame is available.
func (m *MeshNetwork) OnRead(channelId uint16, data []byte) {
	n := m.neighbor(channelId)
	if n == nil {
		m.log.Debug("read on unknown channel", "ch", channelId, "len", len(data))
		return
	}
	perf.RecvBytesPerSecond.Add(float64(len(data)))
	frames, err := m.reassemble(channelId, data)
	for _, frame := range frames {
		m.handleFrame(n, frame)
	}
	if err != nil {
		m.log.Warn("bad framing, closing channel", "ch", channelId, "err", err)
		m.futures.resolve(channelId, state.EmptyUUID, ErrChannelClosed)
		n.Close(true)
		m.link.Close(channelId, true)
	}
}

// reassemble appends data to the channel buffer and cuts every complete frame out of it. On a framing error
// the buffer is dropped.
func (m *MeshNetwork) reassemble(channelId uint16, data []byte) ([][]byte, error) {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	buf := append(m.buffers[channelId], data...)
	var frames [][]byte
	for {
		h, ok := protocol.PeekHeader(buf)
		if !ok {
			break
		}
		if int(h.Length) > state.MaxFrameSize {
			delete(m.buffers, channelId)
			return frames, fmt.Errorf("%w: %d bytes", protocol.ErrFrameTooLarge, h.Length)
		}
		if len(buf) < h.FrameSize() {
			break
		}
		frames = append(frames, slices.Clone(buf[:h.FrameSize()]))
		buf = buf[h.FrameSize():]
	}
	if len(buf) == 0 {
		delete(m.buffers, channelId)
	} else {
		m.buffers[channelId] = slices.Clone(buf)
	}
	return frames, nil
}

func (m *MeshNetwork) dropBuffer(channelId uint16) {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	delete(m.buffers, channelId)
}

// buffered returns the number of bytes waiting for the rest of their frame
func (m *MeshNetwork) buffered(channelId uint16) int {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	return len(m.buffers[channelId])
}

func (m *MeshNetwork) handleFrame(n *Neighbor, frame []byte) {
	pkt, err := protocol.Unmarshal(frame)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			m.log.Warn("dropping packet of unknown type", "ch", n.ChannelId(), "err", err)
		} else {
			m.log.Warn("dropping malformed packet", "ch", n.ChannelId(), "err", err)
		}
		return
	}
	switch p := pkt.(type) {
	case *protocol.HandshakePacket:
		m.onHandshakePacket(n, p)
	case *protocol.DatagramPacket:
		m.onDatagram(n, frame, p)
	case *protocol.GraphUpdatePacket:
		m.onGraphUpdatePacket(n, p)
	case *protocol.HeartbeatPacket:
		m.onHeartbeatPacket(n, p)
	}
}

// onDatagram delivers datagrams addressed to us and relays the rest unchanged towards their next hop
func (m *MeshNetwork) onDatagram(n *Neighbor, frame []byte, pkt *protocol.DatagramPacket) {
	if pkt.Dest == m.self {
		if !n.IsEstablished() {
			perf.DatagramsDropped.Add(1)
			m.log.Debug("datagram from neighbor that is not established", "ch", n.ChannelId())
			return
		}
		perf.DatagramsDelivered.Add(1)
		m.upper.OnReadMeshPacketFromNetwork(pkt.Source.Address(), n.Info().Type, pkt.Payload)
		return
	}
	edge, ok := m.graph.GetFastestEdge(pkt.Dest)
	if !ok {
		perf.DatagramsDropped.Add(1)
		m.log.Debug("no route for datagram", "dst", pkt.Dest)
		return
	}
	next := m.established(edge.SecondUid)
	if next == nil {
		perf.DatagramsDropped.Add(1)
		m.log.Debug("next hop not established", "dst", pkt.Dest, "via", edge.SecondUid)
		return
	}
	if next.Write(frame) {
		perf.DatagramsRelayed.Add(1)
	}
}
