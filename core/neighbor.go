package core

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/encodeous/meshlink/perf"
	"github.com/encodeous/meshlink/protocol"
	"github.com/encodeous/meshlink/state"
)

type NeighborStatus int

const (
	StatusClosed NeighborStatus = iota
	StatusAccepted
	StatusHandshakeSent
	StatusHandshakeRecv
	StatusEstablished
)

func (s NeighborStatus) String() string {
	switch s {
	case StatusClosed:
		return "closed"
	case StatusAccepted:
		return "accepted"
	case StatusHandshakeSent:
		return "handshake-sent"
	case StatusHandshakeRecv:
		return "handshake-recv"
	case StatusEstablished:
		return "established"
	}
	return "unknown"
}

// Link is the link layer as seen by the mesh
type Link interface {
	// Write sends a complete frame on the channel. Writes to a closed channel may fail or be dropped.
	Write(channelId uint16, frame []byte) error
	// Close closes the channel, force drops any unsent data
	Close(channelId uint16, force bool)
}

// Neighbor is the protocol state of a single link to another mesh node
type Neighbor struct {
	mu         sync.Mutex
	info       state.ChannelInfo
	uid        state.UUID
	deviceName string
	status     NeighborStatus
	closed     bool

	// peerGraph is the graph received in HandshakeReq, kept until the handshake completes
	peerGraph *state.GraphInfo
	// lastHandshake is retransmitted by the handshake timer and on duplicate requests
	lastHandshake []byte
	pending       map[uint64]*protocol.GraphUpdatePacket
	timers        [timerCount]timerSlot

	link    Link
	onClose func(n *Neighbor, prev NeighborStatus, force bool)
	log     *slog.Logger
}

func newNeighbor(info state.ChannelInfo, status NeighborStatus, link Link, onClose func(*Neighbor, NeighborStatus, bool), log *slog.Logger) *Neighbor {
	return &Neighbor{
		info:    info,
		status:  status,
		pending: make(map[uint64]*protocol.GraphUpdatePacket),
		link:    link,
		onClose: onClose,
		log:     log.With("ch", info.Id),
	}
}

func (n *Neighbor) Info() state.ChannelInfo {
	return n.info
}

func (n *Neighbor) ChannelId() uint16 {
	return n.info.Id
}

func (n *Neighbor) Uid() state.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.uid
}

func (n *Neighbor) DeviceName() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deviceName
}

func (n *Neighbor) Status() NeighborStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Neighbor) IsEstablished() bool {
	return n.Status() == StatusEstablished
}

func (n *Neighbor) setStatus(status NeighborStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.log.Debug("neighbor status", "from", n.status, "to", status, "uid", n.uid)
	n.status = status
}

func (n *Neighbor) setPeer(uid state.UUID, deviceName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.uid = uid
	n.deviceName = deviceName
}

func (n *Neighbor) setPeerGraph(g state.GraphInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peerGraph = &g
}

// takePeerGraph returns and clears the graph buffered during the handshake
func (n *Neighbor) takePeerGraph() state.GraphInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peerGraph == nil {
		return state.GraphInfo{}
	}
	g := *n.peerGraph
	n.peerGraph = nil
	return g
}

// write sends a frame on the link. Writes after close are dropped.
func (n *Neighbor) write(frame []byte) bool {
	n.mu.Lock()
	closed := n.closed
	n.mu.Unlock()
	if closed {
		return false
	}
	if err := n.link.Write(n.info.Id, frame); err != nil {
		n.log.Debug("write failed", "err", err)
		return false
	}
	return true
}

// Write sends a raw frame, used for datagrams
func (n *Neighbor) Write(frame []byte) bool {
	return n.write(frame)
}

// writeHandshake sends a handshake frame, remembers it for retransmission and optionally arms the handshake
// timer
func (n *Neighbor) writeHandshake(pkt *protocol.HandshakePacket, arm bool) {
	frame := protocol.Marshal(pkt)
	n.mu.Lock()
	n.lastHandshake = frame
	if arm && !n.closed {
		n.timers[TimerHandshake].arm(TimerHandshake.config())
	}
	n.mu.Unlock()
	n.write(frame)
}

// resendHandshake retransmits the last handshake frame
func (n *Neighbor) resendHandshake() {
	n.mu.Lock()
	frame := n.lastHandshake
	n.mu.Unlock()
	if frame != nil {
		perf.Retransmissions.Add(1)
		n.write(frame)
	}
}

// WriteGraphUpdate queues an update until it is acknowledged. It is sent right away only if the neighbor is
// established, otherwise it is flushed once the handshake completes.
func (n *Neighbor) WriteGraphUpdate(pkt *protocol.GraphUpdatePacket) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.pending[pkt.UpdateTime] = pkt
	established := n.status == StatusEstablished
	if !n.timers[TimerGraphUpdate].armed {
		n.timers[TimerGraphUpdate].arm(TimerGraphUpdate.config())
	}
	n.mu.Unlock()
	if established {
		perf.GraphUpdatesSent.Add(1)
		n.write(protocol.Marshal(pkt))
	}
}

// ReceivedGraphUpdatePacketRes acknowledges the update with the given time
func (n *Neighbor) ReceivedGraphUpdatePacketRes(updateTime uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.pending[updateTime]; !ok {
		return
	}
	delete(n.pending, updateTime)
	if len(n.pending) == 0 {
		n.timers[TimerGraphUpdate].disarm()
	} else if !n.closed {
		// the peer is making progress
		n.timers[TimerGraphUpdate].arm(TimerGraphUpdate.config())
	}
}

// PendingGraphUpdates returns the update times still waiting for an acknowledgement
func (n *Neighbor) PendingGraphUpdates() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	keys := slices.Collect(maps.Keys(n.pending))
	slices.Sort(keys)
	return keys
}

// flushGraphUpdates sends every pending update in order
func (n *Neighbor) flushGraphUpdates() {
	n.mu.Lock()
	pkts := make([]*protocol.GraphUpdatePacket, 0, len(n.pending))
	for _, key := range slices.Sorted(maps.Keys(n.pending)) {
		pkts = append(pkts, n.pending[key])
	}
	n.mu.Unlock()
	for _, pkt := range pkts {
		perf.GraphUpdatesSent.Add(1)
		n.write(protocol.Marshal(pkt))
	}
}

func (n *Neighbor) writeHeartbeat(kind protocol.PacketType, self state.UUID) {
	n.write(protocol.Marshal(&protocol.HeartbeatPacket{
		Kind:   kind,
		Source: self,
		Dest:   n.Uid(),
	}))
}

// armTimer restarts the slot from zero
func (n *Neighbor) armTimer(kind TimerKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.timers[kind].arm(kind.config())
}

func (n *Neighbor) cancelTimer(kind TimerKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.timers[kind].disarm()
}

// ResetHeartbeat restarts the heartbeat slot, called on any heartbeat traffic
func (n *Neighbor) ResetHeartbeat() {
	n.armTimer(TimerHeartbeat)
}

// UpdateTimer advances every armed slot by one tick and returns what happened
func (n *Neighbor) UpdateTimer() []TimerEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	var events []TimerEvent
	for kind := range timerCount {
		expired, failed := n.timers[kind].tick()
		if failed || expired {
			events = append(events, TimerEvent{Kind: kind, Failed: failed})
		}
	}
	return events
}

// Close is idempotent. It stops every timer and drops buffered state before the close callback runs.
func (n *Neighbor) Close(force bool) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		n.log.Debug("neighbor already closed")
		return
	}
	n.closed = true
	for kind := range timerCount {
		n.timers[kind].disarm()
	}
	n.peerGraph = nil
	n.lastHandshake = nil
	n.pending = make(map[uint64]*protocol.GraphUpdatePacket)
	prev := n.status
	uid := n.uid
	n.status = StatusClosed
	n.mu.Unlock()

	n.log.Debug("neighbor closed", "uid", uid, "prev", prev, "force", force)
	if n.onClose != nil {
		n.onClose(n, prev, force)
	}
}

func (n *Neighbor) IsClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
