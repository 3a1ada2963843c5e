package core

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/encodeous/meshlink/protocol"
	"github.com/encodeous/meshlink/state"
)

type HarnessEvent struct {
	Message string
	Args    []any
}

func MakeEvent(msg string, args ...any) HarnessEvent {
	return HarnessEvent{
		Message: msg,
		Args:    args,
	}
}

func (e HarnessEvent) String() string {
	return fmt.Sprintf("%s %v", e.Message, e.Args)
}

var errLinkDown = errors.New("link down")

// linkEnd is one side of a channel, node -1 is a raw end driven by the test
type linkEnd struct {
	node int
	ch   uint16
}

type delivery struct {
	from, to linkEnd
	frame    []byte
	// closed notifies the receiving end that the channel is gone
	closed bool
}

// MeshHarness connects several MeshNetworks through in-memory channels. Frames are queued and only delivered
// by Run, so tests control the interleaving, and timers only advance on Tick.
type MeshHarness struct {
	t      *testing.T
	nodes  []*harnessNode
	peers  map[linkEnd]linkEnd
	down   map[linkEnd]bool
	queue  []delivery
	nextCh uint16
	// Drop discards frames for which it returns true
	Drop func(from, to int, frame []byte) bool
	// Delivered records every frame that reached a node
	Delivered []delivery
	// Raw holds frames written towards raw ends
	Raw map[uint16][][]byte
}

type harnessNode struct {
	h      *MeshHarness
	idx    int
	net    *MeshNetwork
	mu     sync.Mutex
	events []HarnessEvent
}

type harnessLink struct {
	h   *MeshHarness
	idx int
}

var harnessEpoch = time.UnixMilli(1_000_000)

func NewMeshHarness(t *testing.T, n int) *MeshHarness {
	h := &MeshHarness{
		t:      t,
		peers:  make(map[linkEnd]linkEnd),
		down:   make(map[linkEnd]bool),
		nextCh: 1,
		Raw:    make(map[uint16][][]byte),
	}
	for i := range n {
		node := &harnessNode{h: h, idx: i}
		net, err := NewMeshNetwork(Config{
			Self:  testNode(i),
			Link:  harnessLink{h: h, idx: i},
			Upper: node,
			Log:   slog.New(slog.DiscardHandler),
			Clock: func() time.Time { return harnessEpoch },
		})
		if err != nil {
			t.Fatal(err)
		}
		node.net = net
		h.nodes = append(h.nodes, node)
	}
	t.Cleanup(func() {
		for _, node := range h.nodes {
			node.net.Close()
		}
	})
	return h
}

func (h *MeshHarness) Net(i int) *MeshNetwork {
	return h.nodes[i].net
}

func channelInfo(node int, ch uint16) state.ChannelInfo {
	return state.ChannelInfo{
		Id:      ch,
		Address: netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(node + 1)}), state.DefaultPort),
		Type:    state.ConnWifiDirect,
	}
}

// Connect opens a channel from a to b, runs the handshake and returns the future of a along with the channel
// ids used on each side
func (h *MeshHarness) Connect(a, b int) (*ConnectFuture, uint16, uint16) {
	chA, chB := h.nextCh, h.nextCh+1
	h.nextCh += 2
	endA, endB := linkEnd{a, chA}, linkEnd{b, chB}
	h.peers[endA] = endB
	h.peers[endB] = endA
	h.nodes[b].net.OnChannelAccepted(channelInfo(a, chB))
	f := h.nodes[a].net.OnChannelConnected(channelInfo(b, chA))
	h.Run()
	return f, chA, chB
}

// AcceptRaw registers a channel on node whose remote end is driven by the test through Inject
func (h *MeshHarness) AcceptRaw(node int) uint16 {
	ch := h.nextCh
	h.nextCh++
	end := linkEnd{node, ch}
	h.peers[end] = linkEnd{-1, ch}
	h.nodes[node].net.OnChannelAccepted(channelInfo(-1, ch))
	return ch
}

// Inject hands data to node as if it was read from channel ch
func (h *MeshHarness) Inject(node int, ch uint16, data []byte) {
	h.nodes[node].net.OnRead(ch, data)
}

// CloseLink simulates the transport of a channel going away, both ends are told
func (h *MeshHarness) CloseLink(node int, ch uint16) {
	h.closeLink(linkEnd{node, ch})
	h.Run()
}

func (h *MeshHarness) closeLink(end linkEnd) {
	if h.down[end] {
		return
	}
	peer := h.peers[end]
	h.down[end] = true
	h.down[peer] = true
	h.queue = append(h.queue, delivery{to: end, closed: true})
	if peer.node >= 0 {
		h.queue = append(h.queue, delivery{to: peer, closed: true})
	}
}

// Run delivers queued frames until the mesh is quiet
func (h *MeshHarness) Run() {
	for i := 0; len(h.queue) > 0; i++ {
		if i > 100_000 {
			h.t.Fatal("mesh did not settle")
		}
		d := h.queue[0]
		h.queue = h.queue[1:]
		if d.closed {
			h.nodes[d.to.node].net.OnChannelClosed(d.to.ch)
			continue
		}
		if h.down[d.to] {
			continue
		}
		h.Delivered = append(h.Delivered, d)
		h.nodes[d.to.node].net.OnRead(d.to.ch, d.frame)
	}
}

// Tick advances every timer by one TimeoutBase
func (h *MeshHarness) Tick(n int) {
	for range n {
		for _, node := range h.nodes {
			node.net.Timeout()
		}
		h.Run()
	}
}

// Queued returns the frames waiting for delivery
func (h *MeshHarness) Queued() []delivery {
	return slices.Clone(h.queue)
}

func (h *MeshHarness) Events(i int) []HarnessEvent {
	node := h.nodes[i]
	node.mu.Lock()
	defer node.mu.Unlock()
	return slices.Clone(node.events)
}

func (h *MeshHarness) ClearEvents() {
	for _, node := range h.nodes {
		node.mu.Lock()
		node.events = nil
		node.mu.Unlock()
	}
}

// DeliveredOf returns the delivered frames of a packet type
func (h *MeshHarness) DeliveredOf(t protocol.PacketType) []delivery {
	var res []delivery
	for _, d := range h.Delivered {
		if hdr, ok := protocol.PeekHeader(d.frame); ok && hdr.Type == t {
			res = append(res, d)
		}
	}
	return res
}

// Dump prints the neighbor tables, useful when a test fails
func (h *MeshHarness) Dump() string {
	sb := strings.Builder{}
	for i, node := range h.nodes {
		sb.WriteString(fmt.Sprintf("node %d (%s):\n", i, node.net.Self()))
		for _, n := range node.net.Neighbors() {
			sb.WriteString(fmt.Sprintf("  %s -> %s %s pending=%v\n", n.Channel, n.Uid, n.Status, n.Pending))
		}
	}
	return sb.String()
}

func (l harnessLink) Write(channelId uint16, frame []byte) error {
	h := l.h
	from := linkEnd{l.idx, channelId}
	if h.down[from] {
		return errLinkDown
	}
	to, ok := h.peers[from]
	if !ok {
		return errLinkDown
	}
	frame = slices.Clone(frame)
	if to.node < 0 {
		h.Raw[channelId] = append(h.Raw[channelId], frame)
		return nil
	}
	if h.Drop != nil && h.Drop(from.node, to.node, frame) {
		return nil
	}
	h.queue = append(h.queue, delivery{from: from, to: to, frame: frame})
	return nil
}

func (l harnessLink) Close(channelId uint16, force bool) {
	l.h.nodes[l.idx].record("link_close", channelId, force)
	l.h.closeLink(linkEnd{l.idx, channelId})
}

func (n *harnessNode) record(msg string, args ...any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, MakeEvent(msg, args...))
}

func (n *harnessNode) OnMeshConnected(info state.ChannelInfo, uid state.UUID) {
	n.record("connected", info.Id, uid)
}

func (n *harnessNode) OnMeshConnectFail(info state.ChannelInfo) {
	n.record("connect_fail", info.Id)
}

func (n *harnessNode) OnReadMeshPacketFromNetwork(src netip.Addr, connType state.ConnType, payload []byte) {
	n.record("recv", src, connType, string(payload))
}

func (n *harnessNode) OnMeshNodeClosed(addrs []netip.Addr, forced bool) {
	n.record("node_closed", addrs, forced)
}

func (n *harnessNode) CloseNeighborChannel(channelId uint16) {
	n.record("close_channel", channelId)
}

// recordLink is a Link that keeps everything written to it
type recordLink struct {
	mu     sync.Mutex
	frames map[uint16][][]byte
	closed []uint16
	fail   bool
}

func newRecordLink() *recordLink {
	return &recordLink{frames: make(map[uint16][][]byte)}
}

func (l *recordLink) Write(channelId uint16, frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return errLinkDown
	}
	l.frames[channelId] = append(l.frames[channelId], slices.Clone(frame))
	return nil
}

func (l *recordLink) Close(channelId uint16, force bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = append(l.closed, channelId)
}

func (l *recordLink) Frames(channelId uint16) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.frames[channelId])
}

func frameType(frame []byte) protocol.PacketType {
	h, _ := protocol.PeekHeader(frame)
	return h.Type
}

func frameTypes(frames [][]byte) []protocol.PacketType {
	res := make([]protocol.PacketType, 0, len(frames))
	for _, f := range frames {
		res = append(res, frameType(f))
	}
	return res
}
