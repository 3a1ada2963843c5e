package core

import (
	"log/slog"
	"net/netip"
	"slices"
	"sync"

	"github.com/encodeous/meshlink/link"
	"github.com/encodeous/meshlink/state"
)

// MeshModule runs the mesh network on top of the link manager
type MeshModule struct {
	*MeshNetwork
	Inbox *Inbox
	links *link.Manager
}

func (m *MeshModule) Init(s *state.State) error {
	s.Log.Debug("init mesh")
	m.Inbox = NewInbox(s.Log, inboxSize)
	var l Link = m.links
	if m.links == nil {
		l = discardLink{}
	}
	network, err := NewMeshNetwork(Config{
		Self:  s.Self(),
		Link:  l,
		Upper: m.Inbox,
		Log:   s.Log,
	})
	if err != nil {
		return err
	}
	m.MeshNetwork = network

	s.Env.RepeatTask(func(s *state.State) error {
		m.Timeout()
		return nil
	}, state.TimeoutBase)
	return nil
}

func (m *MeshModule) Cleanup(s *state.State) error {
	if m.MeshNetwork != nil {
		m.Close()
	}
	return nil
}

func (m *MeshModule) ChannelConnected(s *state.State, info state.ChannelInfo) {
	f := m.OnChannelConnected(info)
	go func() {
		uid, err := f.Wait(s.Context)
		if err != nil {
			s.Log.Debug("connect failed", "ch", info, "err", err)
			return
		}
		s.Log.Debug("connect complete", "ch", info, "peer", uid)
	}()
}

func (m *MeshModule) ChannelAccepted(s *state.State, info state.ChannelInfo) {
	m.OnChannelAccepted(info)
}

func (m *MeshModule) ChannelRead(s *state.State, channelId uint16, data []byte) {
	m.OnRead(channelId, data)
}

func (m *MeshModule) ChannelClosed(s *state.State, channelId uint16) {
	m.OnChannelClosed(channelId)
}

type discardLink struct{}

func (discardLink) Write(uint16, []byte) error { return nil }
func (discardLink) Close(uint16, bool)         {}

const inboxSize = 256

// Message is a datagram received from the mesh
type Message struct {
	Source   netip.Addr
	ConnType state.ConnType
	Payload  []byte
}

// Inbox is the default upper layer. It logs mesh events and keeps the most recent datagrams.
type Inbox struct {
	log  *slog.Logger
	size int

	mu       sync.Mutex
	messages []Message
	peers    map[uint16]state.UUID
}

func NewInbox(log *slog.Logger, size int) *Inbox {
	return &Inbox{
		log:   log,
		size:  size,
		peers: make(map[uint16]state.UUID),
	}
}

func (i *Inbox) OnMeshConnected(info state.ChannelInfo, uid state.UUID) {
	i.mu.Lock()
	i.peers[info.Id] = uid
	i.mu.Unlock()
	i.log.Info("mesh connected", "peer", uid, "ch", info)
}

func (i *Inbox) OnMeshConnectFail(info state.ChannelInfo) {
	i.log.Warn("mesh connect failed", "ch", info)
}

func (i *Inbox) OnReadMeshPacketFromNetwork(src netip.Addr, connType state.ConnType, payload []byte) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.messages = append(i.messages, Message{
		Source:   src,
		ConnType: connType,
		Payload:  slices.Clone(payload),
	})
	if len(i.messages) > i.size {
		i.messages = slices.Delete(i.messages, 0, len(i.messages)-i.size)
	}
	i.log.Debug("datagram received", "src", src, "len", len(payload))
}

func (i *Inbox) OnMeshNodeClosed(addrs []netip.Addr, forced bool) {
	i.log.Info("mesh nodes unreachable", "nodes", addrs, "forced", forced)
}

func (i *Inbox) CloseNeighborChannel(channelId uint16) {
	i.mu.Lock()
	uid := i.peers[channelId]
	delete(i.peers, channelId)
	i.mu.Unlock()
	i.log.Debug("neighbor channel closed", "ch", channelId, "peer", uid)
}

// Messages returns the buffered datagrams, oldest first
func (i *Inbox) Messages() []Message {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.messages)
}
