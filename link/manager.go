package link

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/encodeous/meshlink/perf"
	"github.com/encodeous/meshlink/state"
)

var ErrUnknownChannel = errors.New("unknown channel")

// Handler receives channel events. Every call is made on the dispatch goroutine.
type Handler interface {
	ChannelConnected(s *state.State, info state.ChannelInfo)
	ChannelAccepted(s *state.State, info state.ChannelInfo)
	ChannelRead(s *state.State, channelId uint16, data []byte)
	ChannelClosed(s *state.State, channelId uint16)
}

// Manager is a stream link layer over TCP. Each connection is a channel identified by a 16 bit id.
type Manager struct {
	handler Handler
	env     *state.Env

	mu       sync.Mutex
	conns    map[uint16]*tcpLink
	dialing  map[netip.AddrPort]struct{}
	nextId   uint16
	listener net.Listener
	wg       sync.WaitGroup
}

func NewManager(handler Handler) *Manager {
	return &Manager{
		handler: handler,
		conns:   make(map[uint16]*tcpLink),
		dialing: make(map[netip.AddrPort]struct{}),
	}
}

func (m *Manager) Init(s *state.State) error {
	s.Log.Debug("init link manager")
	m.env = s.Env

	if s.Listen.IsValid() {
		ln, err := net.Listen("tcp", s.Listen.String())
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.Listen, err)
		}
		m.listener = ln
		s.Log.Info("listening", "addr", ln.Addr().String())
		m.wg.Add(1)
		go m.acceptLoop(ln)
	}

	s.Env.RepeatTask(m.ProbeLinks, state.ProbeDelay)
	return nil
}

func (m *Manager) Cleanup(s *state.State) error {
	m.mu.Lock()
	if m.listener != nil {
		_ = m.listener.Close()
	}
	links := make([]*tcpLink, 0, len(m.conns))
	for _, l := range m.conns {
		links = append(links, l)
	}
	clear(m.conns)
	m.mu.Unlock()

	for _, l := range links {
		l.close(true)
	}
	m.wg.Wait()
	return nil
}

// Addr returns the listening address, if any
func (m *Manager) Addr() net.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

func (m *Manager) acceptLoop(ln net.Listener) {
	defer m.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if m.env.Context.Err() == nil && !errors.Is(err, net.ErrClosed) {
				m.env.Log.Warn("failed to accept connection", "err", err)
				continue
			}
			return
		}
		l, ok := m.register(conn, netip.AddrPort{}, false)
		if !ok {
			_ = conn.Close()
			continue
		}
		info := l.info()
		m.env.Dispatch(func(s *state.State) error {
			m.handler.ChannelAccepted(s, info)
			return nil
		})
		m.startReader(l)
	}
}

// Connect dials addr in the background and reports the channel to the handler once it is up
func (m *Manager) Connect(addr netip.AddrPort) {
	m.mu.Lock()
	if _, ok := m.dialing[addr]; ok {
		m.mu.Unlock()
		return
	}
	m.dialing[addr] = struct{}{}
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.dialing, addr)
			m.mu.Unlock()
		}()
		dialer := net.Dialer{Timeout: state.DialTimeout}
		conn, err := dialer.DialContext(m.env.Context, "tcp", addr.String())
		if err != nil {
			m.env.Log.Debug("dial failed", "addr", addr, "err", err)
			return
		}
		l, ok := m.register(conn, addr, true)
		if !ok {
			_ = conn.Close()
			return
		}
		info := l.info()
		m.env.Dispatch(func(s *state.State) error {
			m.handler.ChannelConnected(s, info)
			return nil
		})
		m.startReader(l)
	}()
}

// ProbeLinks re-dials every configured peer that has no open channel
func (m *Manager) ProbeLinks(s *state.State) error {
	m.mu.Lock()
	connected := make([]netip.AddrPort, 0, len(m.conns))
	for _, l := range m.conns {
		if l.outbound {
			connected = append(connected, l.peer)
		}
	}
	m.mu.Unlock()

	for _, peer := range s.Peers {
		if !slices.Contains(connected, peer) {
			m.Connect(peer)
		}
	}
	return nil
}

// register allocates a channel id for conn, ok is false if every id is taken
func (m *Manager) register(conn net.Conn, peer netip.AddrPort, outbound bool) (*tcpLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.env.Context.Err() != nil {
		return nil, false
	}
	for range 1 << 16 {
		m.nextId++
		if m.nextId == 0 {
			continue
		}
		if _, used := m.conns[m.nextId]; used {
			continue
		}
		if a, ok := conn.RemoteAddr().(*net.TCPAddr); ok && !peer.IsValid() {
			peer = a.AddrPort()
		}
		l := newTCPLink(m.nextId, conn, peer, outbound)
		m.conns[l.id] = l
		return l, true
	}
	m.env.Log.Warn("no free channel id")
	return nil, false
}

func (m *Manager) startReader(l *tcpLink) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := l.readLoop(func(data []byte) {
			m.env.Dispatch(func(s *state.State) error {
				m.handler.ChannelRead(s, l.id, data)
				return nil
			})
		})
		m.env.Log.Debug("channel closed", "ch", l.id, "err", err)
		m.remove(l)
		m.env.Dispatch(func(s *state.State) error {
			m.handler.ChannelClosed(s, l.id)
			return nil
		})
	}()
}

func (m *Manager) remove(l *tcpLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conns[l.id] == l {
		delete(m.conns, l.id)
	}
}

func (m *Manager) get(channelId uint16) *tcpLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[channelId]
}

// Write sends a frame on the channel
func (m *Manager) Write(channelId uint16, frame []byte) error {
	l := m.get(channelId)
	if l == nil {
		return fmt.Errorf("%w: %d", ErrUnknownChannel, channelId)
	}
	if err := l.write(frame); err != nil {
		return err
	}
	perf.SentBytesPerSecond.Add(float64(len(frame)))
	return nil
}

// Close closes the channel. The reader notices and reports the close to the handler.
func (m *Manager) Close(channelId uint16, force bool) {
	l := m.get(channelId)
	if l == nil {
		return
	}
	m.remove(l)
	l.close(force)
}

// Channels lists the open channels
func (m *Manager) Channels() []state.ChannelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]state.ChannelInfo, 0, len(m.conns))
	for _, l := range m.conns {
		res = append(res, l.info())
	}
	slices.SortFunc(res, func(a, b state.ChannelInfo) int {
		return int(a.Id) - int(b.Id)
	})
	return res
}
