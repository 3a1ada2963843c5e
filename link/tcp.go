package link

import (
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/encodeous/meshlink/state"
)

const (
	readBufferSize = 64 * 1024
	writeTimeout   = 5 * time.Second
)

type tcpLink struct {
	id       uint16
	conn     net.Conn
	peer     netip.AddrPort
	outbound bool

	wmu       sync.Mutex
	closeOnce sync.Once
}

func newTCPLink(id uint16, conn net.Conn, peer netip.AddrPort, outbound bool) *tcpLink {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &tcpLink{
		id:       id,
		conn:     conn,
		peer:     peer,
		outbound: outbound,
	}
}

func (l *tcpLink) info() state.ChannelInfo {
	return state.ChannelInfo{
		Id:      l.id,
		Address: l.peer,
		Type:    state.ConnTCP,
	}
}

// readLoop hands every chunk read from the stream to fn until the connection fails. Chunks are not aligned to
// frames.
func (l *tcpLink) readLoop(fn func(data []byte)) error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			fn(data)
		}
		if err != nil {
			return err
		}
	}
}

func (l *tcpLink) write(frame []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := l.conn.Write(frame)
	return err
}

// close drops unsent data when force is set
func (l *tcpLink) close(force bool) {
	l.closeOnce.Do(func() {
		if tc, ok := l.conn.(*net.TCPConn); ok && force {
			_ = tc.SetLinger(0)
		}
		_ = l.conn.Close()
	})
}
