//go:build integration

package integration

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"path/filepath"
	"runtime/pprof"
	"slices"
	"time"

	"github.com/encodeous/meshlink/core"
	"github.com/encodeous/meshlink/state"
)

type Signal chan bool

func NewSignal() Signal {
	return make(chan bool)
}
func (s Signal) Trigger() {
	select {
	case <-s:
	default:
		close(s)
	}
}
func (s Signal) Triggered() bool {
	select {
	case <-s:
		return true
	default:
		return false
	}
}
func (s Signal) Wait() {
	<-s
}

// VirtualHarness runs complete meshlink nodes in one process. Nodes talk over loopback TCP and each one
// serves IPC on its own socket.
type VirtualHarness struct {
	Context context.Context
	Cancel  context.CancelCauseFunc
	Local   []state.LocalCfg
	States  []*state.State
	Dir     string
	// TickMs shortens the timer base so that failures are detected quickly
	TickMs int
}

func (v *VirtualHarness) IndexOf(name string) int {
	return slices.IndexFunc(v.Local, func(cfg state.LocalCfg) bool {
		return cfg.DeviceName == name
	})
}

func freePort() uint16 {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func (v *VirtualHarness) NewNode(name string, nodeType uint8) {
	cfg := state.NewLocalCfg(name, state.PlatformLinux)
	cfg.Type = nodeType
	cfg.Listen = netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), freePort())
	cfg.IPCPath = filepath.Join(v.Dir, name+".sock")
	v.Local = append(v.Local, cfg)
}

// AddLink makes from dial to
func (v *VirtualHarness) AddLink(from, to string) {
	idx := v.IndexOf(from)
	v.Local[idx].Peers = append(v.Local[idx].Peers, v.Local[v.IndexOf(to)].Listen)
}

func (v *VirtualHarness) Start() chan error {
	ctx, cancel := context.WithCancelCause(context.Background())
	v.Context = ctx
	v.Cancel = cancel
	v.States = make([]*state.State, len(v.Local))
	errChan := make(chan error, 128)

	if v.TickMs > 0 {
		// timers are process wide, apply them once before any node starts
		tick := state.LocalCfg{Timer: &state.TimerOverrides{BaseMs: v.TickMs}}
		tick.ApplyTimerOverrides()
		state.ProbeDelay = time.Duration(v.TickMs*2) * time.Millisecond
	}
	for idx, cfg := range v.Local {
		go func() {
			labels := pprof.Labels("meshlink node", cfg.DeviceName)
			pprof.Do(context.Background(), labels, func(_ context.Context) {
				if err := core.Start(cfg, slog.LevelDebug, "", &v.States[idx]); err != nil {
					errChan <- err
				}
			})
		}()
	}
	// wait for all nodes to start
	for {
		started := true
		for idx := range v.Local {
			if v.States[idx] == nil || !v.States[idx].Started.Load() {
				started = false
				break
			}
		}
		if started {
			break
		}
		select {
		case <-ctx.Done():
			return errChan
		case <-time.After(time.Millisecond * 50):
		case err := <-errChan:
			errChan <- err
			return errChan
		}
	}
	return errChan
}

// Mesh runs fn on the dispatch goroutine of node name
func (v *VirtualHarness) Mesh(name string, fn func(m *core.MeshModule) any) any {
	s := v.States[v.IndexOf(name)]
	res, err := s.DispatchWait(func(s *state.State) (any, error) {
		return fn(core.Get[*core.MeshModule](s)), nil
	})
	if err != nil {
		return nil
	}
	return res
}

// Cost returns the path cost from one node to another, -1 if unreachable
func (v *VirtualHarness) Cost(from, to string) int32 {
	uid := v.Local[v.IndexOf(to)].Id
	res := v.Mesh(from, func(m *core.MeshModule) any {
		if m.MeshNetwork == nil {
			return int32(-1)
		}
		edge, ok := m.Graph().GetFastestEdge(uid)
		if !ok {
			return int32(-1)
		}
		return edge.Cost
	})
	if res == nil {
		return -1
	}
	return res.(int32)
}

func (v *VirtualHarness) Send(from, to, payload string) error {
	uid := v.Local[v.IndexOf(to)].Id
	res := v.Mesh(from, func(m *core.MeshModule) any {
		return m.Send(uid, []byte(payload))
	})
	if res == nil {
		return nil
	}
	return res.(error)
}

// Received returns the payloads delivered to name
func (v *VirtualHarness) Received(name string) []string {
	res := v.Mesh(name, func(m *core.MeshModule) any {
		var msgs []string
		for _, msg := range m.Inbox.Messages() {
			msgs = append(msgs, fmt.Sprintf("%s:%s", msg.Source, msg.Payload))
		}
		return msgs
	})
	if res == nil {
		return nil
	}
	return res.([]string)
}

// StopNode stops a single node, its peers see the channels close
func (v *VirtualHarness) StopNode(name string) {
	s := v.States[v.IndexOf(name)]
	s.Cancel(fmt.Errorf("stopping %s", name))
	core.Stop(s)
}

func (v *VirtualHarness) Stop() {
	v.Cancel(fmt.Errorf("stopping harness"))
	for _, s := range v.States {
		if s != nil {
			s.Cancel(fmt.Errorf("stopping harness"))
			core.Stop(s)
		}
	}
}
