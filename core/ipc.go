package core

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/encodeous/meshlink/state"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const ipcTimeout = 5 * time.Second

// IPCServer answers inspect and send requests on a unix socket
type IPCServer struct {
	listener net.Listener
	wg       sync.WaitGroup
}

func (i *IPCServer) Init(s *state.State) error {
	p := s.GetIPCPath()
	_ = os.Remove(p)
	ln, err := net.Listen("unix", p)
	if err != nil {
		return fmt.Errorf("failed to listen on ipc socket %s: %w", p, err)
	}
	i.listener = ln
	s.Log.Debug("ipc listening", "path", p)
	i.wg.Add(1)
	go i.serve(s.Env, ln)
	return nil
}

func (i *IPCServer) Cleanup(s *state.State) error {
	if i.listener == nil {
		return nil
	}
	err := i.listener.Close()
	i.wg.Wait()
	return err
}

func (i *IPCServer) serve(e *state.Env, ln net.Listener) {
	defer i.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				e.Log.Warn("ipc accept failed", "err", err)
			}
			return
		}
		i.wg.Add(1)
		go func() {
			defer i.wg.Done()
			defer conn.Close()
			_ = conn.SetDeadline(time.Now().Add(ipcTimeout))
			if err := handleIPC(e, conn); err != nil {
				e.Log.Debug("ipc request failed", "err", err)
			}
		}()
	}
}

func handleIPC(e *state.Env, conn net.Conn) error {
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return err
	}
	res, err := e.DispatchWait(func(s *state.State) (any, error) {
		reply, err := HandleIPCCommand(s, strings.TrimSuffix(line, "\n"))
		if err != nil {
			// request errors are reported to the client, they must not stop the node
			return errorReply(err), nil
		}
		return reply, nil
	})
	if err != nil {
		return err
	}
	bytes, err := proto.Marshal(res.(*structpb.Struct))
	if err != nil {
		return err
	}
	_, err = conn.Write(bytes)
	return err
}

func errorReply(err error) *structpb.Struct {
	st, _ := structpb.NewStruct(map[string]any{"error": err.Error()})
	return st
}

// HandleIPCCommand runs a single request, it must be called on the dispatch goroutine
func HandleIPCCommand(s *state.State, cmd string) (*structpb.Struct, error) {
	mesh := Get[*MeshModule](s)
	verb, rest, _ := strings.Cut(cmd, " ")
	switch verb {
	case "inspect":
		return InspectMesh(mesh.MeshNetwork, mesh.Inbox)
	case "send":
		dst, text, ok := strings.Cut(rest, " ")
		if !ok {
			return nil, fmt.Errorf("usage: send <uuid|address> <text>")
		}
		uid, err := ResolveDestination(mesh.Graph(), dst)
		if err != nil {
			return nil, err
		}
		if err := mesh.Send(uid, []byte(text)); err != nil {
			return nil, err
		}
		return structpb.NewStruct(map[string]any{"sent": len(text), "to": uid.String()})
	}
	return nil, fmt.Errorf("unknown command %q", verb)
}

// ResolveDestination accepts a node uuid or the mesh address of a reachable node
func ResolveDestination(g *MeshGraph, dst string) (state.UUID, error) {
	if addr, err := netip.ParseAddr(dst); err == nil {
		uid, ok := g.LookupAddress(addr)
		if !ok {
			return state.EmptyUUID, fmt.Errorf("no node with address %s: %w", addr, ErrNotReachable)
		}
		return uid, nil
	}
	return state.ParseUUID(dst)
}

// InspectMesh builds a snapshot of the routing state
func InspectMesh(m *MeshNetwork, inbox *Inbox) (*structpb.Struct, error) {
	snap := m.Graph().Snapshot()

	nodes := make([]any, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		node := map[string]any{
			"uid":     n.Uid.String(),
			"name":    n.DeviceName,
			"type":    int(n.Type),
			"address": n.Uid.Address().String(),
			"updated": float64(n.UpdateTime),
		}
		if hop, ok := snap.NextHops[n.Uid]; ok && n.Uid != snap.Self {
			node["next_hop"] = hop.SecondUid.String()
			node["cost"] = int(hop.Cost)
		}
		nodes = append(nodes, node)
	}

	edges := make([]any, 0, len(snap.Edges))
	for _, e := range snap.Edges {
		edges = append(edges, map[string]any{
			"first":   e.FirstUid.String(),
			"second":  e.SecondUid.String(),
			"cost":    int(e.Cost),
			"updated": float64(e.UpdateTime),
		})
	}

	neighbors := make([]any, 0)
	for _, n := range m.Neighbors() {
		neighbors = append(neighbors, map[string]any{
			"channel": int(n.Channel.Id),
			"address": n.Channel.Address.String(),
			"conn":    n.Channel.Type.String(),
			"uid":     n.Uid.String(),
			"name":    n.DeviceName,
			"status":  n.Status.String(),
			"pending": len(n.Pending),
		})
	}

	closest := make(map[string]any, len(snap.Closest))
	for t, c := range snap.Closest {
		closest[fmt.Sprint(t)] = map[string]any{
			"uid":      c.Uid.String(),
			"address":  c.Address.String(),
			"distance": float64(c.Distance),
		}
	}

	res := map[string]any{
		"self":      snap.Self.String(),
		"address":   snap.Self.Address().String(),
		"revision":  float64(snap.Revision),
		"nodes":     nodes,
		"edges":     edges,
		"neighbors": neighbors,
		"closest":   closest,
	}
	if inbox != nil {
		res["inbox"] = len(inbox.Messages())
	}
	return structpb.NewStruct(res)
}

// IPCRequest sends a command to a running node and returns its reply
func IPCRequest(socket, cmd string) (*structpb.Struct, error) {
	conn, err := net.DialTimeout("unix", socket, ipcTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(ipcTimeout))

	if _, err := io.WriteString(conn, cmd+"\n"); err != nil {
		return nil, err
	}
	bytes, err := io.ReadAll(conn)
	if err != nil {
		return nil, err
	}
	res := &structpb.Struct{}
	if err := proto.Unmarshal(bytes, res); err != nil {
		return nil, err
	}
	if e, ok := res.GetFields()["error"]; ok {
		return res, errors.New(e.GetStringValue())
	}
	return res, nil
}
