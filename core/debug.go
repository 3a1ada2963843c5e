package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"time"

	"github.com/encodeous/meshlink/state"
)

// DebugServer serves http.DefaultServeMux, where pprof, expvar and the perf metrics register themselves.
// It only runs when DebugAddr is configured.
type DebugServer struct {
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

func (d *DebugServer) Init(s *state.State) error {
	if s.DebugAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", s.DebugAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on debug address %s: %w", s.DebugAddr, err)
	}
	d.addr = ln.Addr()
	d.srv = &http.Server{
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	d.done = make(chan struct{})
	s.Log.Info("serving debug endpoints", "addr", d.addr)
	go func() {
		defer close(d.done)
		if err := d.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.Log.Warn("debug server stopped", "err", err)
		}
	}()
	return nil
}

// Addr is the bound debug address, nil when the server is disabled
func (d *DebugServer) Addr() net.Addr {
	return d.addr
}

func (d *DebugServer) Cleanup(s *state.State) error {
	if d.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := d.srv.Shutdown(ctx)
	if err != nil {
		err = d.srv.Close()
	}
	<-d.done
	return err
}
