package core

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"reflect"
	"runtime"
	"syscall"
	"time"

	"github.com/encodeous/meshlink/link"
	"github.com/encodeous/meshlink/perf"
	"github.com/encodeous/meshlink/state"
	"github.com/encodeous/tint"
	slogmulti "github.com/samber/slog-multi"
)

// Bootstrap loads the node config and runs meshlink until it is stopped
func Bootstrap(nodePath, logPath, debugAddr string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	nodeCfg, err := state.ReadNodeConfig(nodePath)
	if err != nil {
		return err
	}
	if logPath != "" {
		nodeCfg.LogPath = logPath
	}
	if debugAddr != "" {
		nodeCfg.DebugAddr = debugAddr
	}
	if err := state.NodeConfigValidator(nodeCfg); err != nil {
		return err
	}
	return Start(*nodeCfg, level, nodePath, nil)
}

// NewLogger writes to stderr, and to the log file if one is configured
func NewLogger(cfg state.LocalCfg, logLevel slog.Level) (*slog.Logger, error) {
	handlers := make([]slog.Handler, 0)
	handlers = append(handlers,
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:        logLevel,
			AddSource:    false,
			CustomPrefix: cfg.DeviceName,
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				if attr.Key == "time" {
					return slog.Attr{}
				}
				return attr
			},
		}))

	if cfg.LogPath != "" {
		err := os.MkdirAll(path.Dir(cfg.LogPath), 0700)
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(cfg.LogPath, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, err
		}
		handlers = append(handlers, slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel}))
	}
	return slog.New(slogmulti.Fanout(handlers...)), nil
}

// Start runs meshlink on the calling goroutine until the context is cancelled or a signal is received.
// initState, if not nil, receives the state before the main loop starts.
func Start(cfg state.LocalCfg, logLevel slog.Level, configPath string, initState **state.State) error {
	cfg.ApplyTimerOverrides()
	logger, err := NewLogger(cfg, logLevel)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	dispatch := make(chan func(s *state.State) error, 128)

	s := state.State{
		Modules: make(map[string]state.NyModule),
		Env: &state.Env{
			Context:         ctx,
			Cancel:          cancel,
			DispatchChannel: dispatch,
			LocalCfg:        cfg,
			Log:             logger,
			ConfigPath:      configPath,
		},
	}
	if initState != nil {
		*initState = &s
	}

	s.Log.Info("init modules")
	if err := initModules(&s); err != nil {
		Stop(&s)
		return err
	}
	s.Log.Info("init modules complete")
	s.Log.Info("meshlink has been initialized. To gracefully exit, send SIGINT or Ctrl+C.", "id", cfg.Id, "addr", cfg.Id.Address())

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	go func() {
		select {
		case <-c:
			s.Cancel(errors.New("received shutdown signal"))
		case <-ctx.Done():
			return
		}
	}()

	return MainLoop(&s, dispatch)
}

func initModules(s *state.State) error {
	mesh := &MeshModule{}
	links := link.NewManager(mesh)
	mesh.links = links

	var modules []state.NyModule
	modules = append(modules, mesh)
	modules = append(modules, links)
	modules = append(modules, &IPCServer{})
	modules = append(modules, &DebugServer{})

	for _, module := range modules {
		s.Modules[reflect.TypeOf(module).String()] = module
		if err := module.Init(s); err != nil {
			return err
		}
	}
	return nil
}

func MainLoop(s *state.State, dispatch <-chan func(*state.State) error) error {
	s.Log.Debug("started main loop")
	s.Started.Store(true)
	for {
		select {
		case fun := <-dispatch:
			if fun == nil {
				goto endLoop
			}
			start := time.Now()
			err := fun(s)
			if err != nil {
				s.Log.Error("error occurred during dispatch: ", "error", err)
				s.Cancel(err)
			}
			elapsed := time.Since(start)
			perf.DispatchLatency.Add(float64(elapsed.Microseconds()))
			if elapsed > time.Millisecond*4 {
				s.Log.Warn("dispatch took a long time!", "fun", runtime.FuncForPC(reflect.ValueOf(fun).Pointer()).Name(), "elapsed", elapsed, "len", len(dispatch))
			}
		case <-s.Context.Done():
			goto endLoop
		}
	}
endLoop:
	s.Log.Info("stopped main loop", "reason", context.Cause(s.Context).Error())
	Stop(s)
	return nil
}

func Stop(s *state.State) {
	if s.Stopping.Swap(true) {
		return // don't stop twice
	}
	s.Cancel(context.Canceled)
	s.Log.Info("cleaning up modules")
	for moduleName, module := range s.Modules {
		err := module.Cleanup(s)
		if err != nil {
			s.Log.Error("error occurred during Stop: ", "module", moduleName, "error", err)
		}
	}
	s.Log.Info("stopped")
}
