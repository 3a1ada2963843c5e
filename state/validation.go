package state

import (
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
)

var namePattern, _ = regexp.Compile("^[0-9A-Za-z._ -]+$")

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

func TimerValidator(name string, cfg *TimerCfg) error {
	if cfg == nil {
		return nil
	}
	if cfg.Interval <= 0 {
		return fmt.Errorf("timer %s: interval must be positive", name)
	}
	if cfg.MaxTimeout < cfg.Interval {
		return fmt.Errorf("timer %s: max_timeout %d is shorter than interval %d", name, cfg.MaxTimeout, cfg.Interval)
	}
	return nil
}

func NodeConfigValidator(node *LocalCfg) error {
	if node.Id.IsZero() {
		return fmt.Errorf("node id must be set")
	}
	err := NameValidator(node.DeviceName)
	if err != nil {
		return err
	}
	if !node.Listen.IsValid() {
		return fmt.Errorf("node.Listen is invalid")
	}
	for i, peer := range node.Peers {
		if !peer.IsValid() {
			return fmt.Errorf("peer %d is invalid", i)
		}
		if slices.Contains(node.Peers[:i], peer) {
			return fmt.Errorf("duplicate peer found: %s", peer)
		}
	}
	if node.LogPath != "" {
		if err := PathValidator(node.LogPath); err != nil {
			return fmt.Errorf("invalid log path: %w", err)
		}
	}
	if node.DebugAddr != "" {
		if _, _, err := net.SplitHostPort(node.DebugAddr); err != nil {
			return fmt.Errorf("invalid debug address: %w", err)
		}
	}
	if node.Timer != nil {
		for name, cfg := range map[string]*TimerCfg{
			"handshake":    node.Timer.Handshake,
			"graph_update": node.Timer.GraphUpdate,
			"heartbeat":    node.Timer.Heartbeat,
		} {
			if err := TimerValidator(name, cfg); err != nil {
				return err
			}
		}
	}
	return nil
}
