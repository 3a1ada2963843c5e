package state

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-yaml"
)

var (
	NodeConfigPath = "/etc/meshlink/node.yaml"
	DefaultIPCPath = "/var/run/meshlink.sock"
)

// TimerOverrides replaces the compile-time retransmission timers when set
type TimerOverrides struct {
	BaseMs      int       `yaml:"base_ms,omitempty"`
	Handshake   *TimerCfg `yaml:"handshake,omitempty"`
	GraphUpdate *TimerCfg `yaml:"graph_update,omitempty"`
	Heartbeat   *TimerCfg `yaml:"heartbeat,omitempty"`
}

// LocalCfg represents local node-level configuration
type LocalCfg struct {
	Id         UUID             // unique id for this node
	DeviceName string           `yaml:"device_name"`
	Platform   Platform         `yaml:"platform,omitempty"`
	Type       uint8            `yaml:"type,omitempty"`     // traffic class advertised to the mesh
	Listen     netip.AddrPort   `yaml:"listen"`             // address the stream link layer accepts on
	Peers      []netip.AddrPort `yaml:"peers,omitempty"`    // peers that are dialled and re-probed
	LogPath    string           `yaml:"log_path,omitempty"` // if not empty, meshlink will also write to this file
	IPCPath    string           `yaml:"ipc_path,omitempty"` // unix socket for inspect/send
	Timer      *TimerOverrides  `yaml:"timer,omitempty"`

	// DebugAddr, if set, serves pprof, expvar and the perf metrics over http
	DebugAddr string `yaml:"debug_addr,omitempty"`
}

func (c *LocalCfg) Self() MeshNode {
	return MeshNode{
		Uid:        c.Id,
		DeviceName: c.DeviceName,
		Type:       c.Type,
	}
}

func (c *LocalCfg) GetIPCPath() string {
	if c.IPCPath == "" {
		return DefaultIPCPath
	}
	return c.IPCPath
}

// ApplyTimerOverrides writes the configured timers over the package defaults
func (c *LocalCfg) ApplyTimerOverrides() {
	if c.Timer == nil {
		return
	}
	if c.Timer.BaseMs > 0 {
		TimeoutBase = time.Duration(c.Timer.BaseMs) * time.Millisecond
	}
	if c.Timer.Handshake != nil {
		TimeoutHandshake = *c.Timer.Handshake
	}
	if c.Timer.GraphUpdate != nil {
		TimeoutGraphUpdate = *c.Timer.GraphUpdate
	}
	if c.Timer.Heartbeat != nil {
		TimeoutHeartbeat = *c.Timer.Heartbeat
	}
	ConnectFutureTTL = time.Duration(TimeoutHandshake.MaxTimeout+1) * TimeoutBase
}

func NewLocalCfg(name string, platform Platform) LocalCfg {
	return LocalCfg{
		Id:         NewUUID(platform),
		DeviceName: name,
		Platform:   platform,
		Listen:     netip.AddrPortFrom(netip.IPv6Unspecified(), DefaultPort),
	}
}

func ReadNodeConfig(path string) (*LocalCfg, error) {
	var cfg LocalCfg
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(file, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

func WriteNodeConfig(path string, cfg *LocalCfg) error {
	bytes, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(path), 0700)
	if err != nil {
		return err
	}
	return os.WriteFile(path, bytes, 0600)
}
