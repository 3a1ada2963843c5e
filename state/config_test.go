package state

import (
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeConfigRoundTrip(t *testing.T) {
	cfg := NewLocalCfg("pixel-7", PlatformAndroid)
	cfg.Type = 3
	cfg.Peers = []netip.AddrPort{
		netip.MustParseAddrPort("192.168.1.4:57180"),
		netip.MustParseAddrPort("[fe80::1]:57180"),
	}
	cfg.Timer = &TimerOverrides{
		BaseMs:    250,
		Heartbeat: &TimerCfg{Interval: 2, MaxTimeout: 8},
	}

	p := filepath.Join(t.TempDir(), "cfg", "node.yaml")
	require.NoError(t, WriteNodeConfig(p, &cfg))
	read, err := ReadNodeConfig(p)
	require.NoError(t, err)
	assert.Equal(t, cfg, *read)
	assert.Equal(t, PlatformAndroid, read.Id.Platform())
}

func TestNodeConfigYamlFields(t *testing.T) {
	input := `id: 03a1b2c3-d4e5-4f60-8172-8394a5b6c7d8
device_name: laptop
type: 2
listen: 0.0.0.0:57180
peers:
  - 10.0.0.2:57180
ipc_path: /tmp/meshlink.sock
debug_addr: 127.0.0.1:6060
timer:
  handshake:
    interval: 1
    max_timeout: 4
`
	var cfg LocalCfg
	require.NoError(t, yaml.Unmarshal([]byte(input), &cfg))
	assert.Equal(t, MustParseUUID("03a1b2c3-d4e5-4f60-8172-8394a5b6c7d8"), cfg.Id)
	assert.Equal(t, "laptop", cfg.DeviceName)
	assert.Equal(t, uint8(2), cfg.Type)
	assert.Equal(t, []netip.AddrPort{netip.MustParseAddrPort("10.0.0.2:57180")}, cfg.Peers)
	assert.Equal(t, "/tmp/meshlink.sock", cfg.GetIPCPath())
	assert.Equal(t, "127.0.0.1:6060", cfg.DebugAddr)
	require.NotNil(t, cfg.Timer)
	assert.Equal(t, TimerCfg{Interval: 1, MaxTimeout: 4}, *cfg.Timer.Handshake)
	assert.NoError(t, NodeConfigValidator(&cfg))
}

func TestApplyTimerOverrides(t *testing.T) {
	base, hs, gu, hb, ttl := TimeoutBase, TimeoutHandshake, TimeoutGraphUpdate, TimeoutHeartbeat, ConnectFutureTTL
	t.Cleanup(func() {
		TimeoutBase, TimeoutHandshake, TimeoutGraphUpdate, TimeoutHeartbeat, ConnectFutureTTL = base, hs, gu, hb, ttl
	})

	cfg := LocalCfg{Timer: &TimerOverrides{
		BaseMs:    100,
		Handshake: &TimerCfg{Interval: 1, MaxTimeout: 5},
	}}
	cfg.ApplyTimerOverrides()
	assert.Equal(t, 100*time.Millisecond, TimeoutBase)
	assert.Equal(t, TimerCfg{Interval: 1, MaxTimeout: 5}, TimeoutHandshake)
	assert.Equal(t, gu, TimeoutGraphUpdate)
	assert.Equal(t, 600*time.Millisecond, ConnectFutureTTL)
}

func TestDefaultIPCPath(t *testing.T) {
	cfg := LocalCfg{}
	assert.Equal(t, DefaultIPCPath, cfg.GetIPCPath())
}
