package state

import (
	"net/netip"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameValidator_Valid(t *testing.T) {
	assert.NoError(t, NameValidator("1"))
	assert.NoError(t, NameValidator("ab_cd"))
	assert.NoError(t, NameValidator("abcd-a.com"))
	assert.NoError(t, NameValidator("Pixel 7"))
}

func TestNameValidator_Invalid(t *testing.T) {
	assert.Error(t, NameValidator(""))
	assert.Error(t, NameValidator("\t"))
	assert.Error(t, NameValidator("abcd-a.com\\hi"))
	assert.Error(t, NameValidator("emoji🙂"))
	assert.Error(t, NameValidator(strings.Repeat("a", 200)))
}

func TestTimerValidator(t *testing.T) {
	assert.NoError(t, TimerValidator("x", nil))
	assert.NoError(t, TimerValidator("x", &TimerCfg{Interval: 2, MaxTimeout: 10}))
	assert.Error(t, TimerValidator("x", &TimerCfg{Interval: 0, MaxTimeout: 10}))
	assert.Error(t, TimerValidator("x", &TimerCfg{Interval: 5, MaxTimeout: 4}))
}

func validNode() *LocalCfg {
	cfg := NewLocalCfg("node", PlatformLinux)
	return &cfg
}

func TestNodeConfigValidator(t *testing.T) {
	assert.NoError(t, NodeConfigValidator(validNode()))

	cfg := validNode()
	cfg.Id = EmptyUUID
	assert.ErrorContains(t, NodeConfigValidator(cfg), "node id")

	cfg = validNode()
	cfg.Listen = netip.AddrPort{}
	assert.Error(t, NodeConfigValidator(cfg))

	cfg = validNode()
	peer := netip.MustParseAddrPort("10.0.0.1:57180")
	cfg.Peers = []netip.AddrPort{peer, peer}
	assert.ErrorContains(t, NodeConfigValidator(cfg), "duplicate peer")

	cfg = validNode()
	cfg.Timer = &TimerOverrides{GraphUpdate: &TimerCfg{Interval: 3, MaxTimeout: 1}}
	assert.ErrorContains(t, NodeConfigValidator(cfg), "graph_update")

	cfg = validNode()
	cfg.LogPath = filepath.Join(t.TempDir(), "missing", "dir", "log.txt")
	assert.ErrorContains(t, NodeConfigValidator(cfg), "invalid log path")

	cfg = validNode()
	cfg.DebugAddr = "6060"
	assert.ErrorContains(t, NodeConfigValidator(cfg), "invalid debug address")
	cfg.DebugAddr = "127.0.0.1:6060"
	assert.NoError(t, NodeConfigValidator(cfg))
}
