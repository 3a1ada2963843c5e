package state

import "time"

// TimerCfg configures a retransmission slot. Both values are measured in ticks of TimeoutBase.
type TimerCfg struct {
	// Interval is the number of ticks between retransmissions
	Interval int `yaml:"interval"`
	// MaxTimeout is the number of ticks after arming at which the slot reports failure
	MaxTimeout int `yaml:"max_timeout"`
}

const (
	// TombstoneCost marks a removed edge
	TombstoneCost = int32(-1)
	// LinkCost is the cost of a freshly established direct edge
	LinkCost = int32(1)
)

var (
	TimeoutBase        = time.Millisecond * 1000
	TimeoutHandshake   = TimerCfg{Interval: 2, MaxTimeout: 10}
	TimeoutGraphUpdate = TimerCfg{Interval: 2, MaxTimeout: 10}
	TimeoutHeartbeat   = TimerCfg{Interval: 3, MaxTimeout: 12}

	// ConnectFutureTTL bounds how long a pending connect result is kept
	ConnectFutureTTL = time.Duration(TimeoutHandshake.MaxTimeout+1) * TimeoutBase

	// MaxFrameSize is the largest frame body accepted from a link
	MaxFrameSize = 1 << 20

	// ProbeDelay is how often the link manager re-dials configured peers
	ProbeDelay  = time.Second * 5
	DialTimeout = time.Second * 3

	// default port
	DefaultPort = uint16(57180)
)
