package core

import "github.com/encodeous/meshlink/state"

type TimerKind int

const (
	TimerHandshake TimerKind = iota
	TimerGraphUpdate
	TimerHeartbeat
	timerCount
)

func (k TimerKind) String() string {
	switch k {
	case TimerHandshake:
		return "handshake"
	case TimerGraphUpdate:
		return "graph-update"
	case TimerHeartbeat:
		return "heartbeat"
	}
	return "unknown"
}

func (k TimerKind) config() state.TimerCfg {
	switch k {
	case TimerHandshake:
		return state.TimeoutHandshake
	case TimerGraphUpdate:
		return state.TimeoutGraphUpdate
	default:
		return state.TimeoutHeartbeat
	}
}

// TimerEvent is reported by a slot on a tick. Failed means the slot ran out of retries and was disarmed.
type TimerEvent struct {
	Kind   TimerKind
	Failed bool
}

// timerSlot counts ticks since it was armed
type timerSlot struct {
	armed     bool
	cfg       state.TimerCfg
	elapsed   int
	countdown int
}

func (t *timerSlot) arm(cfg state.TimerCfg) {
	t.armed = true
	t.cfg = cfg
	t.elapsed = 0
	t.countdown = cfg.Interval
}

func (t *timerSlot) disarm() {
	*t = timerSlot{}
}

// tick advances the slot by one tick
func (t *timerSlot) tick() (expired, failed bool) {
	if !t.armed {
		return false, false
	}
	t.elapsed++
	if t.elapsed >= t.cfg.MaxTimeout {
		t.disarm()
		return false, true
	}
	t.countdown--
	if t.countdown <= 0 {
		t.countdown = t.cfg.Interval
		return true, false
	}
	return false, false
}
