package protocol

import (
	"fmt"

	"github.com/encodeous/meshlink/state"
)

type HeartbeatPacket struct {
	Kind   PacketType
	Source state.UUID
	Dest   state.UUID
}

func (p *HeartbeatPacket) Type() PacketType { return p.Kind }
func (p *HeartbeatPacket) Src() state.UUID  { return p.Source }
func (p *HeartbeatPacket) Dst() state.UUID  { return p.Dest }

func (p *HeartbeatPacket) encodeBody(e *Encoder) {
	e.UUID(p.Source)
	e.UUID(p.Dest)
}

func (p *HeartbeatPacket) decodeBody(d *Decoder) {
	p.Source = d.UUID()
	p.Dest = d.UUID()
}

func (p *HeartbeatPacket) String() string {
	return fmt.Sprintf("%s(src: %s, dst: %s)", p.Kind, p.Source, p.Dest)
}
