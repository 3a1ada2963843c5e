package state

import (
	"fmt"
	"net/netip"
)

// ConnType is the kind of physical link carrying a channel
type ConnType uint8

const (
	ConnUnknown ConnType = iota
	ConnWifiDirect
	ConnBluetooth
	ConnWifiP2P
	ConnTCP
)

func (c ConnType) String() string {
	switch c {
	case ConnWifiDirect:
		return "wifi-direct"
	case ConnBluetooth:
		return "bluetooth"
	case ConnWifiP2P:
		return "wifi-p2p"
	case ConnTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// ChannelInfo identifies a link provided by the link layer
type ChannelInfo struct {
	Id      uint16
	Address netip.AddrPort
	Type    ConnType
}

func (c ChannelInfo) String() string {
	return fmt.Sprintf("(ch: %d, addr: %s, type: %s)", c.Id, c.Address, c.Type)
}
