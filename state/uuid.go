package state

import (
	"bytes"
	"fmt"
	"net/netip"
	"slices"

	"github.com/google/uuid"
)

// Platform is the tag stored in the first byte of every UUID
type Platform uint8

const (
	PlatformUnknown Platform = iota
	PlatformAndroid
	PlatformIOS
	PlatformLinux
	PlatformDarwin
	PlatformWindows
)

var platformNames = map[Platform]string{
	PlatformUnknown: "unknown",
	PlatformAndroid: "android",
	PlatformIOS:     "ios",
	PlatformLinux:   "linux",
	PlatformDarwin:  "darwin",
	PlatformWindows: "windows",
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("platform(%d)", uint8(p))
}

func ParsePlatform(s string) (Platform, error) {
	for p, name := range platformNames {
		if name == s {
			return p, nil
		}
	}
	return PlatformUnknown, fmt.Errorf("unknown platform %q", s)
}

func (p Platform) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Platform) UnmarshalText(text []byte) error {
	parsed, err := ParsePlatform(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// UUID identifies a mesh node. Byte 0 is the platform tag, bytes 1-15 are opaque.
type UUID [16]byte

var EmptyUUID UUID

// AddressPrefix holds every mesh node address, the low 15 bytes carry the UUID payload.
var AddressPrefix = netip.MustParsePrefix("fd00::/8")

func NewUUID(platform Platform) UUID {
	raw := uuid.New()
	var u UUID
	u[0] = byte(platform)
	copy(u[1:], raw[1:])
	return u
}

func ParseUUID(s string) (UUID, error) {
	raw, err := uuid.Parse(s)
	if err != nil {
		return EmptyUUID, fmt.Errorf("invalid uuid %q: %w", s, err)
	}
	return UUID(raw), nil
}

func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

func (u UUID) Platform() Platform {
	return Platform(u[0])
}

func (u UUID) IsZero() bool {
	return u == EmptyUUID
}

func (u UUID) Compare(o UUID) int {
	return bytes.Compare(u[:], o[:])
}

func (u UUID) Less(o UUID) bool {
	return u.Compare(o) < 0
}

// Add returns the big-endian sum of both ids modulo 2^128. The sum is symmetric, so it can be used
// as a sort key for an unordered pair of ids.
func (u UUID) Add(o UUID) UUID {
	var res UUID
	carry := uint16(0)
	for i := len(u) - 1; i >= 0; i-- {
		sum := uint16(u[i]) + uint16(o[i]) + carry
		res[i] = byte(sum)
		carry = sum >> 8
	}
	return res
}

// Address is the mesh-local IPv6 address of the node
func (u UUID) Address() netip.Addr {
	var a [16]byte
	a[0] = AddressPrefix.Addr().As16()[0]
	copy(a[1:], u[1:])
	return netip.AddrFrom16(a)
}

func (u UUID) String() string {
	return uuid.UUID(u).String()
}

func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

func (u *UUID) UnmarshalText(text []byte) error {
	parsed, err := ParseUUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// UuidSet is an unordered set of node ids
type UuidSet map[UUID]struct{}

func NewUuidSet(ids ...UUID) UuidSet {
	s := make(UuidSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s UuidSet) Add(id UUID) {
	s[id] = struct{}{}
}

func (s UuidSet) Contains(id UUID) bool {
	_, ok := s[id]
	return ok
}

// Difference returns the ids in s that are not in other
func (s UuidSet) Difference(other UuidSet) UuidSet {
	res := make(UuidSet)
	for id := range s {
		if !other.Contains(id) {
			res[id] = struct{}{}
		}
	}
	return res
}

// Slice returns the ids in ascending order
func (s UuidSet) Slice() []UUID {
	ids := make([]UUID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, UUID.Compare)
	return ids
}

func (s UuidSet) Addresses() []netip.Addr {
	ids := s.Slice()
	addrs := make([]netip.Addr, 0, len(ids))
	for _, id := range ids {
		addrs = append(addrs, id.Address())
	}
	return addrs
}
