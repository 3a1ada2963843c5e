package state

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUUIDPlatform(t *testing.T) {
	a := NewUUID(PlatformIOS)
	b := NewUUID(PlatformIOS)
	assert.Equal(t, PlatformIOS, a.Platform())
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsZero())
	assert.True(t, EmptyUUID.IsZero())
}

func TestUUIDTextRoundTrip(t *testing.T) {
	u := NewUUID(PlatformWindows)
	text, err := u.MarshalText()
	require.NoError(t, err)
	var parsed UUID
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, u, parsed)

	_, err = ParseUUID("not-a-uuid")
	assert.Error(t, err)
}

func TestUUIDAddress(t *testing.T) {
	u := MustParseUUID("04112233-4455-6677-8899-aabbccddeeff")
	addr := u.Address()
	assert.Equal(t, netip.MustParseAddr("fd11:2233:4455:6677:8899:aabb:ccdd:eeff"), addr)
	assert.True(t, AddressPrefix.Contains(addr))

	// the platform byte is not part of the address
	other := u
	other[0] = byte(PlatformAndroid)
	assert.Equal(t, addr, other.Address())
}

func TestUUIDAdd(t *testing.T) {
	a := MustParseUUID("00000000-0000-0000-0000-0000000000ff")
	b := MustParseUUID("00000000-0000-0000-0000-000000000001")
	assert.Equal(t, MustParseUUID("00000000-0000-0000-0000-000000000100"), a.Add(b))
	assert.Equal(t, a.Add(b), b.Add(a))

	full := MustParseUUID("ffffffff-ffff-ffff-ffff-ffffffffffff")
	assert.Equal(t, EmptyUUID, full.Add(b), "sum wraps around")
}

func TestUUIDOrdering(t *testing.T) {
	a := MustParseUUID("01000000-0000-0000-0000-000000000001")
	b := MustParseUUID("01000000-0000-0000-0000-000000000002")
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestUuidSet(t *testing.T) {
	a := MustParseUUID("01000000-0000-0000-0000-000000000001")
	b := MustParseUUID("01000000-0000-0000-0000-000000000002")
	c := MustParseUUID("01000000-0000-0000-0000-000000000003")

	s := NewUuidSet(c, a, b)
	assert.Equal(t, []UUID{a, b, c}, s.Slice())
	assert.Equal(t, []UUID{a, c}, s.Difference(NewUuidSet(b)).Slice())
	assert.Empty(t, NewUuidSet(a).Difference(s))
	assert.Equal(t, []netip.Addr{a.Address(), b.Address(), c.Address()}, s.Addresses())
}

func TestPlatformText(t *testing.T) {
	for _, p := range []Platform{PlatformUnknown, PlatformAndroid, PlatformIOS, PlatformLinux, PlatformDarwin, PlatformWindows} {
		parsed, err := ParsePlatform(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePlatform("plan9")
	assert.Error(t, err)
}
