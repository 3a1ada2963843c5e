package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/encodeous/meshlink/state"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	uidA = state.MustParseUUID("03000000-0000-0000-0000-00000000000a")
	uidB = state.MustParseUUID("03000000-0000-0000-0000-00000000000b")
	uidC = state.MustParseUUID("01000000-0000-0000-0000-00000000000c")
)

func sampleGraph() state.GraphInfo {
	return state.GraphInfo{
		Edges: []state.MeshEdge{
			{FirstUid: uidA, SecondUid: uidB, Cost: 1, UpdateTime: 7},
			{FirstUid: uidB, SecondUid: uidC, Cost: state.TombstoneCost, UpdateTime: 1 << 40},
		},
		Nodes: []state.MeshNode{
			{Uid: uidA, DeviceName: "laptop", Type: 0, UpdateTime: 12},
			{Uid: uidC, DeviceName: "", Type: 4, UpdateTime: 3},
		},
	}
}

func roundTrip(t *testing.T, p Packet) Packet {
	t.Helper()
	frame := Marshal(p)
	h, ok := PeekHeader(frame)
	require.True(t, ok)
	assert.Equal(t, p.Type(), h.Type)
	assert.Equal(t, len(frame)-HeaderSize, int(h.Length), "length counts the bytes after the header")

	out, err := Unmarshal(frame)
	require.NoError(t, err)
	if diff := cmp.Diff(p, out, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
	return out
}

func TestHandshakeRoundTrip(t *testing.T) {
	for _, kind := range []PacketType{TypeHandshakeReq, TypeHandshakeReqRes, TypeHandshakeRes} {
		roundTrip(t, &HandshakePacket{
			Kind:       kind,
			Source:     uidA,
			Dest:       uidB,
			Graph:      sampleGraph(),
			DeviceName: "Pixel 7",
			UpdateTime: 99,
		})
	}
	// first handshake has no destination and an empty graph
	roundTrip(t, &HandshakePacket{Kind: TypeHandshakeReq, Source: uidA})
}

func TestGraphUpdateRoundTrip(t *testing.T) {
	roundTrip(t, &GraphUpdatePacket{
		Kind:       TypeGraphUpdateReq,
		Source:     uidA,
		Dest:       uidB,
		UpdateTime: 1700000000123,
		Graph:      sampleGraph(),
		Edge:       state.MeshEdge{FirstUid: uidA, SecondUid: uidC, Cost: 1, UpdateTime: 5},
	})
	roundTrip(t, &GraphUpdatePacket{Kind: TypeGraphUpdateRes, Source: uidB, Dest: uidA, UpdateTime: 42})
}

func TestDatagramRoundTrip(t *testing.T) {
	p := &DatagramPacket{Source: uidA, Dest: uidC, Payload: []byte("hello mesh")}
	roundTrip(t, p)

	dst, ok := DatagramDest(Marshal(p))
	assert.True(t, ok)
	assert.Equal(t, uidC, dst)

	_, ok = DatagramDest(Marshal(&HeartbeatPacket{Kind: TypeHeartbeatReq, Source: uidA, Dest: uidC}))
	assert.False(t, ok)
}

func TestHeartbeatLayout(t *testing.T) {
	frame := Marshal(&HeartbeatPacket{Kind: TypeHeartbeatRes, Source: uidA, Dest: uidB})
	require.Len(t, frame, HeaderSize+32)
	assert.Equal(t, byte(TypeHeartbeatRes), frame[0])
	assert.Equal(t, uint32(32), binary.BigEndian.Uint32(frame[1:5]))
	assert.Equal(t, uidA[:], frame[5:21])
	assert.Equal(t, uidB[:], frame[21:37])
	roundTrip(t, &HeartbeatPacket{Kind: TypeHeartbeatReq, Source: uidA, Dest: uidB})
}

func TestEdgeLayout(t *testing.T) {
	e := NewEncoder(0)
	encodeEdge(e, state.MeshEdge{FirstUid: uidA, SecondUid: uidB, Cost: -1, UpdateTime: 0x0102030405060708})
	b := e.Bytes()
	require.Len(t, b, edgeSize)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, b[:4])
	assert.Equal(t, uidA[:], b[4:20])
	assert.Equal(t, uidB[:], b[20:36])
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b[36:44])
}

func TestUnmarshalErrors(t *testing.T) {
	frame := Marshal(&HandshakePacket{Kind: TypeHandshakeReq, Source: uidA, Graph: sampleGraph(), DeviceName: "x"})

	_, err := Unmarshal(frame[:3])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Unmarshal(frame[:len(frame)-1])
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Unmarshal(append(frame, 0))
	assert.ErrorIs(t, err, ErrTrailingBytes)

	unknown := []byte{99, 0, 0, 0, 0}
	_, err = Unmarshal(unknown)
	assert.ErrorIs(t, err, ErrUnknownType)

	huge := []byte{byte(TypeDatagram), 0xff, 0xff, 0xff, 0xff}
	_, err = Unmarshal(huge)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestUnmarshalLyingLength(t *testing.T) {
	// the header agrees with the frame size, but the body claims more edges than it holds
	e := NewEncoder(0)
	e.U8(uint8(TypeHandshakeReq))
	e.U32(0)
	e.UUID(uidA)
	e.UUID(uidB)
	e.U32(1000)
	e.PutU32At(1, uint32(e.Len()-HeaderSize))
	_, err := Unmarshal(e.Bytes())
	assert.ErrorIs(t, err, ErrTruncated)

	// a heartbeat body that is too short for its ids
	short := []byte{byte(TypeHeartbeatReq), 0, 0, 0, 4, 1, 2, 3, 4}
	_, err = Unmarshal(short)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecoderIsSticky(t *testing.T) {
	d := NewDecoder([]byte{0, 0, 0, 9, 1})
	assert.Equal(t, "", d.Text())
	assert.ErrorIs(t, d.Err(), ErrTruncated)
	assert.Equal(t, uint8(0), d.U8(), "reads after a failure return zero values")
}

func TestPacketTypeClasses(t *testing.T) {
	assert.True(t, TypeHandshakeReqRes.IsHandshake())
	assert.True(t, TypeGraphUpdateRes.IsGraphUpdate())
	assert.True(t, TypeHeartbeatReq.IsHeartbeat())
	assert.False(t, TypeDatagram.IsHandshake())
	assert.False(t, PacketType(0).Valid())
	assert.False(t, PacketType(9).Valid())
	assert.Equal(t, "PacketType(42)", PacketType(42).String())
}
