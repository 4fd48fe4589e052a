package bittorrent

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var rawPeerID = []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}

func TestPeerID_String(t *testing.T) {
	pid, err := NewPeerID(rawPeerID)
	require.Nil(t, err)
	require.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", pid.String())
}

func TestNewPeerID_InvalidSize(t *testing.T) {
	_, err := NewPeerID(rawPeerID[:10])
	require.ErrorIs(t, err, ErrInvalidPeerIDSize)
}

func TestInfoHash_String(t *testing.T) {
	ih, err := NewInfoHash(rawPeerID)
	require.Nil(t, err)
	require.Equal(t, "0102030405060708090a0b0c0d0e0f1011121314", ih.String())
}

func TestInfoHash_TruncateV1(t *testing.T) {
	v2 := make([]byte, InfoHashV2Len)
	copy(v2, rawPeerID)
	ih, err := NewInfoHash(v2)
	require.Nil(t, err)
	require.Len(t, ih.TruncateV1(), InfoHashV1Len)
	require.Equal(t, InfoHash(v2[:InfoHashV1Len]), ih.TruncateV1())
}

func TestPeer_SeederLeecher(t *testing.T) {
	cases := []struct {
		left   uint64
		event  Event
		seeder bool
	}{
		{0, None, true},
		{0, Stopped, false},
		{100, None, false},
		{0, Completed, true},
	}
	for _, c := range cases {
		p := Peer{Left: c.left, Event: c.event}
		require.Equal(t, c.seeder, p.Seeder())
		require.Equal(t, !c.seeder, p.Leecher())
	}
}

func TestPeer_RawStringRoundTrip(t *testing.T) {
	pid, err := NewPeerID(rawPeerID)
	require.Nil(t, err)

	p := Peer{
		ID:       pid,
		AddrPort: netip.MustParseAddrPort("10.11.12.1:1234"),
	}
	got, err := NewPeer(p.RawString())
	require.Nil(t, err)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, p.Addr(), got.Addr())
	require.Equal(t, p.Port(), got.Port())
}

func TestPeer_RawStringRoundTripIPv6(t *testing.T) {
	pid, err := NewPeerID(rawPeerID)
	require.Nil(t, err)

	p := Peer{
		ID:       pid,
		AddrPort: netip.MustParseAddrPort("[2001:db8::ff00:42:8329]:1234"),
	}
	got, err := NewPeer(p.RawString())
	require.Nil(t, err)
	require.Equal(t, p.Addr(), got.Addr())
}

func TestEvent_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "empty", "started", "stopped", "completed"} {
		e, err := NewEvent(s)
		require.Nil(t, err)
		if s == "" {
			s = "empty"
		}
		require.Equal(t, s, e.String())
	}
}

func TestEvent_Unknown(t *testing.T) {
	_, err := NewEvent("bogus")
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestPeer_Updated(t *testing.T) {
	now := time.Now()
	p := Peer{Updated: now}
	require.Equal(t, now, p.Updated)
}
