package random

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/bittorrent"
)

func TestDeriveEntropyFromRequest_Deterministic(t *testing.T) {
	req := &bittorrent.AnnounceRequest{InfoHash: "01234567890123456789"}
	a0, a1 := DeriveEntropyFromRequest(req)
	b0, b1 := DeriveEntropyFromRequest(req)
	require.Equal(t, a0, b0)
	require.Equal(t, a1, b1)
}

func TestIntn_WithinBounds(t *testing.T) {
	s0, s1 := uint64(1), uint64(2)
	for i := 0; i < 1000; i++ {
		var v int
		v, s0, s1 = Intn(s0, s1, 17)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 17)
	}
}

func TestIntn_ZeroBoundReturnsZero(t *testing.T) {
	v, ns0, ns1 := Intn(5, 7, 0)
	require.Equal(t, 0, v)
	require.Equal(t, uint64(5), ns0)
	require.Equal(t, uint64(7), ns1)
}
