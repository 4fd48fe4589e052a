package ipresolver

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_ReverseProxyRequiresXFF(t *testing.T) {
	r := New(true, netip.Addr{})
	_, err := r.Resolve(Sources{})
	require.ErrorIs(t, err, ErrMissingForwardedHeader)
}

func TestResolve_ReverseProxyUsesXFF(t *testing.T) {
	r := New(true, netip.Addr{})
	want := netip.MustParseAddr("203.0.113.195")
	got, err := r.Resolve(Sources{RightmostXForwardedFor: want})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResolve_DirectRequiresConnectionInfo(t *testing.T) {
	r := New(false, netip.Addr{})
	_, err := r.Resolve(Sources{})
	require.ErrorIs(t, err, ErrMissingConnectionInfo)
}

func TestResolve_DirectUsesConnectionInfo(t *testing.T) {
	r := New(false, netip.Addr{})
	want := netip.MustParseAddr("198.51.100.7")
	got, err := r.Resolve(Sources{ConnectionInfoAddr: want})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResolve_LoopbackSubstitutedWithExternalIP(t *testing.T) {
	external := netip.MustParseAddr("203.0.113.1")
	r := New(false, external)
	got, err := r.Resolve(Sources{ConnectionInfoAddr: netip.MustParseAddr("127.0.0.1")})
	require.NoError(t, err)
	require.Equal(t, external, got)
}

func TestResolve_NonLoopbackNotSubstituted(t *testing.T) {
	external := netip.MustParseAddr("203.0.113.1")
	r := New(false, external)
	want := netip.MustParseAddr("198.51.100.7")
	got, err := r.Resolve(Sources{ConnectionInfoAddr: want})
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestResolve_NoExternalIPConfiguredLoopbackPassesThrough(t *testing.T) {
	r := New(false, netip.Addr{})
	loopback := netip.MustParseAddr("127.0.0.1")
	got, err := r.Resolve(Sources{ConnectionInfoAddr: loopback})
	require.NoError(t, err)
	require.Equal(t, loopback, got)
}
