// Package ipresolver implements §4.7's Peer-IP Resolver: determining the
// address a Peer record should be built from, honouring a reverse proxy's
// X-Forwarded-For header when the tracker is deployed behind one.
package ipresolver

import (
	"net/netip"

	"github.com/dkbame/mactracker/bittorrent"
)

// Boundary errors, matching spec.md §7's error table.
var (
	ErrMissingForwardedHeader = bittorrent.ClientError("missing X-Forwarded-For")
	ErrMissingConnectionInfo  = bittorrent.ClientError("missing connection info")
)

// Sources carries both candidate sources for a client's address; the
// Resolver picks between them based on its configuration. A zero Addr
// means the corresponding source was absent.
type Sources struct {
	RightmostXForwardedFor netip.Addr
	ConnectionInfoAddr     netip.Addr
}

// Resolver resolves the client IP for an incoming HTTP request, per §4.7.
type Resolver struct {
	behindReverseProxy bool
	externalIP         netip.Addr // zero value means unset
}

// New constructs a Resolver. externalIP may be the zero Addr, meaning no
// loopback substitution is configured.
func New(behindReverseProxy bool, externalIP netip.Addr) *Resolver {
	return &Resolver{behindReverseProxy: behindReverseProxy, externalIP: externalIP}
}

// Resolve applies the §4.7 rules to pick the client address HTTP requests
// use to build a Peer. It is not used for UDP requests, whose source is
// always the UDP datagram's own remote address.
func (r *Resolver) Resolve(src Sources) (netip.Addr, error) {
	var addr netip.Addr
	if r.behindReverseProxy {
		if !src.RightmostXForwardedFor.IsValid() {
			return netip.Addr{}, ErrMissingForwardedHeader
		}
		addr = src.RightmostXForwardedFor
	} else {
		if !src.ConnectionInfoAddr.IsValid() {
			return netip.Addr{}, ErrMissingConnectionInfo
		}
		addr = src.ConnectionInfoAddr
	}

	if r.externalIP.IsValid() && addr.IsLoopback() {
		return r.externalIP, nil
	}
	return addr, nil
}
