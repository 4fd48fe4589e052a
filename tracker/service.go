// Package tracker implements the protocol-agnostic Announce and Scrape
// services of spec.md §4.5/§4.6: the pipeline shared by the UDP and HTTP
// frontends, from authentication through to building the wire-independent
// response structs in package bittorrent.
//
// Grounded on original_source's http-tracker-core announce/scrape services
// (packages/http-tracker-core/src/services/{announce,scrape}.rs), which
// split the same pipeline out from its axum handlers so that both the UDP
// and HTTP frontends of the original system share one core.
package tracker

import (
	"net/netip"
	"time"

	"github.com/dkbame/mactracker/auth"
	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/ipresolver"
	"github.com/dkbame/mactracker/pkg/events"
	"github.com/dkbame/mactracker/swarm"
)

// AnnouncePolicy controls values returned to clients on every announce,
// mirroring pkg/conf.AnnouncePolicy without importing it so this package
// stays decoupled from configuration shape.
type AnnouncePolicy struct {
	Interval       time.Duration
	MinInterval    time.Duration
	MaxNumWant     uint32
	DefaultNumWant uint32
}

// clampNumWant applies the announce policy's bounds to a client-supplied
// numwant.
func (p AnnouncePolicy) clampNumWant(req bittorrent.AnnounceRequest) int {
	n := p.DefaultNumWant
	if req.NumWantProvided {
		n = req.NumWant
	}
	if n > p.MaxNumWant {
		n = p.MaxNumWant
	}
	return int(n)
}

// Service implements the Announce and Scrape pipelines.
type Service struct {
	Mode      auth.Mode
	Keys      *auth.KeyStore
	Whitelist *auth.Whitelist
	Resolver  *ipresolver.Resolver
	Registry  *swarm.Registry
	Policy    AnnouncePolicy
	Bus       *events.Bus
}

// ClientIPSources bundles both candidate IP sources for an HTTP request.
type ClientIPSources = ipresolver.Sources

// Announce runs the full §4.5 Announce Service pipeline for a request that
// arrived over HTTP, where the client IP must be resolved from
// reverse-proxy or connection-info sources per §4.7.
func (s *Service) Announce(req bittorrent.AnnounceRequest, ipSources ClientIPSources, binding events.Binding, key string, keyProvided bool, now time.Time) (bittorrent.AnnounceResponse, error) {
	if err := auth.Authenticate(s.Mode, s.Keys, key, keyProvided); err != nil {
		return bittorrent.AnnounceResponse{}, err
	}
	if err := auth.Authorize(s.Mode, s.Whitelist, req.InfoHash); err != nil {
		return bittorrent.AnnounceResponse{}, err
	}

	addr, err := s.Resolver.Resolve(ipSources)
	if err != nil {
		return bittorrent.AnnounceResponse{}, err
	}

	return s.announce(req, addr, binding, now), nil
}

// AnnounceUDP runs the §4.5 pipeline for a request that arrived over UDP,
// where per §4.7 the resolver is bypassed and the datagram's own remote
// address is authoritative; only its IP component is taken from remote,
// while the peer's port is the announce request's own port field.
func (s *Service) AnnounceUDP(req bittorrent.AnnounceRequest, remote netip.AddrPort, key string, keyProvided bool, binding events.Binding, now time.Time) (bittorrent.AnnounceResponse, error) {
	if err := auth.Authenticate(s.Mode, s.Keys, key, keyProvided); err != nil {
		return bittorrent.AnnounceResponse{}, err
	}
	if err := auth.Authorize(s.Mode, s.Whitelist, req.InfoHash); err != nil {
		return bittorrent.AnnounceResponse{}, err
	}

	return s.announce(req, remote.Addr(), binding, now), nil
}

// announce is the shared tail of both entry points: build the Peer,
// register it, gather the response.
func (s *Service) announce(req bittorrent.AnnounceRequest, resolvedIP netip.Addr, binding events.Binding, now time.Time) bittorrent.AnnounceResponse {
	peer := bittorrent.Peer{
		ID:         req.ID,
		AddrPort:   netip.AddrPortFrom(resolvedIP, req.Port()),
		Uploaded:   req.Uploaded,
		Downloaded: req.Downloaded,
		Left:       req.Left,
		Event:      req.Event,
		Updated:    now,
	}

	s.Registry.HandleAnnouncement(req.InfoHash, peer, 0)

	numWant := s.Policy.clampNumWant(req)
	var peers []bittorrent.Peer
	if !req.NumWantProvided || req.NumWant > 0 {
		peers = s.Registry.GetPeersExcluding(req.InfoHash, peer, numWant)
	}
	meta := s.Registry.GetSwarmMetadata(req.InfoHash)

	resp := bittorrent.AnnounceResponse{
		Compact:     req.Compact,
		Complete:    meta.Complete,
		Incomplete:  meta.Incomplete,
		Interval:    s.Policy.Interval,
		MinInterval: s.Policy.MinInterval,
	}
	for _, p := range peers {
		if p.Addr().Is4() {
			resp.IPv4Peers = append(resp.IPv4Peers, p)
		} else {
			resp.IPv6Peers = append(resp.IPv6Peers, p)
		}
	}

	if s.Bus != nil {
		s.Bus.Publish(events.Event{
			Kind:     events.AnnounceProcessed,
			At:       now,
			InfoHash: req.InfoHash,
			Peer:     peer,
			Binding:  binding,
		})
	}

	return resp
}

// Scrape runs the §4.6 Scrape Service pipeline. In private mode a missing
// or invalid key yields zeroed metadata for every requested info-hash
// rather than an error; in listed mode, a non-whitelisted info-hash is
// individually zeroed rather than failing the whole request.
func (s *Service) Scrape(req bittorrent.ScrapeRequest, binding events.Binding, key string, keyProvided bool, now time.Time) bittorrent.ScrapeResponse {
	authOK := auth.Authenticate(s.Mode, s.Keys, key, keyProvided) == nil

	files := make([]bittorrent.Scrape, len(req.InfoHashes))
	for i, ih := range req.InfoHashes {
		files[i].InfoHash = ih
		if !authOK {
			continue
		}
		if auth.Authorize(s.Mode, s.Whitelist, ih) != nil {
			continue
		}
		meta := s.Registry.GetSwarmMetadata(ih)
		files[i].Complete = meta.Complete
		files[i].Incomplete = meta.Incomplete
		files[i].Snatches = meta.Downloaded
	}

	if s.Bus != nil {
		s.Bus.Publish(events.Event{Kind: events.ScrapeProcessed, At: now, Binding: binding})
	}

	return bittorrent.ScrapeResponse{Files: files}
}
