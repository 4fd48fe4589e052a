package tracker

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/auth"
	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/ipresolver"
	"github.com/dkbame/mactracker/pkg/events"
	"github.com/dkbame/mactracker/storage/memory"
	"github.com/dkbame/mactracker/swarm"
)

func newTestService(t *testing.T, mode auth.Mode) *Service {
	t.Helper()
	st, err := memory.New(nil)
	require.NoError(t, err)
	return &Service{
		Mode:      mode,
		Keys:      auth.NewKeyStore(st),
		Whitelist: auth.NewWhitelist(st),
		Resolver:  ipresolver.New(false, netip.Addr{}),
		Registry:  swarm.NewRegistry(nil),
		Policy:    AnnouncePolicy{Interval: time.Minute, MinInterval: 30 * time.Second, MaxNumWant: 50, DefaultNumWant: 30},
	}
}

func samplePeerID(b byte) bittorrent.PeerID {
	var id bittorrent.PeerID
	for i := range id {
		id[i] = b
	}
	return id
}

func TestAnnounce_PublicModeRoundTrip(t *testing.T) {
	s := newTestService(t, auth.Public)
	req := bittorrent.AnnounceRequest{
		InfoHash: "01234567890123456789",
		Left:     10,
		Peer:     bittorrent.Peer{ID: samplePeerID(1)},
	}
	req.AddrPort = netip.AddrPortFrom(netip.IPv4Unspecified(), 6881)

	resp, err := s.Announce(req, ipresolver.Sources{ConnectionInfoAddr: netip.MustParseAddr("198.51.100.1")}, events.Binding{}, "", false, time.Now())
	require.NoError(t, err)
	require.Equal(t, uint32(0), resp.Complete)
	require.Equal(t, uint32(1), resp.Incomplete)
}

func TestAnnounce_ExcludesSelfFromPeerList(t *testing.T) {
	s := newTestService(t, auth.Public)
	now := time.Now()

	req1 := bittorrent.AnnounceRequest{InfoHash: "01234567890123456789", Left: 1, Peer: bittorrent.Peer{ID: samplePeerID(1)}}
	req1.AddrPort = netip.AddrPortFrom(netip.IPv4Unspecified(), 6881)
	_, err := s.Announce(req1, ipresolver.Sources{ConnectionInfoAddr: netip.MustParseAddr("198.51.100.1")}, events.Binding{}, "", false, now)
	require.NoError(t, err)

	req2 := bittorrent.AnnounceRequest{InfoHash: "01234567890123456789", Left: 1, Peer: bittorrent.Peer{ID: samplePeerID(2)}}
	req2.AddrPort = netip.AddrPortFrom(netip.IPv4Unspecified(), 6882)
	resp, err := s.Announce(req2, ipresolver.Sources{ConnectionInfoAddr: netip.MustParseAddr("198.51.100.2")}, events.Binding{}, "", false, now)
	require.NoError(t, err)

	require.Len(t, resp.IPv4Peers, 1)
	require.Equal(t, samplePeerID(1), resp.IPv4Peers[0].ID)
}

func TestAnnounce_PrivateModeMissingKeyFails(t *testing.T) {
	s := newTestService(t, auth.Private)
	req := bittorrent.AnnounceRequest{InfoHash: "01234567890123456789", Peer: bittorrent.Peer{ID: samplePeerID(1)}}
	_, err := s.Announce(req, ipresolver.Sources{ConnectionInfoAddr: netip.MustParseAddr("198.51.100.1")}, events.Binding{}, "", false, time.Now())
	require.ErrorIs(t, err, auth.ErrMissingAuthKey)
}

func TestAnnounce_ListedModeNotWhitelistedFails(t *testing.T) {
	s := newTestService(t, auth.Listed)
	req := bittorrent.AnnounceRequest{InfoHash: "01234567890123456789", Peer: bittorrent.Peer{ID: samplePeerID(1)}}
	_, err := s.Announce(req, ipresolver.Sources{ConnectionInfoAddr: netip.MustParseAddr("198.51.100.1")}, events.Binding{}, "", false, time.Now())
	require.ErrorIs(t, err, auth.ErrTorrentNotWhitelisted)
}

func TestAnnounce_MissingConnectionInfoFails(t *testing.T) {
	s := newTestService(t, auth.Public)
	req := bittorrent.AnnounceRequest{InfoHash: "01234567890123456789", Peer: bittorrent.Peer{ID: samplePeerID(1)}}
	_, err := s.Announce(req, ipresolver.Sources{}, events.Binding{}, "", false, time.Now())
	require.ErrorIs(t, err, ipresolver.ErrMissingConnectionInfo)
}

func TestAnnounceUDP_BypassesResolver(t *testing.T) {
	s := newTestService(t, auth.Public)
	req := bittorrent.AnnounceRequest{InfoHash: "01234567890123456789", Left: 1, Peer: bittorrent.Peer{ID: samplePeerID(1)}}
	remote := netip.MustParseAddrPort("203.0.113.9:6881")

	resp, err := s.AnnounceUDP(req, remote, "", false, events.Binding{Protocol: "udp"}, time.Now())
	require.NoError(t, err)
	require.Equal(t, uint32(1), resp.Incomplete)
}

func TestScrape_UnknownInfoHashZeroed(t *testing.T) {
	s := newTestService(t, auth.Public)
	resp := s.Scrape(bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{"missing00000000000000"}}, events.Binding{}, "", false, time.Now())
	require.Len(t, resp.Files, 1)
	require.Equal(t, uint32(0), resp.Files[0].Complete)
}

func TestScrape_PrivateModeBadKeyZeroesInsteadOfFailing(t *testing.T) {
	s := newTestService(t, auth.Private)
	req := bittorrent.AnnounceRequest{InfoHash: "01234567890123456789", Left: 1, Peer: bittorrent.Peer{ID: samplePeerID(1)}}
	req.AddrPort = netip.AddrPortFrom(netip.IPv4Unspecified(), 1)
	require.NoError(t, s.Keys.Issue("goodkey", time.Time{}))
	_, err := s.AnnounceUDP(req, netip.MustParseAddrPort("203.0.113.1:1"), "goodkey", true, events.Binding{}, time.Now())
	require.NoError(t, err)

	resp := s.Scrape(bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{"01234567890123456789"}}, events.Binding{}, "badkey", true, time.Now())
	require.Equal(t, uint32(0), resp.Files[0].Complete)
	require.Equal(t, uint32(0), resp.Files[0].Incomplete)
}

func TestScrape_ListedModeNonWhitelistedZeroed(t *testing.T) {
	s := newTestService(t, auth.Listed)
	ih := bittorrent.InfoHash("01234567890123456789")
	other := bittorrent.InfoHash("zzzzzzzzzzzzzzzzzzzz")
	require.NoError(t, s.Whitelist.Add(ih))

	req := bittorrent.AnnounceRequest{InfoHash: ih, Left: 1, Peer: bittorrent.Peer{ID: samplePeerID(1)}}
	_, err := s.AnnounceUDP(req, netip.MustParseAddrPort("203.0.113.1:1"), "", false, events.Binding{}, time.Now())
	require.NoError(t, err)

	resp := s.Scrape(bittorrent.ScrapeRequest{InfoHashes: []bittorrent.InfoHash{ih, other}}, events.Binding{}, "", false, time.Now())
	require.Equal(t, uint32(1), resp.Files[0].Incomplete)
	require.Equal(t, uint32(0), resp.Files[1].Incomplete)
}
