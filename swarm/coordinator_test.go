package swarm

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/bittorrent"
)

func peerAt(addr string, left uint64, event bittorrent.Event) bittorrent.Peer {
	return bittorrent.Peer{
		AddrPort: netip.MustParseAddrPort(addr),
		Left:     left,
		Event:    event,
		Updated:  time.Now(),
	}
}

func TestCoordinator_FreshSwarmOneLeecher(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	a := peerAt("1.2.3.4:1000", 100, bittorrent.Started)
	c.HandleAnnouncement(a)

	meta := c.MetadataSnapshot()
	require.Equal(t, uint32(0), meta.Complete)
	require.Equal(t, uint32(1), meta.Incomplete)
	require.Equal(t, uint32(0), meta.Downloaded)
	require.Len(t, c.Peers(0), 1)
}

func TestCoordinator_LeecherCompletes(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	c.HandleAnnouncement(peerAt("1.2.3.4:1000", 100, bittorrent.Started))
	c.HandleAnnouncement(peerAt("1.2.3.4:1000", 0, bittorrent.Completed))

	meta := c.MetadataSnapshot()
	require.Equal(t, uint32(1), meta.Complete)
	require.Equal(t, uint32(0), meta.Incomplete)
	require.Equal(t, uint32(1), meta.Downloaded)
}

func TestCoordinator_SeederStops(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	c.HandleAnnouncement(peerAt("1.2.3.4:1000", 100, bittorrent.Started))
	c.HandleAnnouncement(peerAt("1.2.3.4:1000", 0, bittorrent.Completed))
	c.HandleAnnouncement(peerAt("1.2.3.4:1000", 0, bittorrent.Stopped))

	require.True(t, c.IsPeerless())
	meta := c.MetadataSnapshot()
	require.Equal(t, uint32(0), meta.Complete)
	require.Equal(t, uint32(0), meta.Incomplete)
	require.Equal(t, uint32(1), meta.Downloaded)
}

func TestCoordinator_TwoPeersScrapeLikeMetadata(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	c.HandleAnnouncement(peerAt("1.1.1.1:1", 100, bittorrent.Started))
	c.HandleAnnouncement(peerAt("2.2.2.2:2", 0, bittorrent.Started))

	meta := c.MetadataSnapshot()
	require.Equal(t, uint32(1), meta.Complete)
	require.Equal(t, uint32(1), meta.Incomplete)
	require.Equal(t, uint32(0), meta.Downloaded)
}

func TestCoordinator_PeersExcludingOnlyAffectsAnnounce(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	leecher := peerAt("1.1.1.1:1", 100, bittorrent.Started)
	seeder := peerAt("2.2.2.2:2", 0, bittorrent.Started)
	c.HandleAnnouncement(leecher)
	c.HandleAnnouncement(seeder)

	excluded := c.PeersExcluding(leecher, 0)
	require.Len(t, excluded, 1)
	require.Equal(t, seeder.Addr(), excluded[0].Addr())

	all := c.Peers(0)
	require.Len(t, all, 2)
}

func TestCoordinator_StoppedIdempotent(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	c.HandleAnnouncement(peerAt("1.1.1.1:1", 100, bittorrent.Started))
	c.HandleAnnouncement(peerAt("1.1.1.1:1", 0, bittorrent.Stopped))
	before := c.MetadataSnapshot()
	c.HandleAnnouncement(peerAt("1.1.1.1:1", 0, bittorrent.Stopped))
	after := c.MetadataSnapshot()
	require.Equal(t, before, after)
	require.True(t, c.IsPeerless())
}

func TestCoordinator_ReannounceReplacesNotAdds(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	c.HandleAnnouncement(peerAt("1.1.1.1:1", 100, bittorrent.Started))
	c.HandleAnnouncement(peerAt("1.1.1.1:1", 50, bittorrent.None))
	require.Len(t, c.Peers(0), 1)
	meta := c.MetadataSnapshot()
	require.Equal(t, uint32(1), meta.Incomplete)
}

func TestCoordinator_NewSeederDoesNotIncrementDownloaded(t *testing.T) {
	// A peer that joins already-completed (left=0, event=Completed) has no
	// "before" state, so it must not count as a download transition.
	c := NewCoordinator("H", 0, nil)
	c.HandleAnnouncement(peerAt("1.1.1.1:1", 0, bittorrent.Completed))
	meta := c.MetadataSnapshot()
	require.Equal(t, uint32(0), meta.Downloaded)
	require.Equal(t, uint32(1), meta.Complete)
}

func TestCoordinator_RemoveInactive(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	stale := bittorrent.Peer{
		AddrPort: netip.MustParseAddrPort("1.1.1.1:1"),
		Left:     10,
		Updated:  time.Now().Add(-time.Hour),
	}
	fresh := peerAt("2.2.2.2:2", 10, bittorrent.Started)
	c.HandleAnnouncement(stale)
	c.HandleAnnouncement(fresh)

	removed := c.RemoveInactive(time.Now().Add(-time.Minute))
	require.Equal(t, 1, removed)
	require.Len(t, c.Peers(0), 1)
}

func TestCoordinator_MeetsRetainingPolicy(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	require.True(t, c.MeetsRetainingPolicy(RetentionPolicy{RemovePeerlessTorrents: false}))
	require.False(t, c.MeetsRetainingPolicy(RetentionPolicy{RemovePeerlessTorrents: true}))

	c2 := NewCoordinator("H", 1, nil)
	require.True(t, c2.MeetsRetainingPolicy(RetentionPolicy{
		RemovePeerlessTorrents:          true,
		PersistentTorrentCompletedStat: true,
	}))
	require.False(t, c2.MeetsRetainingPolicy(RetentionPolicy{
		RemovePeerlessTorrents:          true,
		PersistentTorrentCompletedStat: false,
	}))
}

func TestCoordinator_InvariantAfterSequence(t *testing.T) {
	c := NewCoordinator("H", 0, nil)
	ops := []bittorrent.Peer{
		peerAt("1.1.1.1:1", 100, bittorrent.Started),
		peerAt("2.2.2.2:2", 0, bittorrent.Started),
		peerAt("1.1.1.1:1", 0, bittorrent.Completed),
		peerAt("3.3.3.3:3", 50, bittorrent.Started),
		peerAt("2.2.2.2:2", 0, bittorrent.Stopped),
	}
	for _, p := range ops {
		c.HandleAnnouncement(p)
		m := c.MetadataSnapshot()
		require.Equal(t, len(c.Peers(0)), int(m.Complete+m.Incomplete))
	}
}
