// Package swarm implements the in-memory Swarm Coordination Registry: one
// Coordinator per info-hash holding that swarm's peer map and aggregate
// counters, and a Registry mapping info-hash to Coordinator.
//
// Grounded on the teacher's sharded memory peer store
// (storage/memory, c.f. the gmemstr-mochi reference) for the locking
// discipline, and on original_source's
// swarm-coordination-registry/src/swarm/coordinator.rs for the exact
// announce/eviction algorithm spec.md describes.
package swarm

import (
	"sync"
	"time"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/pkg/events"
)

// Metadata is a swarm's aggregate counters.
type Metadata struct {
	Complete   uint32
	Incomplete uint32
	Downloaded uint32
}

// RetentionPolicy controls whether a peerless swarm is kept or evicted.
type RetentionPolicy struct {
	RemovePeerlessTorrents         bool
	PersistentTorrentCompletedStat bool
}

// Coordinator owns a single swarm: the peer map keyed by socket address plus
// the derived aggregate counters, and emits one event per mutation.
//
// All mutating operations are serialised by mu, matching spec.md §5's
// "operations on the peer map are serialised (per-swarm mutex)".
type Coordinator struct {
	infoHash bittorrent.InfoHash
	bus      *events.Bus

	mu    sync.Mutex
	peers map[netipAddrPort]*bittorrent.Peer
	meta  Metadata
}

// netipAddrPort is an alias kept local so the map key type is documented
// next to its one use; bittorrent.Peer embeds netip.AddrPort directly.
type netipAddrPort = [18]byte // 16-byte IP (v4-in-v6 padded) + 2-byte port, see addrKey

func addrKey(p bittorrent.Peer) netipAddrPort {
	var k netipAddrPort
	ip := p.Addr().As16()
	copy(k[:16], ip[:])
	k[16] = byte(p.Port() >> 8)
	k[17] = byte(p.Port())
	return k
}

// NewCoordinator creates a Coordinator for infoHash, optionally pre-seeded
// with a persisted Downloaded count (e.g. loaded from the `torrents` table
// at startup or via Registry.ImportPersistent).
func NewCoordinator(infoHash bittorrent.InfoHash, initialDownloaded uint32, bus *events.Bus) *Coordinator {
	return &Coordinator{
		infoHash: infoHash,
		bus:      bus,
		peers:    make(map[netipAddrPort]*bittorrent.Peer),
		meta:     Metadata{Downloaded: initialDownloaded},
	}
}

func (c *Coordinator) publish(kind events.Kind, p, old bittorrent.Peer) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{
		Kind:     kind,
		At:       clock.Now(),
		InfoHash: c.infoHash,
		Peer:     p,
		OldPeer:  old,
	})
}

// HandleAnnouncement applies one announcement to the swarm, per spec.md §4.1:
//
//   - Stopped: remove the entry at a.peer_addr; emit PeerRemoved if it
//     existed, otherwise no-op.
//   - Otherwise upsert: insert emits PeerAdded (never bumps Downloaded, even
//     for a first-seen Completed announcement); replace emits PeerUpdated,
//     followed by PeerDownloadCompleted if the announcement's event is
//     Completed and the replaced entry's was not (which also bumps
//     Downloaded).
func (c *Coordinator) HandleAnnouncement(a bittorrent.Peer) {
	key := addrKey(a)

	c.mu.Lock()
	defer c.mu.Unlock()

	if a.Event == bittorrent.Stopped {
		prev, existed := c.peers[key]
		if !existed {
			return
		}
		delete(c.peers, key)
		c.adjustCounters(*prev, false)
		c.publish(events.PeerRemoved, a, bittorrent.Peer{})
		return
	}

	prev, existed := c.peers[key]
	next := a
	c.peers[key] = &next

	if !existed {
		c.adjustCounters(next, true)
		c.publish(events.PeerAdded, next, bittorrent.Peer{})
		return
	}

	wasSeeder := prev.Seeder()
	isSeeder := next.Seeder()
	if wasSeeder != isSeeder {
		if isSeeder {
			c.meta.Complete++
			c.meta.Incomplete--
		} else {
			c.meta.Complete--
			c.meta.Incomplete++
		}
	}

	becameCompleted := next.Event == bittorrent.Completed && prev.Event != bittorrent.Completed
	if becameCompleted {
		c.meta.Downloaded++
	}

	c.publish(events.PeerUpdated, next, *prev)
	if becameCompleted {
		c.publish(events.PeerDownloadCompleted, next, *prev)
	}
}

// adjustCounters increments or decrements Complete/Incomplete for a single
// peer joining (add=true) or leaving (add=false) the swarm.
func (c *Coordinator) adjustCounters(p bittorrent.Peer, add bool) {
	delta := int32(1)
	if !add {
		delta = -1
	}
	if p.Seeder() {
		c.meta.Complete = uint32(int32(c.meta.Complete) + delta)
	} else {
		c.meta.Incomplete = uint32(int32(c.meta.Incomplete) + delta)
	}
}

// RemoveInactive removes every peer whose Updated time is at or before
// cutoff, emitting PeerRemoved for each, and returns the count removed.
func (c *Coordinator) RemoveInactive(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, p := range c.peers {
		if !p.Updated.After(cutoff) {
			delete(c.peers, key)
			c.adjustCounters(*p, false)
			c.publish(events.PeerRemoved, *p, bittorrent.Peer{})
			removed++
		}
	}
	return removed
}

// Peers returns up to limit peers in arbitrary order. A limit <= 0 means
// unbounded.
func (c *Coordinator) Peers(limit int) []bittorrent.Peer {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]bittorrent.Peer, 0, minNonNeg(limit, len(c.peers)))
	for _, p := range c.peers {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *p)
	}
	return out
}

// PeersExcluding returns up to limit peers, skipping any whose IP and port
// match exclude's.
func (c *Coordinator) PeersExcluding(exclude bittorrent.Peer, limit int) []bittorrent.Peer {
	excludeKey := addrKey(exclude)

	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]bittorrent.Peer, 0, minNonNeg(limit, len(c.peers)))
	for key, p := range c.peers {
		if key == excludeKey {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, *p)
	}
	return out
}

// MetadataSnapshot returns the swarm's current aggregate counters.
func (c *Coordinator) MetadataSnapshot() Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// IsPeerless reports whether the swarm currently has no peers.
func (c *Coordinator) IsPeerless() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers) == 0
}

// MeetsRetainingPolicy reports whether the swarm should be kept (true) or
// evicted (false) under policy, per spec.md §4.1.
func (c *Coordinator) MeetsRetainingPolicy(policy RetentionPolicy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !policy.RemovePeerlessTorrents {
		return true
	}
	if len(c.peers) != 0 {
		return true
	}
	if policy.PersistentTorrentCompletedStat && c.meta.Downloaded > 0 {
		return true
	}
	return false
}

func minNonNeg(limit, n int) int {
	if limit <= 0 || limit > n {
		return n
	}
	return limit
}
