package swarm

import (
	"sync"
	"time"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/pkg/events"
	"github.com/dkbame/mactracker/pkg/timecache"
)

// clock amortizes the repeated time.Now() calls every announce makes to
// publish an event timestamp, refreshing on a ticker instead of syscalling
// on every mutation.
var clock = timecache.New()

// Registry holds the set of live Coordinators, one per info-hash.
//
// The outer map is a sync.Map rather than a mutex-guarded map so that
// lookups for unrelated info-hashes never contend with each other, per
// spec.md §5 ("the registry is lock-free at the outer level"). Creation of
// a Coordinator for a not-yet-seen info-hash is still racy by construction,
// so HandleAnnouncement uses LoadOrStore to guarantee exactly one
// Coordinator wins that race.
type Registry struct {
	swarms sync.Map // bittorrent.InfoHash -> *Coordinator
	bus    *events.Bus
}

// NewRegistry creates an empty Registry. bus may be nil to disable event
// emission.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{bus: bus}
}

// AggregateMetadata summarises the whole registry.
type AggregateMetadata struct {
	Torrents   uint64
	Complete   uint64
	Incomplete uint64
	Downloaded uint64
}

// HandleAnnouncement routes an announcement to the Coordinator for
// infoHash, creating one (optionally seeded with initialDownloaded) if this
// is the first announcement ever seen for it. Exactly one Coordinator is
// created under concurrent first announcement; the losing goroutine's
// Coordinator is discarded and TorrentAdded is emitted only once.
func (r *Registry) HandleAnnouncement(infoHash bittorrent.InfoHash, peer bittorrent.Peer, initialDownloaded uint32) {
	coord := r.getOrCreate(infoHash, initialDownloaded)
	coord.HandleAnnouncement(peer)
}

func (r *Registry) getOrCreate(infoHash bittorrent.InfoHash, initialDownloaded uint32) *Coordinator {
	if v, ok := r.swarms.Load(infoHash); ok {
		return v.(*Coordinator)
	}

	candidate := NewCoordinator(infoHash, initialDownloaded, r.bus)
	actual, loaded := r.swarms.LoadOrStore(infoHash, candidate)
	if !loaded {
		r.publish(events.TorrentAdded, infoHash)
	}
	return actual.(*Coordinator)
}

func (r *Registry) publish(kind events.Kind, infoHash bittorrent.InfoHash) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.Event{Kind: kind, At: clock.Now(), InfoHash: infoHash})
}

// Remove deletes the Coordinator for infoHash, if present, and emits
// TorrentRemoved.
func (r *Registry) Remove(infoHash bittorrent.InfoHash) {
	if _, ok := r.swarms.LoadAndDelete(infoHash); ok {
		r.publish(events.TorrentRemoved, infoHash)
	}
}

// Get returns the Coordinator for infoHash, or nil if none exists.
func (r *Registry) Get(infoHash bittorrent.InfoHash) *Coordinator {
	if v, ok := r.swarms.Load(infoHash); ok {
		return v.(*Coordinator)
	}
	return nil
}

// GetPaginated returns up to limit info-hashes starting at offset, in their
// natural byte order. Stability across concurrent mutation is not
// guaranteed, per spec.md §4.2.
func (r *Registry) GetPaginated(offset, limit int) []bittorrent.InfoHash {
	all := make([]bittorrent.InfoHash, 0)
	r.swarms.Range(func(k, _ any) bool {
		all = append(all, k.(bittorrent.InfoHash))
		return true
	})
	sortInfoHashes(all)

	if offset >= len(all) {
		return nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func sortInfoHashes(hashes []bittorrent.InfoHash) {
	// Simple insertion sort is fine here: GetPaginated is an
	// administrative/bulk-export path, not a hot path.
	for i := 1; i < len(hashes); i++ {
		for j := i; j > 0 && hashes[j-1] > hashes[j]; j-- {
			hashes[j-1], hashes[j] = hashes[j], hashes[j-1]
		}
	}
}

// GetSwarmMetadata returns the aggregate counters for infoHash, or the zero
// value if the swarm does not exist.
func (r *Registry) GetSwarmMetadata(infoHash bittorrent.InfoHash) Metadata {
	if c := r.Get(infoHash); c != nil {
		return c.MetadataSnapshot()
	}
	return Metadata{}
}

// GetPeers returns up to limit peers of the swarm for infoHash, or nil if
// the swarm does not exist.
func (r *Registry) GetPeers(infoHash bittorrent.InfoHash, limit int) []bittorrent.Peer {
	if c := r.Get(infoHash); c != nil {
		return c.Peers(limit)
	}
	return nil
}

// GetPeersExcluding returns up to limit peers of the swarm for infoHash,
// excluding the peer at exclude's address, or nil if the swarm does not
// exist.
func (r *Registry) GetPeersExcluding(infoHash bittorrent.InfoHash, exclude bittorrent.Peer, limit int) []bittorrent.Peer {
	if c := r.Get(infoHash); c != nil {
		return c.PeersExcluding(exclude, limit)
	}
	return nil
}

// RemoveInactivePeers sweeps every swarm, removing peers whose last
// announcement is at or before cutoff, and returns the total removed.
func (r *Registry) RemoveInactivePeers(cutoff time.Time) uint64 {
	var total uint64
	r.swarms.Range(func(_, v any) bool {
		total += uint64(v.(*Coordinator).RemoveInactive(cutoff))
		return true
	})
	return total
}

// RemovePeerlessTorrents evicts every swarm that fails policy, emitting
// TorrentRemoved for each, and returns the count evicted.
func (r *Registry) RemovePeerlessTorrents(policy RetentionPolicy) uint64 {
	var toRemove []bittorrent.InfoHash
	r.swarms.Range(func(k, v any) bool {
		if !v.(*Coordinator).MeetsRetainingPolicy(policy) {
			toRemove = append(toRemove, k.(bittorrent.InfoHash))
		}
		return true
	})

	var removed uint64
	for _, ih := range toRemove {
		if _, ok := r.swarms.LoadAndDelete(ih); ok {
			r.publish(events.TorrentRemoved, ih)
			removed++
		}
	}
	return removed
}

// ImportPersistent creates a Coordinator for every info-hash in downloaded
// that is not already present, seeding its Downloaded counter from the map
// value. Existing Coordinators are left untouched. Returns the number of
// swarms created.
func (r *Registry) ImportPersistent(downloaded map[bittorrent.InfoHash]uint32) uint64 {
	var created uint64
	for ih, count := range downloaded {
		candidate := NewCoordinator(ih, count, r.bus)
		if _, loaded := r.swarms.LoadOrStore(ih, candidate); !loaded {
			created++
			r.publish(events.TorrentAdded, ih)
		}
	}
	return created
}

// DownloadedCounts returns every known swarm's cumulative Downloaded
// counter, keyed by info-hash. The caller uses this to flush completed-
// download state through to persistent storage on a schedule; Registry
// itself has no storage dependency, per package swarm's separation from
// package storage.
func (r *Registry) DownloadedCounts() map[bittorrent.InfoHash]uint32 {
	counts := make(map[bittorrent.InfoHash]uint32)
	r.swarms.Range(func(k, v any) bool {
		counts[k.(bittorrent.InfoHash)] = v.(*Coordinator).MetadataSnapshot().Downloaded
		return true
	})
	return counts
}

// AggregateSwarmMetadata summarises every swarm currently in the registry.
func (r *Registry) AggregateSwarmMetadata() AggregateMetadata {
	var agg AggregateMetadata
	r.swarms.Range(func(_, v any) bool {
		m := v.(*Coordinator).MetadataSnapshot()
		agg.Torrents++
		agg.Complete += uint64(m.Complete)
		agg.Incomplete += uint64(m.Incomplete)
		agg.Downloaded += uint64(m.Downloaded)
		return true
	})
	return agg
}
