// Package events implements the tracker's statistics event bus: a
// fire-and-forget fan-out of domain events (swarm mutations, protocol
// requests) to metric aggregators.
//
// Handlers never block on publication and events may be dropped under
// backpressure (spec: "correctness of the core does not depend on event
// delivery") — so the bus is built on a lock-free ring buffer
// (code.cloudfoundry.org/go-diodes) rather than a buffered channel, which
// would backpressure or panic-on-close under contention instead of quietly
// overwriting the oldest unread event.
package events

import (
	"time"
	"unsafe"

	"code.cloudfoundry.org/go-diodes"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/pkg/log"
)

var logger = log.NewLogger("events")

// Kind identifies the type of domain event.
type Kind uint8

// Event kinds.
const (
	TorrentAdded Kind = iota
	TorrentRemoved
	PeerAdded
	PeerUpdated
	PeerRemoved
	PeerDownloadCompleted
	AnnounceProcessed
	ScrapeProcessed
	UDPRequestAccepted
	RequestErrored
)

func (k Kind) String() string {
	switch k {
	case TorrentAdded:
		return "torrent_added"
	case TorrentRemoved:
		return "torrent_removed"
	case PeerAdded:
		return "peer_added"
	case PeerUpdated:
		return "peer_updated"
	case PeerRemoved:
		return "peer_removed"
	case PeerDownloadCompleted:
		return "peer_download_completed"
	case AnnounceProcessed:
		return "announce_processed"
	case ScrapeProcessed:
		return "scrape_processed"
	case UDPRequestAccepted:
		return "udp_request_accepted"
	case RequestErrored:
		return "request_errored"
	default:
		return "unknown"
	}
}

// Binding identifies the (client, server) socket pair a request arrived on.
type Binding struct {
	ClientAddr string
	ServerAddr string
	Protocol   string // "udp" or "http"
}

// Event is a single domain occurrence published to the bus.
type Event struct {
	Kind     Kind
	At       time.Time
	InfoHash bittorrent.InfoHash
	Peer     bittorrent.Peer
	OldPeer  bittorrent.Peer
	Binding  Binding
	// RequestKind distinguishes UDP request kinds ("connect", "announce",
	// "scrape") for UDPRequestAccepted, and the failure kind for
	// RequestErrored.
	RequestKind string
}

// Bus fans events out to subscribed handlers. The zero value is not usable;
// construct with New.
type Bus struct {
	diode *diodes.ManyToOne
	done  chan struct{}
}

// New creates a Bus with the given ring-buffer capacity. When a subscriber
// falls behind, the oldest unread events are silently overwritten and
// droppedCount (if non-nil) is invoked with the number dropped.
func New(capacity int, droppedCount func(missed int)) *Bus {
	alerter := diodes.AlertFunc(func(missed int) {
		if droppedCount != nil {
			droppedCount(missed)
		}
		logger.Warn().Int("missed", missed).Msg("event bus dropped events under backpressure")
	})
	return &Bus{
		diode: diodes.NewManyToOne(capacity, alerter),
		done:  make(chan struct{}),
	}
}

// Publish enqueues an event. Never blocks.
func (b *Bus) Publish(e Event) {
	ev := new(Event)
	*ev = e
	b.diode.Set(diodes.GenericDataType(ev))
}

// Subscribe starts a goroutine that calls handle for every published event,
// in publication order for events from the same goroutine (across
// goroutines, interleaving is arbitrary per spec.md §5). Returns a function
// that stops the subscriber.
func (b *Bus) Subscribe(handle func(Event)) (stop func()) {
	poller := diodes.NewPoller(b.diode,
		diodes.WithPollingInterval(time.Millisecond),
		diodes.WithPollingInterrupt(b.done),
	)
	go func() {
		for {
			val := poller.Next()
			if val == nil {
				return
			}
			ev := (*Event)(unsafe.Pointer(val))
			handle(*ev)
		}
	}()
	return func() { close(b.done) }
}
