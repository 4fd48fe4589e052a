// Package middleware lets optional request/response hooks run around the
// core Announce and Scrape services without either service knowing about
// them: a varied announce interval, a config-driven torrent whitelist, and
// whatever else a deployment wants to bolt on.
//
// This generalises the teacher's middleware package, whose Hook interface
// originally wrapped direct storage.PeerStorage calls (swarm insertion,
// response assembly). That responsibility now belongs to package tracker
// and package swarm; what remains here is exactly the "anything that needs
// to look at or adjust a request/response" extension point, which
// varinterval and torrentapproval still use unmodified in shape.
package middleware

import (
	"context"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/storage"
)

// Hook abstracts anything that needs to inspect or adjust a BitTorrent
// client's request and response. A Hook that returns an error aborts the
// chain; the transport layer renders the error per spec.md §7.
type Hook interface {
	HandleAnnounce(context.Context, *bittorrent.AnnounceRequest, *bittorrent.AnnounceResponse) (context.Context, error)
	HandleScrape(context.Context, *bittorrent.ScrapeRequest, *bittorrent.ScrapeResponse) (context.Context, error)
}

// Driver constructs a Hook from its own YAML configuration fragment and a
// shared persistent store.
type Driver interface {
	NewHook(optionBytes []byte, store storage.DataStorage) (Hook, error)
}

var drivers = make(map[string]Driver)

// RegisterDriver makes a middleware Driver available under name. Concrete
// middlewares call this from an init() func.
func RegisterDriver(name string, d Driver) {
	if _, dup := drivers[name]; dup {
		panic("middleware: duplicate driver registered: " + name)
	}
	drivers[name] = d
}

// NewHook constructs the Hook registered under name.
func NewHook(name string, optionBytes []byte, store storage.DataStorage) (Hook, error) {
	d, ok := drivers[name]
	if !ok {
		return nil, ErrUnknownDriver(name)
	}
	return d.NewHook(optionBytes, store)
}

// ErrUnknownDriver is returned by NewHook for an unregistered name.
type ErrUnknownDriver string

func (e ErrUnknownDriver) Error() string { return "middleware: unknown driver: " + string(e) }

// Chain runs a fixed ordered list of Hooks around a bittorrent
// AnnounceRequest/ScrapeRequest. The order is configuration order; a
// failing hook short-circuits the rest.
type Chain []Hook

// HandleAnnounce runs every hook's HandleAnnounce in order, stopping at the
// first error.
func (c Chain) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, resp *bittorrent.AnnounceResponse) (context.Context, error) {
	var err error
	for _, h := range c {
		if ctx, err = h.HandleAnnounce(ctx, req, resp); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}

// HandleScrape runs every hook's HandleScrape in order, stopping at the
// first error.
func (c Chain) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) (context.Context, error) {
	var err error
	for _, h := range c {
		if ctx, err = h.HandleScrape(ctx, req, resp); err != nil {
			return ctx, err
		}
	}
	return ctx, nil
}
