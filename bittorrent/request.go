package bittorrent

import "time"

// AddressFamily is the address family of an IP address.
type AddressFamily uint8

// AddressFamily constants.
const (
	IPv4 AddressFamily = iota
	IPv6
)

func (af AddressFamily) String() string {
	switch af {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// Params is a read-only view of protocol-specific extra request parameters
// that neither the UDP nor the HTTP codec interpret themselves, but which a
// middleware hook may want to inspect (e.g. a client's "corrupt" counter).
// The HTTP codec populates it from the request's query string; the UDP
// codec leaves it empty since BEP-15 carries no extension mechanism.
type Params map[string][]string

// String returns the first value associated with key, if any.
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// AnnounceRequest represents the parsed parameters from an announce request,
// independent of whether it arrived over UDP or HTTP.
type AnnounceRequest struct {
	Event           Event
	InfoHash        InfoHash
	Compact         bool
	EventProvided   bool
	NumWantProvided bool
	IPProvided      bool
	NumWant         uint32
	Left            uint64
	Downloaded      uint64
	Uploaded        uint64

	Peer
	Params Params
}

// AnnounceResponse represents the parameters used to build an announce
// response.
type AnnounceResponse struct {
	Compact     bool
	Complete    uint32
	Incomplete  uint32
	Interval    time.Duration
	MinInterval time.Duration
	IPv4Peers   []Peer
	IPv6Peers   []Peer
}

// ScrapeRequest represents the parsed parameters from a scrape request.
type ScrapeRequest struct {
	AddressFamily AddressFamily
	InfoHashes    []InfoHash
	Params        Params
}

// Scrape represents the aggregate state of a swarm returned in a scrape
// response.
type Scrape struct {
	InfoHash   InfoHash
	Snatches   uint32
	Complete   uint32
	Incomplete uint32
}

// ScrapeResponse represents the parameters used to build a scrape response.
//
// The Files must be in the same order as the InfoHashes in the corresponding
// ScrapeRequest.
type ScrapeResponse struct {
	Files []Scrape
}
