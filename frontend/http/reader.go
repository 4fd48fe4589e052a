package http

import (
	"net/netip"
	"net/url"
	"strconv"

	"github.com/dkbame/mactracker/bittorrent"
)

// ErrMalformedRequest is returned when required query parameters are
// missing or cannot be parsed.
var ErrMalformedRequest = bittorrent.ClientError("malformed request")

// parseAnnounceQuery turns a raw, still URL-encoded query string into an
// AnnounceRequest. The query string is parsed with url.ParseQuery, which
// percent-decodes each value, rather than fasthttp's own QueryArgs, since
// info_hash and peer_id are arbitrary 20-byte strings that may contain
// bytes only valid when percent-decoded from a standards-compliant escape.
func parseAnnounceQuery(rawQuery []byte) (bittorrent.AnnounceRequest, error) {
	var req bittorrent.AnnounceRequest

	q, err := url.ParseQuery(string(rawQuery))
	if err != nil {
		return req, ErrMalformedRequest
	}

	infoHashStr, ok := first(q, "info_hash")
	if !ok {
		return req, ErrMalformedRequest
	}
	infoHash, err := bittorrent.NewInfoHash([]byte(infoHashStr))
	if err != nil {
		return req, err
	}
	req.InfoHash = infoHash

	peerIDStr, ok := first(q, "peer_id")
	if !ok {
		return req, ErrMalformedRequest
	}
	peerID, err := bittorrent.NewPeerID([]byte(peerIDStr))
	if err != nil {
		return req, err
	}
	req.ID = peerID

	portStr, ok := first(q, "port")
	if !ok {
		return req, ErrMalformedRequest
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return req, ErrMalformedRequest
	}

	var ipProvided bool
	ipStr, ok := first(q, "ip")
	if ok {
		ipProvided = true
		_ = ipStr // the resolver, not the client-supplied value, decides the peer's address
	}
	req.IPProvided = ipProvided

	if v, ok := first(q, "uploaded"); ok {
		req.Uploaded, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return req, ErrMalformedRequest
		}
	}
	if v, ok := first(q, "downloaded"); ok {
		req.Downloaded, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return req, ErrMalformedRequest
		}
	}
	if v, ok := first(q, "left"); ok {
		req.Left, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return req, ErrMalformedRequest
		}
	}
	if v, ok := first(q, "event"); ok {
		req.Event, err = bittorrent.NewEvent(v)
		if err != nil {
			return req, err
		}
		req.EventProvided = true
	}
	if v, ok := first(q, "numwant"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return req, ErrMalformedRequest
		}
		req.NumWant = uint32(n)
		req.NumWantProvided = true
	}

	// compact defaults to true; only an explicit "0" turns it off.
	req.Compact = true
	if v, ok := first(q, "compact"); ok && v == "0" {
		req.Compact = false
	}

	req.Params = paramsFrom(q)
	req.AddrPort = netip.AddrPortFrom(netip.Addr{}, uint16(port))

	return req, nil
}

// parseScrapeQuery turns a raw query string into a ScrapeRequest. Multiple
// info_hash values are allowed per BEP-48.
func parseScrapeQuery(rawQuery []byte) (bittorrent.ScrapeRequest, error) {
	var req bittorrent.ScrapeRequest

	q, err := url.ParseQuery(string(rawQuery))
	if err != nil {
		return req, ErrMalformedRequest
	}

	hashes := q["info_hash"]
	if len(hashes) == 0 {
		return req, ErrMalformedRequest
	}
	req.InfoHashes = make([]bittorrent.InfoHash, 0, len(hashes))
	for _, h := range hashes {
		ih, err := bittorrent.NewInfoHash([]byte(h))
		if err != nil {
			return req, err
		}
		req.InfoHashes = append(req.InfoHashes, ih)
	}
	req.Params = paramsFrom(q)

	return req, nil
}

func first(q url.Values, key string) (string, bool) {
	v, ok := q[key]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// paramsFrom adapts url.Values, which the stdlib already parses a query
// string into, to bittorrent.Params.
func paramsFrom(q url.Values) bittorrent.Params {
	p := make(bittorrent.Params, len(q))
	for k, v := range q {
		p[k] = v
	}
	return p
}
