package udp

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"strconv"
	"time"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/pkg/events"
	"github.com/dkbame/mactracker/pkg/log"
	"github.com/dkbame/mactracker/pkg/timecache"
	"github.com/dkbame/mactracker/tracker"
	"github.com/dkbame/mactracker/udpcookie"
)

var logger = log.NewLogger("udp")

// clock amortizes the repeated time.Now() calls on every inbound datagram.
var clock = timecache.New()

// Dispatcher parses and answers a single UDP datagram against the shared
// Announce/Scrape services, per spec.md §4.5/§4.6/§4.8.
type Dispatcher struct {
	Secret         udpcookie.Secret
	CookieValidity time.Duration
	Service        *tracker.Service
	Banner         *Banner
	Bus            *events.Bus
	ServerAddr     string
}

// Handle answers one datagram from remote, returning the bytes to send
// back, or nil if the datagram must be silently dropped (an unrecognisable
// or banned source, per spec.md §7/§4.11).
func (d *Dispatcher) Handle(data []byte, remote netip.AddrPort, now time.Time) []byte {
	if d.Banner != nil && d.Banner.IsBanned(remote.Addr(), now) {
		return nil
	}

	action, txn, ok := parseHeader(data)
	if !ok {
		d.recordMalformed(remote, now)
		return nil
	}

	switch action {
	case actionConnect:
		return d.handleConnect(data, txn, remote, now)
	case actionAnnounce:
		return d.handleAnnounce(data, txn, remote, now)
	case actionScrape:
		return d.handleScrape(data, txn, remote, now)
	default:
		d.recordMalformed(remote, now)
		return encodeError(txn, "bad request")
	}
}

// recordError counts remote as a strike against the banning policy and
// publishes RequestErrored tagged with kind, the shared plumbing behind
// both a malformed datagram and a failed cookie check.
func (d *Dispatcher) recordError(remote netip.AddrPort, now time.Time, kind string) {
	if d.Banner != nil {
		d.Banner.RecordMalformed(remote.Addr(), now)
	}
	if d.Bus != nil {
		d.Bus.Publish(events.Event{Kind: events.RequestErrored, At: now, RequestKind: kind})
	}
}

func (d *Dispatcher) recordMalformed(remote netip.AddrPort, now time.Time) {
	d.recordError(remote, now, "malformed")
}

// recordInvalidCookie records a failed connection-id verification, per
// spec.md §4.8 step 3: both an error event and the banning strike it shares
// with a malformed datagram.
func (d *Dispatcher) recordInvalidCookie(remote netip.AddrPort, now time.Time) {
	d.recordError(remote, now, "invalid_cookie")
}

func (d *Dispatcher) binding(remote netip.AddrPort) events.Binding {
	return events.Binding{ClientAddr: remote.String(), ServerAddr: d.ServerAddr, Protocol: "udp"}
}

// errorMessage renders err for the wire per spec.md §7: a bittorrent.
// ClientError's message is client-facing and safe to expose as-is; any
// other error (a storage failure surfacing through auth.Whitelist.Approved
// or auth.KeyStore.Validate, for instance) is logged and replaced with the
// generic "internal error", mirroring frontend/http's WriteError.
func errorMessage(err error) string {
	var clientErr bittorrent.ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Error()
	}
	logger.Error().Err(err).Msg("internal error serving request")
	return "internal error"
}

func (d *Dispatcher) handleConnect(data []byte, txn uint32, remote netip.AddrPort, now time.Time) []byte {
	if len(data) != connectRequestLen {
		d.recordMalformed(remote, now)
		return encodeError(txn, "bad request")
	}
	if binary.BigEndian.Uint64(data[0:8]) != protocolMagic {
		d.recordMalformed(remote, now)
		return encodeError(txn, "bad request")
	}

	fp := udpcookie.NewFingerprint(remote)
	cookie := udpcookie.Issue(d.Secret, fp, now)

	if d.Bus != nil {
		d.Bus.Publish(events.Event{Kind: events.UDPRequestAccepted, At: now, Binding: d.binding(remote), RequestKind: "connect"})
	}
	return encodeConnectResponse(txn, uint64(cookie))
}

func (d *Dispatcher) handleAnnounce(data []byte, txn uint32, remote netip.AddrPort, now time.Time) []byte {
	if len(data) != announceRequestLen {
		d.recordMalformed(remote, now)
		return encodeError(txn, "bad request")
	}
	w := decodeAnnounceRequest(data)

	fp := udpcookie.NewFingerprint(remote)
	if !udpcookie.Verify(d.Secret, udpcookie.Cookie(w.connectionID), fp, now, d.CookieValidity) {
		d.recordInvalidCookie(remote, now)
		return encodeError(txn, "connection id invalid")
	}

	req := bittorrent.AnnounceRequest{
		InfoHash:        w.infoHash,
		Downloaded:      w.downloaded,
		Left:            w.left,
		Uploaded:        w.uploaded,
		Event:           wireEvent(w.event),
		EventProvided:   w.event != 0,
		Compact:         true,
		NumWantProvided: w.numWant >= 0,
	}
	if req.NumWantProvided {
		req.NumWant = uint32(w.numWant)
	}
	req.ID = w.peerID
	req.AddrPort = netip.AddrPortFrom(netip.Addr{}, w.port)

	key, keyProvided := udpKeyToString(w.key)

	if d.Bus != nil {
		d.Bus.Publish(events.Event{Kind: events.UDPRequestAccepted, At: now, Binding: d.binding(remote), RequestKind: "announce"})
	}

	resp, err := d.Service.AnnounceUDP(req, remote, key, keyProvided, d.binding(remote), now)
	if err != nil {
		return encodeError(txn, errorMessage(err))
	}

	peers := resp.IPv4Peers
	if remote.Addr().Is6() && !remote.Addr().Is4In6() {
		peers = resp.IPv6Peers
	}
	return encodeAnnounceResponse(
		txn,
		saturateInt32(uint32(resp.Interval/time.Second)),
		saturateInt32(resp.Incomplete),
		saturateInt32(resp.Complete),
		peers,
		remote.Addr().Is6() && !remote.Addr().Is4In6(),
	)
}

func (d *Dispatcher) handleScrape(data []byte, txn uint32, remote netip.AddrPort, now time.Time) []byte {
	if len(data) < headerLen {
		d.recordMalformed(remote, now)
		return nil
	}
	block := data[headerLen:]
	if len(block) == 0 || len(block)%scrapeInfoHashLen != 0 || len(block)/scrapeInfoHashLen > MaxScrapeInfoHashes {
		d.recordMalformed(remote, now)
		return encodeError(txn, "bad request")
	}
	connectionID := binary.BigEndian.Uint64(data[0:8])

	fp := udpcookie.NewFingerprint(remote)
	if !udpcookie.Verify(d.Secret, udpcookie.Cookie(connectionID), fp, now, d.CookieValidity) {
		d.recordInvalidCookie(remote, now)
		return encodeError(txn, "connection id invalid")
	}

	req := bittorrent.ScrapeRequest{InfoHashes: decodeScrapeInfoHashes(block)}
	key, keyProvided := udpKeyToString(0) // BEP-15 scrape carries no key field

	if d.Bus != nil {
		d.Bus.Publish(events.Event{Kind: events.UDPRequestAccepted, At: now, Binding: d.binding(remote), RequestKind: "scrape"})
	}

	resp := d.Service.Scrape(req, d.binding(remote), key, keyProvided, now)
	return encodeScrapeResponse(txn, resp.Files)
}

// udpKeyToString adapts a BEP-15 announce request's 32-bit key field to the
// string-keyed auth.KeyStore: there is no standard mapping from a 32-bit
// wire integer to the 32-character opaque token issued over HTTP, so a
// non-zero wire key is rendered as its decimal string and looked up as-is.
// A zero key (the field's default when a client has none) is treated as no
// key provided.
func udpKeyToString(key uint32) (string, bool) {
	if key == 0 {
		return "", false
	}
	return strconv.FormatUint(uint64(key), 10), true
}

