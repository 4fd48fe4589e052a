// Package udp implements spec.md §4.8's UDP transport: the BEP-15
// binary codec, its connect/announce/scrape/error dispatch, and the
// banning subsystem for repeated malformed traffic (§4.11).
package udp

import (
	"encoding/binary"
	"math"

	"github.com/dkbame/mactracker/bittorrent"
)

// Wire action codes, per spec.md §6.1.
const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionScrape   uint32 = 2
	actionError    uint32 = 3
)

// protocolMagic is the fixed connect-request magic number from BEP-15.
const protocolMagic uint64 = 0x41727101980

const (
	connectRequestLen  = 16
	announceRequestLen = 98
	headerLen          = 16 // connection_id/magic(8) + action(4) + transaction_id(4), common to every request
	scrapeInfoHashLen  = 20

	// MaxScrapeInfoHashes bounds a single scrape request, per spec.md §8
	// ("Scrape request with exactly 74 info-hashes succeeds; with 75 is
	// rejected at parse").
	MaxScrapeInfoHashes = 74
)

// parseHeader recovers the action and transaction id common to every
// request kind's first 16 bytes. It reports ok=false only when the packet
// is too short even to recover a transaction id, in which case spec.md §7
// requires the packet be silently dropped rather than answered with an
// error packet.
func parseHeader(data []byte) (action, transactionID uint32, ok bool) {
	if len(data) < headerLen {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(data[8:12]), binary.BigEndian.Uint32(data[12:16]), true
}

// decodedAnnounce is the binary BEP-15 announce request (98 bytes),
// decoded into plain fields; wireToRequest below lifts it into the
// protocol-agnostic bittorrent.AnnounceRequest.
type decodedAnnounce struct {
	connectionID uint64
	infoHash     bittorrent.InfoHash
	peerID       bittorrent.PeerID
	downloaded   uint64
	left         uint64
	uploaded     uint64
	event        uint32
	key          uint32
	numWant      int32
	port         uint16
}

// decodeAnnounceRequest parses a 98-byte announce request body. Callers
// must have already checked len(data) == announceRequestLen.
func decodeAnnounceRequest(data []byte) decodedAnnounce {
	var a decodedAnnounce
	a.connectionID = binary.BigEndian.Uint64(data[0:8])
	// data[8:12] action, data[12:16] transaction_id: read by the caller via parseHeader.
	ih, _ := bittorrent.NewInfoHash(append([]byte(nil), data[16:36]...))
	a.infoHash = ih
	peerID, _ := bittorrent.NewPeerID(data[36:56])
	a.peerID = peerID
	a.downloaded = binary.BigEndian.Uint64(data[56:64])
	a.left = binary.BigEndian.Uint64(data[64:72])
	a.uploaded = binary.BigEndian.Uint64(data[72:80])
	a.event = binary.BigEndian.Uint32(data[80:84])
	// data[84:88] is the ip_address override field; this tracker always
	// trusts the datagram's own source address instead (see
	// tracker.Service.AnnounceUDP), so it is intentionally not decoded.
	a.key = binary.BigEndian.Uint32(data[88:92])
	a.numWant = int32(binary.BigEndian.Uint32(data[92:96]))
	a.port = binary.BigEndian.Uint16(data[96:98])
	return a
}

// wireEvent maps a BEP-15 announce_event ordinal (0=none, 1=completed,
// 2=started, 3=stopped, per the aquatic_udp_protocol ordering the
// original implementation used) to the tracker's own bittorrent.Event,
// whose ordinal values differ since they're also driven by HTTP's
// string-keyed "event" parameter rather than wire position.
func wireEvent(v uint32) bittorrent.Event {
	switch v {
	case 1:
		return bittorrent.Completed
	case 2:
		return bittorrent.Started
	case 3:
		return bittorrent.Stopped
	default:
		return bittorrent.None
	}
}

// decodeScrapeInfoHashes splits the info-hash block of a scrape request
// body (everything after the 16-byte header) into individual InfoHashes.
// Callers must have already checked the block length is a positive
// multiple of scrapeInfoHashLen no greater than MaxScrapeInfoHashes*scrapeInfoHashLen.
func decodeScrapeInfoHashes(block []byte) []bittorrent.InfoHash {
	n := len(block) / scrapeInfoHashLen
	out := make([]bittorrent.InfoHash, n)
	for i := 0; i < n; i++ {
		ih, _ := bittorrent.NewInfoHash(append([]byte(nil), block[i*scrapeInfoHashLen:(i+1)*scrapeInfoHashLen]...))
		out[i] = ih
	}
	return out
}

// saturateInt32 narrows a uint32 swarm count to the wire's i32 field,
// clamping rather than wrapping on overflow (spec.md §9's resolved
// u32→i32 ambiguity).
func saturateInt32(v uint32) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(v)
}

func encodeConnectResponse(transactionID uint32, connectionID uint64) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], actionConnect)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	binary.BigEndian.PutUint64(buf[8:16], connectionID)
	return buf
}

func encodeAnnounceResponse(transactionID uint32, interval, leechers, seeders int32, peers []bittorrent.Peer, ipv6 bool) []byte {
	recLen := 6
	if ipv6 {
		recLen = 18
	}
	buf := make([]byte, 20+recLen*len(peers))
	binary.BigEndian.PutUint32(buf[0:4], actionAnnounce)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	binary.BigEndian.PutUint32(buf[8:12], uint32(interval))
	binary.BigEndian.PutUint32(buf[12:16], uint32(leechers))
	binary.BigEndian.PutUint32(buf[16:20], uint32(seeders))
	off := 20
	for _, p := range peers {
		if ipv6 {
			ip := p.Addr().As16()
			copy(buf[off:off+16], ip[:])
			binary.BigEndian.PutUint16(buf[off+16:off+18], p.Port())
		} else {
			ip := p.Addr().As4()
			copy(buf[off:off+4], ip[:])
			binary.BigEndian.PutUint16(buf[off+4:off+6], p.Port())
		}
		off += recLen
	}
	return buf
}

func encodeScrapeResponse(transactionID uint32, files []bittorrent.Scrape) []byte {
	buf := make([]byte, 8+12*len(files))
	binary.BigEndian.PutUint32(buf[0:4], actionScrape)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	off := 8
	for _, f := range files {
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(saturateInt32(f.Complete)))
		binary.BigEndian.PutUint32(buf[off+4:off+8], uint32(saturateInt32(f.Snatches)))
		binary.BigEndian.PutUint32(buf[off+8:off+12], uint32(saturateInt32(f.Incomplete)))
		off += 12
	}
	return buf
}

func encodeError(transactionID uint32, message string) []byte {
	buf := make([]byte, 8+len(message))
	binary.BigEndian.PutUint32(buf[0:4], actionError)
	binary.BigEndian.PutUint32(buf[4:8], transactionID)
	copy(buf[8:], message)
	return buf
}
