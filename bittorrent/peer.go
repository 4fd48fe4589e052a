// Package bittorrent implements all of the abstractions used to decouple the
// protocol of a BitTorrent tracker from the logic of handling Announces and
// Scrapes.
package bittorrent

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	sha256simd "github.com/minio/sha256-simd"
	"github.com/rs/zerolog"
)

// PeerIDLen is length of peer id field in bytes
const PeerIDLen = 20

// PeerID represents a peer ID.
type PeerID [PeerIDLen]byte

// ErrInvalidPeerIDSize holds error about invalid PeerID size
var ErrInvalidPeerIDSize = fmt.Errorf("peer ID must be %d bytes", PeerIDLen)

// NewPeerID creates a PeerID from a byte slice.
func NewPeerID(b []byte) (PeerID, error) {
	var p PeerID
	if len(b) != PeerIDLen {
		return p, ErrInvalidPeerIDSize
	}
	copy(p[:], b)
	return p, nil
}

// String implements fmt.Stringer, returning the base16 encoded PeerID.
func (p PeerID) String() string {
	return hex.EncodeToString(p[:])
}

// RawString returns a 20-byte string of the raw bytes of the ID.
func (p PeerID) RawString() string {
	return string(p[:])
}

// InfoHash represents an infohash.
type InfoHash string

const (
	// InfoHashV1Len is the same as sha1.Size
	InfoHashV1Len = sha1.Size
	// InfoHashV2Len is the size of a BEP-52 (SHA-256) info-hash.
	InfoHashV2Len = sha256simd.Size
	// NoneInfoHash is a dummy invalid InfoHash.
	NoneInfoHash InfoHash = ""
)

var (
	// ErrInvalidHashType holds error about invalid InfoHash input type
	ErrInvalidHashType = errors.New("info hash must be provided as byte slice or raw/hex string")
	// ErrInvalidHashSize holds error about invalid InfoHash size
	ErrInvalidHashSize = fmt.Errorf("info hash must be either %d (for torrent V1) or %d (V2) bytes", InfoHashV1Len, InfoHashV2Len)
	// ErrInvalidIP holds error about invalid (non-IPv4/IPv6) peer address
	ErrInvalidIP = errors.New("peer address is neither a valid IPv4 nor IPv6 address")
)

// TruncateV1 returns the truncated to 20-byte length InfoHash.
// If InfoHash is V2 (32 bytes), it is truncated to 20 bytes per BEP-52.
func (i InfoHash) TruncateV1() InfoHash {
	if len(i) == InfoHashV2Len {
		return i[:InfoHashV1Len]
	}
	return i
}

// NewInfoHash creates an InfoHash from a byte slice or raw/hex string.
func NewInfoHash(data any) (InfoHash, error) {
	if data == nil {
		return NoneInfoHash, ErrInvalidHashType
	}
	var ba []byte
	switch t := data.(type) {
	case [InfoHashV1Len]byte:
		ba = t[:]
	case [InfoHashV2Len]byte:
		ba = t[:]
	case []byte:
		ba = t
	case string:
		l := len(t)
		if l == InfoHashV1Len*2 || l == InfoHashV2Len*2 {
			var err error
			if ba, err = hex.DecodeString(t); err != nil {
				return NoneInfoHash, err
			}
		} else {
			ba = []byte(t)
		}
	default:
		return NoneInfoHash, ErrInvalidHashType
	}
	l := len(ba)
	if l != InfoHashV1Len && l != InfoHashV2Len {
		return NoneInfoHash, ErrInvalidHashSize
	}
	return InfoHash(ba), nil
}

// String implements fmt.Stringer, returning the base16 encoded InfoHash.
func (i InfoHash) String() string {
	return hex.EncodeToString([]byte(i))
}

// RawString returns a string of the raw bytes of the InfoHash.
func (i InfoHash) RawString() string {
	return string(i)
}

// Event represents an event done by a BitTorrent client.
type Event uint8

// Enumeration of Events.
const (
	None Event = iota
	Started
	Stopped
	Completed
)

// NewEvent parses an event as a string and returns the corresponding Event.
func NewEvent(eventStr string) (Event, error) {
	switch eventStr {
	case "", "empty":
		return None, nil
	case "started":
		return Started, nil
	case "stopped":
		return Stopped, nil
	case "completed":
		return Completed, nil
	}
	return None, ErrUnknownEvent
}

// ErrUnknownEvent is returned when an event string is not one of the four
// allowed values.
var ErrUnknownEvent = ClientError("unknown event")

func (e Event) String() string {
	switch e {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	default:
		return "empty"
	}
}

// Peer represents the connection details and bookkeeping state of a peer
// participating in a swarm, as described by its most recent announcement.
type Peer struct {
	ID PeerID
	netip.AddrPort

	Uploaded, Downloaded, Left uint64
	Event                      Event

	// Updated is the arrival time of the peer's most recent announcement.
	Updated time.Time
}

// PeerMinimumLen is the least allowed length of string serialized Peer
const PeerMinimumLen = PeerIDLen + 2 + net.IPv4len

// ErrInvalidPeerDataSize holds error about invalid Peer data size
var ErrInvalidPeerDataSize = fmt.Errorf("invalid peer data it must be at least %d bytes (PeerID + Port + IPv4)", PeerMinimumLen)

// NewPeer constructs a Peer from data serialized by Peer.RawString:
// PeerID[20by]Port[2by]net.IP[4/16by].
func NewPeer(data string) (Peer, error) {
	var peer Peer
	if len(data) < PeerMinimumLen {
		return peer, ErrInvalidPeerDataSize
	}
	b := []byte(data)
	peerID, err := NewPeerID(b[:PeerIDLen])
	if err == nil {
		if addr, isOk := netip.AddrFromSlice(b[PeerIDLen+2:]); isOk {
			peer = Peer{
				ID: peerID,
				AddrPort: netip.AddrPortFrom(
					addr.Unmap(),
					binary.BigEndian.Uint16(b[PeerIDLen:PeerIDLen+2]),
				),
			}
		} else {
			err = ErrInvalidIP
		}
	}

	return peer, err
}

// RawString generates a concatenation of PeerID, network port and IP address.
func (p Peer) RawString() string {
	ip := p.Addr()
	b := make([]byte, PeerIDLen+2+(ip.BitLen()/8))
	copy(b[:PeerIDLen], p.ID[:])
	binary.BigEndian.PutUint16(b[PeerIDLen:PeerIDLen+2], p.Port())
	copy(b[PeerIDLen+2:], ip.AsSlice())
	return string(b)
}

// Addr returns the peer's unmapped IP address.
func (p Peer) Addr() netip.Addr {
	return p.AddrPort.Addr().Unmap()
}

// Seeder reports whether the peer is a seeder: it has nothing left to
// download and has not sent a Stopped event.
func (p Peer) Seeder() bool {
	return p.Left == 0 && p.Event != Stopped
}

// Leecher reports whether the peer is a leecher, i.e. not a seeder.
func (p Peer) Leecher() bool {
	return !p.Seeder()
}

// MarshalZerologObject writes fields into a zerolog event.
func (p Peer) MarshalZerologObject(e *zerolog.Event) {
	e.Stringer("id", p.ID).
		Stringer("address", p.Addr()).
		Uint16("port", p.Port()).
		Uint64("uploaded", p.Uploaded).
		Uint64("downloaded", p.Downloaded).
		Uint64("left", p.Left).
		Stringer("event", p.Event).
		Time("updated", p.Updated)
}

// ClientError represents an error that should be exposed to the client over
// the BitTorrent protocol implementation.
type ClientError string

// Error implements the error interface for ClientError.
func (c ClientError) Error() string { return string(c) }
