// Package random derives request-stable pseudo-random state, so that a
// middleware like varinterval makes the same jitter decision for the same
// client/info-hash pair on every announce rather than flapping on each
// request.
package random

import (
	"encoding/binary"

	"github.com/dkbame/mactracker/bittorrent"
)

// DeriveEntropyFromRequest generates 2*64 bits of pseudo random state from an
// AnnounceRequest.
//
// Calling DeriveEntropyFromRequest multiple times yields the same values.
func DeriveEntropyFromRequest(req *bittorrent.AnnounceRequest) (v0 uint64, v1 uint64) {
	if len(req.InfoHash) >= bittorrent.InfoHashV1Len {
		v0 = binary.BigEndian.Uint64([]byte(req.InfoHash[:8])) + binary.BigEndian.Uint64([]byte(req.InfoHash[8:16]))
	}
	v1 = binary.BigEndian.Uint64(req.Peer.ID[:8]) + binary.BigEndian.Uint64(req.Peer.ID[8:16])
	return
}

// Intn advances the xorshift128+ state (s0, s1) one step and returns a
// value in [0, n) derived from it, along with the advanced state so a
// caller can draw several values from one seed.
func Intn(s0, s1 uint64, n int) (v int, ns0, ns1 uint64) {
	if n <= 0 {
		return 0, s0, s1
	}
	x := s0
	y := s1
	ns0 = y
	x ^= x << 23
	x ^= x >> 17
	x ^= y ^ (y >> 26)
	ns1 = x
	return int((x + y) % uint64(n)), ns0, ns1
}
