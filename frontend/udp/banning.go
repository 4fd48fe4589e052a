package udp

import (
	"net/netip"
	"sync"
	"time"
)

// Banner implements spec.md §4.11's rate limiting/banning: repeated
// malformed UDP traffic from a single source IP earns a temporary ban.
type Banner struct {
	Threshold int
	Window    time.Duration
	BanFor    time.Duration

	mu      sync.Mutex
	strikes map[netip.Addr][]time.Time
	banned  map[netip.Addr]time.Time // value is the ban's expiry
}

// NewBanner constructs a Banner. A source IP is banned once it has more
// than threshold malformed datagrams within window; the ban lasts banFor.
func NewBanner(threshold int, window, banFor time.Duration) *Banner {
	return &Banner{
		Threshold: threshold,
		Window:    window,
		BanFor:    banFor,
		strikes:   make(map[netip.Addr][]time.Time),
		banned:    make(map[netip.Addr]time.Time),
	}
}

// IsBanned reports whether addr is currently banned, as of now. An expired
// ban is cleared as a side effect.
func (b *Banner) IsBanned(addr netip.Addr, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	expiry, ok := b.banned[addr]
	if !ok {
		return false
	}
	if now.After(expiry) {
		delete(b.banned, addr)
		return false
	}
	return true
}

// RecordMalformed records a malformed datagram from addr at now, banning
// addr if the threshold is now exceeded within the window.
func (b *Banner) RecordMalformed(addr netip.Addr, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := now.Add(-b.Window)
	hits := b.strikes[addr]
	kept := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	b.strikes[addr] = kept

	if len(kept) > b.Threshold {
		b.banned[addr] = now.Add(b.BanFor)
		delete(b.strikes, addr)
	}
}
