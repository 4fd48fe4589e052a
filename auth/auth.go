// Package auth implements §4.4's authentication and whitelist policy: key
// validation against the persistent `keys` table and info-hash
// authorization against the persistent `whitelist` table, gated by the
// tracker's mode.
package auth

import (
	"errors"
	"time"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/storage"
)

// Mode is the tracker's operating mode.
type Mode uint8

// Mode constants, per spec.md §4.4.
const (
	Public Mode = iota
	Private
	Listed
	PrivateListed
)

// ParseMode parses a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "public":
		return Public, nil
	case "private":
		return Private, nil
	case "listed":
		return Listed, nil
	case "private_listed":
		return PrivateListed, nil
	default:
		return Public, errors.New("auth: unknown mode: " + s)
	}
}

// RequiresAuth reports whether m requires an authentication key.
func (m Mode) RequiresAuth() bool { return m == Private || m == PrivateListed }

// RequiresWhitelist reports whether m requires info-hash authorization.
func (m Mode) RequiresWhitelist() bool { return m == Listed || m == PrivateListed }

// Protocol-boundary errors, per spec.md §7.
var (
	ErrMissingAuthKey        = bittorrent.ClientError("authentication required")
	ErrUnknownKey            = bittorrent.ClientError("unknown authentication key")
	ErrTorrentNotWhitelisted = bittorrent.ClientError("unapproved torrent")
)

// KeyLen is the length of an opaque authentication key, per spec.md §3.
const KeyLen = 32

// KeyStore validates authentication keys against the `keys` table.
type KeyStore struct {
	store storage.DataStorage
}

// NewKeyStore wraps a DataStorage driver as a KeyStore.
func NewKeyStore(store storage.DataStorage) *KeyStore {
	return &KeyStore{store: store}
}

// KeyRecord is the value stored at a key's entry: an optional expiry.
// Exported so that out-of-process DataStorage drivers (storage/pg,
// storage/redis, storage/lmdb) can reconstruct it from their own columns on
// Load rather than round-tripping an opaque in-process value.
type KeyRecord struct {
	ValidUntil time.Time // zero means no expiry
}

// Validate reports whether key is present and not expired. A missing key
// and an expired key are both reported as ErrUnknownKey; callers that need
// to distinguish "no key supplied" use ErrMissingAuthKey themselves before
// calling Validate.
func (k *KeyStore) Validate(key string) error {
	v, err := k.store.Load(storage.ContextKeys, key)
	if err != nil {
		if errors.Is(err, storage.ErrResourceDoesNotExist) {
			return ErrUnknownKey
		}
		return err
	}
	rec, ok := v.(KeyRecord)
	if !ok {
		return ErrUnknownKey
	}
	if !rec.ValidUntil.IsZero() && time.Now().After(rec.ValidUntil) {
		return ErrUnknownKey
	}
	return nil
}

// Issue stores a new key with an optional expiry (zero time means it never
// expires).
func (k *KeyStore) Issue(key string, validUntil time.Time) error {
	return k.store.Put(storage.ContextKeys, storage.Entry{Key: key, Value: KeyRecord{ValidUntil: validUntil}})
}

// Revoke removes a key.
func (k *KeyStore) Revoke(key string) error {
	return k.store.Delete(storage.ContextKeys, key)
}

// Whitelist authorizes info-hashes against the `whitelist` table.
type Whitelist struct {
	store storage.DataStorage
}

// NewWhitelist wraps a DataStorage driver as a Whitelist.
func NewWhitelist(store storage.DataStorage) *Whitelist {
	return &Whitelist{store: store}
}

// Approved reports whether infoHash is present in the whitelist.
func (w *Whitelist) Approved(infoHash bittorrent.InfoHash) (bool, error) {
	return w.store.Contains(storage.ContextWhitelist, infoHash.RawString())
}

// Add inserts infoHash into the whitelist.
func (w *Whitelist) Add(infoHash bittorrent.InfoHash) error {
	return w.store.Put(storage.ContextWhitelist, storage.Entry{Key: infoHash.RawString(), Value: true})
}

// Remove deletes infoHash from the whitelist.
func (w *Whitelist) Remove(infoHash bittorrent.InfoHash) error {
	return w.store.Delete(storage.ContextWhitelist, infoHash.RawString())
}

// Authenticate runs the §4.4 authentication check for mode m: if m requires
// auth, a missing key fails with ErrMissingAuthKey and an invalid one fails
// with whatever KeyStore.Validate returns (ErrUnknownKey on absence or
// expiry). In modes that don't require auth, Authenticate is a no-op.
func Authenticate(m Mode, keys *KeyStore, providedKey string, keyProvided bool) error {
	if !m.RequiresAuth() {
		return nil
	}
	if !keyProvided || providedKey == "" {
		return ErrMissingAuthKey
	}
	return keys.Validate(providedKey)
}

// Authorize runs the §4.4 authorization check for mode m: if m requires a
// whitelist, an info-hash absent from it fails with
// ErrTorrentNotWhitelisted. In modes that don't require a whitelist,
// Authorize is a no-op.
func Authorize(m Mode, wl *Whitelist, infoHash bittorrent.InfoHash) error {
	if !m.RequiresWhitelist() {
		return nil
	}
	ok, err := wl.Approved(infoHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTorrentNotWhitelisted
	}
	return nil
}
