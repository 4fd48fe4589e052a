// Package storage defines the contract for the tracker's persistent-state
// collaborator: the whitelist, authentication keys, and cumulative
// completed-download counts named in spec.md §6.3. Live peer state is never
// persisted here — that lives entirely in package swarm.
package storage

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/pkg/metrics"
)

// Contexts used by the three persistent tables named in spec.md §6.3.
const (
	ContextWhitelist = "whitelist"
	ContextKeys      = "keys"
	ContextTorrents  = "torrents"
)

// ErrResourceDoesNotExist is returned by Load when the requested key is
// absent; Delete of an absent key is not an error.
var ErrResourceDoesNotExist = bittorrent.ClientError("resource does not exist")

// Entry is a single key/value pair written to a DataStorage context.
type Entry struct {
	Key   string
	Value any
}

// DataStorage is a generic key/value store scoped by context ("whitelist",
// "keys", "torrents"), backing the three tables of spec.md §6.3. Concrete
// drivers (storage/memory, storage/pg, storage/redis, storage/lmdb)
// implement it over different backends.
type DataStorage interface {
	// Put upserts one or more entries into ctx.
	Put(ctx string, entries ...Entry) error
	// Contains reports whether key is present in ctx.
	Contains(ctx string, key string) (bool, error)
	// Load returns the value stored at key in ctx, or ErrResourceDoesNotExist.
	Load(ctx string, key string) (any, error)
	// Delete removes one or more keys from ctx.
	Delete(ctx string, keys ...string) error
	// Preservable reports whether writes to this store survive a restart.
	Preservable() bool
}

// GCAware is implemented by drivers that can schedule their own periodic
// cleanup of expired keys.
type GCAware interface {
	ScheduleGC(interval, maxAge time.Duration)
}

// StatisticsAware is implemented by drivers that can periodically populate
// Prometheus gauges describing their own size.
type StatisticsAware interface {
	ScheduleStatisticsCollection(interval time.Duration)
}

// Prometheus collectors shared by every DataStorage driver's statistics
// collection, mirroring the teacher's storage.PromXxx pattern.
var (
	PromWhitelistSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "storage",
		Name:      "whitelist_size",
		Help:      "Number of info-hashes currently present in the whitelist.",
	})
	PromKeysSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracker",
		Subsystem: "storage",
		Name:      "keys_size",
		Help:      "Number of authentication keys currently present.",
	})
	PromGCDurationMilliseconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tracker",
		Subsystem: "storage",
		Name:      "gc_duration_milliseconds",
		Help:      "Duration of a persistent-storage GC sweep.",
	})
)

func init() {
	metrics.DefaultRegisterer.MustRegister(PromWhitelistSize, PromKeysSize, PromGCDurationMilliseconds)
}

// Builder constructs a DataStorage driver from its own configuration
// fragment.
type Builder func(cfg map[string]any) (DataStorage, error)

var builders = make(map[string]Builder)

// RegisterBuilder makes a DataStorage Builder available under name. Drivers
// call this from an init() func, matching the teacher's
// storage.RegisterBuilder pattern.
func RegisterBuilder(name string, b Builder) {
	if _, dup := builders[name]; dup {
		panic("storage: duplicate DataStorage builder registered: " + name)
	}
	builders[name] = b
}

// NewDataStorage constructs the DataStorage driver registered under name.
func NewDataStorage(name string, cfg map[string]any) (DataStorage, error) {
	b, ok := builders[name]
	if !ok {
		return nil, ErrUnknownDriver(name)
	}
	return b(cfg)
}

// ErrUnknownDriver is returned by NewDataStorage for an unregistered name.
type ErrUnknownDriver string

func (e ErrUnknownDriver) Error() string { return "storage: unknown driver: " + string(e) }
