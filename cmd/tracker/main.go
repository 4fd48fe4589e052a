// Command tracker runs an instance of the BitTorrent tracker described by
// this repository: it loads a YAML configuration file, wires the storage
// backend, middleware chain, and HTTP/UDP frontends it names, then serves
// until asked to stop.
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/dkbame/mactracker/auth"
	"github.com/dkbame/mactracker/ipresolver"
	"github.com/dkbame/mactracker/middleware"
	"github.com/dkbame/mactracker/pkg/conf"
	"github.com/dkbame/mactracker/pkg/events"
	"github.com/dkbame/mactracker/pkg/log"
	"github.com/dkbame/mactracker/pkg/metrics"
	"github.com/dkbame/mactracker/pkg/stop"
	"github.com/dkbame/mactracker/storage"
	"github.com/dkbame/mactracker/swarm"
	"github.com/dkbame/mactracker/tracker"
	"github.com/dkbame/mactracker/udpcookie"

	httpfrontend "github.com/dkbame/mactracker/frontend/http"
	udpfrontend "github.com/dkbame/mactracker/frontend/udp"

	// Side-effect imports: each registers itself with its package's driver
	// registry on init, so it can be named by a configuration file without
	// this command needing to know its concrete type.
	_ "github.com/dkbame/mactracker/middleware/torrentapproval"
	_ "github.com/dkbame/mactracker/middleware/varinterval"
	_ "github.com/dkbame/mactracker/storage/lmdb"
	_ "github.com/dkbame/mactracker/storage/memory"
	_ "github.com/dkbame/mactracker/storage/pg"
	_ "github.com/dkbame/mactracker/storage/redis"
)

var logger = log.NewLogger("main")

// Run holds every long-lived collaborator of a running tracker instance, so
// that it can be started and stopped as one unit.
type Run struct {
	configFilePath string
	store          storage.DataStorage
	sg             *stop.Group
}

// NewRun loads configFilePath and starts an instance of Run.
func NewRun(configFilePath string) (*Run, error) {
	r := &Run{configFilePath: configFilePath}
	return r, r.Start()
}

// Start reads the configuration file and brings up every collaborator it
// names: storage, authentication, the swarm registry, the announce/scrape
// service, its middleware chain, and the configured frontends.
func (r *Run) Start() error {
	f, err := conf.LoadFile(r.configFilePath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg := f.Tracker

	r.sg = stop.NewGroup()

	if cfg.MetricsAddr != "" {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("starting metrics server")
		r.sg.Add(metrics.NewServer(cfg.MetricsAddr))
	} else {
		logger.Info().Msg("metrics disabled, no metrics_addr configured")
	}

	mode, err := auth.ParseMode(cfg.Mode)
	if err != nil {
		return fmt.Errorf("parsing mode: %w", err)
	}

	logger.Info().Str("name", cfg.Storage.Name).Msg("starting storage")
	store, err := storage.NewDataStorage(cfg.Storage.Name, cfg.Storage.Config)
	if err != nil {
		return fmt.Errorf("creating storage: %w", err)
	}
	r.store = store

	if gc, ok := store.(storage.GCAware); ok {
		gc.ScheduleGC(5*time.Minute, 0)
	}
	if sa, ok := store.(storage.StatisticsAware); ok {
		sa.ScheduleStatisticsCollection(time.Minute)
	}

	preHooks, err := buildChain(cfg.PreHooks, store)
	if err != nil {
		return fmt.Errorf("building pre-hooks: %w", err)
	}
	postHooks, err := buildChain(cfg.PostHooks, store)
	if err != nil {
		return fmt.Errorf("building post-hooks: %w", err)
	}

	var externalIP netip.Addr
	if cfg.ExternalIP != "" {
		externalIP, err = netip.ParseAddr(cfg.ExternalIP)
		if err != nil {
			return fmt.Errorf("parsing external_ip: %w", err)
		}
	}
	resolver := ipresolver.New(cfg.IsBehindReverseProxy, externalIP)

	bus := events.New(1024, func(missed int) {
		logger.Warn().Int("missed", missed).Msg("event subscriber fell behind, events dropped")
	})
	registry := swarm.NewRegistry(bus)

	svc := &tracker.Service{
		Mode:      mode,
		Keys:      auth.NewKeyStore(store),
		Whitelist: auth.NewWhitelist(store),
		Resolver:  resolver,
		Registry:  registry,
		Policy: tracker.AnnouncePolicy{
			Interval:       time.Duration(cfg.AnnouncePolicy.IntervalSeconds) * time.Second,
			MinInterval:    time.Duration(cfg.AnnouncePolicy.MinIntervalSeconds) * time.Second,
			MaxNumWant:     uint32(cfg.AnnouncePolicy.MaxNumWant),
			DefaultNumWant: uint32(cfg.AnnouncePolicy.DefaultNumWant),
		},
		Bus: bus,
	}

	if cfg.HTTP.Addr != "" {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("starting HTTP frontend")
		fe := httpfrontend.New(httpfrontend.Config{
			Addr:         cfg.HTTP.Addr,
			ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
		}, svc, append(preHooks, postHooks...))
		go func() {
			if err := fe.ListenAndServe(); err != nil {
				logger.Error().Err(err).Msg("HTTP frontend stopped")
			}
		}()
		r.sg.Add(fe)
	}

	if cfg.UDP.Addr != "" {
		var secret udpcookie.Secret
		if _, err := rand.Read(secret[:]); err != nil {
			return fmt.Errorf("generating UDP cookie secret: %w", err)
		}
		banner := udpfrontend.NewBanner(
			cfg.UDP.BanThreshold,
			time.Duration(cfg.UDP.BanWindowSeconds)*time.Second,
			time.Duration(cfg.UDP.BanDurationSeconds)*time.Second,
		)
		disp := &udpfrontend.Dispatcher{
			Secret:         secret,
			CookieValidity: time.Duration(cfg.UDP.CookieValiditySec) * time.Second,
			Service:        svc,
			Banner:         banner,
			Bus:            bus,
		}
		logger.Info().Str("addr", cfg.UDP.Addr).Msg("starting UDP frontend")
		fe := udpfrontend.New(udpfrontend.Config{
			Addr:           cfg.UDP.Addr,
			Workers:        cfg.UDP.Workers,
			RequestTimeout: time.Duration(cfg.UDP.RequestTimeoutSec) * time.Second,
		}, disp)
		go func() {
			if err := fe.ListenAndServe(); err != nil {
				logger.Error().Err(err).Msg("UDP frontend stopped")
			}
		}()
		r.sg.Add(fe)
	}

	r.sg.Add(newMaintenance(registry, store, cfg))

	return nil
}

// buildChain constructs a middleware.Chain from a list of hook
// configurations, marshalling each hook's own options fragment back to YAML
// so the driver can decode it with whatever shape it expects.
func buildChain(hooks []conf.HookConfig, store storage.DataStorage) (middleware.Chain, error) {
	chain := make(middleware.Chain, 0, len(hooks))
	for _, h := range hooks {
		optionBytes, err := yaml.Marshal(map[string]any(h.Options))
		if err != nil {
			return nil, fmt.Errorf("marshalling options for hook %q: %w", h.Name, err)
		}
		hook, err := middleware.NewHook(h.Name, optionBytes, store)
		if err != nil {
			return nil, fmt.Errorf("building hook %q: %w", h.Name, err)
		}
		chain = append(chain, hook)
	}
	return chain, nil
}

// maintenance runs the periodic sweeps described by spec.md §4.10: eviction
// of inactive peers, the torrents they leave peerless, and a periodic
// flush of each swarm's completed-download counter through to the
// "torrents" storage context per spec.md §6.3.
type maintenance struct {
	closed chan struct{}
	done   chan struct{}
}

func newMaintenance(registry *swarm.Registry, store storage.DataStorage, cfg conf.Tracker) *maintenance {
	m := &maintenance{closed: make(chan struct{}), done: make(chan struct{})}

	peerInterval := time.Duration(cfg.Maintenance.InactivePeerIntervalSeconds) * time.Second
	peerTimeout := time.Duration(cfg.Maintenance.MaxPeerTimeoutSeconds) * time.Second
	torrentInterval := time.Duration(cfg.Maintenance.PeerlessTorrentIntervalSec) * time.Second
	flushInterval := time.Duration(cfg.Maintenance.CompletedStatFlushIntervalSec) * time.Second
	if peerInterval <= 0 {
		peerInterval = 5 * time.Minute
	}
	if peerTimeout <= 0 {
		peerTimeout = 30 * time.Minute
	}
	if torrentInterval <= 0 {
		torrentInterval = 30 * time.Minute
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}

	go func() {
		defer close(m.done)
		peerTicker := time.NewTicker(peerInterval)
		torrentTicker := time.NewTicker(torrentInterval)
		flushTicker := time.NewTicker(flushInterval)
		defer peerTicker.Stop()
		defer torrentTicker.Stop()
		defer flushTicker.Stop()
		for {
			select {
			case <-m.closed:
				return
			case now := <-peerTicker.C:
				removed := registry.RemoveInactivePeers(now.Add(-peerTimeout))
				logger.Debug().Uint64("removed", removed).Msg("swept inactive peers")
			case <-torrentTicker.C:
				removed := registry.RemovePeerlessTorrents(swarm.RetentionPolicy{
					RemovePeerlessTorrents:         cfg.RetainingPolicy.RemovePeerlessTorrents,
					PersistentTorrentCompletedStat: cfg.RetainingPolicy.PersistentTorrentCompletedStat,
				})
				logger.Debug().Uint64("removed", removed).Msg("swept peerless torrents")
			case <-flushTicker.C:
				n, err := flushCompletedStats(registry, store)
				if err != nil {
					logger.Error().Err(err).Msg("error occurred while flushing completed-download stats")
					continue
				}
				logger.Debug().Int("flushed", n).Msg("flushed completed-download stats")
			}
		}
	}()

	return m
}

// flushCompletedStats writes every known swarm's cumulative Downloaded
// counter through to the "torrents" storage context, so a restart (or
// another process sharing the same store) can recover it.
func flushCompletedStats(registry *swarm.Registry, store storage.DataStorage) (int, error) {
	counts := registry.DownloadedCounts()
	if len(counts) == 0 {
		return 0, nil
	}
	entries := make([]storage.Entry, 0, len(counts))
	for infoHash, downloaded := range counts {
		entries = append(entries, storage.Entry{Key: infoHash.RawString(), Value: int64(downloaded)})
	}
	if err := store.Put(storage.ContextTorrents, entries...); err != nil {
		return 0, err
	}
	return len(entries), nil
}

func (m *maintenance) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		defer close(c)
		close(m.closed)
		<-m.done
	}()
	return c.Result()
}

// Stop shuts down every collaborator started by Start. Frontends and the
// maintenance sweep stop first, then the storage backend, unless
// keepStorage is set, in which case the storage is left open.
func (r *Run) Stop(keepStorage bool) error {
	if errs := r.sg.Stop().Wait(); len(errs) != 0 {
		return combineErrors("stopping frontends and maintenance", errs)
	}
	if !keepStorage && r.store != nil {
		if stopper, ok := r.store.(stop.Stopper); ok {
			if errs := stopper.Stop().Wait(); len(errs) != 0 {
				return combineErrors("stopping storage", errs)
			}
		}
		r.store = nil
	}
	return nil
}

func combineErrors(prefix string, errs []error) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("%s: %s", prefix, strings.Join(msgs, "; "))
}

func main() {
	configFilePath := flag.String("config", "/etc/tracker.yaml", "location of configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	jsonLog := flag.Bool("json", false, "enable json logging")
	flag.Parse()

	if *jsonLog {
		log.SetJSON()
	}
	if *debug {
		log.SetDebug(true)
	}

	r, err := NewRun(*configFilePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start tracker")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down; received SIGINT/SIGTERM")
	if err := r.Stop(false); err != nil {
		logger.Fatal().Err(err).Msg("failed to shut down cleanly")
	}
}
