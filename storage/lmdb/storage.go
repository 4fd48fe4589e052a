// Package lmdb implements storage.DataStorage over an embedded LMDB
// environment: each context named in spec.md §6.3 ("whitelist", "keys",
// "torrents") is its own named sub-database within one environment file,
// giving a single-process deployment durable storage with no external
// dependency to run.
package lmdb

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/PowerDNS/lmdb-go/lmdb"
	"github.com/rs/zerolog"

	"github.com/dkbame/mactracker/auth"
	"github.com/dkbame/mactracker/pkg/conf"
	"github.com/dkbame/mactracker/pkg/log"
	"github.com/dkbame/mactracker/pkg/metrics"
	"github.com/dkbame/mactracker/pkg/stop"
	"github.com/dkbame/mactracker/storage"
)

// Name is the name by which this driver is registered with storage.Conf.
const Name = "lmdb"

const (
	defaultMapSize = 1 << 30 // 1GiB
	dirPerm        = 0o755
)

var (
	logger = log.NewLogger(Name)

	errPathNotProvided = errors.New("lmdb: path not provided")
)

func init() {
	storage.RegisterBuilder(Name, builder)
}

func builder(icfg map[string]any) (storage.DataStorage, error) {
	var cfg Config
	if err := conf.MapConfig(icfg).Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return New(cfg)
}

// Config holds the configuration of an LMDB DataStorage driver.
type Config struct {
	Path    string `cfg:"path"`
	MapSize int64  `cfg:"map_size"`
}

// MarshalZerologObject writes configuration fields into a zerolog event.
func (cfg Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("path", cfg.Path).Int64("mapSize", cfg.MapSize)
}

// Validate sanity checks cfg and returns a copy with defaults applied,
// warning to the logger whenever a value is substituted.
func (cfg Config) Validate() (Config, error) {
	validCfg := cfg
	if len(cfg.Path) == 0 {
		return cfg, errPathNotProvided
	}
	if cfg.MapSize <= 0 {
		validCfg.MapSize = defaultMapSize
		logger.Warn().
			Str("name", "mapSize").
			Int64("provided", cfg.MapSize).
			Int64("default", validCfg.MapSize).
			Msg("falling back to default configuration")
	}
	return validCfg, nil
}

// New opens (creating if necessary) an LMDB environment at cfg.Path with
// one named sub-database per context.
func New(cfg Config) (storage.DataStorage, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, err
	}
	if err := env.SetMapSize(cfg.MapSize); err != nil {
		return nil, err
	}
	if err := env.SetMaxDBs(3); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Path, dirPerm); err != nil {
		return nil, err
	}
	if err := env.Open(cfg.Path, lmdb.NoTLS, dirPerm); err != nil {
		return nil, err
	}

	s := &store{Config: cfg, env: env, dbis: make(map[string]lmdb.DBI, 3), closed: make(chan struct{})}
	if err := env.Update(func(txn *lmdb.Txn) error {
		var err error
		if s.dbis[storage.ContextWhitelist], err = txn.OpenDBI(storage.ContextWhitelist, lmdb.Create); err != nil {
			return err
		}
		if s.dbis[storage.ContextKeys], err = txn.OpenDBI(storage.ContextKeys, lmdb.Create); err != nil {
			return err
		}
		if s.dbis[storage.ContextTorrents], err = txn.OpenDBI(storage.ContextTorrents, lmdb.Create); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = env.Close()
		return nil, err
	}

	return s, nil
}

type store struct {
	Config
	env    *lmdb.Env
	dbis   map[string]lmdb.DBI
	wg     sync.WaitGroup
	closed chan struct{}
}

func (s *store) dbi(ctxName string) (lmdb.DBI, error) {
	d, ok := s.dbis[ctxName]
	if !ok {
		return 0, fmt.Errorf("lmdb: unknown context %q", ctxName)
	}
	return d, nil
}

func encodeValue(ctxName string, v any) []byte {
	switch ctxName {
	case storage.ContextKeys:
		rec, _ := v.(auth.KeyRecord)
		if rec.ValidUntil.IsZero() {
			return nil
		}
		return []byte(strconv.FormatInt(rec.ValidUntil.Unix(), 10))
	case storage.ContextTorrents:
		completed, _ := v.(int64)
		return []byte(strconv.FormatInt(completed, 10))
	default:
		return []byte{1}
	}
}

func decodeValue(ctxName string, raw []byte) any {
	switch ctxName {
	case storage.ContextKeys:
		if len(raw) == 0 {
			return auth.KeyRecord{}
		}
		sec, _ := strconv.ParseInt(string(raw), 10, 64)
		return auth.KeyRecord{ValidUntil: time.Unix(sec, 0)}
	case storage.ContextTorrents:
		completed, _ := strconv.ParseInt(string(raw), 10, 64)
		return completed
	default:
		return true
	}
}

func (s *store) Put(ctxName string, entries ...storage.Entry) error {
	dbi, err := s.dbi(ctxName)
	if err != nil {
		return err
	}
	return s.env.Update(func(txn *lmdb.Txn) error {
		for _, e := range entries {
			if err := txn.Put(dbi, []byte(e.Key), encodeValue(ctxName, e.Value), 0); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *store) Contains(ctxName, key string) (bool, error) {
	dbi, err := s.dbi(ctxName)
	if err != nil {
		return false, err
	}
	found := false
	err = s.env.View(func(txn *lmdb.Txn) error {
		_, err := txn.Get(dbi, []byte(key))
		if err != nil {
			if lmdb.IsNotFound(err) {
				return nil
			}
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (s *store) Load(ctxName, key string) (any, error) {
	dbi, err := s.dbi(ctxName)
	if err != nil {
		return nil, err
	}
	var raw []byte
	err = s.env.View(func(txn *lmdb.Txn) error {
		v, err := txn.Get(dbi, []byte(key))
		if err != nil {
			return err
		}
		raw = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if lmdb.IsNotFound(err) {
			return nil, storage.ErrResourceDoesNotExist
		}
		return nil, err
	}
	return decodeValue(ctxName, raw), nil
}

func (s *store) Delete(ctxName string, keys ...string) error {
	dbi, err := s.dbi(ctxName)
	if err != nil {
		return err
	}
	return s.env.Update(func(txn *lmdb.Txn) error {
		for _, k := range keys {
			if err := txn.Del(dbi, []byte(k), nil); err != nil && !lmdb.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
}

func (s *store) Preservable() bool {
	return true
}

// ScheduleGC periodically deletes expired rows from the keys database.
// maxAge is unused since expiry is carried per-entry rather than derived
// from a fixed lifetime, but is accepted to satisfy storage.GCAware.
func (s *store) ScheduleGC(interval, _ time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-s.closed:
				return
			case <-t.C:
				start := time.Now()
				n, err := s.gcExpiredKeys()
				duration := time.Since(start)
				if err != nil {
					logger.Error().Err(err).Msg("error occurred while GC")
				} else {
					logger.Debug().Dur("timeTaken", duration).Int("removed", n).Msg("GC complete")
				}
				storage.PromGCDurationMilliseconds.Observe(float64(duration.Milliseconds()))
			}
		}
	}()
}

func (s *store) gcExpiredKeys() (int, error) {
	dbi := s.dbis[storage.ContextKeys]
	now := time.Now().Unix()
	var expired [][]byte
	err := s.env.View(func(txn *lmdb.Txn) error {
		cur, err := txn.OpenCursor(dbi)
		if err != nil {
			return err
		}
		defer cur.Close()
		op := lmdb.First
		for {
			k, v, err := cur.Get(nil, nil, op)
			if err != nil {
				if lmdb.IsNotFound(err) {
					return nil
				}
				return err
			}
			op = lmdb.Next
			if len(v) == 0 {
				continue
			}
			sec, err := strconv.ParseInt(string(v), 10, 64)
			if err == nil && sec < now {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if len(expired) == 0 {
		return 0, nil
	}
	err = s.env.Update(func(txn *lmdb.Txn) error {
		for _, k := range expired {
			if err := txn.Del(dbi, k, nil); err != nil && !lmdb.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
	return len(expired), err
}

// ScheduleStatisticsCollection periodically populates the shared
// whitelist/keys size gauges. It implements storage.StatisticsAware.
func (s *store) ScheduleStatisticsCollection(interval time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-s.closed:
				return
			case <-t.C:
				if !metrics.Enabled() {
					continue
				}
				wc, err := s.dbiSize(storage.ContextWhitelist)
				if err != nil {
					logger.Error().Err(err).Msg("error occurred while collecting storage statistics")
					continue
				}
				kc, err := s.dbiSize(storage.ContextKeys)
				if err != nil {
					logger.Error().Err(err).Msg("error occurred while collecting storage statistics")
					continue
				}
				storage.PromWhitelistSize.Set(float64(wc))
				storage.PromKeysSize.Set(float64(kc))
			}
		}
	}()
}

func (s *store) dbiSize(ctxName string) (int, error) {
	dbi := s.dbis[ctxName]
	var n int
	err := s.env.View(func(txn *lmdb.Txn) error {
		stat, err := txn.Stat(dbi)
		if err != nil {
			return err
		}
		n = int(stat.Entries)
		return nil
	})
	return n, err
}

// Ping verifies the environment is still usable.
func (s *store) Ping() error {
	return s.env.View(func(txn *lmdb.Txn) error {
		_, err := txn.Stat(s.dbis[storage.ContextWhitelist])
		return err
	})
}

// Stop waits for background GC/statistics goroutines to exit, then closes
// the LMDB environment.
func (s *store) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		defer close(c)
		close(s.closed)
		s.wg.Wait()
		if err := s.env.Close(); err != nil {
			c <- err
		}
	}()
	return c.Result()
}

func (s *store) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", Name).Object("config", s.Config)
}
