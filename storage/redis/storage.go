// Package redis implements storage.DataStorage over Redis, keeping each
// context ("whitelist", "keys", "torrents") named in spec.md §6.3 as its
// own hash, namespaced under PrefixKey so a tracker's keyspace can share a
// Redis instance with other applications.
package redis

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dkbame/mactracker/auth"
	"github.com/dkbame/mactracker/pkg/conf"
	"github.com/dkbame/mactracker/pkg/log"
	"github.com/dkbame/mactracker/pkg/metrics"
	"github.com/dkbame/mactracker/pkg/stop"
	"github.com/dkbame/mactracker/storage"
)

const (
	// Name is the name by which this driver is registered with storage.Conf.
	Name = "redis"

	defaultAddress        = "127.0.0.1:6379"
	defaultReadTimeout    = 15 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultConnectTimeout = 15 * time.Second

	// PrefixKey is prepended to every context's hash key.
	PrefixKey = "CHI_"
)

var (
	logger = log.NewLogger(Name)

	errSentinelAndClusterSet = errors.New("redis: unable to use both cluster and sentinel mode")
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

// Config holds the configuration of a Redis DataStorage driver. It mirrors
// the teacher's cluster/sentinel/single-node shape.
type Config struct {
	Addresses      []string
	DB             int
	PoolSize       int `cfg:"pool_size"`
	Login          string
	Password       string
	Sentinel       bool
	SentinelMaster string `cfg:"sentinel_master"`
	Cluster        bool
	ReadTimeout    time.Duration `cfg:"read_timeout"`
	WriteTimeout   time.Duration `cfg:"write_timeout"`
	ConnectTimeout time.Duration `cfg:"connect_timeout"`
}

// MarshalZerologObject writes configuration fields into a zerolog event,
// redacting the password.
func (cfg Config) MarshalZerologObject(e *zerolog.Event) {
	e.Strs("addresses", cfg.Addresses).
		Int("db", cfg.DB).
		Bool("cluster", cfg.Cluster).
		Bool("sentinel", cfg.Sentinel).
		Str("password", "<hidden>")
}

// Validate sanity checks values set in a config and returns a new config
// with default values replacing anything unset, warning to the logger
// whenever a value is substituted.
func (cfg Config) Validate() (Config, error) {
	if cfg.Sentinel && cfg.Cluster {
		return cfg, errSentinelAndClusterSet
	}

	validCfg := cfg

	addresses := make([]string, 0, len(cfg.Addresses))
	for _, a := range cfg.Addresses {
		if len(strings.TrimSpace(a)) > 0 {
			addresses = append(addresses, a)
		}
	}
	validCfg.Addresses = addresses
	if len(validCfg.Addresses) == 0 {
		validCfg.Addresses = []string{defaultAddress}
		logger.Warn().
			Str("name", "addresses").
			Strs("provided", cfg.Addresses).
			Strs("default", validCfg.Addresses).
			Msg("falling back to default configuration")
	}

	if cfg.ReadTimeout <= 0 {
		validCfg.ReadTimeout = defaultReadTimeout
		logger.Warn().Str("name", "readTimeout").Dur("default", validCfg.ReadTimeout).Msg("falling back to default configuration")
	}
	if cfg.WriteTimeout <= 0 {
		validCfg.WriteTimeout = defaultWriteTimeout
		logger.Warn().Str("name", "writeTimeout").Dur("default", validCfg.WriteTimeout).Msg("falling back to default configuration")
	}
	if cfg.ConnectTimeout <= 0 {
		validCfg.ConnectTimeout = defaultConnectTimeout
		logger.Warn().Str("name", "connectTimeout").Dur("default", validCfg.ConnectTimeout).Msg("falling back to default configuration")
	}

	return validCfg, nil
}

// connect builds a redis.UniversalClient for cfg's cluster/sentinel/single
// mode and verifies connectivity with a Ping.
func (cfg Config) connect() (redis.UniversalClient, error) {
	var rc redis.UniversalClient
	switch {
	case cfg.Cluster:
		rc = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Username:     cfg.Login,
			Password:     cfg.Password,
			DialTimeout:  cfg.ConnectTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
		})
	case cfg.Sentinel:
		rc = redis.NewFailoverClient(&redis.FailoverOptions{
			SentinelAddrs:    cfg.Addresses,
			SentinelUsername: cfg.Login,
			SentinelPassword: cfg.Password,
			MasterName:       cfg.SentinelMaster,
			DialTimeout:      cfg.ConnectTimeout,
			ReadTimeout:      cfg.ReadTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			PoolSize:         cfg.PoolSize,
			DB:               cfg.DB,
		})
	default:
		rc = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Username:     cfg.Login,
			Password:     cfg.Password,
			DialTimeout:  cfg.ConnectTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			PoolSize:     cfg.PoolSize,
			DB:           cfg.DB,
		})
	}
	if err := rc.Ping(context.Background()).Err(); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

// New connects to Redis and returns a storage.DataStorage backed by one
// hash per context.
func New(cfg Config) (storage.DataStorage, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	rc, err := cfg.connect()
	if err != nil {
		return nil, err
	}
	return &store{Config: cfg, client: rc, closed: make(chan struct{})}, nil
}

type store struct {
	Config
	client redis.UniversalClient
	wg     sync.WaitGroup
	closed chan struct{}
}

func hashKey(ctxName string) string {
	return PrefixKey + ctxName
}

// encodeValue turns a storage.Entry's Value into the string go-redis
// stores in a hash field, so Load can reverse it per-context.
func encodeValue(ctxName string, v any) string {
	switch ctxName {
	case storage.ContextKeys:
		rec, _ := v.(auth.KeyRecord)
		if rec.ValidUntil.IsZero() {
			return ""
		}
		return strconv.FormatInt(rec.ValidUntil.Unix(), 10)
	case storage.ContextTorrents:
		completed, _ := v.(int64)
		return strconv.FormatInt(completed, 10)
	default:
		return "1"
	}
}

func decodeValue(ctxName, raw string) any {
	switch ctxName {
	case storage.ContextKeys:
		if raw == "" {
			return auth.KeyRecord{}
		}
		sec, _ := strconv.ParseInt(raw, 10, 64)
		return auth.KeyRecord{ValidUntil: time.Unix(sec, 0)}
	case storage.ContextTorrents:
		completed, _ := strconv.ParseInt(raw, 10, 64)
		return completed
	default:
		return true
	}
}

func (s *store) Put(ctxName string, entries ...storage.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	fields := make(map[string]any, len(entries))
	for _, e := range entries {
		fields[e.Key] = encodeValue(ctxName, e.Value)
	}
	return s.client.HSet(context.Background(), hashKey(ctxName), fields).Err()
}

func (s *store) Contains(ctxName, key string) (bool, error) {
	return s.client.HExists(context.Background(), hashKey(ctxName), key).Result()
}

func (s *store) Load(ctxName, key string) (any, error) {
	raw, err := s.client.HGet(context.Background(), hashKey(ctxName), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrResourceDoesNotExist
		}
		return nil, err
	}
	return decodeValue(ctxName, raw), nil
}

func (s *store) Delete(ctxName string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.HDel(context.Background(), hashKey(ctxName), keys...).Err()
}

func (s *store) Preservable() bool {
	return true
}

// ScheduleGC periodically deletes expired rows from the keys hash.
// maxAge is unused since expiry is carried per-field rather than derived
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
	ctx := context.Background()
	all, err := s.client.HGetAll(ctx, hashKey(storage.ContextKeys)).Result()
	if err != nil {
		return 0, err
	}
	now := time.Now().Unix()
	var expired []string
	for key, raw := range all {
		if raw == "" {
			continue
		}
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && sec < now {
			expired = append(expired, key)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := s.client.HDel(ctx, hashKey(storage.ContextKeys), expired...).Err(); err != nil {
		return 0, err
	}
	return len(expired), nil
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
				ctx := context.Background()
				wc, err := s.client.HLen(ctx, hashKey(storage.ContextWhitelist)).Result()
				if err != nil {
					logger.Error().Err(err).Msg("error occurred while collecting storage statistics")
					continue
				}
				kc, err := s.client.HLen(ctx, hashKey(storage.ContextKeys)).Result()
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

// Ping verifies connectivity to Redis.
func (s *store) Ping() error {
	return s.client.Ping(context.Background()).Err()
}

// Stop closes the Redis client and waits for background GC/statistics
// goroutines to exit.
func (s *store) Stop() stop.Result {
	c := make(stop.Channel)
	go func() {
		defer close(c)
		close(s.closed)
		s.wg.Wait()
		if err := s.client.Close(); err != nil {
			c <- err
		}
	}()
	return c.Result()
}

func (s *store) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", Name).Object("config", s.Config)
}
