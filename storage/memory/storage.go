// Package memory implements the storage.DataStorage contract entirely
// in-process, grounded on the teacher's registered-builder convention
// (storage.RegisterBuilder) seen in storage/pg. It never survives a
// restart and is intended for development and for the default
// configuration of small single-process deployments.
package memory

import (
	"sync"
	"time"

	"github.com/dkbame/mactracker/pkg/log"
	"github.com/dkbame/mactracker/storage"
)

// Name is the name by which this driver is registered with storage.Conf.
const Name = "memory"

var logger = log.NewLogger(Name)

func init() {
	storage.RegisterBuilder(Name, builder)
}

func builder(icfg map[string]any) (storage.DataStorage, error) {
	return New(icfg)
}

// New constructs an in-memory DataStorage. cfg is accepted for symmetry
// with the other drivers but is currently unused.
func New(_ map[string]any) (storage.DataStorage, error) {
	return &store{contexts: make(map[string]map[string]any)}, nil
}

type store struct {
	mu       sync.RWMutex
	contexts map[string]map[string]any
}

func (s *store) ctx(name string) map[string]any {
	c, ok := s.contexts[name]
	if !ok {
		c = make(map[string]any)
		s.contexts[name] = c
	}
	return c
}

func (s *store) Put(ctxName string, entries ...storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.ctx(ctxName)
	for _, e := range entries {
		c[e.Key] = e.Value
	}
	return nil
}

func (s *store) Contains(ctxName, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.contexts[ctxName][key]
	return ok, nil
}

func (s *store) Load(ctxName, key string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.contexts[ctxName][key]
	if !ok {
		return nil, storage.ErrResourceDoesNotExist
	}
	return v, nil
}

func (s *store) Delete(ctxName string, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[ctxName]
	if !ok {
		return nil
	}
	for _, k := range keys {
		delete(c, k)
	}
	return nil
}

func (s *store) Preservable() bool { return false }

// ScheduleStatisticsCollection periodically populates the shared
// whitelist/keys size gauges. It implements storage.StatisticsAware.
func (s *store) ScheduleStatisticsCollection(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			s.mu.RLock()
			storage.PromWhitelistSize.Set(float64(len(s.contexts[storage.ContextWhitelist])))
			storage.PromKeysSize.Set(float64(len(s.contexts[storage.ContextKeys])))
			s.mu.RUnlock()
			logger.Debug().Msg("collected in-memory storage statistics")
		}
	}()
}
