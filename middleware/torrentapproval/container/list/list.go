// Package list implements a Container backed by a static, config-file
// list of torrent hashes.
package list

import (
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/middleware/torrentapproval/container"
	"github.com/dkbame/mactracker/pkg/log"
	"github.com/dkbame/mactracker/storage"
)

// Name is the name by which this container is registered.
const Name = "list"

var logger = log.NewLogger(Name)

func init() {
	container.Register(Name, build)
}

// Config represents the configuration for the list container.
type Config struct {
	HashList   []string `yaml:"hash_list"`
	Invert     bool     `yaml:"invert"`
	StorageCtx string   `yaml:"storage_ctx"`
}

const dummy = true

func build(confBytes []byte, st storage.DataStorage) (container.Container, error) {
	c := new(Config)
	if err := yaml.Unmarshal(confBytes, c); err != nil {
		return nil, fmt.Errorf("unable to deserialise configuration: %v", err)
	}
	l := &List{
		Invert:     c.Invert,
		Storage:    st,
		StorageCtx: c.StorageCtx,
	}

	if len(l.StorageCtx) == 0 {
		logger.Info().Str("default", container.DefaultStorageCtxName).Msg("storage context not set, using default value")
		l.StorageCtx = container.DefaultStorageCtxName
	}

	if len(c.HashList) > 0 {
		entries := make([]storage.Entry, 0, len(c.HashList))
		for _, hashString := range c.HashList {
			hashBytes, err := hex.DecodeString(hashString)
			if err != nil {
				return nil, fmt.Errorf("whitelist : invalid hash %s, %v", hashString, err)
			}
			ih, err := bittorrent.NewInfoHash(hashBytes)
			if err != nil {
				return nil, fmt.Errorf("whitelist : %s : %v", hashString, err)
			}
			entries = append(entries, storage.Entry{Key: ih.RawString(), Value: dummy})
		}
		if err := l.Storage.Put(l.StorageCtx, entries...); err != nil {
			return nil, fmt.Errorf("whitelist : failed to populate storage: %v", err)
		}
	}
	return l, nil
}

// List is a Container whose approval set is a fixed, config-loaded list of
// info-hashes, optionally inverted (deny-list instead of allow-list).
type List struct {
	Invert     bool
	Storage    storage.DataStorage
	StorageCtx string
}

// Approved reports whether hash is present in the list, XORed with Invert.
func (l *List) Approved(hash bittorrent.InfoHash) bool {
	b, _ := l.Storage.Contains(l.StorageCtx, hash.RawString())
	return b != l.Invert
}
