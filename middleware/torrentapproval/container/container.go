// Package container abstracts the source a torrentapproval middleware
// checks an info-hash against: a static config-file list today, possibly
// a remote API in the future.
package container

import (
	"fmt"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/storage"
)

// DefaultStorageCtxName is used when a Container's config does not name a
// storage context of its own.
const DefaultStorageCtxName = "torrentapproval_list"

// Container reports whether an info-hash is approved.
type Container interface {
	Approved(hash bittorrent.InfoHash) bool
}

// Builder constructs a Container from its own YAML configuration fragment
// and the shared persistent store.
type Builder func(confBytes []byte, store storage.DataStorage) (Container, error)

var builders = make(map[string]Builder)

// Register makes a Container Builder available under name. Concrete
// containers call this from an init() func.
func Register(name string, b Builder) {
	if _, dup := builders[name]; dup {
		panic("container: duplicate builder registered: " + name)
	}
	builders[name] = b
}

// Build constructs the Container registered under name.
func Build(name string, confBytes []byte, store storage.DataStorage) (Container, error) {
	b, ok := builders[name]
	if !ok {
		return nil, fmt.Errorf("container: unknown driver: %s", name)
	}
	return b(confBytes, store)
}
