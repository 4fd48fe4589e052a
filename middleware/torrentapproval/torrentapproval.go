// Package torrentapproval implements a middleware.Hook that rejects
// announces for info-hashes not approved by a configured container (see
// container/list for the static, config-file-driven implementation). This
// is a deployment-time alternative to the storage-table-backed
// auth.Whitelist used by package tracker's listed/private_listed modes:
// where auth.Whitelist supports runtime mutation through the keys/
// whitelist tables, this middleware is for a whitelist baked into the
// tracker's own configuration file.
package torrentapproval

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/middleware"
	"github.com/dkbame/mactracker/middleware/torrentapproval/container"
	"github.com/dkbame/mactracker/storage"
)

// Name is the name by which this middleware is registered with Conf.
const Name = "torrent approval"

func init() {
	middleware.RegisterDriver(Name, driver{})
}

type driver struct{}

// Config represents the configuration for the torrentapproval middleware.
// ContainerConfig is re-marshalled back to YAML bytes before being handed
// to the chosen container's own Builder, since a container's config shape
// is opaque to this package.
type Config struct {
	Container       string         `yaml:"container"`
	ContainerConfig map[string]any `yaml:"container_config"`
}

func (d driver) NewHook(optionBytes []byte, store storage.DataStorage) (middleware.Hook, error) {
	var cfg Config
	if err := yaml.Unmarshal(optionBytes, &cfg); err != nil {
		return nil, fmt.Errorf("invalid options for middleware %s: %w", Name, err)
	}

	containerConfBytes, err := yaml.Marshal(cfg.ContainerConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid container_config for middleware %s: %w", Name, err)
	}

	c, err := container.Build(cfg.Container, containerConfBytes, store)
	if err != nil {
		return nil, err
	}
	return &hook{container: c}, nil
}

// ErrTorrentUnapproved is surfaced when an announced info-hash is not
// approved by the configured container.
var ErrTorrentUnapproved = bittorrent.ClientError("unapproved torrent")

type hook struct {
	container container.Container
}

func (h *hook) HandleAnnounce(ctx context.Context, req *bittorrent.AnnounceRequest, _ *bittorrent.AnnounceResponse) (context.Context, error) {
	if !h.container.Approved(req.InfoHash) {
		return ctx, ErrTorrentUnapproved
	}
	return ctx, nil
}

func (h *hook) HandleScrape(ctx context.Context, req *bittorrent.ScrapeRequest, resp *bittorrent.ScrapeResponse) (context.Context, error) {
	for i, infoHash := range req.InfoHashes {
		if !h.container.Approved(infoHash) && i < len(resp.Files) {
			resp.Files[i] = bittorrent.Scrape{InfoHash: infoHash}
		}
	}
	return ctx, nil
}
