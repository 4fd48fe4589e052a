package torrentapproval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/bittorrent"
	_ "github.com/dkbame/mactracker/middleware/torrentapproval/container/list"
	"github.com/dkbame/mactracker/storage/memory"
)

func TestNewHook_RejectsUnapproved(t *testing.T) {
	st, err := memory.New(nil)
	require.NoError(t, err)

	d := driver{}
	h, err := d.NewHook([]byte("container: list\n"), st)
	require.NoError(t, err)

	req := &bittorrent.AnnounceRequest{InfoHash: bittorrent.InfoHash("unlisted0000000000000")}
	_, err = h.HandleAnnounce(context.Background(), req, &bittorrent.AnnounceResponse{})
	require.ErrorIs(t, err, ErrTorrentUnapproved)
}

func TestNewHook_ApprovesListed(t *testing.T) {
	st, err := memory.New(nil)
	require.NoError(t, err)

	confBytes := []byte("container: list\ncontainer_config:\n  hash_list:\n    - \"3030303030303030303030303030303030303030\"\n")
	d := driver{}
	h, err := d.NewHook(confBytes, st)
	require.NoError(t, err)

	req := &bittorrent.AnnounceRequest{InfoHash: bittorrent.InfoHash("00000000000000000000")}
	_, err = h.HandleAnnounce(context.Background(), req, &bittorrent.AnnounceResponse{})
	require.NoError(t, err)
}
