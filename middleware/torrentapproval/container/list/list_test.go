package list

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/bittorrent"
	"github.com/dkbame/mactracker/storage"
	"github.com/dkbame/mactracker/storage/memory"
)

func TestBuild_PopulatesFromHashList(t *testing.T) {
	st, err := memory.New(nil)
	require.NoError(t, err)

	confBytes := []byte("hash_list:\n  - \"3030303030303030303030303030303030303030\"\n")
	c, err := build(confBytes, st)
	require.NoError(t, err)

	ih, err := bittorrent.NewInfoHash([]byte("00000000000000000000"))
	require.NoError(t, err)
	require.True(t, c.Approved(ih))
}

func TestList_Invert(t *testing.T) {
	st, err := memory.New(nil)
	require.NoError(t, err)

	l := &List{Invert: true, Storage: st, StorageCtx: "ctx"}
	require.True(t, l.Approved(bittorrent.InfoHash("unlisted0000000000000")))

	require.NoError(t, st.Put("ctx", storage.Entry{Key: bittorrent.InfoHash("listed00000000000000").RawString(), Value: true}))
	require.False(t, l.Approved(bittorrent.InfoHash("listed00000000000000")))
}
