package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/storage"
)

func TestStore_PutLoadContainsDelete(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	ok, err := s.Contains(storage.ContextKeys, "abc")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Load(storage.ContextKeys, "abc")
	require.ErrorIs(t, err, storage.ErrResourceDoesNotExist)

	require.NoError(t, s.Put(storage.ContextKeys, storage.Entry{Key: "abc", Value: 1}))
	ok, err = s.Contains(storage.ContextKeys, "abc")
	require.NoError(t, err)
	require.True(t, ok)

	v, err := s.Load(storage.ContextKeys, "abc")
	require.NoError(t, err)
	require.Equal(t, 1, v)

	require.NoError(t, s.Delete(storage.ContextKeys, "abc"))
	ok, err = s.Contains(storage.ContextKeys, "abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_ContextsAreIsolated(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, s.Put(storage.ContextWhitelist, storage.Entry{Key: "h", Value: true}))
	ok, err := s.Contains(storage.ContextKeys, "h")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStore_Preservable(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)
	require.False(t, s.Preservable())
}

func TestStore_PutMultipleEntries(t *testing.T) {
	s, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, s.Put(storage.ContextTorrents,
		storage.Entry{Key: "a", Value: uint32(1)},
		storage.Entry{Key: "b", Value: uint32(2)},
	))

	va, err := s.Load(storage.ContextTorrents, "a")
	require.NoError(t, err)
	require.Equal(t, uint32(1), va)

	vb, err := s.Load(storage.ContextTorrents, "b")
	require.NoError(t, err)
	require.Equal(t, uint32(2), vb)
}
