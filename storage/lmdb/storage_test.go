package lmdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/auth"
	"github.com/dkbame/mactracker/storage"
)

func TestConfig_ValidateRequiresPath(t *testing.T) {
	_, err := Config{}.Validate()
	require.ErrorIs(t, err, errPathNotProvided)
}

func TestConfig_ValidateDefaultsMapSize(t *testing.T) {
	cfg, err := Config{Path: t.TempDir()}.Validate()
	require.NoError(t, err)
	require.Equal(t, int64(defaultMapSize), cfg.MapSize)
}

func TestConfig_ValidateKeepsExplicitMapSize(t *testing.T) {
	cfg, err := Config{Path: t.TempDir(), MapSize: 1 << 20}.Validate()
	require.NoError(t, err)
	require.Equal(t, int64(1<<20), cfg.MapSize)
}

func TestEncodeDecodeValue_KeysRoundTrip(t *testing.T) {
	until := time.Now().Add(time.Hour).Truncate(time.Second)
	raw := encodeValue(storage.ContextKeys, auth.KeyRecord{ValidUntil: until})
	rec, ok := decodeValue(storage.ContextKeys, raw).(auth.KeyRecord)
	require.True(t, ok)
	require.True(t, rec.ValidUntil.Equal(until))
}

func TestEncodeDecodeValue_KeysNoExpiry(t *testing.T) {
	raw := encodeValue(storage.ContextKeys, auth.KeyRecord{})
	require.Nil(t, raw)
	rec, ok := decodeValue(storage.ContextKeys, raw).(auth.KeyRecord)
	require.True(t, ok)
	require.True(t, rec.ValidUntil.IsZero())
}

func TestEncodeDecodeValue_TorrentsRoundTrip(t *testing.T) {
	raw := encodeValue(storage.ContextTorrents, int64(7))
	require.Equal(t, int64(7), decodeValue(storage.ContextTorrents, raw))
}
