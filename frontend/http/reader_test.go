package http

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleQuery() url.Values {
	return url.Values{
		"info_hash":  {"01234567890123456789"},
		"peer_id":    {"abcdefghij0123456789"},
		"port":       {"6881"},
		"uploaded":   {"100"},
		"downloaded": {"200"},
		"left":       {"300"},
		"event":      {"started"},
	}
}

func TestParseAnnounceQuery_Valid(t *testing.T) {
	req, err := parseAnnounceQuery([]byte(sampleQuery().Encode()))
	require.NoError(t, err)
	require.Equal(t, uint16(6881), req.Port())
	require.EqualValues(t, 100, req.Uploaded)
	require.EqualValues(t, 200, req.Downloaded)
	require.EqualValues(t, 300, req.Left)
	require.True(t, req.EventProvided)
	require.True(t, req.Compact)
}

func TestParseAnnounceQuery_MissingInfoHash(t *testing.T) {
	q := sampleQuery()
	q.Del("info_hash")
	_, err := parseAnnounceQuery([]byte(q.Encode()))
	require.Error(t, err)
}

func TestParseAnnounceQuery_MissingPort(t *testing.T) {
	q := sampleQuery()
	q.Del("port")
	_, err := parseAnnounceQuery([]byte(q.Encode()))
	require.Error(t, err)
}

func TestParseAnnounceQuery_CompactExplicitlyOff(t *testing.T) {
	q := sampleQuery()
	q.Set("compact", "0")
	req, err := parseAnnounceQuery([]byte(q.Encode()))
	require.NoError(t, err)
	require.False(t, req.Compact)
}

func TestParseAnnounceQuery_NumWant(t *testing.T) {
	q := sampleQuery()
	q.Set("numwant", "25")
	req, err := parseAnnounceQuery([]byte(q.Encode()))
	require.NoError(t, err)
	require.True(t, req.NumWantProvided)
	require.EqualValues(t, 25, req.NumWant)
}

func TestParseScrapeQuery_MultipleHashes(t *testing.T) {
	q := url.Values{"info_hash": {"01234567890123456789", "abcdefghij0123456789"}}
	req, err := parseScrapeQuery([]byte(q.Encode()))
	require.NoError(t, err)
	require.Len(t, req.InfoHashes, 2)
}

func TestParseScrapeQuery_MissingInfoHash(t *testing.T) {
	_, err := parseScrapeQuery([]byte(""))
	require.Error(t, err)
}
