package varinterval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/bittorrent"
)

func TestCheckConfig_Invalid(t *testing.T) {
	_, err := NewHook(Config{ModifyResponseProbability: 0, MaxIncreaseDelta: 10})
	require.ErrorIs(t, err, ErrInvalidModifyResponseProbability)

	_, err = NewHook(Config{ModifyResponseProbability: 0.5, MaxIncreaseDelta: 0})
	require.ErrorIs(t, err, ErrInvalidMaxIncreaseDelta)
}

func TestHandleAnnounce_AlwaysModifiesAtProbabilityOne(t *testing.T) {
	h, err := NewHook(Config{ModifyResponseProbability: 1, MaxIncreaseDelta: 5})
	require.NoError(t, err)

	req := &bittorrent.AnnounceRequest{InfoHash: "01234567890123456789"}
	resp := &bittorrent.AnnounceResponse{Interval: time.Minute}

	_, err = h.HandleAnnounce(context.Background(), req, resp)
	require.NoError(t, err)
	require.Greater(t, resp.Interval, time.Minute)
}

func TestHandleAnnounce_LeavesMinIntervalWhenNotConfigured(t *testing.T) {
	h, err := NewHook(Config{ModifyResponseProbability: 1, MaxIncreaseDelta: 5, ModifyMinInterval: false})
	require.NoError(t, err)

	req := &bittorrent.AnnounceRequest{InfoHash: "01234567890123456789"}
	resp := &bittorrent.AnnounceResponse{Interval: time.Minute, MinInterval: 30 * time.Second}

	_, err = h.HandleAnnounce(context.Background(), req, resp)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, resp.MinInterval)
}

func TestHandleScrape_NoOp(t *testing.T) {
	h, err := NewHook(Config{ModifyResponseProbability: 1, MaxIncreaseDelta: 5})
	require.NoError(t, err)

	resp := &bittorrent.ScrapeResponse{}
	_, err = h.HandleScrape(context.Background(), &bittorrent.ScrapeRequest{}, resp)
	require.NoError(t, err)
}
