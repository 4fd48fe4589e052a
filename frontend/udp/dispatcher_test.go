package udp

import (
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/auth"
	"github.com/dkbame/mactracker/ipresolver"
	"github.com/dkbame/mactracker/storage/memory"
	"github.com/dkbame/mactracker/swarm"
	"github.com/dkbame/mactracker/tracker"
	"github.com/dkbame/mactracker/udpcookie"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	st, err := memory.New(nil)
	require.NoError(t, err)

	var secret udpcookie.Secret
	copy(secret[:], "a-test-secret-that-is-32-bytes!")

	svc := &tracker.Service{
		Mode:      auth.Public,
		Keys:      auth.NewKeyStore(st),
		Whitelist: auth.NewWhitelist(st),
		Resolver:  ipresolver.New(false, netip.Addr{}),
		Registry:  swarm.NewRegistry(nil),
		Policy:    tracker.AnnouncePolicy{Interval: time.Minute, MinInterval: 30 * time.Second, MaxNumWant: 50, DefaultNumWant: 30},
	}
	return &Dispatcher{Secret: secret, CookieValidity: 2 * time.Minute, Service: svc}
}

func remote() netip.AddrPort {
	return netip.MustParseAddrPort("198.51.100.1:6881")
}

func TestDispatcher_ConnectIssuesCookie(t *testing.T) {
	d := newTestDispatcher(t)
	now := time.Now()
	resp := d.Handle(buildConnectRequest(1), remote(), now)
	require.NotNil(t, resp)
	require.Equal(t, actionConnect, binary.BigEndian.Uint32(resp[0:4]))
	require.Equal(t, uint32(1), binary.BigEndian.Uint32(resp[4:8]))
}

func TestDispatcher_AnnounceWithoutConnectFails(t *testing.T) {
	d := newTestDispatcher(t)
	now := time.Now()
	buf := buildAnnounceRequest(t, 0, 2, "01234567890123456789", "abcdefghij0123456789", 6881)
	resp := d.Handle(buf, remote(), now)
	require.NotNil(t, resp)
	require.Equal(t, actionError, binary.BigEndian.Uint32(resp[0:4]))
}

func TestDispatcher_AnnounceRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	now := time.Now()

	connectResp := d.Handle(buildConnectRequest(1), remote(), now)
	require.NotNil(t, connectResp)
	connID := binary.BigEndian.Uint64(connectResp[8:16])

	buf := buildAnnounceRequest(t, connID, 2, "01234567890123456789", "abcdefghij0123456789", 6881)
	resp := d.Handle(buf, remote(), now)
	require.NotNil(t, resp)
	require.Equal(t, actionAnnounce, binary.BigEndian.Uint32(resp[0:4]))
	require.Equal(t, uint32(2), binary.BigEndian.Uint32(resp[4:8]))
}

func TestDispatcher_MalformedTooShortIsDropped(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Handle([]byte{1, 2, 3}, remote(), time.Now())
	require.Nil(t, resp)
}

func TestDispatcher_BannedSourceIsDropped(t *testing.T) {
	d := newTestDispatcher(t)
	d.Banner = NewBanner(1, time.Minute, time.Minute)
	now := time.Now()

	d.Handle([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, remote(), now)
	d.Handle([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, remote(), now)

	resp := d.Handle(buildConnectRequest(9), remote(), now)
	require.Nil(t, resp)
}

func buildAnnounceRequest(t *testing.T, connID uint64, txn uint32, infoHash, peerID string, port uint16) []byte {
	t.Helper()
	buf := make([]byte, announceRequestLen)
	binary.BigEndian.PutUint64(buf[0:8], connID)
	binary.BigEndian.PutUint32(buf[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], txn)
	copy(buf[16:36], []byte(infoHash))
	copy(buf[36:56], []byte(peerID))
	binary.BigEndian.PutUint32(buf[92:96], 0xFFFFFFFF)
	binary.BigEndian.PutUint16(buf[96:98], port)
	return buf
}
