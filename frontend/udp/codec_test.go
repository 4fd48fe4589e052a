package udp

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dkbame/mactracker/bittorrent"
)

func buildConnectRequest(txn uint32) []byte {
	buf := make([]byte, connectRequestLen)
	binary.BigEndian.PutUint64(buf[0:8], protocolMagic)
	binary.BigEndian.PutUint32(buf[8:12], actionConnect)
	binary.BigEndian.PutUint32(buf[12:16], txn)
	return buf
}

func TestParseHeader_TooShortIsDropped(t *testing.T) {
	_, _, ok := parseHeader([]byte{1, 2, 3})
	require.False(t, ok)
}

func TestParseHeader_RecoversActionAndTxn(t *testing.T) {
	action, txn, ok := parseHeader(buildConnectRequest(42))
	require.True(t, ok)
	require.Equal(t, actionConnect, action)
	require.Equal(t, uint32(42), txn)
}

func TestDecodeAnnounceRequest_RoundTrip(t *testing.T) {
	buf := make([]byte, announceRequestLen)
	binary.BigEndian.PutUint64(buf[0:8], 12345)
	binary.BigEndian.PutUint32(buf[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(buf[12:16], 1)
	copy(buf[16:36], []byte("01234567890123456789"))
	copy(buf[36:56], []byte("abcdefghij0123456789"))
	binary.BigEndian.PutUint64(buf[56:64], 100)
	binary.BigEndian.PutUint64(buf[64:72], 200)
	binary.BigEndian.PutUint64(buf[72:80], 300)
	binary.BigEndian.PutUint32(buf[80:84], 2) // started
	binary.BigEndian.PutUint32(buf[88:92], 999)
	binary.BigEndian.PutUint32(buf[92:96], 0xFFFFFFFF) // -1: no numwant
	binary.BigEndian.PutUint16(buf[96:98], 6881)

	w := decodeAnnounceRequest(buf)
	require.Equal(t, uint64(12345), w.connectionID)
	require.Equal(t, bittorrent.InfoHash("01234567890123456789"), w.infoHash)
	require.Equal(t, uint64(100), w.downloaded)
	require.Equal(t, uint64(200), w.left)
	require.Equal(t, uint64(300), w.uploaded)
	require.Equal(t, bittorrent.Started, wireEvent(w.event))
	require.Equal(t, uint32(999), w.key)
	require.Equal(t, int32(-1), w.numWant)
	require.Equal(t, uint16(6881), w.port)
}

func TestDecodeScrapeInfoHashes_SplitsBlock(t *testing.T) {
	block := make([]byte, 40)
	copy(block[0:20], []byte("01234567890123456789"))
	copy(block[20:40], []byte("abcdefghij0123456789"))
	hashes := decodeScrapeInfoHashes(block)
	require.Len(t, hashes, 2)
	require.Equal(t, bittorrent.InfoHash("01234567890123456789"), hashes[0])
}

func TestSaturateInt32_ClampsOverflow(t *testing.T) {
	require.Equal(t, int32(1<<31-1), saturateInt32(1<<31))
	require.Equal(t, int32(5), saturateInt32(5))
}

func TestEncodeError_ContainsMessage(t *testing.T) {
	buf := encodeError(7, "bad request")
	require.Equal(t, actionError, binary.BigEndian.Uint32(buf[0:4]))
	require.Equal(t, uint32(7), binary.BigEndian.Uint32(buf[4:8]))
	require.Equal(t, "bad request", string(buf[8:]))
}

func TestEncodeConnectResponse_Shape(t *testing.T) {
	buf := encodeConnectResponse(3, 0xABCD)
	require.Len(t, buf, 16)
	require.Equal(t, actionConnect, binary.BigEndian.Uint32(buf[0:4]))
	require.Equal(t, uint64(0xABCD), binary.BigEndian.Uint64(buf[8:16]))
}
