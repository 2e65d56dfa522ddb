package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDatagram(t *testing.T) {
	msgHeader := "\x00\x00\x02\x00\x00\x00\x00\x00"
	input := []byte(msgHeader +
		"\x00\x00\x01\x8A\xA7\xA9\xE9\x48" + "\x00\x00\x01\x58" + "\x03" + "\x01" + "\x00\x08" + "\x00\x00\x00\x00\x80\xFF\x7F\x78" +
		"\x00\x00\x00\x00\x00\x00\x00\x01" + "\x00\x00\x00\x64" + "\x00" + "\x00" + "\x00\x01" + "\xAA")

	pdus, err := DecodeDatagram(input, 42)
	require.NoError(t, err)
	require.Len(t, pdus, 2)

	assert.Equal(t, uint64(0x0000018AA7A9E948), pdus[0].UdpTimeStamp)
	assert.Equal(t, uint32(0x158), pdus[0].CanId)
	assert.Equal(t, uint8(3), pdus[0].BusId)
	assert.Equal(t, uint8(SDPESend), pdus[0].Direction)
	assert.Equal(t, uint16(8), pdus[0].PayloadLen)
	assert.Equal(t, []byte{0, 0, 0, 0, 0x80, 0xFF, 0x7F, 0x78}, pdus[0].Payload)
	assert.Equal(t, int64(42), pdus[0].Timestamp)

	assert.Equal(t, uint32(100), pdus[1].CanId)
	assert.Equal(t, []byte{0xAA}, pdus[1].Payload)
}

func TestDecodeDatagramErrors(t *testing.T) {
	_, err := DecodeDatagram([]byte{0, 0, 2}, 0)
	require.ErrorIs(t, err, ErrShortDatagram)

	_, err = DecodeDatagram([]byte("\x00\x00\x01\x00\x00\x00\x00\x00\x00"), 0)
	require.ErrorIs(t, err, ErrUnknownMsgType)

	good := EncodeDatagram([]PDU{{CanId: 1, Payload: []byte{1, 2}}})
	truncated := append(good, EncodeDatagram([]PDU{{CanId: 2, Payload: []byte{1, 2, 3}}})[HeaderLen:]...)
	truncated = truncated[:len(truncated)-1]

	pdus, err := DecodeDatagram(truncated, 0)
	require.ErrorIs(t, err, ErrTruncatedPDU)
	require.Len(t, pdus, 1)
	assert.Equal(t, uint32(1), pdus[0].CanId)

	_, err = DecodeDatagram(append(good, 0x01), 0)
	require.ErrorIs(t, err, ErrTruncatedPDU)
}

func TestEncodeDatagramRoundTrip(t *testing.T) {
	in := []PDU{
		{UdpTimeStamp: 7, CanId: 0x18FF0015, BusId: 2, Direction: SDPERecv, Payload: []byte{1, 2, 3}},
		{UdpTimeStamp: 8, CanId: 0x100, BusId: 1, Direction: SDPESend, Payload: []byte{}},
	}

	out, err := DecodeDatagram(EncodeDatagram(in), 99)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].CanId, out[i].CanId)
		assert.Equal(t, in[i].BusId, out[i].BusId)
		assert.Equal(t, in[i].Direction, out[i].Direction)
		assert.Equal(t, uint16(len(in[i].Payload)), out[i].PayloadLen)
		assert.Equal(t, in[i].Payload, out[i].Payload)
	}
}
