package tds

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMarshalParseRoundTrip(t *testing.T) {
	h := Header{Type: PacketLogon70, Status: StatusEOM, Length: 42, SPID: 7, Seq: 3, Window: 0}
	buf := h.marshal()
	require.Len(t, buf, HeaderSize)

	got, err := parseHeader(buf, PacketSizeDefault)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseHeaderRejectsOutOfRangeLength(t *testing.T) {
	h := Header{Type: PacketLogon70, Length: uint16(PacketSizeDefault + 100), SPID: 0}
	buf := h.marshal()
	_, err := parseHeader(buf, PacketSizeDefault)
	assert.Error(t, err)
}

func TestParseHeaderRejectsShortBuffer(t *testing.T) {
	_, err := parseHeader([]byte{1, 2, 3}, PacketSizeDefault)
	assert.Error(t, err)
}

func TestReadWriteOnePacketRoundTrip(t *testing.T) {
	transport := new(bytes.Buffer)
	hdr := Header{Type: PacketSQLBatch, Status: StatusEOM, SPID: 5, Seq: 1}
	payload := []byte("select 1")

	require.NoError(t, writeOnePacket(transport, hdr, payload))

	gotHdr, gotPayload, err := readOnePacket(transport, PacketSizeDefault)
	require.NoError(t, err)
	assert.Equal(t, payload, gotPayload)
	assert.Equal(t, hdr.Type, gotHdr.Type)
	assert.Equal(t, hdr.SPID, gotHdr.SPID)
	assert.True(t, gotHdr.IsEOM())
}

func TestChainMarkKeepsSlotsAliveUntilReleased(t *testing.T) {
	c := newChain()
	a := c.append(Header{Status: 0}, []byte{1})
	b := c.append(Header{Status: StatusEOM}, []byte{2})

	c.mark(a)
	c.reclaim(b)
	assert.True(t, c.slots[a].live)

	c.release(a)
	c.reclaim(b)
	assert.False(t, c.slots[a].live)
}
