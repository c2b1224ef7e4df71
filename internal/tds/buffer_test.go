package tds

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)

	w.StartMessage(PacketSQLBatch)
	w.WriteByte(0x42)
	w.WriteUint16(0x1234)
	w.WriteUint32(0xdeadbeef)
	w.WriteUint64(0x0102030405060708)
	w.WriteBytes([]byte("hello"))
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	ptype, err := r.BeginRead()
	require.NoError(t, err)
	assert.Equal(t, PacketSQLBatch, ptype)

	assert.Equal(t, byte(0x42), r.Byte())
	assert.Equal(t, uint16(0x1234), r.Uint16())
	assert.Equal(t, uint32(0xdeadbeef), r.Uint32())
	assert.Equal(t, uint64(0x0102030405060708), r.Uint64())
	assert.Equal(t, []byte("hello"), r.Bytes(5))
}

func TestBufferEndMessageFragmentsAcrossPackets(t *testing.T) {
	transport := new(bytes.Buffer)
	packetSize := HeaderSize + 16
	w := NewBuffer(transport, packetSize)

	payload := bytes.Repeat([]byte{0xAB}, 40)
	w.StartMessage(PacketSQLBatch)
	w.WriteBytes(payload)
	require.NoError(t, w.EndMessage())

	assert.True(t, transport.Len() > len(payload)+HeaderSize, "expected multiple packet headers in the wire bytes")

	r := NewBuffer(transport, packetSize)
	_, err := r.BeginRead()
	require.NoError(t, err)
	got := r.Bytes(len(payload))
	assert.Equal(t, payload, got)
}

func TestBufferReadReturnsEOFAtMessageEnd(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketPrelogin)
	w.WriteBytes([]byte{1, 2, 3})
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	var out []byte
	tmp := make([]byte, 2)
	for {
		n, err := r.Read(tmp)
		out = append(out, tmp[:n]...)
		if err != nil {
			assert.Equal(t, io.EOF, err)
			break
		}
	}
	assert.Equal(t, []byte{1, 2, 3}, out)
}

func TestBufferMarkAndReset(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketSQLBatch)
	w.WriteBytes([]byte{1, 2, 3, 4, 5})
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	assert.Equal(t, byte(1), r.Byte())
	mark := r.Mark()
	assert.Equal(t, byte(2), r.Byte())
	assert.Equal(t, byte(3), r.Byte())

	r.Reset(mark)
	assert.Equal(t, byte(2), r.Byte())
	r.ReleaseMark(mark)
}

func TestBufferSkip(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketSQLBatch)
	w.WriteBytes([]byte{1, 2, 3, 4, 5})
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)
	require.NoError(t, r.Skip(3))
	assert.Equal(t, byte(4), r.Byte())
}

func TestNewPlaintextBufferReadsWithoutTransport(t *testing.T) {
	b := NewPlaintextBuffer([]byte{0x01, 0x02, 0x03, 0x04})
	assert.Equal(t, uint32(0x04030201), b.Uint32())
}
