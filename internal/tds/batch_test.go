package tds

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSQLBatchAllHeadersPrefix(t *testing.T) {
	transport := new(bytes.Buffer)
	buf := NewBuffer(transport, PacketSizeDefault)

	require.NoError(t, WriteSQLBatch(buf, 0x0102030405060708, "select 1"))

	r := NewBuffer(transport, PacketSizeDefault)
	ptype, err := r.BeginRead()
	require.NoError(t, err)
	assert.Equal(t, PacketSQLBatch, ptype)

	header := r.Bytes(allHeadersSize)
	assert.Equal(t, uint32(allHeadersSize), binary.LittleEndian.Uint32(header[0:4]))
	assert.Equal(t, uint32(allHeadersSize-4), binary.LittleEndian.Uint32(header[4:8]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(header[8:10]))
	assert.Equal(t, uint64(0x0102030405060708), binary.LittleEndian.Uint64(header[10:18]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(header[18:22]))

	rest := make([]byte, r.Available())
	n, _ := r.ReadFull(rest)
	assert.Equal(t, len("select 1")*2, n)
}

func TestQuery2UTF16SurrogatePair(t *testing.T) {
	units := query2utf16("\U0001F600")
	require.Len(t, units, 2)
	assert.True(t, units[0] >= 0xD800 && units[0] <= 0xDBFF)
	assert.True(t, units[1] >= 0xDC00 && units[1] <= 0xDFFF)
}
