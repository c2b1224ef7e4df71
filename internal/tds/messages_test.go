package tds

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDone(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	w.WriteUint16(DoneCount | DoneFinal)
	w.WriteUint16(0)
	w.WriteUint64(7)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	d := ParseDone(r)
	assert.True(t, d.HasCount())
	assert.Equal(t, uint64(7), d.RowCount)
	assert.False(t, d.HasMore())
	assert.False(t, d.IsError())
}

func TestParseSQLMessage(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	w.WriteUint16(0) // length placeholder, unread by ParseSQLMessage
	w.WriteUint32(18456)
	w.WriteByte(1)
	w.WriteByte(14)
	w.WriteUsVarChar("Login failed")
	w.WriteBVarChar("myserver")
	w.WriteBVarChar("")
	w.WriteUint32(0)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	msg := ParseSQLMessage(r)
	assert.Equal(t, int32(18456), msg.Number)
	assert.Equal(t, byte(1), msg.State)
	assert.Equal(t, byte(14), msg.Class)
	assert.Equal(t, "Login failed", msg.Message)
	assert.Equal(t, "myserver", msg.ServerName)
}

func TestParseOrder(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	w.WriteUint16(4) // 2 column ids, 2 bytes each
	w.WriteUint16(1)
	w.WriteUint16(3)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	order := ParseOrder(r)
	assert.Equal(t, []uint16{1, 3}, order.ColIDs)
}
