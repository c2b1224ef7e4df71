package tds

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scratch builds raw ENVCHANGE sub-message bytes (everything after the
// outer size prefix) using the same typed writers the wire format
// uses, without needing a real transport.
func scratch(fill func(*Buffer)) []byte {
	tmp := &Buffer{}
	fill(tmp)
	return tmp.wbuf
}

func writeEnvChangeToken(w *Buffer, body []byte) {
	w.WriteUint16(uint16(len(body)))
	w.WriteBytes(body)
}

func TestReadEnvChangesDatabase(t *testing.T) {
	body := scratch(func(b *Buffer) {
		b.WriteByte(EnvDatabase)
		b.WriteBVarChar("orders")
		b.WriteBVarChar("master")
	})

	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	writeEnvChangeToken(w, body)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	changes, err := ReadEnvChanges(r)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, EnvDatabase, changes[0].Type)
	assert.Equal(t, "orders", changes[0].NewValue)
}

func TestReadEnvChangesPacketSize(t *testing.T) {
	body := scratch(func(b *Buffer) {
		b.WriteByte(EnvPacketSize)
		b.WriteBVarChar("8192")
		b.WriteBVarChar("4096")
	})

	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	writeEnvChangeToken(w, body)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	changes, err := ReadEnvChanges(r)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, 8192, changes[0].PacketSize)
}

func TestReadEnvChangesRouting(t *testing.T) {
	body := scratch(func(b *Buffer) {
		b.WriteByte(EnvRouting)
		b.WriteUint16(0) // value length, unread
		b.WriteByte(0)   // protocol
		b.WriteUint16(1533)
		b.WriteUsVarChar("replica.internal")
		b.WriteUint16(0) // old value length
	})

	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	writeEnvChangeToken(w, body)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	changes, err := ReadEnvChanges(r)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "replica.internal", changes[0].RoutingServer)
	assert.Equal(t, uint16(1533), changes[0].RoutingPort)
}

func TestReadEnvChangesLanguage(t *testing.T) {
	body := scratch(func(b *Buffer) {
		b.WriteByte(EnvLanguage)
		b.WriteBVarChar("us_english")
		b.WriteBVarChar("")
	})

	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	writeEnvChangeToken(w, body)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	changes, err := ReadEnvChanges(r)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, EnvLanguage, changes[0].Type)
	assert.Equal(t, "us_english", changes[0].NewValue)
}

func TestReadEnvChangesSQLCollation(t *testing.T) {
	body := scratch(func(b *Buffer) {
		b.WriteByte(EnvSQLCollation)
		b.WriteByte(5)
		b.WriteBytes([]byte{0x09, 0x04, 0xD0, 0x00, 0x34})
		b.WriteBVarChar("")
	})

	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	writeEnvChangeToken(w, body)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	changes, err := ReadEnvChanges(r)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, EnvSQLCollation, changes[0].Type)
	assert.Equal(t, [5]byte{0x09, 0x04, 0xD0, 0x00, 0x34}, changes[0].Collation)
}

func TestReadEnvChangesBeginAndCommitTran(t *testing.T) {
	beginBody := scratch(func(b *Buffer) {
		b.WriteByte(EnvBeginTran)
		b.WriteByte(8)
		b.WriteUint64(0x0102030405060708)
		b.WriteByte(0)
	})
	commitBody := scratch(func(b *Buffer) {
		b.WriteByte(EnvCommitTran)
		b.WriteByte(0)
		b.WriteByte(0)
	})

	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	writeEnvChangeToken(w, beginBody)
	writeEnvChangeToken(w, commitBody)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	changes, err := ReadEnvChanges(r)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, EnvBeginTran, changes[0].Type)
	assert.Equal(t, uint64(0x0102030405060708), changes[0].TranID)

	changes2, err := ReadEnvChanges(r)
	require.NoError(t, err)
	require.Len(t, changes2, 1)
	assert.Equal(t, EnvCommitTran, changes2[0].Type)
}
