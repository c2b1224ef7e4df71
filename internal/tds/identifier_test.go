package tds

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLIdentifierFourParts(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	w.WriteByte(4)
	w.WriteUsVarChar("myserver")
	w.WriteUsVarChar("mydb")
	w.WriteUsVarChar("dbo")
	w.WriteUsVarChar("orders")
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	id, err := r.SQLIdentifier()
	require.NoError(t, err)
	assert.Equal(t, SQLIdentifier{Server: "myserver", Database: "mydb", Schema: "dbo", Object: "orders"}, id)
}

func TestSQLIdentifierSinglePart(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	w.WriteByte(1)
	w.WriteUsVarChar("orders")
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	id, err := r.SQLIdentifier()
	require.NoError(t, err)
	assert.Equal(t, SQLIdentifier{Object: "orders"}, id)
}

func TestSQLIdentifierRejectsZeroParts(t *testing.T) {
	transport := new(bytes.Buffer)
	w := NewBuffer(transport, PacketSizeDefault)
	w.StartMessage(PacketReply)
	w.WriteByte(0)
	require.NoError(t, w.EndMessage())

	r := NewBuffer(transport, PacketSizeDefault)
	_, err := r.BeginRead()
	require.NoError(t, err)

	_, err = r.SQLIdentifier()
	assert.Error(t, err)
}
