package ae

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulvii/go-tds/internal/tds"
)

func TestParseCekMetadata(t *testing.T) {
	rows := [][]interface{}{
		{int32(0), int32(5), int32(1), int32(1), []byte{0, 0}, []byte{1, 2, 3}, "MSSQL_CERTIFICATE_STORE", "cert-path", "RSA_OAEP"},
	}
	table, err := ParseCekMetadata(rows)
	require.NoError(t, err)
	require.Len(t, table.Entries, 1)
	assert.Equal(t, 5, table.Entries[0].DatabaseID)
	require.Len(t, table.Entries[0].Blobs, 1)
	assert.Equal(t, "cert-path", table.Entries[0].Blobs[0].KeyPath)
}

func TestParseCekMetadataWrongColumnCount(t *testing.T) {
	rows := [][]interface{}{{int32(0)}}
	_, err := ParseCekMetadata(rows)
	require.Error(t, err)
}

func TestParseParamCryptoMetadata(t *testing.T) {
	cekTable := &tds.CekTable{Entries: []tds.CekTableEntry{{}}}
	rows := [][]interface{}{
		{"@p1", int32(0), int32(1), int32(2)},
	}
	out, err := ParseParamCryptoMetadata(rows, cekTable)
	require.NoError(t, err)
	meta, ok := out["@p1"]
	require.True(t, ok)
	assert.Equal(t, tds.EncryptionTypeDeterministic, meta.EncryptionType)
	assert.Same(t, &cekTable.Entries[0], meta.Entry)
}

func TestParseParamCryptoMetadataOrdinalOutOfRange(t *testing.T) {
	cekTable := &tds.CekTable{}
	rows := [][]interface{}{{"@p1", int32(0), int32(1), int32(2)}}
	_, err := ParseParamCryptoMetadata(rows, cekTable)
	require.Error(t, err)
}
