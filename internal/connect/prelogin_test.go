package connect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulvii/go-tds/internal/tds"
)

func TestBuildAndParsePreLoginRoundTrip(t *testing.T) {
	payload := clientPreLogin(tds.EncryptOn)
	opts, err := parsePreLogin(payload)
	require.NoError(t, err)
	require.Contains(t, opts, tds.PreloginEncryption)
	assert.Equal(t, []byte{byte(tds.EncryptOn)}, opts[tds.PreloginEncryption])
}

func TestNegotiateEncryptionClientRequiresServerUnsupported(t *testing.T) {
	serverOpts := map[byte][]byte{tds.PreloginEncryption: {byte(tds.EncryptNotSup)}}
	_, err := negotiateEncryption(tds.EncryptReq, serverOpts)
	require.Error(t, err)
}

func TestNegotiateEncryptionServerRequiresWinsOverClientOff(t *testing.T) {
	serverOpts := map[byte][]byte{tds.PreloginEncryption: {byte(tds.EncryptReq)}}
	level, err := negotiateEncryption(tds.EncryptOff, serverOpts)
	require.NoError(t, err)
	assert.Equal(t, tds.EncryptOn, level)
}

func TestNegotiateEncryptionBothOff(t *testing.T) {
	serverOpts := map[byte][]byte{tds.PreloginEncryption: {byte(tds.EncryptOff)}}
	level, err := negotiateEncryption(tds.EncryptOff, serverOpts)
	require.NoError(t, err)
	assert.Equal(t, tds.EncryptOff, level)
}

func TestNegotiateEncryptionMissingOption(t *testing.T) {
	_, err := negotiateEncryption(tds.EncryptOff, map[byte][]byte{})
	require.Error(t, err)
}

func TestFedAuthRequired(t *testing.T) {
	assert.True(t, fedAuthRequired(map[byte][]byte{tds.PreloginFedAuthRequired: {1}}))
	assert.False(t, fedAuthRequired(map[byte][]byte{tds.PreloginFedAuthRequired: {0}}))
	assert.False(t, fedAuthRequired(map[byte][]byte{}))
}

func TestParsePreLoginTruncatedHeader(t *testing.T) {
	_, err := parsePreLogin([]byte{0x00, 0x01})
	require.Error(t, err)
}
