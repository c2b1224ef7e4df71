package ae

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulvii/go-tds/internal/tdserr"
	"github.com/ulvii/go-tds/internal/tds"
)

type stubProvider struct {
	plaintext []byte
	err       error
}

func (s stubProvider) DecryptCEK(keyPath, algorithmName string, encryptedCEK []byte) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.plaintext, nil
}

// S6: a CEK entry with two blobs, the first provider failing and the
// second succeeding, resolves without error and caches the plaintext.
func TestResolveCEKFailover(t *testing.T) {
	registry := NewProviderRegistry()
	registry.Register("bad", stubProvider{err: tdserr.New(tdserr.KindCekDecryptionFailed, "boom")})
	registry.Register("good", stubProvider{plaintext: []byte("thirtytwobyteplaceholderkeyvalue")})

	entry := &tds.CekTableEntry{
		Blobs: []tds.EncryptionKeyInfo{
			{KeyStoreName: "bad"},
			{KeyStoreName: "good"},
		},
	}

	var failedBlobs []int
	plaintext, err := registry.ResolveCEK(entry, func(idx int, err error) { failedBlobs = append(failedBlobs, idx) })
	require.NoError(t, err)
	assert.Equal(t, []byte("thirtytwobyteplaceholderkeyvalue"), plaintext)
	assert.Equal(t, []int{0}, failedBlobs)
	assert.Equal(t, plaintext, entry.Plaintext)
}

func TestResolveCEKAllFail(t *testing.T) {
	registry := NewProviderRegistry()
	registry.Register("bad", stubProvider{err: tdserr.New(tdserr.KindCekDecryptionFailed, "boom")})

	entry := &tds.CekTableEntry{Blobs: []tds.EncryptionKeyInfo{{KeyStoreName: "bad"}}}
	_, err := registry.ResolveCEK(entry, nil)
	require.Error(t, err)
	assert.Equal(t, tdserr.KindCekDecryptionFailed, tdserr.KindOf(err))
}

func TestResolveCEKCached(t *testing.T) {
	registry := NewProviderRegistry()
	entry := &tds.CekTableEntry{Plaintext: []byte("cached")}
	plaintext, err := registry.ResolveCEK(entry, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), plaintext)
}

func TestResolveCEKMissingProvider(t *testing.T) {
	registry := NewProviderRegistry()
	entry := &tds.CekTableEntry{Blobs: []tds.EncryptionKeyInfo{{KeyStoreName: "unregistered"}}}
	_, err := registry.ResolveCEK(entry, nil)
	require.Error(t, err)
}
