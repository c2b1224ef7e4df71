// Package ae is the Column-Encryption Engine of spec.md §4.5: it
// resolves CEKs via a process-wide provider registry, decrypts inbound
// column values, and encrypts outbound parameter values, using
// AEAD_AES_256_CBC_HMAC_SHA256 from
// github.com/swisscom/mssql-always-encrypted — the same library the
// teacher's decryptColumn wires directly into its token parser. Here it
// sits behind internal/tds's Decryptor interface instead, so the wire
// layer never imports a concrete crypto engine.
package ae

import (
	"sync"

	"github.com/ulvii/go-tds/internal/tdserr"
	"github.com/ulvii/go-tds/internal/tds"
)

// Provider resolves a column master key and uses it to decrypt an
// encrypted CEK blob, per spec.md §4.5 "CEK resolution":
// `provider.decrypt_cek(key_path, algorithm_name, ciphertext) →
// plaintext_cek_bytes`.
type Provider interface {
	DecryptCEK(keyPath, algorithmName string, encryptedCEK []byte) ([]byte, error)
}

// ProviderRegistry is the process-wide key-store provider map of
// spec.md §5 "Shared-resource policy": populated once during setup,
// lock-free after that via sync.Map (Design Note "Global key-store
// provider registry").
type ProviderRegistry struct {
	providers sync.Map // name -> Provider
}

// NewProviderRegistry returns an empty registry; callers register
// providers once at connection setup and share the registry across
// every connection using the same key-store configuration.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{}
}

// Register adds or replaces the provider for name. Safe to call
// concurrently, but intended to be called during setup, before any
// lookup.
func (r *ProviderRegistry) Register(name string, p Provider) {
	r.providers.Store(name, p)
}

// Lookup returns the provider registered under name, if any.
func (r *ProviderRegistry) Lookup(name string) (Provider, bool) {
	v, ok := r.providers.Load(name)
	if !ok {
		return nil, false
	}
	return v.(Provider), true
}

// ResolveCEK decrypts entry's CEK, trying each blob's key-store/key-path
// pair in order and caching the plaintext on success (spec.md §4.5 "CEK
// resolution", §8 property S6 "CEK provider failover"). A failed blob's
// error is remembered but does not abort the scan; only exhausting
// every blob is fatal.
func (r *ProviderRegistry) ResolveCEK(entry *tds.CekTableEntry, onProviderError func(blobIndex int, err error)) ([]byte, error) {
	if entry.Plaintext != nil {
		return entry.Plaintext, nil
	}
	if len(entry.Blobs) == 0 {
		return nil, tdserr.New(tdserr.KindCekDecryptionFailed, "CEK table entry has no encrypted key blobs")
	}

	var lastErr error
	for i, blob := range entry.Blobs {
		provider, ok := r.Lookup(blob.KeyStoreName)
		if !ok {
			lastErr = tdserr.Newf(tdserr.KindMissingKeyStoreProvider, "no key-store provider registered for %q", blob.KeyStoreName)
			if onProviderError != nil {
				onProviderError(i, lastErr)
			}
			continue
		}
		plaintext, err := provider.DecryptCEK(blob.KeyPath, blob.AlgorithmName, blob.EncryptedKey)
		if err != nil {
			lastErr = err
			if onProviderError != nil {
				onProviderError(i, err)
			}
			continue
		}
		entry.Plaintext = plaintext
		return plaintext, nil
	}
	return nil, tdserr.Wrap(tdserr.KindCekDecryptionFailed, lastErr)
}
