package ae

import (
	"github.com/swisscom/mssql-always-encrypted/pkg/algorithms"
	"github.com/swisscom/mssql-always-encrypted/pkg/encryption"
	"github.com/swisscom/mssql-always-encrypted/pkg/keys"

	"github.com/ulvii/go-tds/internal/tdserr"
	"github.com/ulvii/go-tds/internal/tds"
)

// Engine implements tds.Decryptor, wiring the CEK table's resolved
// plaintext keys into the AEAD_AES_256_CBC_HMAC_SHA256 algorithm
// (spec.md §4.5), the same library call shape as the teacher's
// decryptColumn: NewAeadAes256CbcHmac256 derives the three HMAC-derived
// sub-keys, NewAeadAes256CbcHmac256Algorithm binds them to a
// determinism mode and algorithm version.
type Engine struct {
	registry *ProviderRegistry
	onCekError func(blobIndex int, err error)
}

// NewEngine returns a Decryptor/Encryptor backed by registry. onCekError,
// if non-nil, is called for every provider failure that ResolveCEK
// tolerates while trying the next blob (spec.md §8 property S6).
func NewEngine(registry *ProviderRegistry, onCekError func(blobIndex int, err error)) *Engine {
	return &Engine{registry: registry, onCekError: onCekError}
}

// Decrypt implements tds.Decryptor: resolve meta's CEK, derive the
// AEAD sub-keys, and decrypt ciphertext. MAC verification happens
// inside the library's Decrypt call before any plaintext is released,
// matching spec.md §4.5 "Decryption: inverse... MAC verification is
// constant-time and precedes decryption".
func (e *Engine) Decrypt(meta *tds.CryptoMetadata, ciphertext []byte) ([]byte, error) {
	if meta.Entry == nil {
		return nil, tdserr.New(tdserr.KindInvalidCipherMetadata, "encrypted value has no CEK table entry reference")
	}
	cek, err := e.registry.ResolveCEK(meta.Entry, e.onCekError)
	if err != nil {
		return nil, err
	}

	alg, err := e.algorithm(meta, cek)
	if err != nil {
		return nil, err
	}
	plaintext, err := alg.Decrypt(ciphertext)
	if err != nil {
		return nil, tdserr.Wrap(tdserr.KindCekDecryptionFailed, err)
	}
	return plaintext, nil
}

// Encrypt implements the outbound half of the pipeline: parameter
// values are encrypted under the same CEK/algorithm before being sent
// to the server (spec.md §4.5 "Encryption of a plaintext value").
func (e *Engine) Encrypt(meta *tds.CryptoMetadata, plaintext []byte) ([]byte, error) {
	if meta.Entry == nil {
		return nil, tdserr.New(tdserr.KindInvalidCipherMetadata, "parameter crypto metadata has no CEK table entry reference")
	}
	cek, err := e.registry.ResolveCEK(meta.Entry, e.onCekError)
	if err != nil {
		return nil, err
	}
	alg, err := e.algorithm(meta, cek)
	if err != nil {
		return nil, err
	}
	ciphertext, err := alg.Encrypt(plaintext)
	if err != nil {
		return nil, tdserr.Wrap(tdserr.KindCekDecryptionFailed, err)
	}
	return ciphertext, nil
}

func (e *Engine) algorithm(meta *tds.CryptoMetadata, cek []byte) (*algorithms.AeadAes256CbcHmac256Algorithm, error) {
	encType := encryption.From(byte(meta.EncryptionType))
	k := keys.NewAeadAes256CbcHmac256(cek)
	return algorithms.NewAeadAes256CbcHmac256Algorithm(k, encType, meta.NormRuleVersion), nil
}
