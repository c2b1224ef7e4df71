// Package pfx implements an ae.Provider backed by a PKCS#12 (.pfx)
// file holding a certificate and its RSA private key, grounded on the
// teacher's decryptColumn: it loads the CEK value with
// alwaysencrypted.LoadCEKV, verifies it against the certificate, and
// decrypts it with the certificate's RSA private key. The teacher
// obtains that cert/key pair from its alwaysEncryptedSettings without
// specifying how; this package sources them from a PFX file via
// golang.org/x/crypto/pkcs12, matching the teacher's own pkcs12 import.
package pfx

import (
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"

	alwaysencrypted "github.com/swisscom/mssql-always-encrypted/pkg"
	"golang.org/x/crypto/pkcs12"

	"github.com/ulvii/go-tds/internal/tdserr"
)

// Provider decrypts CEK blobs using a single certificate/private-key
// pair loaded from a PFX file. The key path and algorithm name
// arguments of ae.Provider.DecryptCEK are accepted but not consulted:
// a PFX provider only ever holds the one key it was loaded with, the
// same way the teacher's alwaysEncryptedSettings carries a single
// cert/pKey pair per connection.
type Provider struct {
	cert *x509.Certificate
	key  *rsa.PrivateKey
}

// Load decodes a PFX file's bytes into a Provider. password is cleared
// (overwritten with zeros) before Load returns, per spec.md §5 "Trust-
// store password hygiene".
func Load(pfxBytes []byte, password []byte) (*Provider, error) {
	defer clearBytes(password)

	key, cert, err := pkcs12.Decode(pfxBytes, string(password))
	if err != nil {
		return nil, tdserr.Wrap(tdserr.KindInvalidCipherMetadata, err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, tdserr.New(tdserr.KindInvalidCipherMetadata, "PFX private key is not RSA; only RSA column master keys are supported")
	}
	return &Provider{cert: cert, key: rsaKey}, nil
}

func clearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// DecryptCEK implements ae.Provider.
func (p *Provider) DecryptCEK(keyPath, algorithmName string, encryptedCEK []byte) ([]byte, error) {
	cekv := alwaysencrypted.LoadCEKV(encryptedCEK)
	if !cekv.Verify(p.cert) {
		return nil, tdserr.Newf(tdserr.KindCekDecryptionFailed, "certificate mismatch decrypting CEK: %v requested but %x provided", cekv.KeyPath, sha1.Sum(p.cert.Raw))
	}
	rootKey, err := cekv.Decrypt(p.key)
	if err != nil {
		return nil, tdserr.Wrap(tdserr.KindCekDecryptionFailed, err)
	}
	return rootKey, nil
}
