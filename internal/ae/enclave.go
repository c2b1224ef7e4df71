package ae

import (
	"context"

	"github.com/ulvii/go-tds/internal/tdserr"
)

// EnclaveSession is the opaque capability spec.md §4.5 "Enclave-
// attestation" describes: the core treats it only as something that
// gates "secure-enclave-required" operations, never implementing the
// attestation protocol itself (spec.md Non-goal). A real session is
// produced by whatever attestation client the embedding application
// configures; this package only defines the seam.
type EnclaveSession interface {
	// Attested reports whether an attestation handshake has already
	// completed for this session.
	Attested() bool
}

// EnclaveProvider negotiates an attestation URL/protocol at connect
// time and performs the attestation handshake before the first
// encrypted-parameter query that requires a secure enclave.
type EnclaveProvider interface {
	Attest(ctx context.Context, attestationURL, protocol string) (EnclaveSession, error)
}

// noEnclave is the default EnclaveProvider: any attempt to use an
// enclave-required operation without a configured provider fails
// clearly instead of silently proceeding unattested.
type noEnclave struct{}

func (noEnclave) Attest(ctx context.Context, attestationURL, protocol string) (EnclaveSession, error) {
	return nil, tdserr.New(tdserr.KindEnclaveAttestationFailed, "secure enclave required but no enclave attestation provider is configured")
}

// NoEnclaveProvider is the default EnclaveProvider used when the
// connection string does not configure enclaveAttestationUrl.
var NoEnclaveProvider EnclaveProvider = noEnclave{}
