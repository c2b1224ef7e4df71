// Package tdserr defines the driver's error taxonomy.
//
// Kinds are assigned at construction time and are the only thing the
// core branches on when deciding whether a failure is retryable or
// fatal. Nothing in this package or its callers compares localized
// message text to classify an error.
package tdserr

import "fmt"

// Kind is a stable numeric classification of a driver error. Values are
// append-only: never renumber an existing Kind, since callers persist
// and compare against it.
type Kind int

const (
	KindUnknown Kind = iota

	// Configuration
	KindInvalidRetryConfig
	KindConflictingFipsConfig
	KindUnsupportedEncryptionLevel
	KindInvalidConnectionString

	// Transport
	KindResolutionFailed
	KindConnectRefusedOrReset
	KindSocketTimeout
	KindNetworkReadEOF
	KindTruncatedResponse
	KindConnectionTimedOut
	KindUnsupportedConfig

	// TLS
	KindTLSHandshakeNotStarted
	KindTLSHandshakeIntermittent
	KindCertValidationFailed
	KindInvalidFipsConfig

	// Protocol
	KindInvalidTDSFraming
	KindUnexpectedToken
	KindInvalidTokenContent
	KindInvalidMultiPartIdentifier

	// Authentication
	KindLoginFailed
	KindFedAuthTokenFailed
	KindSessionRecoveryDeclined
	KindEncryptionRequiredButNotSupported
	KindColumnEncryptionNotSupportedByServer

	// Execution
	KindServerError
	KindQueryTimeout
	KindAttentionTimeout
	KindConnectionClosed

	// Column encryption
	KindCekDecryptionFailed
	KindInvalidCipherMetadata
	KindMissingKeyStoreProvider
	KindEnclaveAttestationFailed
	KindUnexpectedServerSchema
)

var kindNames = map[Kind]string{
	KindUnknown:                           "unknown",
	KindInvalidRetryConfig:                "invalid_retry_config",
	KindConflictingFipsConfig:             "conflicting_fips_config",
	KindUnsupportedEncryptionLevel:        "unsupported_encryption_level",
	KindInvalidConnectionString:           "invalid_connection_string",
	KindResolutionFailed:                  "resolution_failed",
	KindConnectRefusedOrReset:             "connect_refused_or_reset",
	KindSocketTimeout:                     "socket_timeout",
	KindNetworkReadEOF:                    "network_read_eof",
	KindTruncatedResponse:                 "truncated_response",
	KindConnectionTimedOut:                "connection_timed_out",
	KindUnsupportedConfig:                 "unsupported_config",
	KindTLSHandshakeNotStarted:            "tls_handshake_not_started",
	KindTLSHandshakeIntermittent:          "tls_handshake_intermittent",
	KindCertValidationFailed:              "cert_validation_failed",
	KindInvalidFipsConfig:                 "invalid_fips_config",
	KindInvalidTDSFraming:                 "invalid_tds_framing",
	KindUnexpectedToken:                   "unexpected_token",
	KindInvalidTokenContent:               "invalid_token_content",
	KindInvalidMultiPartIdentifier:        "invalid_multi_part_identifier",
	KindLoginFailed:                       "login_failed",
	KindFedAuthTokenFailed:                "fedauth_token_failed",
	KindSessionRecoveryDeclined:           "session_recovery_declined",
	KindEncryptionRequiredButNotSupported: "encryption_required_but_not_supported",
	KindColumnEncryptionNotSupportedByServer: "column_encryption_not_supported_by_server",
	KindServerError:              "server_error",
	KindQueryTimeout:             "query_timeout",
	KindAttentionTimeout:         "attention_timeout",
	KindConnectionClosed:         "connection_closed",
	KindCekDecryptionFailed:      "cek_decryption_failed",
	KindInvalidCipherMetadata:    "invalid_cipher_metadata",
	KindMissingKeyStoreProvider:  "missing_key_store_provider",
	KindEnclaveAttestationFailed: "enclave_attestation_failed",
	KindUnexpectedServerSchema:   "unexpected_server_schema",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Recoverable reports whether a caller may retry the operation that
// produced an error of this kind. Only intermittent TLS failure is
// recoverable per the core's propagation policy; every other fatal
// class is not retried automatically.
func (k Kind) Recoverable() bool {
	return k == KindTLSHandshakeIntermittent
}

// Fatal reports whether an error of this kind terminates the owning
// connection (transport failures, non-intermittent TLS handshake and
// certificate failures, protocol framing/token failures, and a closed
// connection), as opposed to failing only
// the current statement (column encryption) or failing eagerly before
// any I/O (configuration).
func (k Kind) Fatal() bool {
	switch k {
	case KindResolutionFailed, KindConnectRefusedOrReset, KindSocketTimeout,
		KindNetworkReadEOF, KindTruncatedResponse, KindConnectionTimedOut,
		KindTLSHandshakeNotStarted, KindCertValidationFailed,
		KindInvalidTDSFraming, KindUnexpectedToken, KindInvalidTokenContent,
		KindConnectionClosed:
		return true
	default:
		return false
	}
}
