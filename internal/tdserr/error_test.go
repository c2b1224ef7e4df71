package tdserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatsPlainMessage(t *testing.T) {
	err := New(KindLoginFailed, "bad credentials")
	assert.Equal(t, "bad credentials", err.Error())
	assert.Equal(t, KindLoginFailed, err.Kind)
}

func TestNewfFormatsWithArgs(t *testing.T) {
	err := Newf(KindInvalidConnectionString, "%s must be an integer: %q", "portNumber", "abc")
	assert.Equal(t, `portNumber must be an integer: "abc"`, err.Error())
}

func TestWrapIncludesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindConnectRefusedOrReset, cause)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestFallsBackToKindStringWhenMessageEmpty(t *testing.T) {
	err := &Error{Kind: KindSocketTimeout}
	assert.Equal(t, "socket_timeout", err.Error())
}

func TestLocalizedFormatsFromCatalogAtErrorTime(t *testing.T) {
	err := Localized(KindLoginFailed, "login.failed", "sa")
	assert.Equal(t, "Login failed for user 'sa'.", err.Error())
}

func TestLocalizedFallsBackToMessageIDWhenUnknown(t *testing.T) {
	err := Localized(KindUnknown, "no.such.message")
	assert.Equal(t, "no.such.message", err.Error())
}

func TestWithConnIDAnnotatesCopyWithoutMutatingOriginal(t *testing.T) {
	orig := New(KindServerError, "boom")
	annotated := WithConnID(orig, "conn-123")

	assert.Contains(t, annotated.Error(), "ClientConnectionId:conn-123")
	assert.NotContains(t, orig.Error(), "ClientConnectionId")
}

func TestWithConnIDPassesThroughNonDriverError(t *testing.T) {
	plain := errors.New("not ours")
	assert.Same(t, plain, WithConnID(plain, "conn-123"))
}

func TestKindOfExtractsWrappedKind(t *testing.T) {
	err := fmtWrap(New(KindQueryTimeout, "timed out"))
	assert.Equal(t, KindQueryTimeout, KindOf(err))
}

func TestKindOfReturnsUnknownForForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("not ours")))
}

func TestIsMatchesKind(t *testing.T) {
	err := New(KindAttentionTimeout, "attn")
	assert.True(t, Is(err, KindAttentionTimeout))
	assert.False(t, Is(err, KindQueryTimeout))
}

func TestRecoverableOnlyForIntermittentTLSFailure(t *testing.T) {
	assert.True(t, KindTLSHandshakeIntermittent.Recoverable())
	assert.False(t, KindSocketTimeout.Recoverable())
}

func TestFatalClassifiesTransportAndProtocolFailures(t *testing.T) {
	assert.True(t, KindConnectionClosed.Fatal())
	assert.True(t, KindInvalidTDSFraming.Fatal())
	assert.False(t, KindCekDecryptionFailed.Fatal())
	assert.False(t, KindQueryTimeout.Fatal())
}

func TestKindStringFallsBackForUnnamedValue(t *testing.T) {
	var k Kind = 9999
	assert.Equal(t, "kind(9999)", k.String())
}

// fmtWrap wraps err one level deeper via fmt-style %w semantics, to
// exercise errors.As unwrapping through an intermediate layer.
func fmtWrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }

func TestErrorUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindServerError, cause)
	var target error = err
	require.ErrorIs(t, target, cause)
}
