package fedauth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ulvii/go-tds/internal/tdserr"
)

func TestCallbackProviderMissingFunc(t *testing.T) {
	_, err := CallbackProvider{}.AcquireToken(context.Background(), "https://sts", "spn")
	require.Error(t, err)
	assert.Equal(t, tdserr.KindFedAuthTokenFailed, tdserr.KindOf(err))
}

func TestIntegratedProviderUnsupported(t *testing.T) {
	_, err := IntegratedProvider{}.AcquireToken(context.Background(), "https://sts", "spn")
	require.Error(t, err)
	assert.Equal(t, tdserr.KindFedAuthTokenFailed, tdserr.KindOf(err))
}

func TestBuildTokenEmptyToken(t *testing.T) {
	provider := CallbackProvider{Func: func(ctx context.Context, stsURL, serverSPN string) (string, error) {
		return "", nil
	}}
	_, err := BuildToken(context.Background(), provider, "https://sts", "spn")
	require.Error(t, err)
}

func TestEncodeFedAuthToken(t *testing.T) {
	out := encodeFedAuthToken("ab")
	// 2 UTF-16 code units -> 4 bytes payload, plus 4-byte length prefix.
	require.Len(t, out, 8)
	assert.Equal(t, byte(4), out[0])
	assert.Equal(t, byte(0), out[1])
}

func TestUtf16EncodeSurrogatePair(t *testing.T) {
	// U+1F600 (emoji) requires a surrogate pair: 4 bytes.
	out := utf16Encode("\U0001F600")
	assert.Len(t, out, 4)
}
