package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSubstitutesArgs(t *testing.T) {
	assert.Equal(t, "Login failed for user 'sa'.", Format("en", "login.failed", "sa"))
}

func TestFormatFallsBackToEnglishForUnknownLocale(t *testing.T) {
	assert.Equal(t, "Login failed for user 'sa'.", Format("fr", "login.failed", "sa"))
}

func TestFormatReturnsMessageIDWhenUnknown(t *testing.T) {
	assert.Equal(t, "no.such.key", Format("en", "no.such.key"))
}

func TestFormatWithoutArgsReturnsTemplateVerbatim(t *testing.T) {
	assert.Equal(t, "The driver could not establish a secure connection to SQL Server by using Secure Sockets Layer (SSL) encryption.", Format("en", "tls.handshakeFailed"))
}
