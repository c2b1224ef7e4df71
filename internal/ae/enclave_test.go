package ae

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoEnclaveProviderFailsClearly(t *testing.T) {
	_, err := NoEnclaveProvider.Attest(context.Background(), "https://attest.example", "AAS")
	assert.Error(t, err)
}
