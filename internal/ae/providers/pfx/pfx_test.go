package pfx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadRejectsGarbageBytes(t *testing.T) {
	_, err := Load([]byte("not a pfx file"), []byte("password"))
	assert.Error(t, err)
}

func TestLoadClearsPasswordEvenOnFailure(t *testing.T) {
	password := []byte("s3cret")
	_, _ = Load([]byte("not a pfx file"), password)
	for _, b := range password {
		assert.Equal(t, byte(0), b)
	}
}
