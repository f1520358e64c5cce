package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAddress(t *testing.T) {
	a, err := NewAddress("Alice.Smith@Example.COM")
	require.NoError(t, err)
	assert.Equal(t, "alice.smith@example.com", a.FullAddress())
	assert.Equal(t, "alice.smith", a.LocalPart())
	assert.Equal(t, "example.com", a.Domain())
}

func TestNewAddressTrimsWhitespace(t *testing.T) {
	a, err := NewAddress("  bob@example.net ")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.net", a.FullAddress())
}

func TestNewAddressRejectsInvalid(t *testing.T) {
	for _, in := range []string{
		"",
		"no-at-sign",
		"two@at@signs",
		".leadingdot@example.com",
		"trailingdot.@example.com",
		"user@",
		"@example.com",
	} {
		_, err := NewAddress(in)
		assert.Error(t, err, in)
	}
}
