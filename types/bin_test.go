package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinRoundTrip(t *testing.T) {
	tokens := Tokens{0, 1, 255, 65535}
	narrow, err := tokens.ToBin(false)
	require.NoError(t, err)
	assert.Equal(t, tokens, TokensFromBin(narrow))

	tokens = append(tokens, 70000)
	wide, err := tokens.ToBin(true)
	require.NoError(t, err)
	assert.Equal(t, tokens, TokensFromBin32(wide))
}

func TestBinNarrowOverflow(t *testing.T) {
	tokens := Tokens{1, 65536}
	_, err := tokens.ToBin(false)
	assert.Error(t, err)
}

func TestInvert(t *testing.T) {
	m := TokenMap{"a": 0, "b": 1}
	inv := m.Invert()
	assert.Equal(t, "a", inv[0])
	assert.Equal(t, "b", inv[1])
}
