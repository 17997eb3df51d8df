package secrets

import (
	"testing"

	dErrors "attesto/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateHex(t *testing.T) {
	a, err := GenerateHex(32)
	require.NoError(t, err)
	b, err := GenerateHex(32)
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestGeneratePIN(t *testing.T) {
	pin, err := GeneratePIN(4)
	require.NoError(t, err)
	assert.Len(t, pin, 4)
	assert.Regexp(t, `^\d{4}$`, pin)
}

func TestPINHashRoundTrip(t *testing.T) {
	hash, err := HashPIN("1234")
	require.NoError(t, err)
	assert.NotEqual(t, "1234", hash)

	require.NoError(t, VerifyPIN("1234", hash))

	err = VerifyPIN("9999", hash)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidGrant))
}

func TestHashPINRejectsEmpty(t *testing.T) {
	_, err := HashPIN("")
	assert.Error(t, err)
}
