package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "attesto/pkg/domain-errors"
)

func Test_ParseType(t *testing.T) {
	for _, known := range SupportedTypes() {
		parsed, err := ParseType(string(known))
		require.NoError(t, err)
		assert.Equal(t, known, parsed)
	}

	_, err := ParseType("driver_license")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnsupportedCredentialType))
}

func Test_SchemaFor_CustomDefaults(t *testing.T) {
	schema := SchemaFor(TypeCustom)
	subject := schema.BuildSubject(map[string]any{})
	assert.Equal(t, "No data provided", subject["customData"])
	assert.Nil(t, subject["department"])
	assert.Nil(t, subject["role"])
}

func Test_SchemaFor_PIDDefaults(t *testing.T) {
	schema := SchemaFor(TypeEUDIPID)
	subject := schema.BuildSubject(map[string]any{"birth_date": "1990-01-01"})
	assert.Equal(t, "1990-01-01", subject["birth_date"])
	assert.Equal(t, true, subject["age_over_18"])
	assert.Equal(t, false, subject["age_over_21"])
	assert.Equal(t, "FR", subject["nationality"])
}

func Test_DisplayName(t *testing.T) {
	assert.Equal(t, "Custom Credential", DisplayName("custom_credential"))
	assert.Equal(t, "Person Identification Data (PID)", DisplayName("eu.europa.ec.eudi.pid.1"))
	assert.Equal(t, "something_else", DisplayName("something_else"))
}
