package credential

import (
	"fmt"

	dErrors "attesto/pkg/domain-errors"
)

// Type identifies a supported credential configuration. The set is closed:
// every member carries a fixed credentialSubject schema.
type Type string

const (
	// TypeCustom is a free-form demonstration credential.
	TypeCustom Type = "custom_credential"
	// TypeEUDIPID is the EIDAS Person Identification Data credential.
	TypeEUDIPID Type = "eu.europa.ec.eudi.pid.1"
)

// ParseType validates a raw credential type string against the supported set.
func ParseType(raw string) (Type, error) {
	switch Type(raw) {
	case TypeCustom, TypeEUDIPID:
		return Type(raw), nil
	default:
		return "", dErrors.New(dErrors.CodeUnsupportedCredentialType,
			fmt.Sprintf("credential type '%s' is not supported", raw))
	}
}

// SupportedTypes lists every member of the closed credential type set.
func SupportedTypes() []Type {
	return []Type{TypeCustom, TypeEUDIPID}
}

// Schema describes the wire shape of one credential type: its W3C type URIs,
// display metadata, and how the credentialSubject is derived from raw input.
type Schema struct {
	TypeURIs    []string
	Name        string
	Description string

	// BuildSubject derives the credentialSubject from caller-supplied raw
	// claims. The subject id is injected by the signer, not here.
	BuildSubject func(data map[string]any) map[string]any
}

var schemas = map[Type]Schema{
	TypeCustom: {
		TypeURIs:    []string{"VerifiableCredential", "CustomCredential"},
		Name:        "Custom Credential",
		Description: "Custom verifiable credential for demonstration purposes",
		BuildSubject: func(data map[string]any) map[string]any {
			return map[string]any{
				"customData": withDefault(data, "customData", "No data provided"),
				"department": data["department"],
				"role":       data["role"],
			}
		},
	},
	TypeEUDIPID: {
		TypeURIs:    []string{"VerifiableCredential", "PersonIdentificationData"},
		Name:        "Person Identification Data (PID)",
		Description: "EIDAS Person Identification Data issued according to the European Digital Identity Regulation",
		BuildSubject: func(data map[string]any) map[string]any {
			return map[string]any{
				"family_name": data["family_name"],
				"given_name":  data["given_name"],
				"birth_date":  data["birth_date"],
				"age_over_18": withDefault(data, "age_over_18", true),
				"age_over_21": withDefault(data, "age_over_21", false),
				"nationality": withDefault(data, "nationality", "FR"),
			}
		},
	},
}

// SchemaFor returns the schema descriptor for a parsed credential type.
func SchemaFor(t Type) Schema {
	return schemas[t]
}

// DisplayName returns a human-readable name for a credential type, falling
// back to the raw string for unknown values (used in presentation requests).
func DisplayName(raw string) string {
	if schema, ok := schemas[Type(raw)]; ok {
		return schema.Name
	}
	return raw
}

func withDefault(data map[string]any, key string, def any) any {
	if v, ok := data[key]; ok && v != nil {
		return v
	}
	return def
}
