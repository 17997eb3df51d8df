package credential

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"attesto/internal/keys"
)

// RequestOptions carries caller overrides for a presentation request. Zero
// values fall back to generated or configured defaults.
type RequestOptions struct {
	InputDescriptors []InputDescriptor
	State            string
	Nonce            string
	RedirectURI      string
	ClientID         string
}

// RequestObject is an OpenID4VP presentation request. It doubles as the JWT
// claim set when served in signed form.
type RequestObject struct {
	RequestID              string                 `json:"request_id"`
	ClientID               string                 `json:"client_id"`
	RedirectURI            string                 `json:"redirect_uri"`
	ResponseType           string                 `json:"response_type"`
	ResponseMode           string                 `json:"response_mode,omitempty"`
	PresentationDefinition PresentationDefinition `json:"presentation_definition"`
	IssuedAt               int64                  `json:"iat"`
	ExpiresAt              int64                  `json:"exp"`
	State                  string                 `json:"state"`
	Nonce                  string                 `json:"nonce"`
}

// PresentationDefinition describes what the wallet must present.
type PresentationDefinition struct {
	ID               string            `json:"id"`
	InputDescriptors []InputDescriptor `json:"input_descriptors"`
}

// InputDescriptor constrains one requested credential.
type InputDescriptor struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Purpose     string         `json:"purpose,omitempty"`
	Format      map[string]any `json:"format,omitempty"`
	Constraints *Constraints   `json:"constraints,omitempty"`
}

// Constraints lists the fields an input descriptor requires.
type Constraints struct {
	Fields []Field `json:"fields"`
}

// Field is a JSONPath selection inside a presented credential.
type Field struct {
	Path    []string `json:"path"`
	Purpose string   `json:"purpose,omitempty"`
	Filter  *Filter  `json:"filter,omitempty"`
}

// Filter constrains the value a selected field must match.
type Filter struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
}

// GeneratePresentationRequest builds a presentation request with a fresh
// request id and a 10 minute validity window. Absent input descriptors, the
// request asks for any credential with a subject.
func (s *Signer) GeneratePresentationRequest(opts RequestOptions) RequestObject {
	requestID := uuid.NewString()
	now := s.now()

	clientID := opts.ClientID
	if clientID == "" {
		clientID = s.verifierURL
	}
	redirectURI := opts.RedirectURI
	if redirectURI == "" {
		redirectURI = s.verifierURL + "/callback"
	}
	state := opts.State
	if state == "" {
		state = uuid.NewString()
	}
	nonce := opts.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}
	descriptors := opts.InputDescriptors
	if len(descriptors) == 0 {
		descriptors = []InputDescriptor{defaultInputDescriptor()}
	}

	return RequestObject{
		RequestID:    requestID,
		ClientID:     clientID,
		RedirectURI:  redirectURI,
		ResponseType: "vp_token",
		PresentationDefinition: PresentationDefinition{
			ID:               "presentation-def-" + requestID,
			InputDescriptors: descriptors,
		},
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(requestTTL).Unix(),
		State:     state,
		Nonce:     nonce,
	}
}

// SignRequestObject serializes a request object as an ES256 JWT, signed with
// the request key, for wallets that expect the signed request form.
func (s *Signer) SignRequestObject(request RequestObject) (string, error) {
	claims := jwt.MapClaims{
		"request_id":              request.RequestID,
		"client_id":               request.ClientID,
		"redirect_uri":            request.RedirectURI,
		"response_type":           request.ResponseType,
		"presentation_definition": request.PresentationDefinition,
		"iat":                     request.IssuedAt,
		"exp":                     request.ExpiresAt,
		"state":                   request.State,
		"nonce":                   request.Nonce,
	}

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	jwtToken.Header["kid"] = keys.RequestKeyID
	jwtToken.Header["typ"] = "oauth-authz-req+jwt"
	return jwtToken.SignedString(s.keys.RequestSigningKey())
}

func defaultInputDescriptor() InputDescriptor {
	return InputDescriptor{
		ID:      "credential-1",
		Name:    "Required Credential",
		Purpose: "Please provide a verifiable credential",
		Format: map[string]any{
			"jwt_vc_json": map[string]any{"alg": []string{"RS256"}},
		},
		Constraints: &Constraints{
			Fields: []Field{{
				Path:    []string{"$.vc.credentialSubject"},
				Purpose: "Verification of credential subject",
			}},
		},
	}
}
