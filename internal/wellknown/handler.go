// Package wellknown serves the discovery documents: issuer metadata,
// verifier metadata, authorization server metadata, and the JWKS.
package wellknown

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"attesto/internal/credential"
	issuance "attesto/internal/issuance/models"
	"attesto/internal/keys"
	"attesto/internal/platform/config"
	"attesto/pkg/platform/httputil"
)

// KeySet exports the public keys served at the JWKS endpoint.
type KeySet interface {
	JWKS() keys.JWKSet
}

type Handler struct {
	cfg  config.Server
	keys KeySet
}

func New(cfg config.Server, keySet KeySet) *Handler {
	return &Handler{cfg: cfg, keys: keySet}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/.well-known/openid-credential-issuer", h.HandleCredentialIssuer)
	r.Get("/.well-known/openid-verifier", h.HandleVerifier)
	r.Get("/.well-known/oauth-authorization-server", h.HandleAuthorizationServer)
	r.Get("/.well-known/jwks.json", h.HandleJWKS)
}

// CredentialDisplay is a localized display entry for a credential or issuer.
type CredentialDisplay struct {
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

// ProofType describes an accepted proof mechanism.
type ProofType struct {
	ProofSigningAlgValuesSupported []string `json:"proof_signing_alg_values_supported"`
}

// SupportedCredential is one entry of credentials_supported.
type SupportedCredential struct {
	ID                   string `json:"id"`
	Format               string `json:"format"`
	CredentialDefinition struct {
		Type []string `json:"type"`
	} `json:"credential_definition"`
	CryptographicBindingMethodsSupported []string             `json:"cryptographic_binding_methods_supported"`
	CredentialSigningAlgValuesSupported  []string             `json:"credential_signing_alg_values_supported"`
	ProofTypesSupported                  map[string]ProofType `json:"proof_types_supported"`
	Display                              []CredentialDisplay  `json:"display"`
}

// IssuerMetadata is the OpenID4VCI issuer discovery document.
type IssuerMetadata struct {
	CredentialIssuer              string                `json:"credential_issuer"`
	AuthorizationServers          []string              `json:"authorization_servers"`
	TokenEndpoint                 string                `json:"token_endpoint"`
	CredentialEndpoint            string                `json:"credential_endpoint"`
	BatchCredentialEndpoint       string                `json:"batch_credential_endpoint"`
	DeferredCredentialEndpoint    string                `json:"deferred_credential_endpoint"`
	NotificationEndpoint          string                `json:"notification_endpoint"`
	CredentialsSupported          []SupportedCredential `json:"credentials_supported"`
	DPoPSigningAlgValuesSupported []string              `json:"dpop_signing_alg_values_supported"`
	Display                       []CredentialDisplay   `json:"display"`
}

// HandleCredentialIssuer serves the issuer metadata. The supported
// credentials list is derived from the closed credential type set so
// discovery never advertises a type the credential endpoint would reject.
func (h *Handler) HandleCredentialIssuer(w http.ResponseWriter, r *http.Request) {
	supported := make([]SupportedCredential, 0, len(credential.SupportedTypes()))
	for _, t := range credential.SupportedTypes() {
		schema := credential.SchemaFor(t)
		entry := SupportedCredential{
			ID:                                   string(t),
			Format:                               "jwt_vc_json",
			CryptographicBindingMethodsSupported: []string{"jwk"},
			CredentialSigningAlgValuesSupported:  []string{"RS256"},
			ProofTypesSupported: map[string]ProofType{
				"jwt": {ProofSigningAlgValuesSupported: []string{"RS256", "ES256"}},
			},
			Display: []CredentialDisplay{{Name: schema.Name, Locale: "en-US"}},
		}
		entry.CredentialDefinition.Type = schema.TypeURIs
		supported = append(supported, entry)
	}

	httputil.WriteJSON(w, http.StatusOK, IssuerMetadata{
		CredentialIssuer:              h.cfg.IssuerURL,
		AuthorizationServers:          []string{h.cfg.IssuerURL},
		TokenEndpoint:                 h.cfg.BaseURL + "/token",
		CredentialEndpoint:            h.cfg.BaseURL + "/credential",
		BatchCredentialEndpoint:       h.cfg.BaseURL + "/batch_credential",
		DeferredCredentialEndpoint:    h.cfg.BaseURL + "/deferred_credential",
		NotificationEndpoint:          h.cfg.BaseURL + "/notification",
		CredentialsSupported:          supported,
		DPoPSigningAlgValuesSupported: []string{"ES256", "ES384", "ES512", "RS256"},
		Display: []CredentialDisplay{
			{Name: "Attesto Credential Issuer", Locale: "en-US"},
		},
	})
}

// VerifierMetadata is the OpenID4VP verifier discovery document.
type VerifierMetadata struct {
	Verifier              string              `json:"verifier"`
	AuthorizationServers  []string            `json:"authorization_servers"`
	RequestObjectEndpoint string              `json:"request_object_endpoint"`
	VPFormatsSupported    map[string]any      `json:"vp_formats_supported"`
	ClientMetadata        ClientMetadata      `json:"client_metadata"`
	Display               []CredentialDisplay `json:"display"`
}

// ClientMetadata identifies the verifier as an OAuth client.
type ClientMetadata struct {
	ClientID   string   `json:"client_id"`
	ClientName string   `json:"client_name"`
	Contacts   []string `json:"contacts"`
}

// HandleVerifier serves the verifier metadata.
func (h *Handler) HandleVerifier(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, VerifierMetadata{
		Verifier:              h.cfg.VerifierURL,
		AuthorizationServers:  []string{h.cfg.IssuerURL},
		RequestObjectEndpoint: h.cfg.BaseURL + "/request_object",
		VPFormatsSupported: map[string]any{
			"jwt_vp": map[string]any{
				"alg_values_supported": []string{"RS256", "ES256"},
			},
		},
		ClientMetadata: ClientMetadata{
			ClientID:   h.cfg.VerifierURL,
			ClientName: "Attesto Verifier",
			Contacts:   []string{"support@example.com"},
		},
		Display: []CredentialDisplay{
			{Name: "Attesto Verifier", Locale: "en-US"},
		},
	})
}

// AuthServerMetadata is the RFC 8414 authorization server document.
type AuthServerMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// HandleAuthorizationServer serves the authorization server metadata.
func (h *Handler) HandleAuthorizationServer(w http.ResponseWriter, r *http.Request) {
	scopes := []string{"openid", "profile", "email"}
	for _, t := range credential.SupportedTypes() {
		scopes = append(scopes, string(t))
	}

	httputil.WriteJSON(w, http.StatusOK, AuthServerMetadata{
		Issuer:                h.cfg.IssuerURL,
		AuthorizationEndpoint: h.cfg.BaseURL + "/authorize",
		TokenEndpoint:         h.cfg.BaseURL + "/token",
		UserinfoEndpoint:      h.cfg.BaseURL + "/userinfo",
		JWKSURI:               h.cfg.BaseURL + "/.well-known/jwks.json",
		ScopesSupported:       scopes,
		ResponseTypesSupported: []string{
			"code", "id_token", "token", "code id_token",
		},
		ResponseModesSupported: []string{"query", "fragment", "form_post"},
		GrantTypesSupported: []string{
			"authorization_code", issuance.GrantTypePreAuthorizedCode,
		},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic", "client_secret_post", "none",
		},
		CodeChallengeMethodsSupported: []string{"S256", "plain"},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat",
			"customData", "family_name", "given_name", "birth_date", "age_over_18",
		},
	})
}

// HandleJWKS serves the public key set.
func (h *Handler) HandleJWKS(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.keys.JWKS())
}
