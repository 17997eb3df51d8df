// Package credential builds, signs, and verifies Verifiable Credential and
// Verifiable Presentation JWTs following the OpenID4VC / OpenID4VP family.
package credential

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"attesto/internal/credential/tracer"
	"attesto/internal/keys"
)

// Sentinel verification failures. Callers distinguish expiry from signature
// problems with errors.Is.
var (
	ErrSignatureInvalid = errors.New("invalid token signature")
	ErrExpired          = errors.New("token expired")
	ErrMalformed        = errors.New("malformed token")
)

const (
	credentialTTL   = 365 * 24 * time.Hour
	presentationTTL = time.Hour
	requestTTL      = 10 * time.Minute
)

// KeyProvider supplies signing and verification key material. The credential
// key is RSA (RS256); the request-object key is EC P-256 (ES256).
type KeyProvider interface {
	CredentialSigningKey() *rsa.PrivateKey
	CredentialVerificationKey() *rsa.PublicKey
	RequestSigningKey() *ecdsa.PrivateKey
}

// Metrics records signer activity. Implemented by the prometheus metrics
// package; nil-safe via the option guard.
type Metrics interface {
	IncrementCredentialsIssued(credentialType string)
	IncrementCredentialsVerified(outcome string)
	IncrementPresentationsVerified(outcome string)
	ObserveSignDuration(start time.Time)
	ObserveVerifyDuration(start time.Time)
}

// VCPayload is the nested Verifiable Credential structure inside the JWT.
type VCPayload struct {
	Context           []string       `json:"@context"`
	Type              []string       `json:"type"`
	CredentialSubject map[string]any `json:"credentialSubject"`
	Name              string         `json:"name"`
	Description       string         `json:"description"`
}

// VCClaims is the full credential JWT payload.
type VCClaims struct {
	jwt.RegisteredClaims
	VC             VCPayload `json:"vc"`
	CredentialType string    `json:"credential_type"`
}

// VPPayload is the nested Verifiable Presentation structure. The context is
// a single string here, unlike the credential's context array.
type VPPayload struct {
	Context              string   `json:"@context"`
	Type                 string   `json:"type"`
	VerifiableCredential []string `json:"verifiableCredential"`
}

// VPClaims is the full presentation JWT payload.
type VPClaims struct {
	jwt.RegisteredClaims
	VP VPPayload `json:"vp"`
}

// Signer builds and verifies credential and presentation JWTs.
type Signer struct {
	keys        KeyProvider
	issuerURL   string
	walletURL   string
	verifierURL string
	tracer      tracer.Tracer
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures the Signer.
type Option func(*Signer)

// WithTracer configures a tracer for signing and verification spans.
func WithTracer(t tracer.Tracer) Option {
	return func(s *Signer) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithMetrics configures a metrics recorder for the signer.
func WithMetrics(m Metrics) Option {
	return func(s *Signer) {
		s.metrics = m
	}
}

// WithLogger configures a logger for the signer.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Signer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source. Tests use this to produce expired
// tokens deterministically.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSigner creates a Signer bound to the given key material and issuer URLs.
func NewSigner(keys KeyProvider, issuerURL, walletURL, verifierURL string, opts ...Option) *Signer {
	s := &Signer{
		keys:        keys,
		issuerURL:   issuerURL,
		walletURL:   walletURL,
		verifierURL: verifierURL,
		tracer:      tracer.Noop(),
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignCredential builds and signs a credential JWT of the given type from
// raw caller-supplied claims. The subject defaults to a fresh UUID, the
// audience to the configured wallet URL, and expiry to one year from now.
func (s *Signer) SignCredential(ctx context.Context, data map[string]any, credentialType Type) (token string, err error) {
	_, span := s.tracer.Start(ctx, "credential.sign",
		tracer.String("credential_type", string(credentialType)))
	defer func() { span.End(err) }()

	start := s.now()
	if _, err = ParseType(string(credentialType)); err != nil {
		return "", err
	}

	schema := SchemaFor(credentialType)
	now := s.now()

	subject, _ := data["subject"].(string)
	if subject == "" {
		subject = uuid.NewString()
	}
	audience, _ := data["audience"].(string)
	if audience == "" {
		audience = s.walletURL
	}

	credentialSubject := schema.BuildSubject(data)
	credentialSubject["id"] = subject

	claims := VCClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuerURL,
			Subject:   subject,
			Audience:  []string{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(credentialTTL)),
			ID:        uuid.NewString(),
		},
		VC: VCPayload{
			Context: []string{
				"https://www.w3.org/2018/credentials/v1",
				"https://www.w3.org/2018/credentials/examples/v1",
			},
			Type:              schema.TypeURIs,
			CredentialSubject: credentialSubject,
			Name:              schema.Name,
			Description:       schema.Description,
		},
		CredentialType: string(credentialType),
	}

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	jwtToken.Header["kid"] = keys.CredentialKeyID

	token, err = jwtToken.SignedString(s.keys.CredentialSigningKey())
	if err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.IncrementCredentialsIssued(string(credentialType))
		s.metrics.ObserveSignDuration(start)
	}
	return token, nil
}

// BatchItem is one entry in a batch signing request.
type BatchItem struct {
	Data map[string]any
	Type Type
}

// SignBatch signs multiple credentials concurrently, preserving input order.
// A single failure fails the whole batch.
func (s *Signer) SignBatch(ctx context.Context, items []BatchItem) ([]string, error) {
	tokens := make([]string, len(items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			token, err := s.SignCredential(gctx, item.Data, item.Type)
			if err != nil {
				return err
			}
			tokens[i] = token
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// VerifyCredential verifies a credential JWT against the credential signing
// public key. The algorithm is pinned to RS256 so tokens signed with any
// other algorithm fail as signature-invalid, and expiry failures are
// distinguishable via ErrExpired.
func (s *Signer) VerifyCredential(ctx context.Context, token string) (claims *VCClaims, err error) {
	_, span := s.tracer.Start(ctx, "credential.verify")
	defer func() { span.End(err) }()

	start := s.now()
	claims, err = s.parseCredential(token)
	if s.metrics != nil {
		s.metrics.ObserveVerifyDuration(start)
		if err != nil {
			s.metrics.IncrementCredentialsVerified("invalid")
		} else {
			s.metrics.IncrementCredentialsVerified("valid")
		}
	}
	return claims, err
}

func (s *Signer) parseCredential(token string) (*VCClaims, error) {
	claims := new(VCClaims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.keys.CredentialVerificationKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !parsed.Valid {
		return nil, ErrSignatureInvalid
	}
	return claims, nil
}

// CreatePresentation wraps already-signed credential JWTs into a presentation
// JWT with a one hour validity window. The embedded credentials are not
// re-validated at wrap time.
func (s *Signer) CreatePresentation(ctx context.Context, credentials []string, audience string) (token string, err error) {
	_, span := s.tracer.Start(ctx, "presentation.create",
		tracer.Int("credential_count", len(credentials)))
	defer func() { span.End(err) }()

	if audience == "" {
		audience = s.walletURL
	}
	now := s.now()

	claims := VPClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuerURL,
			Audience:  []string{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(presentationTTL)),
			ID:        uuid.NewString(),
		},
		VP: VPPayload{
			Context:              "https://www.w3.org/2018/credentials/v1",
			Type:                 "VerifiablePresentation",
			VerifiableCredential: credentials,
		},
	}

	jwtToken := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	jwtToken.Header["kid"] = keys.CredentialKeyID
	return jwtToken.SignedString(s.keys.CredentialSigningKey())
}

// CredentialSummary is the per-credential digest included in a successful
// presentation verification result.
type CredentialSummary struct {
	Type      string `json:"type"`
	Subject   string `json:"subject"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
}

// PresentationData is the decoded content of a verified presentation.
type PresentationData struct {
	Issuer      string              `json:"issuer"`
	Audience    string              `json:"audience"`
	IssuedAt    int64               `json:"iat"`
	ExpiresAt   int64               `json:"exp"`
	VP          VPPayload           `json:"vp"`
	Credentials []CredentialSummary `json:"credentials,omitempty"`
}

// VerifyResult is the outcome of a presentation verification.
type VerifyResult struct {
	Valid  bool              `json:"valid"`
	Data   *PresentationData `json:"data,omitempty"`
	Errors []string          `json:"errors"`
}

// VerifyPresentation verifies a presentation JWT and every embedded
// credential independently. A single invalid or expired embedded credential
// invalidates the whole presentation; credential summaries are attached only
// on full success.
func (s *Signer) VerifyPresentation(ctx context.Context, vpToken string) VerifyResult {
	_, span := s.tracer.Start(ctx, "presentation.verify")
	result := VerifyResult{Errors: []string{}}
	defer func() {
		outcome := "valid"
		if !result.Valid {
			outcome = "invalid"
		}
		if s.metrics != nil {
			s.metrics.IncrementPresentationsVerified(outcome)
		}
		span.SetAttributes(tracer.Bool("valid", result.Valid))
		span.End(nil)
	}()

	claims := new(VPClaims)
	parsed, err := jwt.ParseWithClaims(vpToken, claims, func(t *jwt.Token) (any, error) {
		return s.keys.CredentialVerificationKey(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		result.Errors = append(result.Errors, presentationErrorMessage(err))
		return result
	}
	if !parsed.Valid {
		result.Errors = append(result.Errors, "invalid token signature")
		return result
	}

	result.Data = presentationData(claims)

	if claims.VP.Type != "VerifiablePresentation" {
		result.Errors = append(result.Errors, "invalid presentation structure: missing or incorrect vp.type")
		return result
	}

	credentials := claims.VP.VerifiableCredential
	if len(credentials) == 0 {
		result.Errors = append(result.Errors, "presentation must contain at least one credential")
		return result
	}

	summaries := make([]CredentialSummary, 0, len(credentials))
	for _, credentialToken := range credentials {
		credClaims, err := s.parseCredential(credentialToken)
		if err != nil {
			switch {
			case errors.Is(err, ErrExpired):
				result.Errors = append(result.Errors, "credential expired in presentation")
			default:
				result.Errors = append(result.Errors, "invalid credential signature in presentation")
			}
			return result
		}

		summaries = append(summaries, CredentialSummary{
			Type:      credClaims.CredentialType,
			Subject:   credClaims.Subject,
			IssuedAt:  unixOrZero(credClaims.IssuedAt),
			ExpiresAt: unixOrZero(credClaims.ExpiresAt),
		})
	}

	result.Valid = true
	result.Data.Credentials = summaries
	return result
}

// Requirements are the claim-level constraints a presentation must satisfy.
type Requirements struct {
	RequiredClaims   []string       `json:"requiredClaims"`
	ClaimConstraints map[string]any `json:"claimConstraints"`
}

// InvalidClaim reports a constrained claim whose expected value was not found.
type InvalidClaim struct {
	Claim    string `json:"claim"`
	Expected any    `json:"expected"`
}

// ClaimsValidation is the outcome of claim-level validation.
type ClaimsValidation struct {
	Valid         bool           `json:"valid"`
	MissingClaims []string       `json:"missing_claims"`
	InvalidClaims []InvalidClaim `json:"invalid_claims"`
}

// ValidatePresentationClaims checks required claims and claim-value
// constraints against every embedded credential's credentialSubject, decoded
// without signature re-verification.
//
// Both checks are existential across the credential set: a required claim
// found in any one credential counts, and a constrained value may be
// satisfied by a different credential than another constraint. Constraints
// are deliberately not required to hold jointly on one credential.
func (s *Signer) ValidatePresentationClaims(vp VPPayload, requirements Requirements) ClaimsValidation {
	result := ClaimsValidation{
		Valid:         true,
		MissingClaims: []string{},
		InvalidClaims: []InvalidClaim{},
	}

	subjects := decodeCredentialSubjects(vp.VerifiableCredential)

	for _, claim := range requirements.RequiredClaims {
		found := false
		for _, subject := range subjects {
			if _, ok := subject[claim]; ok {
				found = true
				break
			}
		}
		if !found {
			result.MissingClaims = append(result.MissingClaims, claim)
			result.Valid = false
		}
	}

	for claim, expected := range requirements.ClaimConstraints {
		matched := false
		for _, subject := range subjects {
			if value, ok := subject[claim]; ok && reflect.DeepEqual(value, expected) {
				matched = true
				break
			}
		}
		if !matched {
			result.InvalidClaims = append(result.InvalidClaims, InvalidClaim{Claim: claim, Expected: expected})
			result.Valid = false
		}
	}

	return result
}

func decodeCredentialSubjects(tokens []string) []map[string]any {
	parser := jwt.NewParser()
	subjects := make([]map[string]any, 0, len(tokens))
	for _, token := range tokens {
		claims := new(VCClaims)
		if _, _, err := parser.ParseUnverified(token, claims); err != nil {
			continue
		}
		if claims.VC.CredentialSubject != nil {
			subjects = append(subjects, claims.VC.CredentialSubject)
		}
	}
	return subjects
}

func presentationData(claims *VPClaims) *PresentationData {
	audience := ""
	if len(claims.Audience) > 0 {
		audience = claims.Audience[0]
	}
	return &PresentationData{
		Issuer:    claims.Issuer,
		Audience:  audience,
		IssuedAt:  unixOrZero(claims.IssuedAt),
		ExpiresAt: unixOrZero(claims.ExpiresAt),
		VP:        claims.VP,
	}
}

func presentationErrorMessage(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "presentation has expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed presentation token"
	default:
		return "invalid token signature"
	}
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrSignatureInvalid
	}
}

func unixOrZero(date *jwt.NumericDate) int64 {
	if date == nil {
		return 0
	}
	return date.Unix()
}
