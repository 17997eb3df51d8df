// Package service implements the presentation session engine: request object
// creation and retrieval, presentation submission and verification, QR-driven
// verification sessions, and verifier statistics.
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"attesto/internal/credential"
	"attesto/internal/platform/config"
	"attesto/internal/verification/models"
	"attesto/internal/verification/store"
	dErrors "attesto/pkg/domain-errors"
)

const (
	qrImageSize = 256
	responseTTL = time.Hour
)

// Signer is the credential signing and verification dependency.
type Signer interface {
	GeneratePresentationRequest(opts credential.RequestOptions) credential.RequestObject
	SignRequestObject(request credential.RequestObject) (string, error)
	VerifyPresentation(ctx context.Context, vpToken string) credential.VerifyResult
	ValidatePresentationClaims(vp credential.VPPayload, requirements credential.Requirements) credential.ClaimsValidation
}

// Metrics records verification engine activity.
type Metrics interface {
	IncrementSessionsInitiated()
	IncrementRequestObjectsCreated()
	IncrementPresentationsSubmitted(outcome string)
}

// PresentationInvalidError carries the structural or cryptographic failures
// of a rejected presentation so handlers can include them in the response.
type PresentationInvalidError struct {
	Errors []string
}

func (e *PresentationInvalidError) Error() string {
	return "presentation verification failed"
}

// ClaimsInvalidError carries the claim-level failures of a presentation that
// verified cryptographically but did not satisfy the requirements.
type ClaimsInvalidError struct {
	MissingClaims []string
	InvalidClaims []credential.InvalidClaim
}

func (e *ClaimsInvalidError) Error() string {
	return "required claims are missing or invalid"
}

type Service struct {
	requests    store.RequestObjectStore
	responses   store.ResponseStore
	sessions    store.SessionStore
	signer      Signer
	baseURL     string
	walletURL   string
	verifierURL string
	sessionTTL  time.Duration
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
	startedAt   time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithMetrics configures a metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger configures a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the verification service.
func New(
	requests store.RequestObjectStore,
	responses store.ResponseStore,
	sessions store.SessionStore,
	signer Signer,
	cfg config.Server,
	opts ...Option,
) *Service {
	s := &Service{
		requests:    requests,
		responses:   responses,
		sessions:    sessions,
		signer:      signer,
		baseURL:     cfg.BaseURL,
		walletURL:   cfg.WalletURL,
		verifierURL: cfg.VerifierURL,
		sessionTTL:  cfg.SessionTTL,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.now()
	return s
}

// RequestObjectCreated is the response to request object creation.
type RequestObjectCreated struct {
	RequestID        string `json:"request_id"`
	RequestObjectURI string `json:"request_object_uri"`
	ExpiresIn        int    `json:"expires_in"`
	RequestFormat    string `json:"request_format"`
}

// CreateRequestObject builds and stores a presentation request object a
// wallet must later satisfy.
func (s *Service) CreateRequestObject(ctx context.Context, opts credential.RequestOptions) (*RequestObjectCreated, error) {
	request := s.signer.GeneratePresentationRequest(opts)
	now := s.now()

	record := &models.RequestRecord{
		Request:   request,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.requests.Create(ctx, record); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementRequestObjectsCreated()
	}
	s.logger.InfoContext(ctx, "request object created", "request_id", request.RequestID)

	return &RequestObjectCreated{
		RequestID:        request.RequestID,
		RequestObjectURI: fmt.Sprintf("%s/request_object/%s", s.verifierURL, request.RequestID),
		ExpiresIn:        int(s.sessionTTL.Seconds()),
		RequestFormat:    "jwt_vc_json",
	}, nil
}

// RequestObject serves a stored request object in JSON form.
func (s *Service) RequestObject(ctx context.Context, requestID string) (*credential.RequestObject, error) {
	record, err := s.findLiveRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	return &record.Request, nil
}

// SignedRequestObject serves a stored request object as an ES256 JWT for
// wallets that expect the signed request form.
func (s *Service) SignedRequestObject(ctx context.Context, requestID string) (string, error) {
	record, err := s.findLiveRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	return s.signer.SignRequestObject(record.Request)
}

// SubmitRequest is a wallet's presentation submission.
type SubmitRequest struct {
	VPToken                string                   `json:"vp_token"`
	PresentationSubmission any                      `json:"presentation_submission"`
	State                  string                   `json:"state"`
	RequestID              string                   `json:"request_id"`
	Requirements           *credential.Requirements `json:"requirements"`
}

// VerificationSummary is the condensed outcome included in the submit
// response.
type VerificationSummary struct {
	Valid           bool   `json:"valid"`
	CredentialCount int    `json:"credential_count"`
	Issuer          string `json:"issuer"`
	Audience        string `json:"audience"`
	IssuedAt        string `json:"issued_at"`
	ExpiresAt       string `json:"expires_at"`
}

// SubmitResult is the response to a successful presentation submission.
type SubmitResult struct {
	Success            bool                `json:"success"`
	Message            string              `json:"message"`
	ResponseID         string              `json:"response_id"`
	VerificationResult VerificationSummary `json:"verification_result"`
}

// SubmitPresentation verifies a submitted presentation, optionally binds it
// to a stored request object and validates claim requirements, and records
// the outcome for one hour.
func (s *Service) SubmitPresentation(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	result := s.signer.VerifyPresentation(ctx, req.VPToken)
	if !result.Valid {
		if s.metrics != nil {
			s.metrics.IncrementPresentationsSubmitted("invalid")
		}
		return nil, &PresentationInvalidError{Errors: result.Errors}
	}

	redirectURI := ""
	if req.RequestID != "" {
		record, err := s.requests.FindByID(ctx, req.RequestID)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeInvalidRequest,
				fmt.Sprintf("Request object '%s' not found or expired", req.RequestID))
		}
		if req.State != "" && req.State != record.Request.State {
			return nil, dErrors.New(dErrors.CodeInvalidState, "State parameter does not match")
		}
		redirectURI = record.Request.RedirectURI
	}

	requirements := credential.Requirements{}
	if req.Requirements != nil {
		requirements = *req.Requirements
	}
	validation := s.signer.ValidatePresentationClaims(result.Data.VP, requirements)
	if !validation.Valid {
		if s.metrics != nil {
			s.metrics.IncrementPresentationsSubmitted("claims_invalid")
		}
		return nil, &ClaimsInvalidError{
			MissingClaims: validation.MissingClaims,
			InvalidClaims: validation.InvalidClaims,
		}
	}

	now := s.now()
	record := &models.ResponseRecord{
		ID:           uuid.NewString(),
		Status:       "success",
		Verified:     true,
		Presentation: result.Data,
		Credentials:  result.Data.Credentials,
		RedirectURI:  redirectURI,
		Timestamp:    now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(responseTTL),
	}
	if err := s.responses.Create(ctx, record); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementPresentationsSubmitted("valid")
	}
	s.logger.InfoContext(ctx, "presentation verified", "response_id", record.ID,
		"credential_count", len(result.Data.Credentials))

	return &SubmitResult{
		Success:    true,
		Message:    "Presentation verified successfully",
		ResponseID: record.ID,
		VerificationResult: VerificationSummary{
			Valid:           true,
			CredentialCount: len(result.Data.Credentials),
			Issuer:          result.Data.Issuer,
			Audience:        result.Data.Audience,
			IssuedAt:        time.Unix(result.Data.IssuedAt, 0).UTC().Format(time.RFC3339),
			ExpiresAt:       time.Unix(result.Data.ExpiresAt, 0).UTC().Format(time.RFC3339),
		},
	}, nil
}

// CredentialInfo is the per-credential digest in a stored response view.
type CredentialInfo struct {
	Type      string `json:"type"`
	Subject   string `json:"subject"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// ResponseView is the read model of a stored verification response.
type ResponseView struct {
	ID              string           `json:"id"`
	Status          string           `json:"status"`
	Verified        bool             `json:"verified"`
	Timestamp       time.Time        `json:"timestamp"`
	CredentialCount int              `json:"credential_count"`
	CredentialsInfo []CredentialInfo `json:"credentials_info"`
}

// Response returns a stored verification response. Expired records are
// deleted on observation and reported as gone.
func (s *Service) Response(ctx context.Context, responseID string) (*ResponseView, error) {
	record, err := s.responses.FindByID(ctx, responseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound,
				fmt.Sprintf("Verification response '%s' not found", responseID))
		}
		return nil, err
	}
	if record.Expired(s.now()) {
		if err := s.responses.Delete(ctx, responseID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to delete expired response", "response_id", responseID, "error", err)
		}
		return nil, dErrors.New(dErrors.CodeExpired, "This verification response has expired")
	}

	info := make([]CredentialInfo, 0, len(record.Credentials))
	for _, cred := range record.Credentials {
		info = append(info, CredentialInfo{
			Type:      cred.Type,
			Subject:   cred.Subject,
			IssuedAt:  time.Unix(cred.IssuedAt, 0).UTC().Format(time.RFC3339),
			ExpiresAt: time.Unix(cred.ExpiresAt, 0).UTC().Format(time.RFC3339),
		})
	}

	return &ResponseView{
		ID:              record.ID,
		Status:          record.Status,
		Verified:        record.Verified,
		Timestamp:       record.Timestamp,
		CredentialCount: len(record.Credentials),
		CredentialsInfo: info,
	}, nil
}

// PresentationView summarizes a verified presentation for the verify
// endpoint.
type PresentationView struct {
	Issuer      string                         `json:"issuer"`
	Audience    string                         `json:"audience"`
	IssuedAt    string                         `json:"issued_at"`
	ExpiresAt   string                         `json:"expires_at"`
	Credentials []credential.CredentialSummary `json:"credentials"`
}

// VerifyView is the stateless verification outcome.
type VerifyView struct {
	Valid            bool                        `json:"valid"`
	Presentation     PresentationView            `json:"presentation"`
	ClaimsValidation credential.ClaimsValidation `json:"claims_validation"`
	Errors           []string                    `json:"errors"`
}

// Verify checks a presentation against optional requirements without storing
// anything.
func (s *Service) Verify(ctx context.Context, vpToken string, requirements *credential.Requirements) (*VerifyView, error) {
	result := s.signer.VerifyPresentation(ctx, vpToken)
	if !result.Valid {
		return nil, &PresentationInvalidError{Errors: result.Errors}
	}

	validation := credential.ClaimsValidation{Valid: true, MissingClaims: []string{}, InvalidClaims: []credential.InvalidClaim{}}
	if requirements != nil {
		validation = s.signer.ValidatePresentationClaims(result.Data.VP, *requirements)
	}

	allErrors := append([]string{}, result.Errors...)
	allErrors = append(allErrors, validation.MissingClaims...)

	return &VerifyView{
		Valid: result.Valid && validation.Valid,
		Presentation: PresentationView{
			Issuer:      result.Data.Issuer,
			Audience:    result.Data.Audience,
			IssuedAt:    time.Unix(result.Data.IssuedAt, 0).UTC().Format(time.RFC3339),
			ExpiresAt:   time.Unix(result.Data.ExpiresAt, 0).UTC().Format(time.RFC3339),
			Credentials: result.Data.Credentials,
		},
		ClaimsValidation: validation,
		Errors:           allErrors,
	}, nil
}

// StatsResult reports verifier-side record counts and uptime.
type StatsResult struct {
	PendingRequests       int      `json:"pending_requests"`
	VerificationResponses int      `json:"verification_responses"`
	UptimeSeconds         float64  `json:"uptime_seconds"`
	Endpoints             []string `json:"endpoints"`
}

// Stats returns current verifier statistics.
func (s *Service) Stats(ctx context.Context) StatsResult {
	return StatsResult{
		PendingRequests:       s.requests.Count(ctx),
		VerificationResponses: s.responses.Count(ctx),
		UptimeSeconds:         s.now().Sub(s.startedAt).Seconds(),
		Endpoints: []string{
			"POST /request_object - Create a presentation request",
			"GET /request_object/:id - Retrieve a request",
			"POST /presentation - Verify a presentation",
			"GET /presentation/:id - Retrieve a verification result",
			"POST /verify - Verify a presentation with requirements",
			"GET /stats - Statistics",
		},
	}
}

// InitiateResult is the response to verification session initiation.
type InitiateResult struct {
	SessionID              string `json:"session_id"`
	Status                 string `json:"status"`
	QRContent              string `json:"qr_content"`
	QRCode                 string `json:"qr_code"`
	CredentialType         string `json:"credential_type"`
	Verifier               string `json:"verifier"`
	WalletURL              string `json:"wallet_url"`
	PresentationRequestURI string `json:"presentation_request_uri"`
	ExpiresIn              int    `json:"expires_in"`
}

// InitiatePresentation creates a QR-driven verification session asking the
// wallet for one credential of the given type.
func (s *Service) InitiatePresentation(ctx context.Context, credentialType string) (*InitiateResult, error) {
	if credentialType == "" {
		credentialType = string(credential.TypeCustom)
	}

	sessionID := uuid.NewString()
	nonce := uuid.NewString()
	now := s.now()

	request := credential.RequestObject{
		RequestID:    sessionID,
		ClientID:     s.baseURL,
		RedirectURI:  s.baseURL + "/presentation-callback",
		ResponseType: "vp_token id_token",
		ResponseMode: "direct_post",
		PresentationDefinition: credential.PresentationDefinition{
			ID: "openid4vp-request",
			InputDescriptors: []credential.InputDescriptor{{
				ID:      "credential",
				Name:    descriptorName(credentialType),
				Purpose: "Credential verification",
				Format:  map[string]any{"jwt_vc_json": map[string]any{}},
				Constraints: &credential.Constraints{
					Fields: []credential.Field{{
						Path:   []string{"$.vc.type"},
						Filter: &credential.Filter{Type: "string", Pattern: credentialType},
					}},
				},
			}},
		},
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.sessionTTL).Unix(),
		State:     uuid.NewString(),
		Nonce:     nonce,
	}

	session := &models.Session{
		ID:                  sessionID,
		CredentialType:      credentialType,
		PresentationRequest: request,
		WalletURL:           s.walletURL,
		Nonce:               nonce,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.sessionTTL),
		Status:              models.StatusPending,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	requestURI := fmt.Sprintf("%s/presentation-request/%s", s.baseURL, sessionID)
	qrContent := fmt.Sprintf("%s?presentation_request_uri=%s", s.walletURL, url.QueryEscape(requestURI))
	qrImage, err := qrDataURL(qrContent)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate qr code")
	}

	if s.metrics != nil {
		s.metrics.IncrementSessionsInitiated()
	}
	s.logger.InfoContext(ctx, "verification session initiated",
		"session_id", sessionID, "credential_type", credentialType)

	return &InitiateResult{
		SessionID:              sessionID,
		Status:                 string(models.StatusPending),
		QRContent:              qrContent,
		QRCode:                 qrImage,
		CredentialType:         credentialType,
		Verifier:               s.baseURL,
		WalletURL:              s.walletURL,
		PresentationRequestURI: requestURI,
		ExpiresIn:              int(s.sessionTTL.Seconds()),
	}, nil
}

// PresentationRequest serves the presentation request of a verification
// session.
func (s *Service) PresentationRequest(ctx context.Context, sessionID string) (*credential.RequestObject, error) {
	session, err := s.findLiveSession(ctx, sessionID,
		dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("Presentation request %s not found", sessionID)),
		dErrors.New(dErrors.CodeExpired, "Presentation request has expired"))
	if err != nil {
		return nil, err
	}
	return &session.PresentationRequest, nil
}

// CallbackResult reports how a presentation callback was recorded.
type CallbackResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PresentationCallback ingests a wallet's presentation for a QR-driven
// session, matched by state. Verification failure marks the session failed
// and still answers the wallet. Unknown state is rejected, as is any replay
// against a session that already completed or failed: both outcomes are
// terminal.
func (s *Service) PresentationCallback(ctx context.Context, vpToken string, submission any, state string) (*CallbackResult, error) {
	session, err := s.sessions.FindByState(ctx, state)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidState, "State invalid or session expired")
	}
	if session.Status != models.StatusPending {
		return nil, dErrors.New(dErrors.CodeInvalidState, "Session is no longer pending")
	}

	result := s.signer.VerifyPresentation(ctx, vpToken)
	if !result.Valid {
		if err := s.sessions.Fail(ctx, session.ID, "presentation verification failed"); err != nil {
			return nil, err
		}
		s.logger.WarnContext(ctx, "presentation callback verification failed",
			"session_id", session.ID, "errors", result.Errors)
		return &CallbackResult{Status: string(models.StatusFailed), Message: "Verification failed"}, nil
	}

	if err := s.sessions.Complete(ctx, session.ID, vpToken, submission, &result, s.now()); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "presentation callback verified", "session_id", session.ID)
	return &CallbackResult{Status: string(models.StatusCompleted), Message: "Presentation verified successfully"}, nil
}

// SessionStatus is the polling view of a verification session.
type SessionStatus struct {
	SessionID      string     `json:"session_id"`
	Status         string     `json:"status"`
	CredentialType string     `json:"credential_type"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at"`
}

// PresentationStatus reports a verification session's lifecycle state.
func (s *Service) PresentationStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	session, err := s.findLiveSession(ctx, sessionID,
		dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("Session %s not found", sessionID)),
		dErrors.New(dErrors.CodeExpired, "Session has expired"))
	if err != nil {
		return nil, err
	}
	return &SessionStatus{
		SessionID:      session.ID,
		Status:         string(session.Status),
		CredentialType: session.CredentialType,
		CreatedAt:      session.CreatedAt,
		CompletedAt:    session.CompletedAt,
	}, nil
}

// PresentationInfo is the display summary in a session result.
type PresentationInfo struct {
	Holder         string `json:"holder"`
	Issuer         string `json:"issuer"`
	CredentialType string `json:"credential_type"`
	IssuedAt       string `json:"issued_at"`
	ExpiresAt      string `json:"expires_at"`
}

// SessionResult is the full outcome of a completed verification session.
type SessionResult struct {
	SessionID        string           `json:"session_id"`
	Status           string           `json:"status"`
	Valid            bool             `json:"valid"`
	VPToken          string           `json:"vp_token"`
	Claims           any              `json:"claims"`
	PresentationInfo PresentationInfo `json:"presentation_info"`
	CompletedAt      *time.Time       `json:"completed_at"`
}

// PresentationResult returns the stored presentation of a completed session,
// with the token claims decoded without re-verification for display.
func (s *Service) PresentationResult(ctx context.Context, sessionID string) (*SessionResult, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("Session %s not found", sessionID))
		}
		return nil, err
	}
	if session.Status != models.StatusCompleted {
		return nil, dErrors.New(dErrors.CodePresentationNotReady, "Presentation not yet received")
	}

	claims := decodeClaims(session.VPToken)

	info := PresentationInfo{CredentialType: session.CredentialType}
	if result := session.VerificationResult; result != nil && result.Data != nil {
		info.Issuer = result.Data.Issuer
		if len(result.Data.Credentials) > 0 {
			first := result.Data.Credentials[0]
			info.Holder = first.Subject
			info.IssuedAt = time.Unix(first.IssuedAt, 0).UTC().Format(time.RFC3339)
			info.ExpiresAt = time.Unix(first.ExpiresAt, 0).UTC().Format(time.RFC3339)
		}
	}

	return &SessionResult{
		SessionID:        session.ID,
		Status:           string(session.Status),
		Valid:            session.Status == models.StatusCompleted,
		VPToken:          session.VPToken,
		Claims:           claims,
		PresentationInfo: info,
		CompletedAt:      session.CompletedAt,
	}, nil
}

func (s *Service) findLiveRequest(ctx context.Context, requestID string) (*models.RequestRecord, error) {
	record, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound,
				fmt.Sprintf("Request object '%s' not found", requestID))
		}
		return nil, err
	}
	if record.Expired(s.now()) {
		if err := s.requests.Delete(ctx, requestID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to delete expired request object", "request_id", requestID, "error", err)
		}
		return nil, dErrors.New(dErrors.CodeExpired, "This request object has expired")
	}
	return record, nil
}

func (s *Service) findLiveSession(ctx context.Context, sessionID string, notFound, expired error) (*models.Session, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	if session.Expired(s.now()) {
		if err := s.sessions.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.WarnContext(ctx, "failed to delete expired session", "session_id", sessionID, "error", err)
		}
		return nil, expired
	}
	return session, nil
}

func decodeClaims(token string) any {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return nil
	}
	return claims
}

func descriptorName(credentialType string) string {
	switch credential.Type(credentialType) {
	case credential.TypeCustom:
		return "Custom Credential"
	case credential.TypeEUDIPID:
		return "EIDAS PID (Person ID)"
	default:
		return credentialType
	}
}

func qrDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
