// Package service implements the authorization and token endpoints. Two
// grant paths share the token endpoint: the classic authorization_code
// grant backed by this package's own code store, and the OpenID4VCI
// pre-authorized_code grant backed by issuance sessions.
//
// The pre-authorized_code grant issues bearer tokens for later credential
// retrieval only. It never signs a credential and never consumes the
// session; the issuance callback route is what produces the credential.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	issuance "attesto/internal/issuance/models"
	"attesto/internal/oauth/models"
	"attesto/internal/oauth/store"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/secrets"
)

const (
	accessTokenTTL  = time.Hour
	cNonceExpiresIn = 600
)

// IssuanceSessions resolves pre-authorized codes to live issuance sessions.
type IssuanceSessions interface {
	FindByPreAuthorizedCode(ctx context.Context, code string) (*issuance.Session, error)
}

// Metrics records authorization and token endpoint activity.
type Metrics interface {
	IncrementAuthorizationsGranted()
	IncrementTokensIssued(grantType string)
}

type Service struct {
	codes    store.CodeStore
	states   store.StateStore
	sessions IssuanceSessions
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
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

// New creates the OAuth service.
func New(codes store.CodeStore, states store.StateStore, sessions IssuanceSessions, opts ...Option) *Service {
	s := &Service{
		codes:    codes,
		states:   states,
		sessions: sessions,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AuthorizeRequest carries the authorization endpoint parameters.
type AuthorizeRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	ResponseType        string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// Authorize validates an authorization request, mints a one-time code, and
// returns the redirect URL carrying code and state.
func (s *Service) Authorize(ctx context.Context, req AuthorizeRequest) (string, error) {
	if req.ClientID == "" || req.RedirectURI == "" || req.State == "" || req.ResponseType == "" {
		return "", dErrors.New(dErrors.CodeInvalidRequest,
			"Missing required parameters: client_id, redirect_uri, state, response_type")
	}

	redirect, err := url.Parse(req.RedirectURI)
	if err != nil {
		return "", dErrors.New(dErrors.CodeInvalidRequest, "redirect_uri is not a valid URL")
	}

	code, err := secrets.GenerateHex(16)
	if err != nil {
		return "", err
	}

	scope := req.Scope
	if scope == "" {
		scope = "openid"
	}
	now := s.now()

	if err := s.states.Create(ctx, &models.AuthorizationState{
		State:               req.State,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               scope,
		Nonce:               req.Nonce,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		CreatedAt:           now,
		ExpiresAt:           now.Add(models.CodeTTL),
	}); err != nil {
		return "", err
	}

	if err := s.codes.Create(ctx, &models.AuthorizationCode{
		Code:      code,
		ClientID:  req.ClientID,
		State:     req.State,
		Scope:     scope,
		Nonce:     req.Nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(models.CodeTTL),
	}); err != nil {
		return "", err
	}

	if s.metrics != nil {
		s.metrics.IncrementAuthorizationsGranted()
	}
	s.logger.InfoContext(ctx, "authorization code issued",
		"client_id", req.ClientID, "scope", scope)

	query := redirect.Query()
	query.Set("code", code)
	query.Set("state", req.State)
	redirect.RawQuery = query.Encode()
	return redirect.String(), nil
}

// TokenRequest carries the token endpoint parameters. Wire names follow
// RFC 6749 and the OpenID4VCI pre-authorized code grant.
type TokenRequest struct {
	GrantType         string `json:"grant_type"`
	Code              string `json:"code"`
	PreAuthorizedCode string `json:"pre-authorized_code"`
	UserPIN           string `json:"user_pin"`
	RedirectURI       string `json:"redirect_uri"`
	ClientID          string `json:"client_id"`
}

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	AccessToken     string `json:"access_token"`
	TokenType       string `json:"token_type"`
	ExpiresIn       int    `json:"expires_in"`
	Scope           string `json:"scope,omitempty"`
	IDToken         string `json:"id_token,omitempty"`
	CNonce          string `json:"c_nonce,omitempty"`
	CNonceExpiresIn int    `json:"c_nonce_expires_in,omitempty"`
}

// Token exchanges a grant for a bearer access token.
func (s *Service) Token(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	switch req.GrantType {
	case issuance.GrantTypePreAuthorizedCode:
		return s.tokenFromPreAuthorizedCode(ctx, req)
	case "authorization_code":
		return s.tokenFromAuthorizationCode(ctx, req)
	default:
		return nil, dErrors.New(dErrors.CodeUnsupportedGrantType,
			fmt.Sprintf("Grant type '%s' is not supported", req.GrantType))
	}
}

func (s *Service) tokenFromPreAuthorizedCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.PreAuthorizedCode == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "pre-authorized_code is required")
	}

	session, err := s.sessions.FindByPreAuthorizedCode(ctx, req.PreAuthorizedCode)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "pre-authorized_code is invalid or expired")
	}

	if req.UserPIN != "" && session.UserPINHash != "" {
		if err := secrets.VerifyPIN(req.UserPIN, session.UserPINHash); err != nil {
			return nil, err
		}
	}

	accessToken, err := secrets.GenerateHex(32)
	if err != nil {
		return nil, err
	}
	cNonce, err := secrets.GenerateHex(16)
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.IncrementTokensIssued("pre-authorized_code")
	}
	s.logger.InfoContext(ctx, "access token issued",
		"grant_type", "pre-authorized_code", "session_id", session.ID)

	return &TokenResponse{
		AccessToken:     accessToken,
		TokenType:       "Bearer",
		ExpiresIn:       int(accessTokenTTL.Seconds()),
		CNonce:          cNonce,
		CNonceExpiresIn: cNonceExpiresIn,
	}, nil
}

func (s *Service) tokenFromAuthorizationCode(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, dErrors.New(dErrors.CodeInvalidRequest, "code is required")
	}

	record, err := s.codes.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidGrant, "Authorization code is invalid or expired")
		}
		return nil, err
	}

	if record.Expired(s.now()) {
		if err := s.codes.Delete(ctx, req.Code); err != nil {
			s.logger.WarnContext(ctx, "could not delete expired authorization code", "error", err)
		}
		s.consumeState(ctx, record.State)
		return nil, dErrors.New(dErrors.CodeInvalidGrant, "Authorization code has expired")
	}

	accessToken, err := secrets.GenerateHex(32)
	if err != nil {
		return nil, err
	}

	// Single use: the code and its state record are gone whether or not the
	// caller keeps the token.
	if err := s.codes.Delete(ctx, req.Code); err != nil {
		s.logger.WarnContext(ctx, "could not delete redeemed authorization code", "error", err)
	}
	s.consumeState(ctx, record.State)

	if s.metrics != nil {
		s.metrics.IncrementTokensIssued("authorization_code")
	}
	s.logger.InfoContext(ctx, "access token issued",
		"grant_type", "authorization_code", "client_id", record.ClientID)

	response := &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
		Scope:       record.Scope,
	}
	if record.Nonce != "" {
		response.IDToken = accessToken
	}
	return response, nil
}

// consumeState removes the state record minted alongside an authorization
// code once the code itself is consumed.
func (s *Service) consumeState(ctx context.Context, state string) {
	if state == "" {
		return
	}
	if err := s.states.Delete(ctx, state); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WarnContext(ctx, "could not delete authorization state", "error", err)
	}
}
