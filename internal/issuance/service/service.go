// Package service implements the issuance session engine: session creation
// with credential offers and QR payloads, offer retrieval, wallet callbacks,
// and credential pickup.
//
// Expiry here is lazy. A session is removed when a read observes it past its
// window; there is no background sweep (the verification engine sweeps, this
// engine does not).
package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"

	"attesto/internal/credential"
	"attesto/internal/issuance/models"
	"attesto/internal/issuance/store"
	"attesto/internal/platform/config"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/secrets"
)

const qrImageSize = 256

// Signer is the credential signing dependency.
type Signer interface {
	SignCredential(ctx context.Context, data map[string]any, credentialType credential.Type) (string, error)
}

// Metrics records issuance engine activity.
type Metrics interface {
	IncrementSessionsInitiated(credentialType string)
	IncrementSessionsCompleted(credentialType string)
	IncrementOffersServed()
	IncrementSessionsExpired()
}

type Service struct {
	store      store.Store
	signer     Signer
	baseURL    string
	issuerURL  string
	walletURL  string
	sessionTTL time.Duration
	metrics    Metrics
	logger     *slog.Logger
	now        func() time.Time
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

// New creates the issuance service.
func New(sessionStore store.Store, signer Signer, cfg config.Server, opts ...Option) *Service {
	s := &Service{
		store:      sessionStore,
		signer:     signer,
		baseURL:    cfg.BaseURL,
		issuerURL:  cfg.IssuerURL,
		walletURL:  cfg.WalletURL,
		sessionTTL: cfg.SessionTTL,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiateResult is returned once at session creation. UserPIN is the only
// place the plaintext PIN ever appears; the session stores a bcrypt hash.
type InitiateResult struct {
	SessionID          string `json:"session_id"`
	PreAuthorizedCode  string `json:"pre_authorized_code"`
	UserPIN            string `json:"user_pin"`
	Status             string `json:"status"`
	QRContent          string `json:"qr_content"`
	QRCode             string `json:"qr_code"`
	CredentialType     string `json:"credential_type"`
	Issuer             string `json:"issuer"`
	WalletURL          string `json:"wallet_url"`
	CredentialOfferURI string `json:"credential_offer_uri"`
	ExpiresIn          int    `json:"expires_in"`
}

// Initiate creates a pending issuance session: pre-authorized code, 4 digit
// user PIN, credential offer document, and the QR payload pointing the wallet
// at the offer URI.
func (s *Service) Initiate(ctx context.Context, credentialType string, credentialData map[string]any) (*InitiateResult, error) {
	if credentialType == "" {
		credentialType = string(credential.TypeCustom)
	}
	parsedType, err := credential.ParseType(credentialType)
	if err != nil {
		return nil, err
	}
	if credentialData == nil {
		credentialData = map[string]any{}
	}

	sessionID := uuid.NewString()
	preAuthorizedCode := uuid.NewString()

	userPIN, err := secrets.GeneratePIN(4)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate user pin")
	}
	pinHash, err := secrets.HashPIN(userPIN)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash user pin")
	}

	offerURI := fmt.Sprintf("%s/offer/%s", s.baseURL, sessionID)
	offer := &models.CredentialOffer{
		CredentialIssuer:           s.issuerURL,
		CredentialConfigurationIDs: []string{string(parsedType)},
		Grants: models.Grants{
			PreAuthorizedCode: &models.PreAuthorizedCodeGrant{
				PreAuthorizedCode: preAuthorizedCode,
			},
		},
	}

	now := s.now()
	session := &models.Session{
		ID:                sessionID,
		PreAuthorizedCode: preAuthorizedCode,
		UserPINHash:       pinHash,
		CredentialType:    string(parsedType),
		CredentialData:    credentialData,
		CredentialOffer:   offer,
		WalletURL:         s.walletURL,
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.sessionTTL),
		Status:            models.StatusPending,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, err
	}

	qrContent := fmt.Sprintf("%s?credential_offer_uri=%s", s.walletURL, url.QueryEscape(offerURI))
	qrImage, err := qrDataURL(qrContent)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate qr code")
	}

	if s.metrics != nil {
		s.metrics.IncrementSessionsInitiated(string(parsedType))
	}
	s.logger.InfoContext(ctx, "issuance session initiated",
		"session_id", sessionID, "credential_type", parsedType)

	return &InitiateResult{
		SessionID:          sessionID,
		PreAuthorizedCode:  preAuthorizedCode,
		UserPIN:            userPIN,
		Status:             "initiated",
		QRContent:          qrContent,
		QRCode:             qrImage,
		CredentialType:     string(parsedType),
		Issuer:             s.issuerURL,
		WalletURL:          s.walletURL,
		CredentialOfferURI: offerURI,
		ExpiresIn:          int(s.sessionTTL.Seconds()),
	}, nil
}

// Offer serves the stored credential offer. Expired sessions are deleted on
// observation and reported as gone.
func (s *Service) Offer(ctx context.Context, sessionID string) (*models.CredentialOffer, error) {
	session, err := s.findLive(ctx, sessionID,
		dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("Credential offer %s not found or expired", sessionID)),
		dErrors.New(dErrors.CodeExpired, "Credential offer has expired"))
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementOffersServed()
	}
	return session.CredentialOffer, nil
}

// StatusResult is the polling view of a session.
type StatusResult struct {
	SessionID      string    `json:"session_id"`
	Status         string    `json:"status"`
	CredentialType string    `json:"credential_type"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Credential     *string   `json:"credential"`
}

// Status reports a session's lifecycle state for wallet polling.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	session, err := s.findLive(ctx, sessionID,
		dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("Session %s not found", sessionID)),
		dErrors.New(dErrors.CodeExpired, "Session has expired"))
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		SessionID:      session.ID,
		Status:         string(session.Status),
		CredentialType: session.CredentialType,
		CreatedAt:      session.CreatedAt,
		ExpiresAt:      session.ExpiresAt,
	}
	if session.Credential != "" {
		result.Credential = &session.Credential
	}
	return result, nil
}

// Callback completes a session after wallet authorization: it signs the
// credential and returns the wallet redirect URL carrying it.
//
// The session is matched by the pre-authorized code when present, otherwise
// by a state parameter equal to the session id. Neither matching deletes the
// pre-authorized code; sessions die by expiry alone. The redirect echoes
// state only when the wallet supplied one.
func (s *Service) Callback(ctx context.Context, state, code string) (string, error) {
	session, err := s.matchSession(ctx, state, code)
	if err != nil {
		return "", err
	}

	if session.Expired(s.now()) {
		s.deleteExpired(ctx, session.ID)
		return "", dErrors.New(dErrors.CodeExpired, "Session has expired")
	}

	data := map[string]any{"subject": "user:" + uuid.NewString()}
	for k, v := range session.CredentialData {
		data[k] = v
	}
	signed, err := s.signer.SignCredential(ctx, data, credential.Type(session.CredentialType))
	if err != nil {
		return "", err
	}

	if err := s.store.Complete(ctx, session.ID, signed, s.now()); err != nil {
		return "", err
	}

	redirectURL, err := url.Parse(session.WalletURL)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "invalid wallet url")
	}
	query := redirectURL.Query()
	query.Set("credential", signed)
	query.Set("credential_format", "jwt_vc_json")
	if state != "" {
		query.Set("state", state)
	}
	redirectURL.RawQuery = query.Encode()

	if s.metrics != nil {
		s.metrics.IncrementSessionsCompleted(session.CredentialType)
	}
	s.logger.InfoContext(ctx, "issuance session completed",
		"session_id", session.ID, "credential_type", session.CredentialType)

	return redirectURL.String(), nil
}

// CredentialResult is the pickup view of a completed session.
type CredentialResult struct {
	Credential       string `json:"credential"`
	CredentialFormat string `json:"credential_format"`
	CredentialType   string `json:"credential_type"`
}

// Credential returns the signed credential of a completed session.
func (s *Service) Credential(ctx context.Context, sessionID string) (*CredentialResult, error) {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("Session %s not found", sessionID))
		}
		return nil, err
	}
	if session.Status != models.StatusCompleted {
		return nil, dErrors.New(dErrors.CodeCredentialNotReady, "Credential is not yet available")
	}
	return &CredentialResult{
		Credential:       session.Credential,
		CredentialFormat: "jwt_vc_json",
		CredentialType:   session.CredentialType,
	}, nil
}

// VerifyPIN checks a wallet-supplied PIN against the session's stored hash.
func (s *Service) VerifyPIN(ctx context.Context, sessionID, pin string) error {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("Session %s not found", sessionID))
		}
		return err
	}
	return secrets.VerifyPIN(pin, session.UserPINHash)
}

// FindByPreAuthorizedCode exposes session lookup for the token endpoint.
func (s *Service) FindByPreAuthorizedCode(ctx context.Context, code string) (*models.Session, error) {
	session, err := s.store.FindByPreAuthorizedCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.now()) {
		s.deleteExpired(ctx, session.ID)
		return nil, store.ErrNotFound
	}
	return session, nil
}

func (s *Service) matchSession(ctx context.Context, state, code string) (*models.Session, error) {
	if code != "" {
		if session, err := s.store.FindByPreAuthorizedCode(ctx, code); err == nil {
			return session, nil
		}
	}
	if state != "" {
		if session, err := s.store.FindByID(ctx, state); err == nil {
			return session, nil
		}
	}
	return nil, dErrors.New(dErrors.CodeInvalidState, "State parameter does not match")
}

func (s *Service) findLive(ctx context.Context, sessionID string, notFound, expired error) (*models.Session, error) {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, notFound
		}
		return nil, err
	}
	if session.Expired(s.now()) {
		s.deleteExpired(ctx, session.ID)
		return nil, expired
	}
	return session, nil
}

func (s *Service) deleteExpired(ctx context.Context, sessionID string) {
	if err := s.store.Delete(ctx, sessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.logger.WarnContext(ctx, "failed to delete expired session",
			"session_id", sessionID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.IncrementSessionsExpired()
	}
}

func qrDataURL(content string) (string, error) {
	png, err := qrcode.Encode(content, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
