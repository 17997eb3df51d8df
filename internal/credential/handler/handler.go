// Package handler exposes the OpenID4VCI credential endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attesto/internal/credential"
	"attesto/internal/platform/middleware"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/platform/httputil"
	"attesto/pkg/secrets"
)

// c_nonce lifetime returned by the credential endpoints, in seconds.
const cNonceExpiresIn = 300

// Service defines the signing operations the credential endpoints need.
// Returns domain objects, not HTTP response DTOs.
type Service interface {
	SignCredential(ctx context.Context, data map[string]any, credentialType credential.Type) (string, error)
	SignBatch(ctx context.Context, items []credential.BatchItem) ([]string, error)
	VerifyCredential(ctx context.Context, token string) (*credential.VCClaims, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/credential", h.HandleCredential)
	r.Post("/batch_credential", h.HandleBatchCredential)
	r.Post("/deferred_credential", h.HandleDeferredCredential)
	r.Post("/notification", h.HandleNotification)
	r.Post("/verify_credential", h.HandleVerifyCredential)
}

// CredentialResponse is the OpenID4VCI credential endpoint response.
type CredentialResponse struct {
	Credential       string `json:"credential"`
	CredentialFormat string `json:"credential_format"`
	CNonce           string `json:"c_nonce,omitempty"`
	CNonceExpiresIn  int    `json:"c_nonce_expires_in,omitempty"`
}

// BatchCredentialResponse is the batch endpoint response.
type BatchCredentialResponse struct {
	Credentials      []string `json:"credentials"`
	CredentialFormat string   `json:"credential_format"`
	CNonce           string   `json:"c_nonce"`
	CNonceExpiresIn  int      `json:"c_nonce_expires_in"`
}

// HandleCredential signs one credential from caller-supplied claims. The body
// is open-ended: credential_configuration_id selects the type and every other
// field feeds the credentialSubject.
func (h *Handler) HandleCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	body, ok := httputil.DecodeJSON[map[string]any](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	rawType, _ := (*body)["credential_configuration_id"].(string)
	credentialType, err := credential.ParseType(rawType)
	if err != nil {
		h.logger.WarnContext(ctx, "unsupported credential type",
			"credential_type", rawType, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}
	delete(*body, "credential_configuration_id")

	token, err := h.service.SignCredential(ctx, *body, credentialType)
	if err != nil {
		h.logger.ErrorContext(ctx, "credential issuance failed",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	cNonce, err := secrets.GenerateHex(8)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &CredentialResponse{
		Credential:       token,
		CredentialFormat: "jwt_vc_json",
		CNonce:           cNonce,
		CNonceExpiresIn:  cNonceExpiresIn,
	})
}

// BatchCredentialRequest carries multiple credential requests. Each entry is
// open-ended like the single credential body, with credential_type selecting
// the schema and defaulting to the custom credential.
type BatchCredentialRequest struct {
	Credentials []map[string]any `json:"credentials"`
}

func (req *BatchCredentialRequest) Validate() error {
	if req.Credentials == nil {
		return dErrors.New(dErrors.CodeInvalidRequest, "credentials must be an array")
	}
	return nil
}

// HandleBatchCredential signs several credentials in one call.
func (h *Handler) HandleBatchCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[BatchCredentialRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	items := make([]credential.BatchItem, 0, len(req.Credentials))
	for _, entry := range req.Credentials {
		rawType, _ := entry["credential_type"].(string)
		if rawType == "" {
			rawType = string(credential.TypeCustom)
		}
		credentialType, err := credential.ParseType(rawType)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		delete(entry, "credential_type")
		items = append(items, credential.BatchItem{Data: entry, Type: credentialType})
	}

	tokens, err := h.service.SignBatch(ctx, items)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch issuance failed",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	cNonce, err := secrets.GenerateHex(8)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &BatchCredentialResponse{
		Credentials:      tokens,
		CredentialFormat: "jwt_vc_json",
		CNonce:           cNonce,
		CNonceExpiresIn:  cNonceExpiresIn,
	})
}

// DeferredCredentialRequest redeems an acceptance token from an earlier
// deferred issuance.
type DeferredCredentialRequest struct {
	AcceptanceToken string `json:"acceptance_token"`
}

func (req *DeferredCredentialRequest) Validate() error {
	if req.AcceptanceToken == "" {
		return dErrors.New(dErrors.CodeInvalidRequest, "acceptance_token is required")
	}
	return nil
}

// HandleDeferredCredential completes a deferred issuance. Deferred state is
// not persisted; redemption signs a fresh demonstration credential.
func (h *Handler) HandleDeferredCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	_, ok := httputil.DecodeAndPrepare[DeferredCredentialRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	token, err := h.service.SignCredential(ctx, map[string]any{"subject": "user123"}, credential.TypeCustom)
	if err != nil {
		h.logger.ErrorContext(ctx, "deferred issuance failed",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &CredentialResponse{
		Credential:       token,
		CredentialFormat: "jwt_vc_json",
	})
}

// NotificationRequest is a wallet's credential status notification.
type NotificationRequest struct {
	CredentialID string `json:"credential_id"`
	Status       string `json:"status"`
}

// HandleNotification acknowledges a credential status notification.
func (h *Handler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeJSON[NotificationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	h.logger.InfoContext(ctx, "credential notification received",
		"credential_id", req.CredentialID, "status", req.Status, "request_id", requestID)

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "acknowledged",
		"message": "Notification received",
	})
}

// VerifyCredentialRequest carries a credential JWT to verify.
type VerifyCredentialRequest struct {
	Credential string `json:"credential"`
}

func (req *VerifyCredentialRequest) Validate() error {
	if req.Credential == "" {
		return dErrors.New(dErrors.CodeInvalidRequest, "credential is required")
	}
	return nil
}

// VerifyCredentialResponse reports a credential verification outcome.
type VerifyCredentialResponse struct {
	Valid      bool                 `json:"valid"`
	Credential *credential.VCClaims `json:"credential,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// HandleVerifyCredential verifies a credential JWT. Invalid or expired
// credentials answer 401 with valid=false rather than an error envelope.
func (h *Handler) HandleVerifyCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyCredentialRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	claims, err := h.service.VerifyCredential(ctx, req.Credential)
	if err != nil {
		h.logger.WarnContext(ctx, "credential verification failed",
			"error", err, "request_id", requestID)
		httputil.WriteJSON(w, http.StatusUnauthorized, &VerifyCredentialResponse{
			Valid: false,
			Error: "credential_verification_failed",
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, &VerifyCredentialResponse{
		Valid:      true,
		Credential: claims,
	})
}
