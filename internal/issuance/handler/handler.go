// Package handler exposes the issuance session endpoints: initiation with QR
// payload, offer retrieval, status polling, wallet callback, and credential
// pickup.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attesto/internal/issuance/models"
	"attesto/internal/issuance/service"
	"attesto/internal/platform/middleware"
	"attesto/internal/wallet"
	"attesto/pkg/platform/httputil"
)

// Service defines the issuance operations the endpoints need.
type Service interface {
	Initiate(ctx context.Context, credentialType string, credentialData map[string]any) (*service.InitiateResult, error)
	Offer(ctx context.Context, sessionID string) (*models.CredentialOffer, error)
	Status(ctx context.Context, sessionID string) (*service.StatusResult, error)
	Callback(ctx context.Context, state, code string) (string, error)
	Credential(ctx context.Context, sessionID string) (*service.CredentialResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/issuance/initiate", h.HandleInitiate)
	r.Get("/offer/{sessionID}", h.HandleOffer)
	r.Get("/issuance/session/{sessionID}", h.HandleStatus)
	r.Get("/issuance/callback", h.HandleCallback)
	r.Get("/issuance/credential/{sessionID}", h.HandleCredential)
}

// InitiateRequest starts an issuance session. Both fields are optional; the
// type defaults to the custom credential.
type InitiateRequest struct {
	CredentialType string         `json:"credential_type"`
	CredentialData map[string]any `json:"credential_data"`
}

// HandleInitiate creates a session and returns the QR payload for the wallet.
func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeJSON[InitiateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Initiate(ctx, req.CredentialType, req.CredentialData)
	if err != nil {
		h.logger.ErrorContext(ctx, "issuance initiation failed",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleOffer serves the credential offer document to the wallet.
func (h *Handler) HandleOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	offer, err := h.service.Offer(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, offer)
}

// HandleStatus reports session state for wallet polling.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	status, err := h.service.Status(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleCallback completes the session and redirects the wallet with the
// signed credential in the query string.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")

	device := wallet.DescribeDevice(r.UserAgent())
	h.logger.InfoContext(ctx, "issuance callback received",
		append([]any{"request_id", requestID}, device.LogFields()...)...)

	redirectURL, err := h.service.Callback(ctx, state, code)
	if err != nil {
		h.logger.WarnContext(ctx, "issuance callback failed",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	http.Redirect(w, r, redirectURL, http.StatusFound)
}

// HandleCredential returns the signed credential of a completed session.
func (h *Handler) HandleCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "sessionID")

	result, err := h.service.Credential(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}
