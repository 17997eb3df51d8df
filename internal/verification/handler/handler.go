// Package handler exposes the verifier endpoints: request objects,
// presentation submission, stateless verification, statistics, and the
// QR-driven verification session flow.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attesto/internal/credential"
	"attesto/internal/platform/middleware"
	"attesto/internal/verification/service"
	"attesto/internal/wallet"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/platform/httputil"
)

// Service defines the verification operations the endpoints need.
type Service interface {
	CreateRequestObject(ctx context.Context, opts credential.RequestOptions) (*service.RequestObjectCreated, error)
	RequestObject(ctx context.Context, requestID string) (*credential.RequestObject, error)
	SignedRequestObject(ctx context.Context, requestID string) (string, error)
	SubmitPresentation(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	Response(ctx context.Context, responseID string) (*service.ResponseView, error)
	Verify(ctx context.Context, vpToken string, requirements *credential.Requirements) (*service.VerifyView, error)
	Stats(ctx context.Context) service.StatsResult
	InitiatePresentation(ctx context.Context, credentialType string) (*service.InitiateResult, error)
	PresentationRequest(ctx context.Context, sessionID string) (*credential.RequestObject, error)
	PresentationCallback(ctx context.Context, vpToken string, submission any, state string) (*service.CallbackResult, error)
	PresentationStatus(ctx context.Context, sessionID string) (*service.SessionStatus, error)
	PresentationResult(ctx context.Context, sessionID string) (*service.SessionResult, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/request_object", h.HandleCreateRequestObject)
	r.Get("/request_object/{requestID}", h.HandleGetRequestObject)
	r.Post("/presentation", h.HandleSubmitPresentation)
	r.Get("/presentation/{responseID}", h.HandleGetResponse)
	r.Post("/verify", h.HandleVerify)
	r.Get("/stats", h.HandleStats)

	r.Post("/verification/initiate-presentation", h.HandleInitiatePresentation)
	r.Get("/presentation-request/{sessionID}", h.HandlePresentationRequest)
	r.Post("/presentation-callback", h.HandlePresentationCallback)
	r.Get("/verification/presentation-status/{sessionID}", h.HandlePresentationStatus)
	r.Get("/verification/presentation-result/{sessionID}", h.HandlePresentationResult)
}

// CreateRequestObjectRequest carries optional overrides for a new request
// object. Wire names follow the OAuth request object parameters.
type CreateRequestObjectRequest struct {
	InputDescriptors []credential.InputDescriptor `json:"input_descriptors"`
	State            string                       `json:"state"`
	Nonce            string                       `json:"nonce"`
	RedirectURI      string                       `json:"redirect_uri"`
	ClientID         string                       `json:"client_id"`
}

// HandleCreateRequestObject creates a presentation request object.
func (h *Handler) HandleCreateRequestObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeJSON[CreateRequestObjectRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	created, err := h.service.CreateRequestObject(ctx, credential.RequestOptions{
		InputDescriptors: req.InputDescriptors,
		State:            req.State,
		Nonce:            req.Nonce,
		RedirectURI:      req.RedirectURI,
		ClientID:         req.ClientID,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "request object creation failed",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, created)
}

// HandleGetRequestObject serves a stored request object. With ?format=jwt the
// signed ES256 form is returned instead of JSON.
func (h *Handler) HandleGetRequestObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "requestID")

	if r.URL.Query().Get("format") == "jwt" {
		signed, err := h.service.SignedRequestObject(ctx, id)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"request": signed})
		return
	}

	request, err := h.service.RequestObject(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

// HandleSubmitPresentation verifies a submitted presentation and stores the
// outcome. Verification and claim failures answer 400 with the failure
// detail lists.
func (h *Handler) HandleSubmitPresentation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeJSON[service.SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.VPToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "vp_token is required"))
		return
	}

	result, err := h.service.SubmitPresentation(ctx, *req)
	if err != nil {
		h.writeSubmitError(ctx, w, err, requestID)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleGetResponse serves a stored verification response.
func (h *Handler) HandleGetResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	view, err := h.service.Response(ctx, chi.URLParam(r, "responseID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// VerifyRequest carries a presentation and optional claim requirements.
type VerifyRequest struct {
	VPToken      string                   `json:"vp_token"`
	Requirements *credential.Requirements `json:"requirements"`
}

// HandleVerify verifies a presentation without storing the result.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeJSON[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.VPToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "vp_token is required"))
		return
	}

	view, err := h.service.Verify(ctx, req.VPToken, req.Requirements)
	if err != nil {
		var invalid *service.PresentationInvalidError
		if errors.As(err, &invalid) {
			httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
				"valid":  false,
				"errors": invalid.Errors,
			})
			return
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleStats reports verifier statistics.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.service.Stats(r.Context()))
}

// InitiatePresentationRequest starts a QR-driven verification session.
type InitiatePresentationRequest struct {
	CredentialType string `json:"credential_type"`
}

// HandleInitiatePresentation creates a verification session and QR payload.
func (h *Handler) HandleInitiatePresentation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeJSON[InitiatePresentationRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.InitiatePresentation(ctx, req.CredentialType)
	if err != nil {
		h.logger.ErrorContext(ctx, "verification initiation failed",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandlePresentationRequest serves a session's presentation request to the
// wallet.
func (h *Handler) HandlePresentationRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	request, err := h.service.PresentationRequest(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, request)
}

// PresentationCallbackRequest is the wallet's direct_post submission.
type PresentationCallbackRequest struct {
	VPToken                string `json:"vp_token"`
	PresentationSubmission any    `json:"presentation_submission"`
	State                  string `json:"state"`
}

// HandlePresentationCallback ingests a wallet presentation for a QR session.
func (h *Handler) HandlePresentationCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := httputil.DecodeJSON[PresentationCallbackRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if req.VPToken == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "vp_token is required"))
		return
	}

	device := wallet.DescribeDevice(r.UserAgent())
	h.logger.InfoContext(ctx, "presentation callback received",
		append([]any{"request_id", requestID, "state", req.State}, device.LogFields()...)...)

	result, err := h.service.PresentationCallback(ctx, req.VPToken, req.PresentationSubmission, req.State)
	if err != nil {
		h.logger.WarnContext(ctx, "presentation callback rejected",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandlePresentationStatus reports a verification session's state.
func (h *Handler) HandlePresentationStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.service.PresentationStatus(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandlePresentationResult serves the stored outcome of a completed session.
func (h *Handler) HandlePresentationResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	result, err := h.service.PresentationResult(ctx, chi.URLParam(r, "sessionID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) writeSubmitError(ctx context.Context, w http.ResponseWriter, err error, requestID string) {
	var invalid *service.PresentationInvalidError
	if errors.As(err, &invalid) {
		h.logger.WarnContext(ctx, "presentation rejected",
			"errors", invalid.Errors, "request_id", requestID)
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_presentation",
			"error_description": "Presentation verification failed",
			"errors":            invalid.Errors,
		})
		return
	}

	var claims *service.ClaimsInvalidError
	if errors.As(err, &claims) {
		h.logger.WarnContext(ctx, "claims validation failed",
			"missing_claims", claims.MissingClaims, "request_id", requestID)
		httputil.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "claims_validation_failed",
			"error_description": "Required claims are missing or invalid",
			"missing_claims":    claims.MissingClaims,
			"invalid_claims":    claims.InvalidClaims,
		})
		return
	}

	httputil.WriteError(w, err)
}
