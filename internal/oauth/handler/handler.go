// Package handler exposes the OAuth2 authorization, token, and userinfo
// endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"attesto/internal/oauth/service"
	"attesto/internal/platform/middleware"
	dErrors "attesto/pkg/domain-errors"
	"attesto/pkg/platform/httputil"
)

// Service defines the OAuth operations the endpoints need.
type Service interface {
	Authorize(ctx context.Context, req service.AuthorizeRequest) (string, error)
	Token(ctx context.Context, req service.TokenRequest) (*service.TokenResponse, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/authorize", h.HandleAuthorize)
	r.Post("/authorize", h.HandleAuthorize)
	r.Post("/token", h.HandleToken)
	r.Get("/userinfo", h.HandleUserinfo)
}

// HandleAuthorize validates the authorization request and redirects back to
// the client with a one-time code. Parameters come from the query string, or
// from the form body on POST.
func (h *Handler) HandleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	params := r.URL.Query()
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err == nil && len(r.PostForm) > 0 {
			params = r.PostForm
		}
	}

	redirect, err := h.service.Authorize(ctx, service.AuthorizeRequest{
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		ResponseType:        params.Get("response_type"),
		Nonce:               params.Get("nonce"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "authorization rejected",
			"error", err, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	http.Redirect(w, r, redirect, http.StatusFound)
}

// HandleToken exchanges a grant for an access token. The body may be JSON or
// form encoded.
func (h *Handler) HandleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	req, ok := h.decodeTokenRequest(w, r, requestID)
	if !ok {
		return
	}

	response, err := h.service.Token(ctx, *req)
	if err != nil {
		h.logger.WarnContext(ctx, "token request rejected",
			"error", err, "grant_type", req.GrantType, "request_id", requestID)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, response)
}

// HandleUserinfo is a stub userinfo endpoint for the authorization server
// metadata.
func (h *Handler) HandleUserinfo(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"sub": "user123"})
}

func (h *Handler) decodeTokenRequest(w http.ResponseWriter, r *http.Request, requestID string) (*service.TokenRequest, bool) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidRequest, "invalid form body"))
			return nil, false
		}
		return &service.TokenRequest{
			GrantType:         r.PostForm.Get("grant_type"),
			Code:              r.PostForm.Get("code"),
			PreAuthorizedCode: preAuthorizedCode(r.PostForm),
			UserPIN:           r.PostForm.Get("user_pin"),
			RedirectURI:       r.PostForm.Get("redirect_uri"),
			ClientID:          r.PostForm.Get("client_id"),
		}, true
	}

	return httputil.DecodeJSON[service.TokenRequest](w, r, h.logger, r.Context(), requestID)
}

// preAuthorizedCode accepts both the hyphenated standard parameter name and
// the underscore variant some wallets send.
func preAuthorizedCode(form url.Values) string {
	if code := form.Get("pre-authorized_code"); code != "" {
		return code
	}
	return form.Get("pre_authorized_code")
}
