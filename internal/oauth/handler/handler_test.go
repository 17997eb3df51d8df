package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	issuance "attesto/internal/issuance/models"
	"attesto/internal/oauth/service"
	"attesto/internal/oauth/store"
)

type stubSessions struct {
	sessions map[string]*issuance.Session
}

func (s *stubSessions) FindByPreAuthorizedCode(_ context.Context, code string) (*issuance.Session, error) {
	if session, ok := s.sessions[code]; ok {
		return session, nil
	}
	return nil, store.ErrNotFound
}

type HandlerSuite struct {
	suite.Suite
	router http.Handler
}

func (s *HandlerSuite) SetupTest() {
	sessions := &stubSessions{sessions: map[string]*issuance.Session{
		"pre-auth-1": {ID: "session-1", PreAuthorizedCode: "pre-auth-1"},
	}}
	svc := service.New(store.NewInMemoryCodeStore(), store.NewInMemoryStateStore(), sessions)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(svc, logger)

	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) postJSON(path string, body any) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	s.Require().NoError(err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) authorize() string {
	query := url.Values{
		"client_id":     {"wallet"},
		"redirect_uri":  {"http://wallet.test/cb"},
		"state":         {"s-1"},
		"response_type": {"code"},
	}
	req := httptest.NewRequest(http.MethodGet, "/authorize?"+query.Encode(), nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	s.Require().NoError(err)
	return location.Query().Get("code")
}

func (s *HandlerSuite) TestAuthorize_Redirects() {
	code := s.authorize()
	s.NotEmpty(code)
}

func (s *HandlerSuite) TestAuthorize_MissingParameters() {
	req := httptest.NewRequest(http.MethodGet, "/authorize?client_id=wallet", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("invalid_request", resp["error"])
}

func (s *HandlerSuite) TestToken_AuthorizationCode_Form() {
	code := s.authorize()

	form := url.Values{
		"grant_type": {"authorization_code"},
		"code":       {code},
	}
	req := httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp service.TokenResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.NotEmpty(resp.AccessToken)
	s.Equal("Bearer", resp.TokenType)
	s.Equal("openid", resp.Scope)
}

func (s *HandlerSuite) TestToken_PreAuthorizedCode_JSON() {
	rec := s.postJSON("/token", map[string]string{
		"grant_type":          issuance.GrantTypePreAuthorizedCode,
		"pre-authorized_code": "pre-auth-1",
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	var resp service.TokenResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.NotEmpty(resp.AccessToken)
	s.NotEmpty(resp.CNonce)
	s.Equal(600, resp.CNonceExpiresIn)
}

func (s *HandlerSuite) TestToken_UnknownPreAuthorizedCode() {
	rec := s.postJSON("/token", map[string]string{
		"grant_type":          issuance.GrantTypePreAuthorizedCode,
		"pre-authorized_code": "nope",
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("invalid_grant", resp["error"])
}

func (s *HandlerSuite) TestToken_UnsupportedGrantType() {
	rec := s.postJSON("/token", map[string]string{"grant_type": "implicit"})
	s.Equal(http.StatusBadRequest, rec.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("unsupported_grant_type", resp["error"])
}

func (s *HandlerSuite) TestUserinfo() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/userinfo", nil))
	s.Equal(http.StatusOK, rec.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("user123", resp["sub"])
}
