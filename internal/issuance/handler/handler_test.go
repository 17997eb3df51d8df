package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"attesto/internal/credential"
	"attesto/internal/issuance/service"
	"attesto/internal/issuance/store"
	"attesto/internal/platform/config"
)

type stubSigner struct{}

func (stubSigner) SignCredential(_ context.Context, _ map[string]any, credentialType credential.Type) (string, error) {
	return "signed.jwt." + string(credentialType), nil
}

type HandlerSuite struct {
	suite.Suite
	router http.Handler
}

func (s *HandlerSuite) SetupTest() {
	sessions := store.NewInMemorySessionStore()
	svc := service.New(sessions, stubSigner{}, config.Server{
		BaseURL:    "http://issuer.test",
		IssuerURL:  "http://issuer.test",
		WalletURL:  "http://wallet.test",
		SessionTTL: 10 * time.Minute,
	})

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(svc, logger)

	r := chi.NewRouter()
	h.Register(r)
	s.router = r
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) initiate() *service.InitiateResult {
	rec := s.do(http.MethodPost, "/issuance/initiate", map[string]any{
		"credential_type": "custom_credential",
		"credential_data": map[string]any{"customData": "hello"},
	})
	s.Require().Equal(http.StatusOK, rec.Code)

	var result service.InitiateResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &result))
	return &result
}

func (s *HandlerSuite) TestInitiate() {
	result := s.initiate()
	s.NotEmpty(result.SessionID)
	s.NotEmpty(result.PreAuthorizedCode)
	s.Len(result.UserPIN, 4)
	s.Equal("initiated", result.Status)
	s.Contains(result.QRContent, "credential_offer_uri=")
}

func (s *HandlerSuite) TestInitiate_UnsupportedType() {
	rec := s.do(http.MethodPost, "/issuance/initiate", map[string]any{
		"credential_type": "driver_license",
	})
	s.Equal(http.StatusBadRequest, rec.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("unsupported_credential_type", resp["error"])
}

func (s *HandlerSuite) TestOffer() {
	result := s.initiate()

	rec := s.do(http.MethodGet, "/offer/"+result.SessionID, nil)
	s.Equal(http.StatusOK, rec.Code)

	var offer map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &offer))
	s.Equal("http://issuer.test", offer["credential_issuer"])

	rec = s.do(http.MethodGet, "/offer/missing", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestStatusAndCallbackFlow() {
	result := s.initiate()

	rec := s.do(http.MethodGet, "/issuance/session/"+result.SessionID, nil)
	s.Equal(http.StatusOK, rec.Code)

	var status service.StatusResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &status))
	s.Equal("pending", status.Status)
	s.Nil(status.Credential)

	rec = s.do(http.MethodGet, "/issuance/callback?code="+result.PreAuthorizedCode+"&state=abc", nil)
	s.Equal(http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	s.Contains(location, "http://wallet.test")
	s.Contains(location, "credential_format=jwt_vc_json")
	s.Contains(location, "state=abc")

	rec = s.do(http.MethodGet, "/issuance/session/"+result.SessionID, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &status))
	s.Equal("completed", status.Status)
	s.Require().NotNil(status.Credential)
	s.Equal("signed.jwt.custom_credential", *status.Credential)
}

func (s *HandlerSuite) TestCallback_InvalidState() {
	rec := s.do(http.MethodGet, "/issuance/callback?state=nope", nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	var resp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("invalid_state", resp["error"])
}

func (s *HandlerSuite) TestCredentialPickup() {
	result := s.initiate()

	rec := s.do(http.MethodGet, "/issuance/credential/"+result.SessionID, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	var errResp map[string]string
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &errResp))
	s.Equal("credential_not_ready", errResp["error"])

	s.do(http.MethodGet, "/issuance/callback?code="+result.PreAuthorizedCode, nil)

	rec = s.do(http.MethodGet, "/issuance/credential/"+result.SessionID, nil)
	s.Equal(http.StatusOK, rec.Code)

	var pickup service.CredentialResult
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &pickup))
	s.Equal("signed.jwt.custom_credential", pickup.Credential)
}
