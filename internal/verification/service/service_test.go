package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attesto/internal/credential"
	"attesto/internal/platform/config"
	"attesto/internal/verification/models"
	"attesto/internal/verification/store"
	dErrors "attesto/pkg/domain-errors"
)

type testKeys struct {
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
}

func (k *testKeys) CredentialSigningKey() *rsa.PrivateKey     { return k.rsaKey }
func (k *testKeys) CredentialVerificationKey() *rsa.PublicKey { return &k.rsaKey.PublicKey }
func (k *testKeys) RequestSigningKey() *ecdsa.PrivateKey      { return k.ecKey }

type InMemoryStores struct {
	Requests  *store.InMemoryRequestObjectStore
	Responses *store.InMemoryResponseStore
	Sessions  *store.InMemorySessionStore
}

func newFixture(t *testing.T, opts ...Option) (*Service, *credential.Signer, *InMemoryStores) {
	t.Helper()
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	signer := credential.NewSigner(&testKeys{rsaKey: rsaKey, ecKey: ecKey},
		"http://issuer.test", "http://wallet.test", "http://verifier.test")

	stores := &InMemoryStores{
		Requests:  store.NewInMemoryRequestObjectStore(),
		Responses: store.NewInMemoryResponseStore(),
		Sessions:  store.NewInMemorySessionStore(),
	}
	svc := New(stores.Requests, stores.Responses, stores.Sessions, signer, config.Server{
		BaseURL:     "http://verifier.test",
		WalletURL:   "http://wallet.test",
		VerifierURL: "http://verifier.test",
		SessionTTL:  10 * time.Minute,
	}, opts...)
	return svc, signer, stores
}

func signPresentation(t *testing.T, signer *credential.Signer, data map[string]any, credentialType credential.Type) string {
	t.Helper()
	ctx := context.Background()
	cred, err := signer.SignCredential(ctx, data, credentialType)
	require.NoError(t, err)
	vpToken, err := signer.CreatePresentation(ctx, []string{cred}, "http://verifier.test")
	require.NoError(t, err)
	return vpToken
}

func Test_CreateAndGetRequestObject(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	created, err := svc.CreateRequestObject(ctx, credential.RequestOptions{State: "s1", Nonce: "n1"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.RequestID)
	assert.Equal(t, "http://verifier.test/request_object/"+created.RequestID, created.RequestObjectURI)
	assert.Equal(t, 600, created.ExpiresIn)
	assert.Equal(t, "jwt_vc_json", created.RequestFormat)

	request, err := svc.RequestObject(ctx, created.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "s1", request.State)
	assert.Equal(t, "n1", request.Nonce)
	assert.Equal(t, "vp_token", request.ResponseType)

	_, err = svc.RequestObject(ctx, "missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_RequestObject_ExpiredIsDeleted(t *testing.T) {
	ctx := context.Background()
	current := time.Now()
	svc, _, _ := newFixture(t, WithClock(func() time.Time { return current }))

	created, err := svc.CreateRequestObject(ctx, credential.RequestOptions{})
	require.NoError(t, err)

	current = current.Add(11 * time.Minute)

	_, err = svc.RequestObject(ctx, created.RequestID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))

	_, err = svc.RequestObject(ctx, created.RequestID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_SignedRequestObject(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	created, err := svc.CreateRequestObject(ctx, credential.RequestOptions{})
	require.NoError(t, err)

	signed, err := svc.SignedRequestObject(ctx, created.RequestID)
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
}

func Test_SubmitPresentation_Success(t *testing.T) {
	ctx := context.Background()
	svc, signer, stores := newFixture(t)

	vpToken := signPresentation(t, signer, map[string]any{"family_name": "Dupont"}, credential.TypeEUDIPID)

	result, err := svc.SubmitPresentation(ctx, SubmitRequest{VPToken: vpToken})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ResponseID)
	assert.Equal(t, 1, result.VerificationResult.CredentialCount)
	assert.Equal(t, "http://issuer.test", result.VerificationResult.Issuer)

	assert.Equal(t, 1, stores.Responses.Count(ctx))

	view, err := svc.Response(ctx, result.ResponseID)
	require.NoError(t, err)
	assert.True(t, view.Verified)
	assert.Equal(t, "success", view.Status)
	require.Len(t, view.CredentialsInfo, 1)
	assert.Equal(t, string(credential.TypeEUDIPID), view.CredentialsInfo[0].Type)
}

func Test_SubmitPresentation_Invalid(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	_, err := svc.SubmitPresentation(ctx, SubmitRequest{VPToken: "not.a.vp"})
	require.Error(t, err)

	var invalid *PresentationInvalidError
	require.ErrorAs(t, err, &invalid)
	assert.NotEmpty(t, invalid.Errors)
}

func Test_SubmitPresentation_RequestBinding(t *testing.T) {
	ctx := context.Background()
	svc, signer, _ := newFixture(t)

	created, err := svc.CreateRequestObject(ctx, credential.RequestOptions{State: "expected-state"})
	require.NoError(t, err)

	vpToken := signPresentation(t, signer, map[string]any{"customData": "x"}, credential.TypeCustom)

	_, err = svc.SubmitPresentation(ctx, SubmitRequest{
		VPToken: vpToken, RequestID: created.RequestID, State: "wrong-state",
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	result, err := svc.SubmitPresentation(ctx, SubmitRequest{
		VPToken: vpToken, RequestID: created.RequestID, State: "expected-state",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = svc.SubmitPresentation(ctx, SubmitRequest{
		VPToken: vpToken, RequestID: "missing",
	})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidRequest))
}

func Test_SubmitPresentation_ClaimsValidation(t *testing.T) {
	ctx := context.Background()
	svc, signer, _ := newFixture(t)

	vpToken := signPresentation(t, signer, map[string]any{"family_name": "Dupont"}, credential.TypeEUDIPID)

	_, err := svc.SubmitPresentation(ctx, SubmitRequest{
		VPToken:      vpToken,
		Requirements: &credential.Requirements{RequiredClaims: []string{"passport_number"}},
	})
	require.Error(t, err)

	var claims *ClaimsInvalidError
	require.ErrorAs(t, err, &claims)
	assert.Equal(t, []string{"passport_number"}, claims.MissingClaims)
}

func Test_Response_Expired(t *testing.T) {
	ctx := context.Background()
	current := time.Now()
	svc, signer, _ := newFixture(t, WithClock(func() time.Time { return current }))

	vpToken := signPresentation(t, signer, map[string]any{"customData": "x"}, credential.TypeCustom)
	result, err := svc.SubmitPresentation(ctx, SubmitRequest{VPToken: vpToken})
	require.NoError(t, err)

	current = current.Add(61 * time.Minute)

	_, err = svc.Response(ctx, result.ResponseID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
	_, err = svc.Response(ctx, result.ResponseID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_Verify(t *testing.T) {
	ctx := context.Background()
	svc, signer, _ := newFixture(t)

	vpToken := signPresentation(t, signer, map[string]any{"family_name": "Dupont"}, credential.TypeEUDIPID)

	view, err := svc.Verify(ctx, vpToken, nil)
	require.NoError(t, err)
	assert.True(t, view.Valid)
	assert.Equal(t, "http://issuer.test", view.Presentation.Issuer)
	assert.Empty(t, view.Errors)

	view, err = svc.Verify(ctx, vpToken, &credential.Requirements{
		RequiredClaims: []string{"passport_number"},
	})
	require.NoError(t, err)
	assert.False(t, view.Valid)
	assert.Contains(t, view.Errors, "passport_number")

	_, err = svc.Verify(ctx, "garbage", nil)
	var invalid *PresentationInvalidError
	require.ErrorAs(t, err, &invalid)
}

func Test_Stats(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newFixture(t)

	stats := svc.Stats(ctx)
	assert.Equal(t, 0, stats.PendingRequests)
	assert.Equal(t, 0, stats.VerificationResponses)
	assert.NotEmpty(t, stats.Endpoints)

	_, err := svc.CreateRequestObject(ctx, credential.RequestOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Stats(ctx).PendingRequests)
}

func Test_InitiatePresentationFlow(t *testing.T) {
	ctx := context.Background()
	svc, signer, _ := newFixture(t)

	initiated, err := svc.InitiatePresentation(ctx, string(credential.TypeEUDIPID))
	require.NoError(t, err)
	assert.Equal(t, "pending", initiated.Status)
	assert.Contains(t, initiated.QRContent, "presentation_request_uri=")
	assert.Equal(t, "http://verifier.test/presentation-request/"+initiated.SessionID, initiated.PresentationRequestURI)

	request, err := svc.PresentationRequest(ctx, initiated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "vp_token id_token", request.ResponseType)
	assert.Equal(t, "direct_post", request.ResponseMode)
	assert.Equal(t, "openid4vp-request", request.PresentationDefinition.ID)
	require.Len(t, request.PresentationDefinition.InputDescriptors, 1)
	descriptor := request.PresentationDefinition.InputDescriptors[0]
	assert.Equal(t, "EIDAS PID (Person ID)", descriptor.Name)
	require.NotNil(t, descriptor.Constraints)
	require.Len(t, descriptor.Constraints.Fields, 1)
	require.NotNil(t, descriptor.Constraints.Fields[0].Filter)
	assert.Equal(t, string(credential.TypeEUDIPID), descriptor.Constraints.Fields[0].Filter.Pattern)

	status, err := svc.PresentationStatus(ctx, initiated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "pending", status.Status)
	assert.Nil(t, status.CompletedAt)

	_, err = svc.PresentationResult(ctx, initiated.SessionID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePresentationNotReady))

	vpToken := signPresentation(t, signer, map[string]any{"family_name": "Dupont"}, credential.TypeEUDIPID)
	callback, err := svc.PresentationCallback(ctx, vpToken, map[string]any{"descriptor_map": []any{}}, request.State)
	require.NoError(t, err)
	assert.Equal(t, "completed", callback.Status)

	status, err = svc.PresentationStatus(ctx, initiated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "completed", status.Status)
	require.NotNil(t, status.CompletedAt)

	result, err := svc.PresentationResult(ctx, initiated.SessionID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, vpToken, result.VPToken)
	assert.NotNil(t, result.Claims)
	assert.Equal(t, "http://issuer.test", result.PresentationInfo.Issuer)
	assert.Equal(t, string(credential.TypeEUDIPID), result.PresentationInfo.CredentialType)
	assert.NotEmpty(t, result.PresentationInfo.Holder)
}

func Test_PresentationCallback_InvalidState(t *testing.T) {
	ctx := context.Background()
	svc, signer, _ := newFixture(t)

	vpToken := signPresentation(t, signer, map[string]any{"customData": "x"}, credential.TypeCustom)
	_, err := svc.PresentationCallback(ctx, vpToken, nil, "unknown-state")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func Test_PresentationCallback_FailedVerification(t *testing.T) {
	ctx := context.Background()
	svc, _, stores := newFixture(t)

	initiated, err := svc.InitiatePresentation(ctx, "")
	require.NoError(t, err)

	session, err := stores.Sessions.FindByID(ctx, initiated.SessionID)
	require.NoError(t, err)

	callback, err := svc.PresentationCallback(ctx, "garbage.token.value", nil, session.PresentationRequest.State)
	require.NoError(t, err)
	assert.Equal(t, "failed", callback.Status)

	status, err := svc.PresentationStatus(ctx, initiated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "failed", status.Status)

	// failed sessions still refuse result retrieval
	_, err = svc.PresentationResult(ctx, initiated.SessionID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodePresentationNotReady))
}

func Test_PresentationCallback_TerminalSessionRejected(t *testing.T) {
	ctx := context.Background()
	svc, signer, stores := newFixture(t)

	initiated, err := svc.InitiatePresentation(ctx, "")
	require.NoError(t, err)

	session, err := stores.Sessions.FindByID(ctx, initiated.SessionID)
	require.NoError(t, err)
	state := session.PresentationRequest.State

	callback, err := svc.PresentationCallback(ctx, "garbage.token.value", nil, state)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusFailed), callback.Status)

	// a later valid callback for the same state cannot revive the session
	vpToken := signPresentation(t, signer, map[string]any{"customData": "x"}, credential.TypeCustom)
	_, err = svc.PresentationCallback(ctx, vpToken, nil, state)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	status, err := svc.PresentationStatus(ctx, initiated.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(models.StatusFailed), status.Status)
}
