package service

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attesto/internal/credential"
	"attesto/internal/issuance/models"
	"attesto/internal/issuance/store"
	"attesto/internal/platform/config"
	dErrors "attesto/pkg/domain-errors"
)

type stubSigner struct {
	lastData map[string]any
	lastType credential.Type
}

func (s *stubSigner) SignCredential(_ context.Context, data map[string]any, credentialType credential.Type) (string, error) {
	if _, err := credential.ParseType(string(credentialType)); err != nil {
		return "", err
	}
	s.lastData = data
	s.lastType = credentialType
	return "signed.jwt." + string(credentialType), nil
}

func testConfig() config.Server {
	return config.Server{
		BaseURL:    "http://issuer.test",
		IssuerURL:  "http://issuer.test",
		WalletURL:  "http://wallet.test",
		SessionTTL: 10 * time.Minute,
	}
}

func newTestService(opts ...Option) (*Service, *store.InMemorySessionStore, *stubSigner) {
	sessions := store.NewInMemorySessionStore()
	signer := &stubSigner{}
	return New(sessions, signer, testConfig(), opts...), sessions, signer
}

func Test_Initiate(t *testing.T) {
	ctx := context.Background()
	svc, sessions, _ := newTestService()

	result, err := svc.Initiate(ctx, "", map[string]any{"customData": "hello"})
	require.NoError(t, err)

	assert.NotEmpty(t, result.SessionID)
	assert.NotEmpty(t, result.PreAuthorizedCode)
	assert.Len(t, result.UserPIN, 4)
	assert.Equal(t, "initiated", result.Status)
	assert.Equal(t, "custom_credential", result.CredentialType, "empty type defaults to custom")
	assert.Equal(t, 600, result.ExpiresIn)
	assert.Equal(t, "http://issuer.test/offer/"+result.SessionID, result.CredentialOfferURI)

	expectedQR := "http://wallet.test?credential_offer_uri=" + url.QueryEscape(result.CredentialOfferURI)
	assert.Equal(t, expectedQR, result.QRContent)
	assert.True(t, strings.HasPrefix(result.QRCode, "data:image/png;base64,"))

	session, err := sessions.FindByID(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, session.Status)
	assert.NotEqual(t, result.UserPIN, session.UserPINHash, "session stores only the pin hash")
	require.NotNil(t, session.CredentialOffer)
	assert.Equal(t, []string{"custom_credential"}, session.CredentialOffer.CredentialConfigurationIDs)
	require.NotNil(t, session.CredentialOffer.Grants.PreAuthorizedCode)
	assert.Equal(t, result.PreAuthorizedCode, session.CredentialOffer.Grants.PreAuthorizedCode.PreAuthorizedCode)
}

func Test_Initiate_UnsupportedType(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Initiate(context.Background(), "driver_license", nil)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnsupportedCredentialType))
}

func Test_Initiate_ConcurrentSessions(t *testing.T) {
	ctx := context.Background()
	svc, sessions, _ := newTestService()

	const count = 100
	ids := make(chan string, count)

	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Initiate(ctx, "custom_credential", nil)
			if !assert.NoError(t, err) {
				return
			}
			ids <- result.SessionID
			for j := 0; j < 3; j++ {
				status, err := svc.Status(ctx, result.SessionID)
				if assert.NoError(t, err) {
					assert.Equal(t, "pending", status.Status)
				}
			}
		}()
	}
	wg.Wait()
	close(ids)

	distinct := make(map[string]bool, count)
	for id := range ids {
		assert.False(t, distinct[id], "session id %s issued twice", id)
		distinct[id] = true
		_, err := sessions.FindByID(ctx, id)
		require.NoError(t, err)
	}
	assert.Len(t, distinct, count)
}

func Test_Offer(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	offer, err := svc.Offer(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "http://issuer.test", offer.CredentialIssuer)

	_, err = svc.Offer(ctx, "missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_Offer_ExpiredIsDeleted(t *testing.T) {
	ctx := context.Background()

	current := time.Now()
	svc, sessions, _ := newTestService(WithClock(func() time.Time { return current }))

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	current = current.Add(11 * time.Minute)

	_, err = svc.Offer(ctx, result.SessionID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))

	// lazy deletion: the record is gone, a second read reports not_found
	_, err = sessions.FindByID(ctx, result.SessionID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = svc.Offer(ctx, result.SessionID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_Callback_ByCode(t *testing.T) {
	ctx := context.Background()
	svc, sessions, signer := newTestService()

	result, err := svc.Initiate(ctx, "eu.europa.ec.eudi.pid.1", map[string]any{"family_name": "Dupont"})
	require.NoError(t, err)

	redirect, err := svc.Callback(ctx, "some-state", result.PreAuthorizedCode)
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.Equal(t, "wallet.test", parsed.Host)
	assert.Equal(t, "signed.jwt.eu.europa.ec.eudi.pid.1", parsed.Query().Get("credential"))
	assert.Equal(t, "jwt_vc_json", parsed.Query().Get("credential_format"))
	assert.Equal(t, "some-state", parsed.Query().Get("state"))

	assert.Equal(t, "Dupont", signer.lastData["family_name"])
	subject, _ := signer.lastData["subject"].(string)
	assert.True(t, strings.HasPrefix(subject, "user:"))

	session, err := sessions.FindByID(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, session.Status)
	require.NotNil(t, session.CompletedAt)
}

func Test_Callback_ByCode_OmitsEmptyState(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	redirect, err := svc.Callback(ctx, "", result.PreAuthorizedCode)
	require.NoError(t, err)

	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	assert.NotEmpty(t, parsed.Query().Get("credential"))
	assert.False(t, parsed.Query().Has("state"))
}

func Test_Callback_ByStateEqualToSessionID(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	redirect, err := svc.Callback(ctx, result.SessionID, "")
	require.NoError(t, err)
	assert.Contains(t, redirect, "credential=")
}

func Test_Callback_InvalidState(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Callback(context.Background(), "unknown-state", "unknown-code")
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func Test_Callback_Expired(t *testing.T) {
	ctx := context.Background()

	current := time.Now()
	svc, _, _ := newTestService(WithClock(func() time.Time { return current }))

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	current = current.Add(11 * time.Minute)

	_, err = svc.Callback(ctx, "", result.PreAuthorizedCode)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeExpired))
}

func Test_Credential(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	_, err = svc.Credential(ctx, result.SessionID)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCredentialNotReady))

	_, err = svc.Callback(ctx, "", result.PreAuthorizedCode)
	require.NoError(t, err)

	pickup, err := svc.Credential(ctx, result.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "signed.jwt.custom_credential", pickup.Credential)
	assert.Equal(t, "jwt_vc_json", pickup.CredentialFormat)
	assert.Equal(t, "custom_credential", pickup.CredentialType)

	_, err = svc.Credential(ctx, "missing")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func Test_VerifyPIN(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	require.NoError(t, svc.VerifyPIN(ctx, result.SessionID, result.UserPIN))

	err = svc.VerifyPIN(ctx, result.SessionID, "0000")
	if result.UserPIN != "0000" {
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidGrant))
	}
}

func Test_FindByPreAuthorizedCode(t *testing.T) {
	ctx := context.Background()

	current := time.Now()
	svc, _, _ := newTestService(WithClock(func() time.Time { return current }))

	result, err := svc.Initiate(ctx, "custom_credential", nil)
	require.NoError(t, err)

	session, err := svc.FindByPreAuthorizedCode(ctx, result.PreAuthorizedCode)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, session.ID)

	// the code is reusable until the session expires
	_, err = svc.FindByPreAuthorizedCode(ctx, result.PreAuthorizedCode)
	require.NoError(t, err)

	current = current.Add(11 * time.Minute)
	_, err = svc.FindByPreAuthorizedCode(ctx, result.PreAuthorizedCode)
	require.ErrorIs(t, err, store.ErrNotFound)
}
