package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attesto/internal/oauth/models"
)

func Test_InMemoryCodeStore_Lifecycle(t *testing.T) {
	s := NewInMemoryCodeStore()
	ctx := context.Background()

	now := time.Now()
	code := &models.AuthorizationCode{
		Code:      "abc123",
		ClientID:  "wallet",
		Scope:     "openid",
		CreatedAt: now,
		ExpiresAt: now.Add(models.CodeTTL),
	}
	require.NoError(t, s.Create(ctx, code))

	found, err := s.FindByCode(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "wallet", found.ClientID)

	require.NoError(t, s.Delete(ctx, "abc123"))

	_, err = s.FindByCode(ctx, "abc123")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "abc123"), ErrNotFound)
}

func Test_InMemoryStateStore_Lifecycle(t *testing.T) {
	s := NewInMemoryStateStore()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, &models.AuthorizationState{
		State:       "xyz",
		ClientID:    "wallet",
		RedirectURI: "http://wallet.test/cb",
	}))

	found, err := s.FindByState(ctx, "xyz")
	require.NoError(t, err)
	assert.Equal(t, "http://wallet.test/cb", found.RedirectURI)

	_, err = s.FindByState(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
