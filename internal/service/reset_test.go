package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeep/gatekeep-go/internal/crypto"
	"github.com/gatekeep/gatekeep-go/internal/model"
	"github.com/gatekeep/gatekeep-go/internal/repository"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newResetFixture(t *testing.T) (*ResetTokenManager, *repository.MemoryStore, *model.User) {
	t.Helper()
	store := repository.NewMemoryStore()
	user := &model.User{Username: "alice", Email: "alice@example.com", PasswordHash: "digest"}
	require.NoError(t, store.Create(context.Background(), user))
	return NewResetTokenManager(time.Hour), store, user
}

func TestNewResetTokenManager_DefaultWindow(t *testing.T) {
	assert.Equal(t, DefaultResetWindow, NewResetTokenManager(0).window)
	assert.Equal(t, 5*time.Minute, NewResetTokenManager(5*time.Minute).window)
}

func TestIssueChallenge_StoresHashOnly(t *testing.T) {
	m, store, user := newResetFixture(t)
	issuedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = fixedClock(issuedAt)

	plain, err := m.IssueChallenge(context.Background(), store, user)
	require.NoError(t, err)
	assert.Len(t, plain, 2*crypto.ResetTokenBytes)

	stored, err := store.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ResetTokenHash)
	assert.Equal(t, crypto.HashResetToken(plain), *stored.ResetTokenHash)
	assert.NotEqual(t, plain, *stored.ResetTokenHash)
	require.NotNil(t, stored.ResetTokenExpiresAt)
	assert.True(t, stored.ResetTokenExpiresAt.Equal(issuedAt.Add(time.Hour)))
}

func TestValidateAndConsume(t *testing.T) {
	m, store, user := newResetFixture(t)
	ctx := context.Background()
	issuedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = fixedClock(issuedAt)

	plain, err := m.IssueChallenge(ctx, store, user)
	require.NoError(t, err)

	got, err := m.ValidateAndConsume(ctx, store, plain)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	// The challenge stays until the caller clears it.
	_, err = m.ValidateAndConsume(ctx, store, plain)
	assert.NoError(t, err)

	tests := []struct {
		name  string
		token string
		now   time.Time
	}{
		{"empty token", "", issuedAt},
		{"unknown token", "not-a-token", issuedAt},
		{"at expiry", plain, issuedAt.Add(time.Hour)},
		{"after expiry", plain, issuedAt.Add(2 * time.Hour)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m.now = fixedClock(tt.now)
			_, err := m.ValidateAndConsume(ctx, store, tt.token)
			assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
		})
	}
}

func TestPurgeExpired(t *testing.T) {
	m, store, user := newResetFixture(t)
	ctx := context.Background()
	issuedAt := time.Now()
	m.now = fixedClock(issuedAt)

	_, err := m.IssueChallenge(ctx, store, user)
	require.NoError(t, err)

	n, err := m.PurgeExpired(ctx, store)
	require.NoError(t, err)
	assert.Zero(t, n)

	m.now = fixedClock(issuedAt.Add(2 * time.Hour))
	n, err = m.PurgeExpired(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stored, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ResetTokenHash)
}
