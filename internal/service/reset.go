package service

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep-go/internal/crypto"
	"github.com/gatekeep/gatekeep-go/internal/model"
	"github.com/gatekeep/gatekeep-go/internal/repository"
)

// DefaultResetWindow is how long a reset challenge stays valid.
const DefaultResetWindow = time.Hour

// ResetTokenManager issues and checks single-use password reset challenges.
// Only the SHA-256 of a token is ever stored.
type ResetTokenManager struct {
	window time.Duration
	now    func() time.Time
}

// NewResetTokenManager creates a manager whose challenges expire after window.
// A non-positive window falls back to DefaultResetWindow.
func NewResetTokenManager(window time.Duration) *ResetTokenManager {
	if window <= 0 {
		window = DefaultResetWindow
	}
	return &ResetTokenManager{window: window, now: time.Now}
}

// IssueChallenge stores a fresh challenge on user, replacing any previous
// one, and returns the plaintext token.
func (m *ResetTokenManager) IssueChallenge(ctx context.Context, store repository.Store, user *model.User) (string, error) {
	plain, hash, err := crypto.GenerateResetToken()
	if err != nil {
		return "", oops.Code("RESET_TOKEN_GENERATION_FAILED").Wrap(err)
	}

	// DATETIME columns have second precision.
	expires := m.now().UTC().Add(m.window).Truncate(time.Second)
	err = store.Update(ctx, user.ID, model.UserUpdate{
		ResetTokenHash:      &hash,
		ResetTokenExpiresAt: &expires,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", ErrUserNotFound
		}
		return "", oops.Code("RESET_CHALLENGE_STORE_FAILED").
			With("operation", "issue challenge").
			With("user_id", user.ID).
			Wrap(err)
	}

	user.ResetTokenHash = &hash
	user.ResetTokenExpiresAt = &expires
	return plain, nil
}

// ValidateAndConsume returns the user holding an unexpired challenge for
// plain. The challenge is left in place; the caller clears it together with
// the password write.
func (m *ResetTokenManager) ValidateAndConsume(ctx context.Context, store repository.Store, plain string) (*model.User, error) {
	if plain == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := store.GetByResetTokenHash(ctx, crypto.HashResetToken(plain))
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, oops.Code("RESET_CHALLENGE_LOOKUP_FAILED").
			With("operation", "validate challenge").
			Wrap(err)
	}

	if !user.HasPendingReset(m.now()) {
		return nil, ErrInvalidOrExpiredToken
	}
	return user, nil
}

// PurgeExpired clears every challenge that has expired and returns how many
// were removed.
func (m *ResetTokenManager) PurgeExpired(ctx context.Context, store repository.Store) (int64, error) {
	n, err := store.ClearExpiredResetChallenges(ctx, m.now().UTC())
	if err != nil {
		return 0, oops.Code("RESET_PURGE_FAILED").With("operation", "purge expired challenges").Wrap(err)
	}
	return n, nil
}
