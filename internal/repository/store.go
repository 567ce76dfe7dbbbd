package repository

import (
	"context"
	"errors"
	"time"

	"github.com/gatekeep/gatekeep-go/internal/model"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrChallengeMismatch = errors.New("reset challenge no longer matches")
)

// Store persists users. Implementations must keep emails unique and must
// apply a UserUpdate with ExpectResetTokenHash as a compare-and-swap.
type Store interface {
	// Create inserts user and sets its generated ID and timestamps.
	Create(ctx context.Context, user *model.User) error

	// GetByID returns ErrUserNotFound if no user has the id.
	GetByID(ctx context.Context, id int64) (*model.User, error)

	// GetByEmail expects an already normalized email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// GetByResetTokenHash looks a user up by the hash of a reset token,
	// regardless of expiry.
	GetByResetTokenHash(ctx context.Context, hash string) (*model.User, error)

	// Update applies upd to the user. It returns ErrUserNotFound for an
	// unknown id, ErrDuplicateEmail when the new email is taken, and
	// ErrChallengeMismatch when ExpectResetTokenHash does not match.
	Update(ctx context.Context, id int64, upd model.UserUpdate) error

	// Delete returns ErrUserNotFound if no user has the id.
	Delete(ctx context.Context, id int64) error

	// ClearExpiredResetChallenges nulls challenges expiring at or before now
	// and returns how many were cleared.
	ClearExpiredResetChallenges(ctx context.Context, now time.Time) (int64, error)

	// WithinTx runs fn against a transactional view of the store. The
	// transaction commits if fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}
