package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/gatekeep/gatekeep-go/internal/model"
)

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

const userColumns = `id, username, email, password_hash, reset_token_hash, reset_token_expires_at, created_at, updated_at`

// UserRepository handles user persistence operations on MySQL.
type UserRepository struct {
	db        DBTX
	pool      *sql.DB
	forUpdate bool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, pool: db}
}

// Create inserts a new user and sets the generated ID on the user struct.
func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	query := `INSERT INTO users (username, email, password_hash, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	now := time.Now().UTC().Truncate(time.Second)
	result, err := r.db.ExecContext(ctx, query, user.Username, user.Email, user.PasswordHash, now, now)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}

	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

// GetByEmail retrieves a user by their email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

// GetByResetTokenHash retrieves the user holding the given reset token hash.
// Inside a transaction the row is locked until commit.
func (r *UserRepository) GetByResetTokenHash(ctx context.Context, hash string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token_hash = ?`, hash)
}

// Update applies a partial update to one user.
func (r *UserRepository) Update(ctx context.Context, id int64, upd model.UserUpdate) error {
	if upd.IsEmpty() {
		_, err := r.GetByID(ctx, id)
		return err
	}

	sets := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if upd.Username != nil {
		sets = append(sets, "username = ?")
		args = append(args, *upd.Username)
	}
	if upd.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *upd.Email)
	}
	if upd.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *upd.PasswordHash)
	}
	switch {
	case upd.ClearResetChallenge:
		sets = append(sets, "reset_token_hash = NULL", "reset_token_expires_at = NULL")
	case upd.ResetTokenHash != nil || upd.ResetTokenExpiresAt != nil:
		sets = append(sets, "reset_token_hash = ?", "reset_token_expires_at = ?")
		args = append(args, nullString(upd.ResetTokenHash), nullTime(upd.ResetTokenExpiresAt))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC().Truncate(time.Second))

	query := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`
	args = append(args, id)
	if upd.ExpectResetTokenHash != nil {
		query += ` AND reset_token_hash = ?`
		args = append(args, *upd.ExpectResetTokenHash)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		if upd.ExpectResetTokenHash != nil {
			return ErrChallengeMismatch
		}
		return ErrUserNotFound
	}

	return nil
}

// Delete removes a user permanently.
func (r *UserRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// ClearExpiredResetChallenges nulls every reset challenge that expired at or before now.
func (r *UserRepository) ClearExpiredResetChallenges(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE users SET reset_token_hash = NULL, reset_token_expires_at = NULL
		WHERE reset_token_hash IS NOT NULL AND reset_token_expires_at <= ?`

	result, err := r.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// WithinTx runs fn in a transaction. Lookups made through the transactional
// repository lock the rows they read.
func (r *UserRepository) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if r.pool == nil {
		// Already inside a transaction.
		return fn(r)
	}

	return WithTx(ctx, r.pool, nil, func(ctx context.Context, tx DBTX) error {
		return fn(&UserRepository{db: tx, forUpdate: true})
	})
}

func (r *UserRepository) getOne(ctx context.Context, query string, args ...any) (*model.User, error) {
	if r.forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		user      model.User
		resetHash sql.NullString
		resetExp  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&resetHash, &resetExp, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if resetHash.Valid {
		user.ResetTokenHash = &resetHash.String
	}
	if resetExp.Valid {
		user.ResetTokenExpiresAt = &resetExp.Time
	}

	return &user, nil
}

// isDuplicateEntryError checks if a MySQL error is a duplicate entry error (code 1062).
func isDuplicateEntryError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
