package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep-go/internal/crypto"
	"github.com/gatekeep/gatekeep-go/internal/metrics"
	"github.com/gatekeep/gatekeep-go/internal/model"
	"github.com/gatekeep/gatekeep-go/internal/repository"
)

// resetPathPrefix is where the reset handler is mounted.
const resetPathPrefix = "api/auth/resetPassword"

// dummyPassword is hashed once at startup. Logins for unknown emails verify
// against that hash so both paths do the same work.
const dummyPassword = "gatekeep-timing-equalizer"

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
	NeedsRehash(digest string) bool
}

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(userID int64, email string, ttl time.Duration) (string, error)
}

// Notifier delivers password reset links.
type Notifier interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

// Recorder receives operation outcomes. *metrics.Metrics implements it.
type Recorder interface {
	RecordAuthOperation(operation, outcome string)
	RecordResetsPurged(n int64)
}

// Options configures an AuthService.
type Options struct {
	// PublicBaseURL prefixes reset links, e.g. https://auth.example.com.
	PublicBaseURL string

	// ConcealUnknownEmails makes ForgotPassword report success for emails
	// that have no account.
	ConcealUnknownEmails bool

	Logger  *slog.Logger
	Metrics Recorder
}

// AuthService handles authentication business logic.
type AuthService struct {
	store     repository.Store
	hasher    PasswordHasher
	issuer    TokenIssuer
	resets    *ResetTokenManager
	notifier  Notifier
	baseURL   string
	conceal   bool
	dummyHash string
	logger    *slog.Logger
	metrics   Recorder
}

// NewAuthService creates a new AuthService.
func NewAuthService(
	store repository.Store,
	hasher PasswordHasher,
	issuer TokenIssuer,
	resets *ResetTokenManager,
	notifier Notifier,
	opts Options,
) (*AuthService, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = noopRecorder{}
	}
	if u, err := url.Parse(opts.PublicBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, oops.Code("INVALID_BASE_URL").
			With("base_url", opts.PublicBaseURL).
			Errorf("public base url must be absolute")
	}

	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code("DUMMY_HASH_FAILED").Wrap(err)
	}

	return &AuthService{
		store:     store,
		hasher:    hasher,
		issuer:    issuer,
		resets:    resets,
		notifier:  notifier,
		baseURL:   opts.PublicBaseURL,
		conceal:   opts.ConcealUnknownEmails,
		dummyHash: dummyHash,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Register creates a new user account.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.UserResponse, error) {
	const op = "register"

	username := strings.TrimSpace(req.Username)
	email := normalizeEmail(req.Email)
	switch {
	case username == "":
		return model.UserResponse{}, s.reject(op, ErrUsernameRequired)
	case email == "":
		return model.UserResponse{}, s.reject(op, ErrEmailRequired)
	case req.Password == "":
		return model.UserResponse{}, s.reject(op, ErrPasswordRequired)
	}

	if _, err := s.store.GetByEmail(ctx, email); err == nil {
		return model.UserResponse{}, s.reject(op, ErrDuplicateEmail)
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return model.UserResponse{}, s.fail(op, err)
	}

	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return model.UserResponse{}, s.fail(op, err)
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: digest,
	}
	if err := s.store.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return model.UserResponse{}, s.reject(op, ErrDuplicateEmail)
		}
		return model.UserResponse{}, s.fail(op, err)
	}

	s.succeed(op)
	return model.NewUserResponse(user), nil
}

// Login authenticates a user and returns a bearer token. Unknown emails and
// wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (string, error) {
	const op = "login"

	user, err := s.store.GetByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return "", s.fail(op, err)
		}
		s.hasher.Verify(req.Password, s.dummyHash)
		return "", s.reject(op, ErrInvalidCredentials)
	}

	if !s.hasher.Verify(req.Password, user.PasswordHash) {
		return "", s.reject(op, ErrInvalidCredentials)
	}

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.upgradeHash(ctx, user.ID, req.Password)
	}

	token, err := s.issuer.Issue(user.ID, user.Email, 0)
	if err != nil {
		return "", s.fail(op, err)
	}

	s.succeed(op)
	return token, nil
}

// upgradeHash replaces a legacy digest. Failures are logged and ignored
// since the login itself already succeeded.
func (s *AuthService) upgradeHash(ctx context.Context, userID int64, password string) {
	digest, err := s.hasher.Hash(password)
	if err == nil {
		err = s.store.Update(ctx, userID, model.UserUpdate{PasswordHash: &digest})
	}
	if err != nil {
		s.logger.WarnContext(ctx, "password rehash failed", "user_id", userID, "error", err)
		return
	}
	s.logger.InfoContext(ctx, "password hash upgraded", "user_id", userID)
}

// GetProfile returns the public view of a user.
func (s *AuthService) GetProfile(ctx context.Context, userID int64) (model.UserResponse, error) {
	const op = "get_profile"

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return model.UserResponse{}, s.reject(op, ErrNotFound)
		}
		return model.UserResponse{}, s.fail(op, err)
	}

	s.succeed(op)
	return model.NewUserResponse(user), nil
}

// UpdateProfile changes the username and/or email. Blank fields are ignored.
// A new email invalidates any pending reset challenge.
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, req model.UpdateProfileRequest) error {
	const op = "update_profile"

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return s.reject(op, ErrNotFound)
		}
		return s.fail(op, err)
	}

	var upd model.UserUpdate
	if req.Username != nil {
		if username := strings.TrimSpace(*req.Username); username != "" && username != user.Username {
			upd.Username = &username
		}
	}
	if req.Email != nil {
		if email := normalizeEmail(*req.Email); email != "" && email != user.Email {
			upd.Email = &email
			upd.ClearResetChallenge = true
		}
	}

	if upd.IsEmpty() {
		s.succeed(op)
		return nil
	}

	if err := s.store.Update(ctx, userID, upd); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return s.reject(op, ErrDuplicateEmail)
		case errors.Is(err, repository.ErrUserNotFound):
			return s.reject(op, ErrNotFound)
		}
		return s.fail(op, err)
	}

	s.succeed(op)
	return nil
}

// ChangePassword replaces the password after checking the old one and
// invalidates any pending reset challenge.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, req model.ChangePasswordRequest) error {
	const op = "change_password"

	if req.NewPassword == "" {
		return s.reject(op, ErrPasswordRequired)
	}

	user, err := s.store.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.Verify(req.OldPassword, s.dummyHash)
			return s.reject(op, ErrInvalidCredentials)
		}
		return s.fail(op, err)
	}

	if !s.hasher.Verify(req.OldPassword, user.PasswordHash) {
		return s.reject(op, ErrInvalidCredentials)
	}

	digest, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return s.fail(op, err)
	}

	err = s.store.Update(ctx, userID, model.UserUpdate{
		PasswordHash:        &digest,
		ClearResetChallenge: true,
	})
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return s.reject(op, ErrInvalidCredentials)
		}
		return s.fail(op, err)
	}

	s.succeed(op)
	return nil
}

// ForgotPassword issues a reset challenge for email and mails the link.
// The plaintext token is not kept after the notifier returns.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	const op = "forgot_password"

	email = normalizeEmail(email)
	if email == "" {
		return s.reject(op, ErrEmailRequired)
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return s.fail(op, err)
		}
		if s.conceal {
			s.logger.DebugContext(ctx, "reset requested for unknown email")
			s.metrics.RecordAuthOperation(op, metrics.OutcomeRejected)
			return nil
		}
		return s.reject(op, ErrUserNotFound)
	}

	plain, err := s.resets.IssueChallenge(ctx, s.store, user)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return s.reject(op, ErrUserNotFound)
		}
		return s.fail(op, err)
	}

	link, err := url.JoinPath(s.baseURL, resetPathPrefix, plain)
	if err != nil {
		return s.fail(op, err)
	}

	if err := s.notifier.SendPasswordReset(ctx, user.Email, link); err != nil {
		return s.fail(op, oops.Code("RESET_DELIVERY_FAILED").With("user_id", user.ID).Wrap(err))
	}

	s.logger.InfoContext(ctx, "password reset issued", "user_id", user.ID)
	s.succeed(op)
	return nil
}

// ResetPassword sets a new password using a reset token. Validation, the
// password write and clearing the challenge happen in one transaction, and
// the write only applies if the challenge is still the one validated.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	const op = "reset_password"

	if newPassword == "" {
		return s.reject(op, ErrPasswordRequired)
	}

	// Hashed up front so the row lock is not held during key derivation.
	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.fail(op, err)
	}

	var userID int64
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		user, err := s.resets.ValidateAndConsume(ctx, tx, token)
		if err != nil {
			return err
		}

		validated := *user.ResetTokenHash
		userID = user.ID
		return tx.Update(ctx, user.ID, model.UserUpdate{
			PasswordHash:         &digest,
			ClearResetChallenge:  true,
			ExpectResetTokenHash: &validated,
		})
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidOrExpiredToken),
			errors.Is(err, repository.ErrChallengeMismatch),
			errors.Is(err, repository.ErrUserNotFound):
			return s.reject(op, ErrInvalidOrExpiredToken)
		}
		return s.fail(op, err)
	}

	s.logger.InfoContext(ctx, "password reset completed", "user_id", userID)
	s.succeed(op)
	return nil
}

// DeleteAccount permanently removes a user.
func (s *AuthService) DeleteAccount(ctx context.Context, userID int64) error {
	const op = "delete_account"

	if err := s.store.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return s.reject(op, ErrNotFound)
		}
		return s.fail(op, err)
	}

	s.logger.InfoContext(ctx, "account deleted", "user_id", userID)
	s.succeed(op)
	return nil
}

// PurgeExpiredResets clears expired reset challenges.
func (s *AuthService) PurgeExpiredResets(ctx context.Context) (int64, error) {
	n, err := s.resets.PurgeExpired(ctx, s.store)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordResetsPurged(n)
	return n, nil
}

func (s *AuthService) succeed(op string) {
	s.metrics.RecordAuthOperation(op, metrics.OutcomeSuccess)
}

func (s *AuthService) reject(op string, err error) error {
	s.metrics.RecordAuthOperation(op, metrics.OutcomeRejected)
	return err
}

// fail wraps an infrastructure error. Errors that are already oops errors
// keep their code.
func (s *AuthService) fail(op string, err error) error {
	s.metrics.RecordAuthOperation(op, metrics.OutcomeError)
	if _, ok := oops.AsOops(err); ok {
		return err
	}
	return oops.Code("AUTH_OPERATION_FAILED").With("operation", op).Wrap(err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type noopRecorder struct{}

func (noopRecorder) RecordAuthOperation(string, string) {}
func (noopRecorder) RecordResetsPurged(int64)           {}

var _ PasswordHasher = (*crypto.Argon2idHasher)(nil)
var _ TokenIssuer = (*crypto.TokenIssuer)(nil)
var _ Recorder = (*metrics.Metrics)(nil)
