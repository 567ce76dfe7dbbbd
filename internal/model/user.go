package model

import "time"

// User represents a user in the database.
type User struct {
	ID                  int64
	Username            string
	Email               string
	PasswordHash        string
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// HasPendingReset reports whether the user holds a reset challenge that has
// not expired at now.
func (u *User) HasPendingReset(now time.Time) bool {
	return u.ResetTokenHash != nil && u.ResetTokenExpiresAt != nil && u.ResetTokenExpiresAt.After(now)
}

// UserUpdate is a partial update applied to a single user row. Nil fields are
// left untouched.
type UserUpdate struct {
	Username     *string
	Email        *string
	PasswordHash *string

	// ResetTokenHash and ResetTokenExpiresAt set a new reset challenge.
	ResetTokenHash      *string
	ResetTokenExpiresAt *time.Time

	// ClearResetChallenge nulls both reset columns. It wins over a new challenge.
	ClearResetChallenge bool

	// ExpectResetTokenHash makes the update conditional on the stored hash.
	ExpectResetTokenHash *string
}

// IsEmpty reports whether the update changes nothing.
func (u UserUpdate) IsEmpty() bool {
	return u.Username == nil && u.Email == nil && u.PasswordHash == nil &&
		u.ResetTokenHash == nil && u.ResetTokenExpiresAt == nil && !u.ClearResetChallenge
}

// RegisterRequest represents a user registration request.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a user login request.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateProfileRequest carries the optional profile fields a user may change.
type UpdateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

// ChangePasswordRequest represents an authenticated password change.
type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// ForgotPasswordRequest asks for a reset link to be mailed.
type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest carries the new password; the token comes from the URL.
type ResetPasswordRequest struct {
	NewPassword string `json:"newPassword"`
}

// RegisterResponse is returned after a successful registration.
type RegisterResponse struct {
	Message  string `json:"message"`
	UserID   int64  `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// LoginResponse carries the bearer token.
type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// ProfileResponse wraps the user returned by GET /profile.
type ProfileResponse struct {
	User UserResponse `json:"user"`
}

// UserResponse represents user data safe for API responses (no sensitive fields).
type UserResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageResponse is the body of operations that only report success.
type MessageResponse struct {
	Message string `json:"message"`
}

// NewUserResponse strips credentials from u.
func NewUserResponse(u *User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}
