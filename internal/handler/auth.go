package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/samber/oops"

	"github.com/gatekeep/gatekeep-go/internal/middleware"
	"github.com/gatekeep/gatekeep-go/internal/model"
	"github.com/gatekeep/gatekeep-go/internal/service"
)

// AuthHandler handles HTTP requests for authentication.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{service: svc, logger: logger}
}

// HandleRegister handles POST /api/auth/register requests.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in registerInput
	if !decodeJSON(w, r, &in) || !validate(w, in) {
		return
	}

	user, err := h.service.Register(r.Context(), in.RegisterRequest)
	if err != nil {
		h.writeError(w, r, "register", err)
		return
	}

	writeJSON(w, http.StatusCreated, model.RegisterResponse{
		Message:  "User registered successfully",
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
	})
}

// HandleLogin handles POST /api/auth/login requests. Missing fields are
// reported like wrong credentials.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, err := h.service.Login(r.Context(), req)
	if err != nil {
		h.writeError(w, r, "login", err)
		return
	}

	writeJSON(w, http.StatusOK, model.LoginResponse{Message: "Login successful", Token: token})
}

// HandleProfile handles GET /api/auth/profile requests.
func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	user, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, "get_profile", err)
		return
	}

	writeJSON(w, http.StatusOK, model.ProfileResponse{User: user})
}

// HandleUpdateProfile handles PUT /api/auth/updateProfile requests.
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var in updateProfileInput
	if !decodeJSON(w, r, &in) || !validate(w, in) {
		return
	}

	if err := h.service.UpdateProfile(r.Context(), userID, in.UpdateProfileRequest); err != nil {
		h.writeError(w, r, "update_profile", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse("Profile updated successfully"))
}

// HandleChangePassword handles PUT /api/auth/changePassword requests.
func (h *AuthHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var in changePasswordInput
	if !decodeJSON(w, r, &in) || !validate(w, in) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, in.ChangePasswordRequest); err != nil {
		h.writeError(w, r, "change_password", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse("Password changed successfully"))
}

// HandleDeleteAccount handles DELETE /api/auth/deleteAccount requests.
func (h *AuthHandler) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAccount(r.Context(), userID); err != nil {
		h.writeError(w, r, "delete_account", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse("Account deleted successfully"))
}

// HandleForgotPassword handles POST /api/auth/forgetPassword requests.
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in forgotPasswordInput
	if !decodeJSON(w, r, &in) || !validate(w, in) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), in.Email); err != nil {
		h.writeError(w, r, "forgot_password", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse("Password reset link sent to your email"))
}

// HandleResetPassword handles POST /api/auth/resetPassword/{token} requests.
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := validation.Validate(token, resetTokenRules...); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse(service.ErrInvalidOrExpiredToken.Error()))
		return
	}

	var in resetPasswordInput
	if !decodeJSON(w, r, &in) || !validate(w, in) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), token, in.NewPassword); err != nil {
		h.writeError(w, r, "reset_password", err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse("Password reset successfully"))
}

// HandleLogout handles POST /api/auth/logout requests. Tokens are discarded
// by the client.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.userID(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, messageResponse("Logout successful on client side by deleting the token"))
}

func (h *AuthHandler) userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("not authorized"))
	}
	return userID, ok
}

// writeError maps service errors to status codes. Unknown errors are logged
// and reported without detail.
func (h *AuthHandler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrUsernameRequired),
		errors.Is(err, service.ErrEmailRequired),
		errors.Is(err, service.ErrPasswordRequired),
		errors.Is(err, service.ErrDuplicateEmail),
		errors.Is(err, service.ErrInvalidOrExpiredToken):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
	default:
		attrs := []any{"operation", op, "error", err}
		if oopsErr, ok := oops.AsOops(err); ok {
			attrs = append(attrs, "code", oopsErr.Code())
		}
		h.logger.ErrorContext(r.Context(), "request failed", attrs...)
		writeJSON(w, http.StatusInternalServerError, errorResponse("server error"))
	}
}
