package handler

import (
	"github.com/asaskevich/govalidator"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/gatekeep/gatekeep-go/internal/crypto"
	"github.com/gatekeep/gatekeep-go/internal/model"
)

// Username and email bounds match the users table column widths.
const (
	maxUsernameLen = 64
	maxEmailLen    = 254
	maxPasswordLen = 512
)

// emailRule checks the address format only; it does no DNS lookups.
var emailRule = validation.NewStringRule(govalidator.IsEmail, "must be a valid email address")

// resetTokenRules match the hex tokens issued by ForgotPassword.
var resetTokenRules = []validation.Rule{
	validation.Required,
	validation.Length(2*crypto.ResetTokenBytes, 2*crypto.ResetTokenBytes),
	is.Hexadecimal,
}

type registerInput struct{ model.RegisterRequest }

func (i registerInput) Validate() error {
	return validation.ValidateStruct(&i.RegisterRequest,
		validation.Field(&i.Username, validation.Required, validation.Length(1, maxUsernameLen)),
		validation.Field(&i.Email, validation.Required, emailRule, validation.Length(0, maxEmailLen)),
		validation.Field(&i.Password, validation.Required, validation.Length(0, maxPasswordLen)),
	)
}

type updateProfileInput struct{ model.UpdateProfileRequest }

func (i updateProfileInput) Validate() error {
	return validation.ValidateStruct(&i.UpdateProfileRequest,
		validation.Field(&i.Username, validation.Length(0, maxUsernameLen)),
		validation.Field(&i.Email, emailRule, validation.Length(0, maxEmailLen)),
	)
}

type changePasswordInput struct{ model.ChangePasswordRequest }

func (i changePasswordInput) Validate() error {
	return validation.ValidateStruct(&i.ChangePasswordRequest,
		validation.Field(&i.OldPassword, validation.Required),
		validation.Field(&i.NewPassword, validation.Required, validation.Length(0, maxPasswordLen)),
	)
}

type forgotPasswordInput struct{ model.ForgotPasswordRequest }

func (i forgotPasswordInput) Validate() error {
	return validation.ValidateStruct(&i.ForgotPasswordRequest,
		validation.Field(&i.Email, validation.Required, emailRule),
	)
}

type resetPasswordInput struct{ model.ResetPasswordRequest }

func (i resetPasswordInput) Validate() error {
	return validation.ValidateStruct(&i.ResetPasswordRequest,
		validation.Field(&i.NewPassword, validation.Required, validation.Length(0, maxPasswordLen)),
	)
}
