// Package notify delivers password reset links to users.
package notify

import "context"

// Sink sends a password reset link to an email address.
type Sink interface {
	SendPasswordReset(ctx context.Context, to, resetURL string) error
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*SESMailer)(nil)
)

const resetSubject = "Password Reset Link"
