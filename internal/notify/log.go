package notify

import (
	"context"
	"log/slog"
)

// LogSink writes reset links to the log instead of mailing them. The link
// itself is only logged when revealLinks is set.
type LogSink struct {
	logger      *slog.Logger
	revealLinks bool
}

// NewLogSink creates a LogSink. Pass revealLinks only in development.
func NewLogSink(logger *slog.Logger, revealLinks bool) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, revealLinks: revealLinks}
}

func (s *LogSink) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	attrs := []any{"to", to, "subject", resetSubject}
	if s.revealLinks {
		attrs = append(attrs, "reset_url", resetURL)
	}
	s.logger.InfoContext(ctx, "password reset email", attrs...)
	return nil
}
