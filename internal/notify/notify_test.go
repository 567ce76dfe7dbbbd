package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{}, nil
}

const testLink = "https://auth.example.com/api/auth/resetPassword/abc?x=1&y=2"

func TestSESMailer_SendPasswordReset(t *testing.T) {
	client := &fakeSES{}
	mailer := NewSESMailer(client, "no-reply@example.com", nil, time.Hour)

	require.NoError(t, mailer.SendPasswordReset(context.Background(), "alice@example.com", testLink))

	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "no-reply@example.com", *in.Source)
	assert.Equal(t, []string{"alice@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, resetSubject, *in.Message.Subject.Data)
	assert.Contains(t, *in.Message.Body.Html.Data, `href="https://auth.example.com/api/auth/resetPassword/abc?x=1&amp;y=2"`)
	assert.Contains(t, *in.Message.Body.Html.Data, "expires in 1 hour")
	assert.Contains(t, *in.Message.Body.Text.Data, testLink)
}

func TestSESMailer_WrapsProviderError(t *testing.T) {
	client := &fakeSES{err: errors.New("MessageRejected")}
	mailer := NewSESMailer(client, "no-reply@example.com", nil, time.Hour)

	err := mailer.SendPasswordReset(context.Background(), "alice@example.com", testLink)
	require.Error(t, err)
	assert.ErrorIs(t, err, client.err)

	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok)
	assert.Equal(t, "MAIL_SEND_FAILED", oopsErr.Code())
}

func TestSESMailer_ThrottleHonorsContext(t *testing.T) {
	client := &fakeSES{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	mailer := NewSESMailer(client, "no-reply@example.com", limiter, time.Hour)

	require.NoError(t, mailer.SendPasswordReset(context.Background(), "a@example.com", testLink))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := mailer.SendPasswordReset(ctx, "b@example.com", testLink)
	require.Error(t, err)
	assert.Len(t, client.inputs, 1, "throttled send must not reach SES")
}

func TestHumanDuration(t *testing.T) {
	tests := map[time.Duration]string{
		time.Hour:        "1 hour",
		2 * time.Hour:    "2 hours",
		30 * time.Minute: "30 minutes",
		90 * time.Minute: "90 minutes",
		time.Second:      "1 minute",
	}
	for in, want := range tests {
		assert.Equal(t, want, humanDuration(in), in.String())
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	require.NoError(t, NewLogSink(logger, false).SendPasswordReset(context.Background(), "alice@example.com", testLink))
	assert.Contains(t, buf.String(), "alice@example.com")
	assert.NotContains(t, buf.String(), "resetPassword/abc")

	buf.Reset()
	require.NoError(t, NewLogSink(logger, true).SendPasswordReset(context.Background(), "alice@example.com", testLink))
	assert.Contains(t, buf.String(), "resetPassword/abc")
}
