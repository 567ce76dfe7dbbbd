package notify

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

const charset = "UTF-8"

// SESAPI is the part of the SES client used by SESMailer.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer sends reset links through Amazon SES. Sends are throttled to
// stay below the account's sending rate.
type SESMailer struct {
	client SESAPI
	// This address must be verified with Amazon SES.
	sender  string
	limiter *rate.Limiter
	linkTTL time.Duration
}

// NewSESMailer creates a mailer. linkTTL is only used in the message text.
// A nil limiter disables throttling.
func NewSESMailer(client SESAPI, sender string, limiter *rate.Limiter, linkTTL time.Duration) *SESMailer {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &SESMailer{client: client, sender: sender, limiter: limiter, linkTTL: linkTTL}
}

// NewSESClient builds an SES client for region. Static credentials are used
// when both keys are set, otherwise the default AWS credential chain applies.
func NewSESClient(ctx context.Context, region, accessKey, secretKey string) (*ses.Client, error) {
	opts := []func(*awsConfig.LoadOptions) error{awsConfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, oops.Code("AWS_CONFIG_FAILED").With("region", region).Wrap(err)
	}
	return ses.NewFromConfig(awsCfg), nil
}

// SendPasswordReset mails resetURL to the given address.
func (m *SESMailer) SendPasswordReset(ctx context.Context, to, resetURL string) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return oops.Code("MAIL_THROTTLED").Wrap(err)
	}

	htmlBody, textBody := resetBodies(resetURL, m.linkTTL)
	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(m.sender),
		Destination: &types.Destination{
			CcAddresses: []string{},
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Charset: aws.String(charset), Data: aws.String(resetSubject)},
			Body: &types.Body{
				Html: &types.Content{Charset: aws.String(charset), Data: aws.String(htmlBody)},
				Text: &types.Content{Charset: aws.String(charset), Data: aws.String(textBody)},
			},
		},
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("provider", "ses").Wrap(err)
	}
	return nil
}

func resetBodies(resetURL string, ttl time.Duration) (htmlBody, textBody string) {
	escaped := html.EscapeString(resetURL)
	expiry := humanDuration(ttl)
	htmlBody = fmt.Sprintf(`<p>You requested a password reset. Click the link below to reset your password:</p>
<a href="%s">%s</a>
<p>This link expires in %s.</p>`, escaped, escaped, expiry)
	textBody = fmt.Sprintf("You requested a password reset. Open the link below to reset your password:\n\n%s\n\nThis link expires in %s.\n", resetURL, expiry)
	return htmlBody, textBody
}

// humanDuration renders whole hours or minutes, e.g. "1 hour", "30 minutes".
func humanDuration(d time.Duration) string {
	unit, n := "minute", int64(d/time.Minute)
	if d >= time.Hour && d%time.Hour == 0 {
		unit, n = "hour", int64(d/time.Hour)
	}
	if n < 1 {
		n = 1
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
