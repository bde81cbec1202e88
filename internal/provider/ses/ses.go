// Package ses implements a Provider that mails notifications through AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/smtp-slack-relay/internal/provider"
)

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// subjectPrefix starts the subject of every notification mail.
const subjectPrefix = "New email received"

// ErrNoRecipient is returned when neither the channel nor the configuration
// names a mailbox.
var ErrNoRecipient = errors.New("no SES recipient for channel")

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string

	// Recipient receives notifications whose channel is not a mail address.
	Recipient string

	// MaxRetries bounds retries of failed SendEmail calls.
	MaxRetries int
}

// SESProvider sends each notification as a plain-text email via the AWS SES v2 API.
// Channels that look like mail addresses are used as the destination.
type SESProvider struct {
	sender     string
	recipient  string
	maxRetries int
	retryDelay time.Duration
	client     SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	p := NewWithClient(cfg.Sender, cfg.Recipient, sesv2.NewFromConfig(awsCfg))
	p.maxRetries = cfg.MaxRetries
	return p, nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender, recipient string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:     sender,
		recipient:  recipient,
		retryDelay: baseRetryDelay,
		client:     client,
	}
}

// Send mails the notification text to the channel address, or to the
// configured recipient when the channel is a chat channel name.
func (s *SESProvider) Send(ctx context.Context, n *provider.Notification) error {
	to := s.destination(n.Channel)
	if to == "" {
		return fmt.Errorf("%w %q", ErrNoRecipient, n.Channel)
	}

	input := buildInput(s.sender, to, n)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"id", n.ID,
				"attempt", attempt,
				"max_retries", s.maxRetries,
			)
			delay := provider.BackoffDelay(s.retryDelay, attempt-1)
			if err := provider.SleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		_, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"id", n.ID,
			"attempt", attempt,
			"error", err,
		)
		if ctx.Err() != nil {
			return fmt.Errorf("SES API request aborted: %w", err)
		}
	}

	if s.maxRetries == 0 {
		return fmt.Errorf("SES API request failed: %w", lastErr)
	}
	return fmt.Errorf("SES API request failed after %d retries: %w", s.maxRetries, lastErr)
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// destination picks the mailbox for a channel.
func (s *SESProvider) destination(channel string) string {
	if strings.Contains(channel, "@") {
		return strings.TrimSpace(channel)
	}
	return s.recipient
}

// buildInput creates a SES SendEmailInput carrying the notification text.
func buildInput(sender, to string, n *provider.Notification) *sesv2.SendEmailInput {
	subject := subjectPrefix
	if n.Envelope != nil && n.Envelope.Subject != "" {
		subject += ": " + n.Envelope.Subject
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(sender),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{
					Data:    aws.String(subject),
					Charset: aws.String("UTF-8"),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data:    aws.String(n.Text),
						Charset: aws.String("UTF-8"),
					},
				},
			},
		},
	}
}
