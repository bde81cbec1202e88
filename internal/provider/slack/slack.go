package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/slack-go/slack"

	"github.com/shineum/smtp-slack-relay/internal/provider"
)

// DefaultAPIURL is the base URL of the Slack Web API.
const DefaultAPIURL = "https://slack.com/api"

// maxTextLength is the longest text Slack accepts in a single message.
const maxTextLength = 40000

// truncationNotice is appended to text cut at maxTextLength.
const truncationNotice = "\n…(truncated)"

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// SlackProviderConfig holds the configuration for creating a SlackProvider.
type SlackProviderConfig struct {
	// Token is the bot token. Slack rejects calls made with an empty
	// token as not_authed.
	Token string

	// APIURL overrides DefaultAPIURL.
	APIURL string

	// MaxRetries bounds retries of transient failures. Zero disables retries.
	MaxRetries int
}

// SlackProvider posts notifications with chat.postMessage.
type SlackProvider struct {
	client     *slack.Client
	maxRetries int
	retryDelay time.Duration
}

// New creates a new SlackProvider with the given configuration.
func New(cfg SlackProviderConfig) *SlackProvider {
	return newWithClient(cfg, &http.Client{Timeout: 30 * time.Second})
}

// newWithClient creates a SlackProvider with a custom HTTP client, used for testing.
func newWithClient(cfg SlackProviderConfig, client *http.Client) *SlackProvider {
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	// The client joins method names directly onto the API URL.
	apiURL = strings.TrimRight(apiURL, "/") + "/"

	return &SlackProvider{
		client: slack.New(cfg.Token,
			slack.OptionAPIURL(apiURL),
			slack.OptionHTTPClient(client),
		),
		maxRetries: cfg.MaxRetries,
		retryDelay: baseRetryDelay,
	}
}

// Send posts the notification text to its channel.
// Transient failures are retried up to MaxRetries times with exponential
// backoff, honouring Retry-After on HTTP 429. The context bounds the whole
// call including waits between attempts.
func (s *SlackProvider) Send(ctx context.Context, n *provider.Notification) error {
	if n.Channel == "" {
		return &SendError{Code: "channel_not_found", Message: "no destination channel", Permanent: true}
	}

	text := truncate(n.Text, maxTextLength)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Slack API request",
				"id", n.ID,
				"attempt", attempt,
				"max_retries", s.maxRetries,
			)
		}

		err := s.post(ctx, n.Channel, text)
		if err == nil {
			return nil
		}
		lastErr = err

		var sendErr *SendError
		if !errors.As(err, &sendErr) || sendErr.Permanent {
			return err
		}
		if attempt == s.maxRetries {
			break
		}

		delay := provider.BackoffDelay(s.retryDelay, attempt)
		if sendErr.RetryAfter > 0 {
			delay = sendErr.RetryAfter
		}
		slog.Info("transient Slack API error, retrying",
			"id", n.ID,
			"status", sendErr.StatusCode,
			"code", sendErr.Code,
			"delay", delay,
		)
		if err := provider.SleepWithContext(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}

	if s.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("Slack API request failed after %d retries: %w", s.maxRetries, lastErr)
}

// Name returns the provider name.
func (s *SlackProvider) Name() string {
	return "slack"
}

// post performs a single chat.postMessage call.
func (s *SlackProvider) post(ctx context.Context, channel, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
		slack.MsgOptionDisableMediaUnfurl(),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("HTTP request aborted: %w", ctx.Err())
	}
	return classify(err)
}

// classify maps an error from the Slack client onto a SendError.
func classify(err error) *SendError {
	var rateLimited *slack.RateLimitedError
	if errors.As(err, &rateLimited) {
		return &SendError{
			StatusCode: http.StatusTooManyRequests,
			Code:       "ratelimited",
			Message:    err.Error(),
			RetryAfter: rateLimited.RetryAfter,
		}
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.Code, statusErr.Status)
	}

	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return &SendError{
			StatusCode: http.StatusOK,
			Code:       apiErr.Err,
			Message:    "chat.postMessage rejected",
			Permanent:  !transientErrors[apiErr.Err],
		}
	}

	return &SendError{
		Message: fmt.Sprintf("HTTP request failed: %v", err),
	}
}

// SendError is a failed chat.postMessage call, classified for retry decisions.
type SendError struct {
	StatusCode int
	Code       string
	Message    string
	Permanent  bool
	RetryAfter time.Duration
}

func (e *SendError) Error() string {
	switch {
	case e.Code != "" && e.StatusCode != 0:
		return fmt.Sprintf("Slack API error (HTTP %d): %s: %s", e.StatusCode, e.Code, e.Message)
	case e.Code != "":
		return fmt.Sprintf("Slack API error: %s: %s", e.Code, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("Slack API error (HTTP %d): %s", e.StatusCode, e.Message)
	default:
		return "Slack API error: " + e.Message
	}
}

// classifyStatus categorizes a non-200 HTTP response.
func classifyStatus(statusCode int, message string) *SendError {
	err := &SendError{
		StatusCode: statusCode,
		Message:    strings.TrimSpace(message),
	}
	if err.Message == "" {
		err.Message = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		err.Code = "ratelimited"
	case statusCode >= 500:
	default:
		err.Permanent = true
	}

	return err
}

// truncate shortens s to at most max runes, marking the cut.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	cut := max - utf8.RuneCountInString(truncationNotice)
	runes := []rune(s)
	return string(runes[:cut]) + truncationNotice
}
