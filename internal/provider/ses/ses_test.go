package ses

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/smtp-slack-relay/internal/email"
	"github.com/shineum/smtp-slack-relay/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func testNotification(channel string) *provider.Notification {
	return &provider.Notification{
		ID:      "01TESTID",
		Channel: channel,
		Text:    "*New email received!*\nFrom: a@x.com\nTo: b@y.com\nSubject: Hi\nBody:\nHello",
		Envelope: &email.Envelope{
			From:    "a@x.com",
			To:      "b@y.com",
			Subject: "Hi",
			Body:    "Hello",
		},
	}
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient("relay@example.com", "", &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_ChannelAddress(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("relay@example.com", "fallback@example.com", mock)

	if err := p.Send(context.Background(), testNotification("ops@example.com")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if got := *input.FromEmailAddress; got != "relay@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "relay@example.com")
	}
	if len(input.Destination.ToAddresses) != 1 || input.Destination.ToAddresses[0] != "ops@example.com" {
		t.Errorf("ToAddresses: got %v, want [ops@example.com]", input.Destination.ToAddresses)
	}
	if got := *input.Content.Simple.Subject.Data; got != "New email received: Hi" {
		t.Errorf("Subject: got %q, want %q", got, "New email received: Hi")
	}
	if got := *input.Content.Simple.Body.Text.Data; !strings.Contains(got, "From: a@x.com") {
		t.Errorf("Body: got %q, want rendered notification", got)
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestSend_ChannelNameUsesRecipient(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("relay@example.com", "fallback@example.com", mock)

	if err := p.Send(context.Background(), testNotification("#emails")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mock.lastInput.Destination.ToAddresses[0]; got != "fallback@example.com" {
		t.Errorf("ToAddresses[0]: got %q, want %q", got, "fallback@example.com")
	}
}

func TestSend_NoRecipient(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("relay@example.com", "", mock)

	err := p.Send(context.Background(), testNotification("#emails"))
	if !errors.Is(err, ErrNoRecipient) {
		t.Errorf("got %v, want ErrNoRecipient", err)
	}
	if mock.callCount != 0 {
		t.Errorf("call count: got %d, want 0", mock.callCount)
	}
}

func TestSend_SubjectWithoutEnvelope(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient("relay@example.com", "", mock)

	n := testNotification("ops@example.com")
	n.Envelope = nil
	if err := p.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *mock.lastInput.Content.Simple.Subject.Data; got != "New email received" {
		t.Errorf("Subject: got %q, want %q", got, "New email received")
	}
}

func TestSend_ErrorWithoutRetry(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("MessageRejected")
		},
	}
	p := NewWithClient("relay@example.com", "", mock)

	err := p.Send(context.Background(), testNotification("ops@example.com"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "MessageRejected") {
		t.Errorf("error should wrap the SES error, got %q", err.Error())
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}

func TestSend_RetryThenSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("Throttling")
			}
			return &sesv2.SendEmailOutput{MessageId: aws.String("ok")}, nil
		},
	}
	p := NewWithClient("relay@example.com", "", mock)
	p.maxRetries = 3
	p.retryDelay = time.Millisecond

	if err := p.Send(context.Background(), testNotification("ops@example.com")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount != 3 {
		t.Errorf("call count: got %d, want 3", mock.callCount)
	}
}

func TestSend_RetriesExhausted(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("ServiceUnavailable")
		},
	}
	p := NewWithClient("relay@example.com", "", mock)
	p.maxRetries = 2
	p.retryDelay = time.Millisecond

	err := p.Send(context.Background(), testNotification("ops@example.com"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "after 2 retries") {
		t.Errorf("error: got %q", err.Error())
	}
	if mock.callCount != 3 {
		t.Errorf("call count: got %d, want 3", mock.callCount)
	}
}

func TestSend_ContextCancelledStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			cancel()
			return nil, errors.New("RequestCanceled")
		},
	}
	p := NewWithClient("relay@example.com", "", mock)
	p.maxRetries = 3
	p.retryDelay = time.Millisecond

	if err := p.Send(ctx, testNotification("ops@example.com")); err == nil {
		t.Fatal("expected error, got nil")
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}
}
