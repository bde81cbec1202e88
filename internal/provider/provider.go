// Package provider defines the interface for notification delivery backends.
package provider

import (
	"context"

	"github.com/shineum/smtp-slack-relay/internal/email"
)

// Notification is one formatted message bound for a destination.
type Notification struct {
	// ID is the relay identifier of the inbound message.
	ID string

	// Channel is the destination resolved by the route table.
	Channel string

	// Text is the rendered chat message.
	Text string

	// Envelope is the parsed message the text was rendered from.
	Envelope *email.Envelope
}

// Provider is the interface that delivery backends must implement.
// Each provider hands a rendered notification to the target service
// (e.g., Slack, SES, stdout).
type Provider interface {
	// Send delivers a notification through this provider.
	// It returns an error if the delivery fails or ctx expires first.
	Send(ctx context.Context, n *Notification) error

	// Name returns the human-readable name of this provider.
	Name() string
}
