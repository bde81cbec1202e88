// Package message renders inbound emails as chat messages.
package message

import (
	"strings"

	"github.com/shineum/smtp-slack-relay/internal/email"
)

// Title is the first line of every rendered message.
const Title = "*New email received!*"

// Render builds the fixed-template chat text for an envelope: the title,
// then From, To, Subject and a Body label each on their own line, followed
// by the body text.
func Render(env *email.Envelope) string {
	var b strings.Builder

	b.WriteString(Title + "\n")
	b.WriteString("From: " + env.From + "\n")
	b.WriteString("To: " + env.To + "\n")
	b.WriteString("Subject: " + env.Subject + "\n")
	b.WriteString("Body:\n")
	b.WriteString(env.Body)

	return b.String()
}
