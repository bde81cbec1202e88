// Package email defines the inbound message model used throughout the relay.
package email

import "time"

// Envelope is one parsed inbound message. It is built once per SMTP DATA
// transaction and is not modified after parsing.
type Envelope struct {
	// ID identifies the message in logs and notifications.
	ID string

	// From, To and Subject are display text decoded from the message headers.
	From    string
	To      string
	Subject string

	// Body is always plain text. When the message has no text/plain part
	// it is converted from the text/html part and HTMLOnly is set.
	Body     string
	HTMLOnly bool

	// MailFrom and Recipients are the SMTP envelope addresses.
	MailFrom   string
	Recipients []string

	// ToAddresses holds the bare addresses of the To header, used for routing.
	ToAddresses []string

	MessageID  string
	ReceivedAt time.Time
}

// RoutingAddresses returns the addresses a destination is chosen from:
// the SMTP recipients first, then the To header addresses.
func (e *Envelope) RoutingAddresses() []string {
	addrs := make([]string, 0, len(e.Recipients)+len(e.ToAddresses))
	addrs = append(addrs, e.Recipients...)
	addrs = append(addrs, e.ToAddresses...)
	return addrs
}
