// Package relay turns one inbound SMTP message into one chat notification.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shineum/smtp-slack-relay/internal/message"
	"github.com/shineum/smtp-slack-relay/internal/parser"
	"github.com/shineum/smtp-slack-relay/internal/provider"
	"github.com/shineum/smtp-slack-relay/internal/route"
)

// DefaultDeliveryTimeout bounds a provider call when Config.DeliveryTimeout is zero.
const DefaultDeliveryTimeout = 10 * time.Second

// Config holds the collaborators of a Relay.
type Config struct {
	// Provider delivers rendered notifications.
	Provider provider.Provider

	// Routes picks the destination channel for each message.
	Routes *route.Table

	// DeliveryTimeout bounds each provider call, retries included.
	DeliveryTimeout time.Duration
}

// Transaction is the SMTP envelope of one inbound message.
type Transaction struct {
	MailFrom   string
	RcptTo     []string
	RemoteAddr string
}

// Result is the outcome of HandleInbound. Err is nil on success, otherwise
// a *ParseError or a *DeliveryError.
type Result struct {
	ID      string
	Channel string
	Err     error
}

// Delivered reports whether the message reached the provider successfully.
func (r Result) Delivered() bool {
	return r.Err == nil
}

// Relay parses, renders and delivers inbound messages. It holds no
// per-message state and is safe for concurrent use.
type Relay struct {
	provider provider.Provider
	routes   *route.Table
	timeout  time.Duration
	now      func() time.Time
}

// New creates a Relay from cfg.
func New(cfg Config) (*Relay, error) {
	if cfg.Provider == nil {
		return nil, errors.New("relay: provider is required")
	}
	if cfg.Routes == nil {
		return nil, errors.New("relay: route table is required")
	}

	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}

	return &Relay{
		provider: cfg.Provider,
		routes:   cfg.Routes,
		timeout:  timeout,
		now:      time.Now,
	}, nil
}

// ProviderName returns the name of the configured provider.
func (r *Relay) ProviderName() string {
	return r.provider.Name()
}

// HandleInbound parses raw, renders it and sends it to the routed channel.
// A message that fails to parse is never delivered. The provider call runs
// under the delivery deadline and is cancelled with ctx.
func (r *Relay) HandleInbound(ctx context.Context, raw io.Reader, tx Transaction) Result {
	start := r.now()
	res := Result{ID: ulid.Make().String()}
	log := slog.With("id", res.ID, "remote_addr", tx.RemoteAddr, "mail_from", tx.MailFrom)

	env, err := parser.Parse(raw)
	if err != nil {
		res.Err = &ParseError{Err: err}
		log.Error("failed to parse message", "error", err)
		return res
	}

	env.ID = res.ID
	env.ReceivedAt = start
	env.MailFrom = tx.MailFrom
	env.Recipients = tx.RcptTo
	if env.From == "" {
		env.From = tx.MailFrom
	}
	if env.To == "" {
		env.To = strings.Join(tx.RcptTo, ", ")
	}

	res.Channel = r.routes.Lookup(env.RoutingAddresses()...)

	n := &provider.Notification{
		ID:       res.ID,
		Channel:  res.Channel,
		Text:     message.Render(env),
		Envelope: env,
	}

	sendCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.provider.Send(sendCtx, n); err != nil {
		if sendCtx.Err() != nil && !errors.Is(err, sendCtx.Err()) {
			err = errors.Join(err, sendCtx.Err())
		}
		res.Err = &DeliveryError{
			Provider: r.provider.Name(),
			Channel:  res.Channel,
			Err:      err,
		}
		log.Error("delivery failed",
			"provider", r.provider.Name(),
			"channel", res.Channel,
			"duration", time.Since(start),
			"error", err,
		)
		return res
	}

	log.Info("message relayed",
		"provider", r.provider.Name(),
		"channel", res.Channel,
		"subject", env.Subject,
		"html_only", env.HTMLOnly,
		"duration", time.Since(start),
	)
	return res
}
