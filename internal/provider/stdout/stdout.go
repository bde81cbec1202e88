// Package stdout implements a Provider that prints notifications to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/smtp-slack-relay/internal/provider"
)

const separator = "========================================\n"

// Provider prints rendered notifications in a human-readable block.
// Useful for local runs without chat credentials.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send writes the notification between separator lines. Concurrent sends
// never interleave.
func (p *Provider) Send(ctx context.Context, n *provider.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString(separator)
	if n.ID != "" {
		fmt.Fprintf(&b, "ID: %s\n", n.ID)
	}
	fmt.Fprintf(&b, "Channel: %s\n", n.Channel)
	b.WriteString(n.Text)
	if !strings.HasSuffix(n.Text, "\n") {
		b.WriteString("\n")
	}
	b.WriteString(separator)

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}
