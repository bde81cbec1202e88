package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/shineum/smtp-slack-relay/internal/provider"
)

func TestSend_Notification(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	n := &provider.Notification{
		ID:      "01HZX",
		Channel: "#emails",
		Text:    "*New email received!*\nFrom: a@x.com\nTo: b@y.com\nSubject: Hi\nBody:\nHello",
	}

	if err := p.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	for _, want := range []string{"ID: 01HZX\n", "Channel: #emails\n", "From: a@x.com\n", "Body:\nHello\n"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q, got %q", want, output)
		}
	}
	if !strings.HasPrefix(output, separator) {
		t.Error("output should start with separator line")
	}
	if !strings.HasSuffix(output, separator) {
		t.Error("output should end with separator line")
	}
}

func TestSend_NoID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	if err := p.Send(context.Background(), &provider.Notification{Channel: "#c", Text: "x\n"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "ID:") {
		t.Errorf("output should not contain ID line, got %q", buf.String())
	}
	if strings.Contains(buf.String(), "x\n\n") {
		t.Errorf("text already ending in newline should not get another, got %q", buf.String())
	}
}

func TestSend_CancelledContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Send(ctx, &provider.Notification{Channel: "#c", Text: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be written, got %q", buf.String())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{})
	err := p.Send(context.Background(), &provider.Notification{Channel: "#c", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("got %v, want wrapped write error", err)
	}
}

func TestSend_ConcurrentBlocksDoNotInterleave(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Send(context.Background(), &provider.Notification{Channel: "#c", Text: "line one\nline two"})
		}()
	}
	wg.Wait()

	block := separator + "Channel: #c\nline one\nline two\n" + separator
	if got := strings.Count(buf.String(), block); got != 20 {
		t.Errorf("complete blocks: got %d, want 20", got)
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	p := New()
	if p.Name() != "stdout" {
		t.Errorf("Name: got %q, want %q", p.Name(), "stdout")
	}
}
