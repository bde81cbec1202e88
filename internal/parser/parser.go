// Package parser provides RFC 5322 email message parsing with MIME multipart support.
package parser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/shineum/smtp-slack-relay/internal/email"
	"github.com/shineum/smtp-slack-relay/internal/htmltext"
)

// ErrNoHeader is returned for input that carries no header fields at all.
var ErrNoHeader = errors.New("message has no header fields")

// Parse reads a raw RFC 5322 message and returns its envelope.
// Transfer encodings and charsets are decoded. The body is taken from the
// first text/plain part; if there is none, the first text/html part is
// converted to plain text. Attachments are skipped.
func Parse(r io.Reader) (*email.Envelope, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		if !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("failed to parse message: %w", err)
		}
		slog.Warn("unknown charset, using raw bytes", "error", err)
	}
	defer mr.Close()

	if !mr.Header.Fields().Next() {
		return nil, ErrNoHeader
	}

	env := &email.Envelope{
		From:      addressText(mr.Header, "From"),
		To:        addressText(mr.Header, "To"),
		MessageID: mr.Header.Get("Message-Id"),
	}
	env.ToAddresses = addresses(mr.Header, "To")

	subject, err := mr.Header.Subject()
	if err != nil {
		slog.Warn("failed to decode subject, using raw value", "error", err)
		subject = mr.Header.Get("Subject")
	}
	env.Subject = subject

	text, html, err := readBodies(mr)
	if err != nil {
		return nil, err
	}

	switch {
	case text != "":
		env.Body = text
	case html != "":
		converted, err := htmltext.Convert(html)
		if err != nil {
			return nil, err
		}
		env.Body = converted
		env.HTMLOnly = true
	}
	env.Body = normalizeBody(env.Body)

	return env, nil
}

// readBodies walks every part of the message, nested multiparts included,
// and returns the first text/plain and text/html inline bodies.
func readBodies(mr *mail.Reader) (string, string, error) {
	var text, html string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				slog.Warn("skipping undecodable part", "error", err)
				continue
			}
			return "", "", fmt.Errorf("failed to read next part: %w", err)
		}

		mediaType, attachment := classify(part.Header)
		if attachment {
			continue
		}

		switch mediaType {
		case "text/plain":
			if text != "" {
				continue
			}
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return "", "", fmt.Errorf("failed to read text part: %w", err)
			}
			text = string(b)
		case "text/html":
			if html != "" {
				continue
			}
			b, err := io.ReadAll(part.Body)
			if err != nil {
				return "", "", fmt.Errorf("failed to read html part: %w", err)
			}
			html = string(b)
		default:
			slog.Debug("skipping inline part", "content_type", mediaType)
		}
	}

	return text, html, nil
}

// classify returns the media type of a part and whether it is an
// attachment. Parts without a usable Content-Type are text/plain.
func classify(h mail.PartHeader) (string, bool) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		mediaType = "text/plain"
	}

	disposition, dispParams, _ := mime.ParseMediaType(h.Get("Content-Disposition"))
	switch {
	case disposition == "attachment":
		return mediaType, true
	case dispParams["filename"] != "" || params["name"] != "":
		return mediaType, disposition != "inline"
	}
	return mediaType, false
}

// addressText renders an address header as display text: "Name <addr>" or
// "addr", comma separated. Headers that are not valid address lists are
// returned as their decoded text.
func addressText(h mail.Header, key string) string {
	list, err := h.AddressList(key)
	if err != nil || len(list) == 0 {
		text, textErr := h.Text(key)
		if textErr != nil {
			return strings.TrimSpace(h.Get(key))
		}
		return strings.TrimSpace(text)
	}

	parts := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Name != "" {
			parts = append(parts, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		} else {
			parts = append(parts, addr.Address)
		}
	}
	return strings.Join(parts, ", ")
}

// addresses returns the bare addresses of an address header.
func addresses(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	result := make([]string, 0, len(list))
	for _, addr := range list {
		result = append(result, addr.Address)
	}
	return result
}

// normalizeBody converts CRLF line endings to LF and drops trailing blank lines.
func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.TrimRight(body, "\n")
}
