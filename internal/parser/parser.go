// Package parser decodes raw RFC 5322 messages into email.DecodedMessage values.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdmail "net/mail"
	"strings"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	htmlcharset "golang.org/x/net/html/charset"

	"github.com/shineum/mail-relay-webhook/internal/email"
)

// ErrMalformed is returned when the input cannot be read as a message at all.
var ErrMalformed = errors.New("malformed message")

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Decode parses a raw message. Missing From, Subject or body are not errors;
// they come back as empty fields because edge routers may forward partial
// messages. Input without a readable, blank-line terminated header block
// fails with an error wrapping ErrMalformed.
func Decode(raw []byte) (*email.DecodedMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	if !hasHeaderBodySplit(raw) {
		return nil, fmt.Errorf("%w: header block is not terminated by a blank line", ErrMalformed)
	}

	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if reader == nil || (err != nil && !tolerable(err)) {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err != nil {
		slog.Warn("message uses unknown charset or encoding, decoding as-is", "error", err)
	}
	if reader.Header.Len() == 0 {
		return nil, fmt.Errorf("%w: no header fields", ErrMalformed)
	}

	msg := &email.DecodedMessage{}

	fields := reader.Header.Fields()
	for fields.Next() {
		msg.Headers.Add(fields.Key(), fields.Value())
	}

	msg.From = addressList(&reader.Header, "From")
	msg.To = addressList(&reader.Header, "To")
	msg.ReplyTo = addressList(&reader.Header, "Reply-To")
	msg.Subject = subject(&reader.Header)
	msg.MessageID = strings.TrimSpace(reader.Header.Get("Message-Id"))

	readParts(reader, msg)

	return msg, nil
}

func hasHeaderBodySplit(raw []byte) bool {
	return bytes.Contains(raw, []byte("\n\n")) || bytes.Contains(raw, []byte("\r\n\r\n"))
}

// tolerable reports whether a reader error still leaves a usable message.
func tolerable(err error) bool {
	return gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err)
}

// readParts walks the MIME tree, keeping the first text/plain and text/html
// inline parts and counting everything else as an attachment. A broken part
// stops the walk but keeps what was decoded so far.
func readParts(reader *gomail.Reader, msg *email.DecodedMessage) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil && !tolerable(err) {
			slog.Warn("failed to read MIME part, keeping decoded content",
				"error", err,
			)
			return
		}
		if part == nil {
			return
		}

		switch h := part.Header.(type) {
		case *gomail.InlineHeader:
			mediaType, _, ctErr := h.ContentType()
			if ctErr != nil || mediaType == "" {
				mediaType = "text/plain"
			}
			mediaType = strings.ToLower(mediaType)

			switch mediaType {
			case "text/plain", "text/html":
				body, readErr := io.ReadAll(part.Body)
				if readErr != nil {
					slog.Warn("failed to read body part",
						"content_type", mediaType,
						"error", readErr,
					)
					continue
				}
				if mediaType == "text/plain" && msg.TextBody == "" {
					msg.TextBody = string(body)
				}
				if mediaType == "text/html" && msg.HTMLBody == "" {
					msg.HTMLBody = string(body)
				}
			default:
				// Inline images and other non-text inline parts.
				msg.AttachmentsCount++
			}
		case *gomail.AttachmentHeader:
			msg.AttachmentsCount++
		}
	}
}

// addressList reads an address header, falling back to net/mail and then to
// the bare header text when the value does not parse cleanly.
func addressList(h *gomail.Header, key string) email.AddressList {
	text := strings.TrimSpace(h.Get(key))
	result := email.AddressList{Text: text}
	if text == "" {
		return result
	}

	if list, err := h.AddressList(key); err == nil && len(list) > 0 {
		for _, a := range list {
			result.List = append(result.List, email.Address{
				Name:    strings.TrimSpace(a.Name),
				Address: strings.TrimSpace(a.Address),
			})
		}
		return result
	}

	if list, err := stdmail.ParseAddressList(text); err == nil && len(list) > 0 {
		for _, a := range list {
			result.List = append(result.List, email.Address{Name: a.Name, Address: a.Address})
		}
		return result
	}

	slog.Debug("unparseable address header, keeping raw text",
		"header", key,
		"value", text,
	)
	result.List = []email.Address{{Address: text}}
	return result
}

// subject returns the decoded Subject, or the raw value when decoding fails.
func subject(h *gomail.Header) string {
	if s, err := h.Subject(); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(h.Get("Subject"))
}
