// Package envelope builds the outbound "on behalf of" relay message from a
// decoded inbound message.
package envelope

import (
	"fmt"
	"mime"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/shineum/mail-relay-webhook/internal/email"
)

const (
	contentTypeHTML  = "text/html; charset=UTF-8"
	contentTypePlain = "text/plain; charset=UTF-8"

	// PlaceholderBody is relayed when the inbound message had no text or HTML body.
	PlaceholderBody = "No content available"

	defaultSubject     = "No Subject"
	unknownDisplayName = "unknown"
)

// Builder rewrites inbound messages so the visible From address belongs to
// the owned sending domain while the original sender stays reachable via
// Reply-To. It performs no I/O.
type Builder struct {
	domain string
	now    func() time.Time
	newID  func() string
}

// Option customizes a Builder.
type Option func(*Builder)

// WithClock overrides the time source used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithIDGenerator overrides the generator behind Message-ID.
func WithIDGenerator(gen func() string) Option {
	return func(b *Builder) { b.newID = gen }
}

// New creates a Builder for the given sending domain.
func New(domain string, opts ...Option) *Builder {
	b := &Builder{
		domain: strings.TrimSpace(domain),
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Domain returns the sending domain.
func (b *Builder) Domain() string {
	return b.domain
}

// Build constructs the relay envelope for msg.
func (b *Builder) Build(msg *email.DecodedMessage) *email.RelayEnvelope {
	id := b.newID()
	sender := msg.From.First()

	env := &email.RelayEnvelope{
		ID:        id,
		MessageID: fmt.Sprintf("<%s@%s>", id, b.domain),
		From:      b.fromHeader(displayName(sender)),
		Subject:   encodeIfNeeded(sanitize(msg.Subject)),
		Date:      b.now().UTC().Format(time.RFC1123Z),
	}
	if env.Subject == "" {
		env.Subject = defaultSubject
	}

	if !msg.From.Empty() {
		env.ReplyTo = sanitize(msg.From.Text)
		if env.ReplyTo == "" {
			env.ReplyTo = sender.Address
		}
	}

	switch {
	case msg.HTMLBody != "":
		env.ContentType = contentTypeHTML
		env.Body = msg.HTMLBody
		env.HasContent = true
	case msg.TextBody != "":
		env.ContentType = contentTypePlain
		env.Body = msg.TextBody
		env.HasContent = true
	default:
		env.ContentType = contentTypePlain
		env.Body = PlaceholderBody
	}

	return env
}

// fromHeader renders `"<name> via <domain>" <noreply@<domain>>`.
func (b *Builder) fromHeader(name string) string {
	phrase := name + " via " + b.domain
	if isASCII(phrase) {
		phrase = quote(phrase)
	} else {
		phrase = mime.QEncoding.Encode("UTF-8", phrase)
	}
	return fmt.Sprintf("%s <noreply@%s>", phrase, b.domain)
}

// displayName picks the name shown in the rewritten From header: the
// original display name, else the local part of the address. Anything from
// an "@" onwards is dropped so no external domain reaches the From header.
func displayName(a email.Address) string {
	name := sanitize(a.Name)
	if name == "" {
		name = sanitize(a.LocalPart())
	}
	if i := strings.Index(name, "@"); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if name == "" {
		return unknownDisplayName
	}
	return name
}

// sanitize strips line breaks and other control characters that would let
// a value escape its header line.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' {
			return ' '
		}
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func encodeIfNeeded(s string) string {
	if isASCII(s) {
		return s
	}
	return mime.QEncoding.Encode("UTF-8", s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
