package envelope

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mail-relay-webhook/internal/email"
)

var fixedTime = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func newTestBuilder() *Builder {
	return New("relay.example",
		WithClock(func() time.Time { return fixedTime }),
		WithIDGenerator(func() string { return "0b9f3a52-7f2e-4d7e-9f55-3c1d2a6b8e01" }),
	)
}

func sender(name, addr, text string) email.AddressList {
	return email.AddressList{Text: text, List: []email.Address{{Name: name, Address: addr}}}
}

func TestBuild_OnBehalfOfHeaders(t *testing.T) {
	t.Parallel()

	msg := &email.DecodedMessage{
		From:     sender("Jane", "user@external.example", `"Jane" <user@external.example>`),
		Subject:  "Quarterly update",
		TextBody: "hello",
	}

	env := newTestBuilder().Build(msg)

	assert.Equal(t, `"Jane via relay.example" <noreply@relay.example>`, env.From)
	assert.Contains(t, env.ReplyTo, "user@external.example")
	assert.NotContains(t, env.ReplyTo, "relay.example")
	assert.NotContains(t, env.From, "external.example")
	assert.Equal(t, "Quarterly update", env.Subject)
	assert.Equal(t, "<0b9f3a52-7f2e-4d7e-9f55-3c1d2a6b8e01@relay.example>", env.MessageID)
	assert.Equal(t, "0b9f3a52-7f2e-4d7e-9f55-3c1d2a6b8e01", env.ID)
	assert.Equal(t, "Sat, 14 Mar 2026 09:26:53 +0000", env.Date)
}

func TestBuild_DisplayNameFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from email.AddressList
		want string
	}{
		{
			name: "local part when no display name",
			from: sender("", "john.smith@external.example", "john.smith@external.example"),
			want: `"john.smith via relay.example" <noreply@relay.example>`,
		},
		{
			name: "display name that is an address",
			from: sender("bob@external.example", "bob@external.example", `"bob@external.example" <bob@external.example>`),
			want: `"bob via relay.example" <noreply@relay.example>`,
		},
		{
			name: "quotes are escaped",
			from: sender(`Ann "The Boss" Lee`, "ann@external.example", `"Ann \"The Boss\" Lee" <ann@external.example>`),
			want: `"Ann \"The Boss\" Lee via relay.example" <noreply@relay.example>`,
		},
		{
			name: "no sender at all",
			from: email.AddressList{},
			want: `"unknown via relay.example" <noreply@relay.example>`,
		},
		{
			name: "non-ascii name is encoded",
			from: sender("José", "jose@external.example", "=?UTF-8?Q?Jos=C3=A9?= <jose@external.example>"),
			want: "=?UTF-8?q?Jos=C3=A9_via_relay.example?= <noreply@relay.example>",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestBuilder().Build(&email.DecodedMessage{From: tt.from, TextBody: "x"})
			assert.Equal(t, tt.want, env.From)
			assert.NotContains(t, env.From, "external.example")
		})
	}
}

// Only the address part is kept out of From. Free text in the display name
// is the sender's own wording and passes through.
func TestBuild_DisplayNameFreeTextKept(t *testing.T) {
	t.Parallel()

	from := sender("Jane (external.example)", "jane@external.example", `"Jane (external.example)" <jane@external.example>`)
	env := newTestBuilder().Build(&email.DecodedMessage{From: from, TextBody: "x"})

	assert.Equal(t, `"Jane (external.example) via relay.example" <noreply@relay.example>`, env.From)
	assert.NotContains(t, env.From, "jane@external.example")
	assert.Contains(t, env.ReplyTo, "jane@external.example")
}

func TestBuild_NoSenderOmitsReplyTo(t *testing.T) {
	t.Parallel()

	env := newTestBuilder().Build(&email.DecodedMessage{Subject: "x"})
	assert.Empty(t, env.ReplyTo)
}

func TestBuild_BodySelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text, html  string
		wantType    string
		wantBody    string
		wantContent bool
	}{
		{name: "html preferred", text: "plain", html: "<p>rich</p>", wantType: "text/html; charset=UTF-8", wantBody: "<p>rich</p>", wantContent: true},
		{name: "text only", text: "plain", wantType: "text/plain; charset=UTF-8", wantBody: "plain", wantContent: true},
		{name: "placeholder", wantType: "text/plain; charset=UTF-8", wantBody: PlaceholderBody},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestBuilder().Build(&email.DecodedMessage{TextBody: tt.text, HTMLBody: tt.html})
			assert.Equal(t, tt.wantType, env.ContentType)
			assert.Equal(t, tt.wantBody, env.Body)
			assert.Equal(t, tt.wantContent, env.HasContent)
			if tt.html != "" {
				assert.NotContains(t, env.Body, tt.text)
			}
		})
	}
}

func TestBuild_SubjectHandling(t *testing.T) {
	t.Parallel()

	b := newTestBuilder()

	assert.Equal(t, "No Subject", b.Build(&email.DecodedMessage{}).Subject)
	assert.Equal(t, "Injected Bcc: x@y", b.Build(&email.DecodedMessage{Subject: "Injected\r\nBcc: x@y"}).Subject)
	assert.True(t, strings.HasPrefix(b.Build(&email.DecodedMessage{Subject: "Grüße"}).Subject, "=?UTF-8?q?"))
}

func TestBuild_UniqueIDsByDefault(t *testing.T) {
	t.Parallel()

	b := New("relay.example")
	msg := &email.DecodedMessage{TextBody: "x"}

	first := b.Build(msg)
	second := b.Build(msg)

	require.NotEqual(t, first.MessageID, second.MessageID)
	assert.True(t, strings.HasSuffix(first.MessageID, "@relay.example>"))
	assert.True(t, strings.HasPrefix(first.MessageID, "<"))
}
