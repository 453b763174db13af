package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shineum/mail-relay-webhook/internal/email"
)

type signals struct {
	spf     string // "", "pass" or another Received-SPF value
	dkim    bool
	dmarc   string // "", or an Authentication-Results value
	from    bool
	subject bool
}

func buildMessage(s signals) *email.DecodedMessage {
	msg := &email.DecodedMessage{}
	if s.spf != "" {
		msg.Headers.Add("Received-SPF", s.spf)
	}
	if s.dkim {
		msg.Headers.Add("DKIM-Signature", "v=1; a=rsa-sha256; d=external.example")
	}
	if s.dmarc != "" {
		msg.Headers.Add("Authentication-Results", s.dmarc)
	}
	if s.from {
		msg.From = email.AddressList{
			Text: "jane@external.example",
			List: []email.Address{{Address: "jane@external.example"}},
		}
	}
	if s.subject {
		msg.Subject = "Hello"
	}
	return msg
}

func TestScore_Weights(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      signals
		want    int
		reasons []string
	}{
		{
			name:    "nothing",
			in:      signals{},
			want:    0,
			reasons: []string{},
		},
		{
			name:    "all passing",
			in:      signals{spf: "Pass (mailfrom)", dkim: true, dmarc: "mx; dmarc=pass", from: true, subject: true},
			want:    120,
			reasons: []string{"SPF: PASS", "DKIM: Signature present", "DMARC: PASS", "Valid sender address", "Valid subject line"},
		},
		{
			name:    "sender and subject only",
			in:      signals{from: true, subject: true},
			want:    20,
			reasons: []string{"Valid sender address", "Valid subject line"},
		},
		{
			name:    "spf present but failing",
			in:      signals{spf: "softfail (domain does not designate)", subject: true},
			want:    10,
			reasons: []string{"SPF: FAIL", "Valid subject line"},
		},
		{
			name:    "dmarc header present but failing",
			in:      signals{dmarc: "mx; spf=pass; dmarc=fail", from: true},
			want:    10,
			reasons: []string{"DMARC: FAIL", "Valid sender address"},
		},
		{
			name:    "case-insensitive matching",
			in:      signals{spf: "PASS", dmarc: "mx; DMARC=PASS"},
			want:    70,
			reasons: []string{"SPF: PASS", "DMARC: PASS"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Score(buildMessage(tt.in))
			assert.Equal(t, tt.want, got.Score)
			assert.Equal(t, tt.reasons, got.Reasons)
		})
	}
}

func TestScore_AbsentHeadersEmitNoReason(t *testing.T) {
	t.Parallel()

	got := Score(buildMessage(signals{from: true}))
	for _, r := range got.Reasons {
		assert.NotContains(t, r, "SPF")
		assert.NotContains(t, r, "DMARC")
	}
	assert.False(t, got.SPFPass)
	assert.False(t, got.DKIMPresent)
	assert.False(t, got.DMARCPass)
}

func TestScore_Monotonic(t *testing.T) {
	t.Parallel()

	steps := []signals{
		{},
		{subject: true},
		{subject: true, from: true},
		{subject: true, from: true, spf: "pass"},
		{subject: true, from: true, spf: "pass", dkim: true},
		{subject: true, from: true, spf: "pass", dkim: true, dmarc: "dmarc=pass"},
	}

	prev := -1
	for i, s := range steps {
		score := Score(buildMessage(s)).Score
		assert.GreaterOrEqual(t, score, prev, "step %d", i)
		prev = score
	}
	assert.Equal(t, 120, prev)
}

func TestResult_Passed(t *testing.T) {
	t.Parallel()

	assert.False(t, Result{Score: 49}.Passed())
	assert.True(t, Result{Score: 50}.Passed())
	assert.True(t, Result{Score: 120}.Passed())

	// DKIM (30) + sender (10) + subject (10) lands exactly on the threshold.
	assert.True(t, Score(buildMessage(signals{dkim: true, from: true, subject: true})).Passed())
	// DKIM (30) + subject (10) stays below it.
	assert.False(t, Score(buildMessage(signals{dkim: true, subject: true})).Passed())
}

func TestScore_NilMessage(t *testing.T) {
	t.Parallel()

	got := Score(nil)
	assert.Equal(t, 0, got.Score)
	assert.NotNil(t, got.Reasons)
}
