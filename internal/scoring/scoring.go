// Package scoring computes a coarse authenticity score for inbound messages
// from the authentication headers added by upstream MTAs.
package scoring

import (
	"strings"

	"github.com/shineum/mail-relay-webhook/internal/email"
)

// Threshold is the minimum score a message needs to be relayed.
const Threshold = 50

// Signal weights. The maximum achievable score is 120.
const (
	weightSPF     = 30
	weightDKIM    = 30
	weightDMARC   = 40
	weightSender  = 10
	weightSubject = 10
)

// Result is the outcome of scoring one message.
type Result struct {
	SPFPass     bool     `json:"spf"`
	DKIMPresent bool     `json:"dkim"`
	DMARCPass   bool     `json:"dmarc"`
	Score       int      `json:"score"`
	Reasons     []string `json:"reasons"`
}

// Passed reports whether the score meets Threshold.
func (r Result) Passed() bool {
	return r.Score >= Threshold
}

// Score evaluates msg. Every signal is independent and additive. A missing
// header contributes nothing; SPF and DMARC only emit a FAIL reason when the
// header was present and did not pass.
func Score(msg *email.DecodedMessage) Result {
	r := Result{Reasons: []string{}}
	if msg == nil {
		return r
	}

	// The first value is the one added by the MTA closest to us.
	if msg.Headers.Has("Received-SPF") {
		r.SPFPass = strings.Contains(strings.ToLower(msg.Headers.Get("Received-SPF")), "pass")
		if r.SPFPass {
			r.Score += weightSPF
		}
		r.Reasons = append(r.Reasons, "SPF: "+passFail(r.SPFPass))
	}

	if msg.Headers.Has("DKIM-Signature") {
		r.DKIMPresent = true
		r.Score += weightDKIM
		r.Reasons = append(r.Reasons, "DKIM: Signature present")
	}

	if msg.Headers.Has("Authentication-Results") {
		r.DMARCPass = strings.Contains(strings.ToLower(msg.Headers.Get("Authentication-Results")), "dmarc=pass")
		if r.DMARCPass {
			r.Score += weightDMARC
		}
		r.Reasons = append(r.Reasons, "DMARC: "+passFail(r.DMARCPass))
	}

	if !msg.From.Empty() {
		r.Score += weightSender
		r.Reasons = append(r.Reasons, "Valid sender address")
	}

	if msg.Subject != "" {
		r.Score += weightSubject
		r.Reasons = append(r.Reasons, "Valid subject line")
	}

	return r
}

func passFail(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
