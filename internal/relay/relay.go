// Package relay drives one inbound message through decoding, scoring,
// envelope rewriting and dispatch.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/shineum/mail-relay-webhook/internal/dispatch"
	"github.com/shineum/mail-relay-webhook/internal/email"
	"github.com/shineum/mail-relay-webhook/internal/envelope"
	"github.com/shineum/mail-relay-webhook/internal/history"
	"github.com/shineum/mail-relay-webhook/internal/logging"
	"github.com/shineum/mail-relay-webhook/internal/parser"
	"github.com/shineum/mail-relay-webhook/internal/scoring"
)

// Status is the terminal state of a processed message.
type Status string

const (
	StatusRelayed        Status = "relayed"
	StatusRejected       Status = "rejected"
	StatusDispatchFailed Status = "dispatch_failed"
)

// Outcome is the result of a message that was decoded successfully.
type Outcome struct {
	Status            Status
	RequestID         string
	MessageID         string
	OriginalMessageID string
	Reason            string
	Validation        scoring.Result
	Diagnostic        string
	Output            string
	Err               error
}

// Kind maps the outcome onto the error taxonomy.
func (o *Outcome) Kind() Kind {
	switch o.Status {
	case StatusRejected:
		return KindRejected
	case StatusDispatchFailed:
		return KindDispatchFailed
	default:
		return KindNone
	}
}

// Dispatcher relays a built envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, env *email.RelayEnvelope) (*dispatch.Delivery, error)
}

// Archiver keeps a copy of the raw message.
type Archiver interface {
	Store(ctx context.Context, requestID string, raw []byte) (string, error)
}

// Recorder persists request outcomes.
type Recorder interface {
	Save(ctx context.Context, r *history.Record) error
	SeenOriginal(ctx context.Context, messageID string) (bool, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArchiver stores every raw message before decoding.
func WithArchiver(a Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// WithRecorder records every decoded request.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// Pipeline processes inbound messages. It holds no per-request state and is
// safe for concurrent use.
type Pipeline struct {
	builder    *envelope.Builder
	dispatcher Dispatcher
	archiver   Archiver
	recorder   Recorder
}

// New creates a Pipeline.
func New(builder *envelope.Builder, dispatcher Dispatcher, opts ...Option) *Pipeline {
	p := &Pipeline{builder: builder, dispatcher: dispatcher}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs raw through the pipeline. Rejection and transport failure are
// reported as an Outcome; a non-nil error is always a *Error.
func (p *Pipeline) Process(ctx context.Context, requestID string, raw []byte) (out *Outcome, err error) {
	ctx = logging.WithRequestID(ctx, requestID)
	log := logging.FromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = nil
			err = &Error{Kind: KindInternal, Op: "process", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	p.archive(ctx, log, requestID, raw)

	msg, err := parser.Decode(raw)
	if err != nil {
		log.Warn("could not decode message", "error", err, "size", len(raw))
		if errors.Is(err, parser.ErrMalformed) {
			return nil, &Error{Kind: KindMalformed, Op: "decode", Err: err}
		}
		return nil, &Error{Kind: KindInternal, Op: "decode", Err: err}
	}

	from := msg.From.First()
	log.Info("email parsed",
		"from", from.Address,
		"to", msg.To.Text,
		"subject", msg.Subject,
		"message_id", msg.MessageID,
		"has_text", msg.TextBody != "",
		"has_html", msg.HTMLBody != "",
		"attachments", msg.AttachmentsCount,
	)

	validation := scoring.Score(msg)
	log.Info("email validation completed",
		"score", validation.Score,
		"spf", validation.SPFPass,
		"dkim", validation.DKIMPresent,
		"dmarc", validation.DMARCPass,
		"reasons", validation.Reasons,
	)

	out = &Outcome{
		RequestID:         requestID,
		OriginalMessageID: msg.MessageID,
		Validation:        validation,
	}

	if !validation.Passed() {
		out.Status = StatusRejected
		out.Reason = "Failed validation"
		log.Warn("email rejected",
			"score", validation.Score,
			"threshold", scoring.Threshold,
		)
		p.record(ctx, log, msg, out)
		return out, nil
	}

	p.checkDuplicate(ctx, log, msg.MessageID)

	env := p.builder.Build(msg)
	out.MessageID = env.MessageID

	delivery, err := p.dispatcher.Dispatch(ctx, env)
	if err != nil {
		var te *dispatch.TransportError
		if !errors.As(err, &te) {
			log.Error("could not set up relay", "error", err)
			return nil, &Error{Kind: KindInternal, Op: "dispatch", Err: err}
		}
		out.Status = StatusDispatchFailed
		out.Reason = "Relay command failed"
		out.Diagnostic = te.Diagnostic
		out.Err = err
		p.record(ctx, log, msg, out)
		return out, nil
	}

	out.Status = StatusRelayed
	out.Output = delivery.Output
	p.record(ctx, log, msg, out)
	return out, nil
}

func (p *Pipeline) archive(ctx context.Context, log *slog.Logger, requestID string, raw []byte) {
	if p.archiver == nil {
		return
	}
	key, err := p.archiver.Store(ctx, requestID, raw)
	if err != nil {
		log.Warn("could not archive raw message", "error", err)
		return
	}
	log.Debug("raw message archived", "key", key)
}

func (p *Pipeline) checkDuplicate(ctx context.Context, log *slog.Logger, messageID string) {
	if p.recorder == nil || messageID == "" {
		return
	}
	seen, err := p.recorder.SeenOriginal(ctx, messageID)
	if err != nil {
		log.Warn("could not check relay history", "error", err)
		return
	}
	if seen {
		log.Warn("message was already relayed, relaying again",
			"original_message_id", messageID,
		)
	}
}

func (p *Pipeline) record(ctx context.Context, log *slog.Logger, msg *email.DecodedMessage, out *Outcome) {
	if p.recorder == nil {
		return
	}
	r := &history.Record{
		RequestID:         out.RequestID,
		OriginalMessageID: out.OriginalMessageID,
		RelayMessageID:    out.MessageID,
		From:              msg.From.First().Address,
		Subject:           msg.Subject,
		Score:             out.Validation.Score,
		Status:            string(out.Status),
		Reason:            out.Reason,
		Diagnostic:        out.Diagnostic,
	}
	if err := p.recorder.Save(ctx, r); err != nil {
		log.Warn("could not record relay history", "error", err)
	}
}
