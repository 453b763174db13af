// Package ses implements a Transport that relays the serialized message to
// every list recipient via AWS SES v2.
package ses

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/shineum/mail-relay-webhook/internal/provider"
	"github.com/shineum/mail-relay-webhook/internal/recipients"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// maxDestinations is the SES limit of recipients per SendEmail call.
const maxDestinations = 50

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
	RecipientList   string
}

// SESProvider sends the relay artifact as a raw MIME message via the AWS SES v2 API.
type SESProvider struct {
	sender        string
	recipientList string
	client        SendEmailAPI
	retryDelay    time.Duration
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, cfg.RecipientList, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender, recipientList string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:        sender,
		recipientList: recipientList,
		client:        client,
		retryDelay:    baseRetryDelay,
	}
}

// Send reads the artifact and the recipient list and sends the raw message
// to the recipients in batches of maxDestinations. The mode token is logged
// only; SES has a single sending mode.
func (s *SESProvider) Send(ctx context.Context, artifactPath, mode string) (provider.Result, error) {
	var res provider.Result

	raw, err := os.ReadFile(artifactPath)
	if err != nil {
		return res, fmt.Errorf("failed to read relay artifact: %w", err)
	}

	list, err := recipients.Load(s.recipientList)
	if err != nil {
		return res, err
	}
	if len(list) == 0 {
		return res, fmt.Errorf("recipient list %s has no recipients", s.recipientList)
	}

	sent := 0
	for start := 0; start < len(list); start += maxDestinations {
		end := min(start+maxDestinations, len(list))
		batch := list[start:end]

		id, err := s.sendWithRetry(ctx, buildRawInput(s.sender, batch, raw))
		if err != nil {
			res.Stdout = fmt.Sprintf("relayed to %d of %d recipients\n", sent, len(list))
			res.Stderr = err.Error()
			return res, err
		}
		sent += len(batch)
		slog.Debug("SES batch accepted",
			"mode", mode,
			"message_id", id,
			"recipients", len(batch),
		)
	}

	res.Stdout = fmt.Sprintf("relayed to %d of %d recipients\n", sent, len(list))
	return res, nil
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

func (s *SESProvider) sendWithRetry(ctx context.Context, input *sesv2.SendEmailInput) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, s.backoffDelay(attempt)); err != nil {
				return "", fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			return aws.ToString(out.MessageId), nil
		}

		lastErr = err
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
	}

	return "", fmt.Errorf("SES API request failed after %d retries: %w", maxRetries, lastErr)
}

// buildRawInput wraps the serialized message for SES. The visible headers
// are left untouched; recipients are passed only as the SES destination.
func buildRawInput(sender string, to []string, raw []byte) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			BccAddresses: to,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: raw,
			},
		},
	}
	if sender != "" {
		input.FromEmailAddress = aws.String(sender)
	}
	return input
}

// backoffDelay returns the exponential backoff delay for the given attempt number.
func (s *SESProvider) backoffDelay(attempt int) time.Duration {
	delay := s.retryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
