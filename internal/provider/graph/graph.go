package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/shineum/mail-relay-webhook/internal/parser"
	"github.com/shineum/mail-relay-webhook/internal/provider"
	"github.com/shineum/mail-relay-webhook/internal/recipients"
)

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// maxRecipients caps the Bcc recipients of one sendMail call.
const maxRecipients = 100

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	Sender        string
	RecipientList string
}

// GraphProvider relays the artifact through the sendMail endpoint of the
// sending mailbox, authenticating with OAuth2 client credentials.
type GraphProvider struct {
	sender        string
	recipientList string
	sendURL       string
	httpClient    *http.Client
	token         *tokenCache
	retryDelay    time.Duration
	batchSize     int
}

// New creates a GraphProvider that talks to the public Microsoft endpoints.
func New(cfg GraphProviderConfig) *GraphProvider {
	return newWithEndpoints(cfg,
		"https://graph.microsoft.com/v1.0",
		fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID)),
		&http.Client{Timeout: 30 * time.Second},
	)
}

func newWithEndpoints(cfg GraphProviderConfig, graphBase, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:        cfg.Sender,
		recipientList: cfg.RecipientList,
		sendURL:       fmt.Sprintf("%s/users/%s/sendMail", graphBase, url.PathEscape(cfg.Sender)),
		httpClient:    client,
		token:         newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retryDelay:    baseRetryDelay,
		batchSize:     maxRecipients,
	}
}

// Send decodes the artifact and sends it to the recipient list in Bcc
// batches. The mode token is logged only.
func (g *GraphProvider) Send(ctx context.Context, artifactPath, mode string) (provider.Result, error) {
	var res provider.Result

	raw, err := os.ReadFile(artifactPath)
	if err != nil {
		return res, fmt.Errorf("failed to read relay artifact: %w", err)
	}
	msg, err := parser.Decode(raw)
	if err != nil {
		return res, fmt.Errorf("failed to decode relay artifact: %w", err)
	}

	list, err := recipients.Load(g.recipientList)
	if err != nil {
		return res, err
	}
	if len(list) == 0 {
		return res, fmt.Errorf("recipient list %s has no recipients", g.recipientList)
	}

	sent := 0
	for start := 0; start < len(list); start += g.batchSize {
		end := min(start+g.batchSize, len(list))
		batch := list[start:end]

		body, err := json.Marshal(buildSendMailRequest(msg, batch))
		if err != nil {
			return res, fmt.Errorf("failed to marshal request body: %w", err)
		}
		if err := g.sendWithRetry(ctx, body); err != nil {
			res.Stdout = fmt.Sprintf("relayed to %d of %d recipients\n", sent, len(list))
			res.Stderr = err.Error()
			return res, err
		}
		sent += len(batch)
		slog.Debug("Graph batch accepted",
			"mode", mode,
			"sender", g.sender,
			"recipients", len(batch),
		)
	}

	res.Stdout = fmt.Sprintf("relayed to %d of %d recipients\n", sent, len(list))
	return res, nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// sendWithRetry posts one sendMail body. Transient failures back off
// exponentially, 429 honours Retry-After and the first 401 refreshes the
// token and retries immediately.
func (g *GraphProvider) sendWithRetry(ctx context.Context, body []byte) error {
	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := g.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *sendError
		if !errors.As(err, &se) {
			return err
		}

		var delay time.Duration
		switch {
		case se.permanent:
			return se
		case se.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, err := g.token.Invalidate(ctx); err != nil {
				return fmt.Errorf("token refresh failed: %w", err)
			}
			tokenRefreshed = true
			continue
		case se.statusCode == http.StatusTooManyRequests:
			delay = g.retryAfterDelay(se.retryAfter, attempt)
			slog.Info("rate limited by Graph API", "retry_after", delay)
		default:
			delay = g.backoffDelay(attempt)
			slog.Info("transient Graph API error, retrying",
				"status", se.statusCode,
				"attempt", attempt,
				"delay", delay,
			)
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return fmt.Errorf("context cancelled during retry wait: %w", err)
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

func (g *GraphProvider) post(ctx context.Context, body []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{message: fmt.Sprintf("HTTP request failed: %v", err), transient: true}
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	message := string(respBody)
	var ge graphErrorResponse
	if json.Unmarshal(respBody, &ge) == nil && ge.Error.Message != "" {
		message = ge.Error.Message
	}
	return classifyError(resp.StatusCode, message, resp.Header.Get("Retry-After"))
}

// sendError is a failed sendMail call, classified for the retry loop.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	if e.statusCode == 0 {
		return "Graph API error: " + e.message
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}
	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}
	return err
}

// retryAfterDelay honours a Retry-After value in seconds and falls back to
// exponential backoff.
func (g *GraphProvider) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return g.backoffDelay(attempt)
}

func (g *GraphProvider) backoffDelay(attempt int) time.Duration {
	delay := g.retryDelay
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
