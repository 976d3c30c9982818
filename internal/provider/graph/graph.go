// Package graph implements a Provider that sends email through the Microsoft
// Graph sendMail API using OAuth2 client credentials.
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
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailrelay/internal/email"
	"github.com/shineum/mailrelay/internal/provider"
)

// Name is the provider identifier.
const Name = "graph"

// DefaultPriority places Graph after the transactional providers.
const DefaultPriority = 5

const (
	maxRetries        = 3
	defaultRetryDelay = time.Second
)

// Config holds the settings for a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
	Priority     int
}

func (c Config) complete() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != "" && c.Sender != ""
}

// Provider sends email via the Microsoft Graph API.
type Provider struct {
	cfg        Config
	graphURL   string
	httpClient *http.Client
	token      *tokenSource
	retryDelay time.Duration
}

var _ provider.Provider = (*Provider)(nil)

// New creates a Provider for the tenant in cfg.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	graphURL := fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail", url.PathEscape(cfg.Sender))
	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Provider {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	return &Provider{
		cfg:        cfg,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retryDelay: defaultRetryDelay,
	}
}

// Name returns "graph".
func (p *Provider) Name() string { return Name }

// Priority returns the configured priority.
func (p *Provider) Priority() int { return p.cfg.Priority }

// IsAvailable reports whether tenant, client credentials and sender are set.
func (p *Provider) IsAvailable(context.Context) bool { return p.cfg.complete() }

// Send delivers msg. Transient failures are retried with exponential backoff,
// 429 responses honor Retry-After and a 401 triggers one token refresh.
func (p *Provider) Send(ctx context.Context, msg *email.Message) email.Result {
	if !p.cfg.complete() {
		return email.Failed(Name, errors.New("graph: tenant, client credentials or sender not configured"))
	}

	bodyJSON, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return email.Failed(Name, fmt.Errorf("failed to marshal request body: %w", err))
	}

	requestID := uuid.NewString()
	if err := p.sendWithRetry(ctx, bodyJSON, requestID); err != nil {
		return email.Failed(Name, err)
	}
	return email.Succeeded(Name, requestID)
}

func (p *Provider) sendWithRetry(ctx context.Context, bodyJSON []byte, requestID string) error {
	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := p.doSendRequest(ctx, bodyJSON, requestID)
		if err == nil {
			return nil
		}
		lastErr = err

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return err
		}

		switch {
		case graphErr.permanent:
			return graphErr
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			p.token.Invalidate()
			tokenRefreshed = true
			continue
		case graphErr.statusCode == http.StatusTooManyRequests:
			delay := p.retryAfterDelay(graphErr.retryAfter, attempt)
			slog.Info("rate limited by Graph API", "retry_after", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		case graphErr.transient:
			delay := backoffDelay(p.retryDelay, attempt)
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			return graphErr
		}
	}

	return fmt.Errorf("Graph API request failed after %d retries: %w", maxRetries, lastErr)
}

func (p *Provider) doSendRequest(ctx context.Context, bodyJSON []byte, requestID string) error {
	token, err := p.token.Token()
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("client-request-id", requestID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var errResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error.Message != "" {
		return classifyError(resp.StatusCode, errResp.Error.Message, resp.Header.Get("Retry-After"))
	}
	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// sendError is a Graph API failure classified for retry decisions.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// retryAfterDelay honors a Retry-After header given in seconds and falls back
// to exponential backoff otherwise.
func (p *Provider) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return backoffDelay(p.retryDelay, attempt)
}

// backoffDelay returns base * 2^attempt.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
