// Package webhook notifies campaign systems when a framed photo is ready or a
// render has failed. Deliveries are signed with HMAC-SHA256 over
// "<timestamp>.<body>" and retried with capped exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/flagbooth/internal/domain"
	"github.com/dunamismax/flagbooth/internal/id"
)

const (
	HeaderSignature = "X-Flagbooth-Signature"
	HeaderTimestamp = "X-Flagbooth-Timestamp"
	HeaderEvent     = "X-Flagbooth-Event"
	HeaderDelivery  = "X-Flagbooth-Delivery"

	EventRenderCompleted = "render.completed"
	EventRenderFailed    = "render.failed"

	signaturePrefix = "sha256="
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event is the body of every delivery.
type Event struct {
	Type       string                `json:"type"`
	JobID      string                `json:"job_id"`
	Location   string                `json:"location"`
	Country    string                `json:"country,omitempty"`
	Format     string                `json:"format"`
	Outputs    []domain.RenderOutput `json:"outputs,omitempty"`
	Error      string                `json:"error,omitempty"`
	OccurredAt time.Time             `json:"occurred_at"`
}

type Config struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Client struct {
	httpClient     *http.Client
	signingSecret  string
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	initialBackoff := cfg.InitialBackoff
	if initialBackoff <= 0 {
		initialBackoff = time.Second
	}
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		signingSecret:  cfg.SigningSecret,
		maxAttempts:    max(1, cfg.MaxAttempts),
		initialBackoff: initialBackoff,
		maxBackoff:     max(cfg.MaxBackoff, initialBackoff),
		now:            time.Now,
	}
}

// permanentError marks a response that retrying cannot fix.
type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// Deliver posts ev to endpoint. An empty endpoint is a no-op. Every attempt
// carries the same delivery id so receivers can drop duplicates.
func (c *Client) Deliver(ctx context.Context, endpoint string, ev Event) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = c.now().UTC()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set(HeaderEvent, ev.Type)
	header.Set(HeaderDelivery, id.New())
	header.Set(HeaderTimestamp, timestamp)
	header.Set(HeaderSignature, Sign(c.signingSecret, timestamp, body))

	wait := c.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.attempt(ctx, endpoint, header, body)
		if lastErr == nil {
			return nil
		}
		var perm permanentError
		if errors.As(lastErr, &perm) {
			return lastErr
		}
		if attempt == c.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, c.maxBackoff)
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, endpoint string, header http.Header, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return permanentError{fmt.Errorf("build webhook request: %w", err)}
	}
	req.Header = header.Clone()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return permanentError{fmt.Errorf("webhook rejected with status=%d", resp.StatusCode)}
	default:
		return fmt.Errorf("webhook returned status=%d", resp.StatusCode)
	}
}

// Sign computes the signature header value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a delivery against secret and rejects timestamps older than
// maxAge. A zero maxAge disables the age check.
func Verify(secret string, header http.Header, body []byte, maxAge time.Duration, now time.Time) error {
	timestamp := header.Get(HeaderTimestamp)
	sent, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
	}
	if maxAge > 0 && now.Sub(time.Unix(sent, 0)) > maxAge {
		return fmt.Errorf("%w: stale timestamp", ErrInvalidSignature)
	}
	if !hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(header.Get(HeaderSignature))) {
		return ErrInvalidSignature
	}
	return nil
}
