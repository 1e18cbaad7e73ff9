// Package delivery performs single outbound webhook delivery attempts and
// classifies their outcome. Retrying is the processor's job, not the client's:
// Send makes exactly one network call per invocation.
package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Outcome classifies a delivery attempt.
type Outcome int

const (
	// OutcomeSuccess means the endpoint acknowledged the payload (2xx).
	OutcomeSuccess Outcome = iota
	// OutcomeRetryable means a transient condition: timeout, connection
	// error, 5xx or 429. The caller should requeue.
	OutcomeRetryable
	// OutcomeNonRetryable means the endpoint rejected the payload
	// permanently. The caller must not requeue.
	OutcomeNonRetryable
)

// String returns the outcome name for logs and events.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one delivery attempt.
type Result struct {
	Outcome    Outcome
	StatusCode int
	Err        error
}

// AttemptMetadata travels with the request as headers so the receiving
// endpoint can deduplicate and trace deliveries.
type AttemptMetadata struct {
	RequestID  string
	RetryCount int
}

// Client sends webhook payloads to a single configured endpoint.
type Client struct {
	endpoint   string
	secret     string
	httpClient *http.Client
}

// NewClient creates a delivery client. The timeout bounds the whole attempt;
// an attempt that exceeds it is classified as retryable.
func NewClient(endpoint string, timeout time.Duration, secret string) *Client {
	return &Client{
		endpoint: endpoint,
		secret:   secret,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the destination URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Send delivers one payload and classifies the result. Transport-level
// failures (DNS, refused connection, timeout) are retryable; status codes go
// through Classify.
func (c *Client) Send(ctx context.Context, payload []byte, meta AttemptMetadata) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{
			Outcome: OutcomeNonRetryable,
			Err:     fmt.Errorf("failed to build delivery request: %w", err),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", meta.RequestID)
	req.Header.Set("X-Retry-Count", strconv.Itoa(meta.RetryCount))
	if c.secret != "" {
		req.Header.Set("X-Hook-Signature", Sign(c.secret, payload))
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{
			Outcome: OutcomeRetryable,
			Err:     fmt.Errorf("failed to deliver payload: %w", err),
		}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	outcome := Classify(resp.StatusCode)
	if outcome == OutcomeSuccess {
		return Result{Outcome: OutcomeSuccess, StatusCode: resp.StatusCode}
	}

	return Result{
		Outcome:    outcome,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("endpoint returned status %d", resp.StatusCode),
	}
}

// Classify maps an HTTP status code to an outcome. This table is the single
// place where the retryable/non-retryable boundary lives:
//
//	2xx             -> success
//	429, 5xx        -> retryable
//	everything else -> non-retryable
func Classify(statusCode int) Outcome {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess
	case statusCode == http.StatusTooManyRequests:
		return OutcomeRetryable
	case statusCode >= 500:
		return OutcomeRetryable
	default:
		return OutcomeNonRetryable
	}
}

// Sign computes the hex-encoded HMAC-SHA256 signature receivers use to verify
// payload authenticity.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)

	return hex.EncodeToString(mac.Sum(nil))
}
