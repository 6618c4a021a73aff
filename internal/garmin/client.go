package garmin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Retry and backoff constants for data requests.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// maxErrorBody caps how much of an error response is kept in Error.Message.
const maxErrorBody = 4096

// DefaultUserAgent is sent when Options.UserAgent is empty.
const DefaultUserAgent = "stepsync/0.1"

// TokenSource provides bearer tokens for API requests.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the Garmin Connect API. It attaches the bearer
// token, retries transient failures with exponential backoff and throttles
// itself with a token-bucket limiter.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	userAgent  string
	limiter    *rate.Limiter

	// sleepFunc is called to wait between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. A nil limiter means no client-side limit.
func NewClient(
	baseURL string,
	httpClient *http.Client,
	token TokenSource,
	logger *slog.Logger,
	userAgent string,
	limiter *rate.Limiter,
) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		userAgent:  userAgent,
		limiter:    limiter,
		sleepFunc:  timeSleep,
	}
}

// Get performs an authenticated GET and returns the full response body.
// op names the operation in returned errors.
func (c *Client) Get(ctx context.Context, op, path string) ([]byte, error) {
	resp, err := c.Do(ctx, op, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindConnection, Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	return body, nil
}

// Do executes a body-less request against the API with retry. The caller is
// responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, op, method, path string) (*http.Response, error) {
	url := c.baseURL + path

	tok, err := c.token.Token()
	if err != nil {
		return nil, tokenError(op, err)
	}

	var attempt int
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindConnection, Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}

		resp, err := c.doOnce(ctx, method, url, tok)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &Error{Kind: KindConnection, Op: op, Err: fmt.Errorf("request canceled: %w", ctx.Err())}
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("op", op),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, &Error{Kind: KindConnection, Op: op, Err: fmt.Errorf("request canceled: %w", sleepErr)}
				}

				attempt++

				continue
			}

			return nil, &Error{
				Kind: KindConnection,
				Op:   op,
				Err:  fmt.Errorf("%s %s failed after %d retries: %w", method, path, maxRetries, err),
			}
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody := readErrorBody(resp)

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, &Error{Kind: KindConnection, Op: op, Err: fmt.Errorf("request canceled: %w", err)}
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("op", op),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, newStatusError(op, resp.StatusCode, errBody)
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url, tok string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// postJSON sends a single unauthenticated JSON POST and decodes a 2xx
// response into out. It never retries: SSO endpoints lock accounts out on
// repeated attempts, so rate limiting must surface to the caller at once.
func postJSON(ctx context.Context, hc *http.Client, userAgent, op, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf("encoding request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindConnection, Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := hc.Do(req)
	if err != nil {
		return &Error{Kind: KindConnection, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return newStatusError(op, resp.StatusCode, readErrorBody(resp))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindProtocol, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}

// readErrorBody drains and closes resp.Body, returning at most maxErrorBody bytes.
func readErrorBody(resp *http.Response) string {
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "(failed to read response body)"
	}

	return string(b)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
