// Package tracker pushes daily step counts to the step-tracking service.
// Each push is a single PUT; failures are returned to the caller unretried.
package tracker

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
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultURL is the tracking service base URL.
const DefaultURL = "https://steps.mayb.gay"

const stepsPath = "/api/steps"

// maxResponseBody caps how much of a response is read.
const maxResponseBody = 64 << 10

// dateLayout is the calendar date format the tracker expects.
const dateLayout = "2006-01-02"

// ErrNoToken is returned when the client has no tracker token configured.
var ErrNoToken = errors.New("tracker: no token configured")

// Record is one day's step count.
type Record struct {
	Date  time.Time
	Steps int64
}

// MarshalJSON renders the record as {"date":"YYYY-MM-DD","steps":N}.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date  string `json:"date"`
		Steps int64  `json:"steps"`
	}{
		Date:  r.Date.Format(dateLayout),
		Steps: r.Steps,
	})
}

// Error is returned for a non-2xx tracker response.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("tracker: HTTP %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Client talks to the tracking service.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient returns a Client for baseURL authenticating with token. An empty
// baseURL selects DefaultURL.
func NewClient(baseURL, token string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}
}

// PushSteps uploads one record and returns the tracker's response body.
func (c *Client) PushSteps(ctx context.Context, rec Record) (string, error) {
	if c.token == "" {
		return "", ErrNoToken
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("tracker: encoding record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("tracker: creating request: %w", err)
	}

	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tracker: pushing %s: %w", rec.Date.Format(dateLayout), stripURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", fmt.Errorf("tracker: reading response: %w", err)
	}

	c.logger.Debug("tracker push",
		slog.String("date", rec.Date.Format(dateLayout)),
		slog.Int64("steps", rec.Steps),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &Error{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return string(body), nil
}

// stripURL drops the request URL from transport errors. The URL carries the
// tracker token, and *url.Error prints it verbatim.
func stripURL(err error) error {
	var uErr *url.Error
	if errors.As(err, &uErr) {
		return fmt.Errorf("%s %s: %w", uErr.Op, stepsPath, uErr.Err)
	}

	return err
}

// endpoint builds the push URL. The token travels as a query parameter.
func (c *Client) endpoint() string {
	q := url.Values{}
	q.Set("token", c.token)

	return c.baseURL + stepsPath + "?" + q.Encode()
}
