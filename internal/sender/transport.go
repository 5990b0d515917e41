package sender

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// OutcomeKind classifies a single delivery attempt.
type OutcomeKind int

const (
	OutcomeDelivered OutcomeKind = iota
	OutcomeRateLimited
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// Outcome is the result of one POST. RetryAfter is set only for
// OutcomeRateLimited when the server supplied a usable Retry-After header.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

// Transport performs one delivery attempt of an already encoded body.
type Transport interface {
	Post(ctx context.Context, body []byte) Outcome
}

// HTTPTransport posts gzip-compressed ingest payloads to {base}/api/ingest.
type HTTPTransport struct {
	client   *http.Client
	endpoint string
	token    string
	timeout  time.Duration
}

// NewHTTPTransport creates a transport for the given server base URL. Each
// request is bounded by timeout.
func NewHTTPTransport(baseURL, machineToken string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPTransport{
		client: &http.Client{
			// A followed redirect would replay the POST as a body-less GET.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		endpoint: strings.TrimRight(baseURL, "/") + "/api/ingest",
		token:    machineToken,
		timeout:  timeout,
	}
}

// Post performs a single HTTP POST to the ingest endpoint.
func (t *HTTPTransport) Post(ctx context.Context, body []byte) Outcome {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("Authorization", "Bearer "+t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{Kind: OutcomeDelivered, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return Outcome{
			Kind:       OutcomeRateLimited,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        fmt.Errorf("rate limited (%d)", resp.StatusCode),
		}
	default:
		return Outcome{
			Kind:       OutcomeFailed,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("server returned %d", resp.StatusCode),
		}
	}
}

// parseRetryAfter accepts delay-seconds or an HTTP date. It returns 0 when the
// header is absent, malformed or already in the past.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
