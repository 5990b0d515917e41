package sender

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPTransport_Classification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		wantKind   OutcomeKind
		wantPause  time.Duration
	}{
		{"ok", http.StatusOK, "", OutcomeDelivered, 0},
		{"accepted", http.StatusAccepted, "", OutcomeDelivered, 0},
		{"rate limited with seconds", http.StatusTooManyRequests, "7", OutcomeRateLimited, 7 * time.Second},
		{"rate limited without header", http.StatusTooManyRequests, "", OutcomeRateLimited, 0},
		{"server error", http.StatusInternalServerError, "", OutcomeFailed, 0},
		{"client error", http.StatusBadRequest, "", OutcomeFailed, 0},
		{"redirect", http.StatusFound, "", OutcomeFailed, 0},
		{"permanent redirect", http.StatusMovedPermanently, "", OutcomeFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/login" {
					w.WriteHeader(http.StatusOK)
					return
				}
				if tt.status >= 300 && tt.status < 400 {
					w.Header().Set("Location", "/login")
				}
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			out := NewHTTPTransport(srv.URL, "tok", time.Second).Post(context.Background(), []byte("x"))

			assert.Equal(t, tt.wantKind, out.Kind)
			assert.Equal(t, tt.status, out.StatusCode)
			assert.Equal(t, tt.wantPause, out.RetryAfter)
			if tt.wantKind == OutcomeDelivered {
				assert.NoError(t, out.Err)
			} else {
				assert.Error(t, out.Err)
			}
		})
	}
}

func TestHTTPTransport_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	out := NewHTTPTransport(url, "tok", time.Second).Post(context.Background(), []byte("x"))
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, 0, out.StatusCode)
	assert.Error(t, out.Err)
}

func TestHTTPTransport_RequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	out := NewHTTPTransport(srv.URL, "tok", 50*time.Millisecond).Post(context.Background(), []byte("x"))
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Error(t, out.Err)
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"  ", 0},
		{"120", 2 * time.Minute},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, parseRetryAfter(tt.in, now), "Retry-After %q", tt.in)
	}
}
