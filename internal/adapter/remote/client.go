package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/couchcryptid/weather-file-sync/internal/observability"
)

// Request kinds used as metric labels.
const (
	kindListing = "listing"
	kindFile    = "file"
)

// StatusError reports an HTTP response outside the accepted status range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// Client issues GET requests against the remote source. Transport errors,
// 5xx, and 429 responses count against a shared circuit breaker so a dead
// source fails fast instead of timing out once per file.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	userAgent  string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a remote source client.
func NewClient(timeout time.Duration, userAgent string, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return newClient(&http.Client{Timeout: timeout}, userAgent, metrics, logger)
}

func newClient(httpClient *http.Client, userAgent string, metrics *observability.Metrics, logger *slog.Logger) *Client {
	c := &Client{
		httpClient: httpClient,
		userAgent:  userAgent,
		metrics:    metrics,
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-source",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			metrics.BreakerState.Set(float64(to))
		},
	})
	return c
}

// cancelled carries a context error through the breaker without counting it
// as a source failure.
type cancelled struct{ err error }

// get performs a GET and returns the response for 2xx and 304 statuses.
// The caller must close the body.
func (c *Client) get(ctx context.Context, kind, rawURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			if ctx.Err() != nil {
				return cancelled{err: doErr}, nil
			}
			return nil, doErr
		}
		if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
			drainAndClose(resp.Body)
			return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		}
		return resp, nil
	})
	if err != nil {
		c.metrics.RemoteRequests.WithLabelValues(kind, "error").Inc()
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("GET %s: circuit breaker: %w", rawURL, err)
		}
		return nil, fmt.Errorf("GET %s: %w", rawURL, err)
	}

	switch r := result.(type) {
	case cancelled:
		c.metrics.RemoteRequests.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("GET %s: %w", rawURL, r.err)
	case *http.Response:
		switch {
		case r.StatusCode == http.StatusNotModified:
			c.metrics.RemoteRequests.WithLabelValues(kind, "not_modified").Inc()
			return r, nil
		case r.StatusCode >= 200 && r.StatusCode < 300:
			c.metrics.RemoteRequests.WithLabelValues(kind, "success").Inc()
			return r, nil
		default:
			drainAndClose(r.Body)
			c.metrics.RemoteRequests.WithLabelValues(kind, "error").Inc()
			return nil, &StatusError{URL: rawURL, StatusCode: r.StatusCode}
		}
	default:
		return nil, fmt.Errorf("GET %s: unexpected breaker result %T", rawURL, result)
	}
}

// drainAndClose discards a bounded amount of the body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	_ = body.Close()
}
