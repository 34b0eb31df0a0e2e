package transmit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned without issuing an HTTP request while the
// breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// TransientError marks a failure the retry policy may act on: a 5xx
// response or a transport error.
type TransientError struct {
	Status int
	Reason string
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("server error: %d", e.Status)
	}
	return e.Reason
}

// ClientConfig tunes retries and the per-client circuit breaker.
type ClientConfig struct {
	DestinationURL          string
	AuthToken               string
	RetryMaxAttempts        int
	RetryBackoffMultiplier  float64
	RetryMaxDelay           time.Duration
	CircuitFailureThreshold int
	CircuitResetTimeout     time.Duration
}

func DefaultClientConfig(destinationURL, authToken string) ClientConfig {
	return ClientConfig{
		DestinationURL:          destinationURL,
		AuthToken:               authToken,
		RetryMaxAttempts:        3,
		RetryBackoffMultiplier:  2,
		RetryMaxDelay:           5 * time.Minute,
		CircuitFailureThreshold: 5,
		CircuitResetTimeout:     time.Minute,
	}
}

// Client posts gzipped batches to the external API. The breaker is owned
// by the client, so separate clients fail independently.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *Breaker
	log     zerolog.Logger

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func NewClient(cfg ClientConfig, log zerolog.Logger) *Client {
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryBackoffMultiplier <= 0 {
		cfg.RetryBackoffMultiplier = 2
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		breaker: NewBreaker(cfg.CircuitFailureThreshold, cfg.CircuitResetTimeout),
		log:     log,
		sleep:   time.Sleep,
	}
}

func (c *Client) DestinationURL() string { return c.cfg.DestinationURL }

func (c *Client) RetryMaxAttempts() int { return c.cfg.RetryMaxAttempts }

// BreakerOpen reports the breaker state for the readiness endpoint.
func (c *Client) BreakerOpen() bool { return c.breaker.IsOpen() }

// Send posts one pre-compressed batch body. A 4xx response returns the
// status plus the response text and a nil error; the caller decides what
// to do with it. Transient failures are retried with exponential backoff
// and, once exhausted, recorded on the breaker.
func (c *Client) Send(ctx context.Context, body []byte) (int, string, error) {
	if !c.breaker.Allow() {
		return 0, "", ErrCircuitOpen
	}

	var lastErr *TransientError
	for attempt := 1; attempt <= c.cfg.RetryMaxAttempts; attempt++ {
		status, respBody, err := c.post(ctx, body)
		if err == nil && status < 500 {
			c.breaker.RecordSuccess()
			if status >= 400 {
				return status, respBody, nil
			}
			return status, "", nil
		}

		if err != nil {
			lastErr = &TransientError{Reason: err.Error()}
		} else {
			lastErr = &TransientError{Status: status}
		}
		c.log.Warn().
			Int("attempt", attempt).
			Int("status", status).
			Str("error", lastErr.Error()).
			Msg("Transmission attempt failed")

		if attempt < c.cfg.RetryMaxAttempts {
			c.sleep(c.backoff(attempt))
		}
	}

	c.breaker.RecordFailure()
	return lastErr.Status, "", lastErr
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := time.Duration(c.cfg.RetryBackoffMultiplier*math.Pow(2, float64(attempt-1))) * time.Second
	if c.cfg.RetryMaxDelay > 0 && delay > c.cfg.RetryMaxDelay {
		delay = c.cfg.RetryMaxDelay
	}
	return delay
}

func (c *Client) post(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.DestinationURL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(text), nil
}
