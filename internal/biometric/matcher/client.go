// Package matcher calls an external face verification service for 1:1
// matching of a captured sample against an enrolled employee.
package matcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"attendguard/internal/biometric"
	"attendguard/pkg/domain"
	"attendguard/pkg/platform/circuit"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("face matcher circuit open")

// Client implements biometric.Matcher over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(cl *Client) {
		cl.logger = logger
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		breaker: circuit.New("face-matcher", circuit.WithFailureThreshold(3)),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type verifyResponse struct {
	UserID     string   `json:"user_id"`
	Verified   bool     `json:"verified"`
	Similarity *float64 `json:"similarity"`
	Threshold  float64  `json:"threshold"`
}

// Verify performs 1:1 verification. Samples starting with http(s):// are
// sent as image_url, anything else as an inline image.
func (c *Client) Verify(ctx context.Context, subject domain.EmployeeID, sample string) (biometric.MatchResult, error) {
	if !c.breaker.Allow() {
		return biometric.MatchResult{}, ErrCircuitOpen
	}
	res, err := c.verify(ctx, subject, sample)
	if err != nil {
		if _, change := c.breaker.RecordFailure(); change.Opened {
			c.logger.WarnContext(ctx, "face matcher circuit opened", "error", err)
		}
		return biometric.MatchResult{}, err
	}
	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.InfoContext(ctx, "face matcher circuit closed")
	}
	return res, nil
}

func (c *Client) verify(ctx context.Context, subject domain.EmployeeID, sample string) (biometric.MatchResult, error) {
	payload := map[string]string{"user_id": subject.String()}
	if strings.HasPrefix(sample, "http://") || strings.HasPrefix(sample, "https://") {
		payload["image_url"] = sample
	} else {
		payload["image"] = sample
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return biometric.MatchResult{}, fmt.Errorf("encode verify request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return biometric.MatchResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return biometric.MatchResult{}, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return biometric.MatchResult{}, fmt.Errorf("face service error %s: %s", resp.Status, string(msg))
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return biometric.MatchResult{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return biometric.MatchResult{Matched: out.Verified, Confidence: out.Similarity}, nil
}

// Health checks whether the face service is reachable.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}
