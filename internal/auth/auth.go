// Package auth validates bearer tokens against the external auth service.
package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrMissingToken = errors.New("missing authorization token")
	ErrUnauthorized = errors.New("token is invalid or expired")
	ErrUnavailable  = errors.New("auth service unavailable")
)

// Validator checks tokens. *Client implements it.
type Validator interface {
	Authorize(ctx context.Context, token string) (*domain.TokenVerdict, error)
}

// Client talks to the auth service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cache      domain.Cache
	cacheTTL   time.Duration
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithCache caches accepted verdicts for ttl.
func WithCache(cache domain.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheTTL = ttl
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg domain.AuthConfig, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tracer: otel.Tracer("kestrel/auth"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate asks the auth service for a verdict on token.
// A rejected token is not an error; check TokenVerdict.Valid.
func (c *Client) Validate(ctx context.Context, token string) (*domain.TokenVerdict, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	digest := Digest(token)
	if c.cache != nil && c.cacheTTL > 0 {
		v, err := c.cache.GetVerdict(ctx, digest)
		if err != nil {
			slog.Warn("verdict cache lookup failed", "error", err)
		} else if v != nil {
			metrics.AuthValidations.WithLabelValues("cached").Inc()
			return v, nil
		}
	}

	ctx, span := c.tracer.Start(ctx, "auth.Validate")
	defer span.End()

	verdict, err := c.post(ctx, token)
	if err != nil {
		metrics.AuthValidations.WithLabelValues("error").Inc()
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("auth.code", verdict.Code))

	if !verdict.Valid() {
		metrics.AuthValidations.WithLabelValues("invalid").Inc()
		return verdict, nil
	}
	metrics.AuthValidations.WithLabelValues("valid").Inc()

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.SetVerdict(ctx, digest, verdict, c.cacheTTL); err != nil {
			slog.Warn("failed to cache verdict", "error", err)
		}
	}
	return verdict, nil
}

// Authorize is Validate that turns a rejected token into ErrUnauthorized.
func (c *Client) Authorize(ctx context.Context, token string) (*domain.TokenVerdict, error) {
	verdict, err := c.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid() {
		return verdict, ErrUnauthorized
	}
	return verdict, nil
}

func (c *Client) post(ctx context.Context, token string) (*domain.TokenVerdict, error) {
	body, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/validate-token", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	// The verdict lives in the body; the HTTP status is not authoritative.
	var verdict domain.TokenVerdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("%w: failed to decode verdict (status %d): %w", ErrUnavailable, resp.StatusCode, err)
	}
	return &verdict, nil
}

// Digest returns the cache key for a token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
