// Package comdirect talks to the comdirect REST API: the five calls of the
// session login flow and the account and transaction listings.
package comdirect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/metrics"
	"github.com/iho/ynabimport/internal/infrastructure/retry"
)

const (
	serviceName     = "comdirect"
	maxErrorBody    = 512
	headerRequestID = "x-http-request-info"
	headerOnceInfo  = "x-once-authentication-info"
	headerOnceTAN   = "x-once-authentication"
)

// Config holds API credentials and endpoints.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	Timeout      time.Duration
}

// Client is a comdirect API client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retrier    *retry.Retrier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetrier replaces the retrier used for idempotent reads.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) { c.retrier = r }
}

// WithMetrics records outbound request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", serviceName).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retry.New(c.logger)
	}
	return c
}

type clientRequestID struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
}

type requestInfo struct {
	ClientRequestID clientRequestID `json:"clientRequestId"`
}

// request describes one API call.
type request struct {
	op      string
	method  string
	path    string
	body    any
	form    string
	session *domain.Session
	token   string
	header  map[string]string
	want    int
}

// do performs req and decodes a JSON response into out. Any status other than
// req.want is a *domain.RemoteError.
func (c *Client) do(ctx context.Context, req request, out any) (http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	switch {
	case req.body != nil:
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", req.op, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	case req.form != "":
		body = strings.NewReader(req.form)
		contentType = "application/x-www-form-urlencoded"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.cfg.BaseURL+req.path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", req.op, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.token)
	}
	if req.session != nil {
		info, err := json.Marshal(requestInfo{ClientRequestID: clientRequestID{
			SessionID: req.session.SessionID,
			RequestID: req.session.RequestID,
		}})
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set(headerRequestID, string(info))
	}
	for k, v := range req.header {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRemote(serviceName, req.op, 0, time.Since(start))
		return nil, &domain.RemoteError{Op: req.op, Kind: domain.RemoteNetwork, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveRemote(serviceName, req.op, resp.StatusCode, time.Since(start))

	if resp.StatusCode != req.want {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug().
			Str("operation", req.op).
			Int("status", resp.StatusCode).
			Int("expected", req.want).
			Msg("unexpected comdirect response")
		return nil, &domain.RemoteError{
			Op:         req.op,
			Kind:       domain.RemoteErrorKindFromStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			Err:        domain.ErrUnexpectedResponse,
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, &domain.RemoteError{
				Op:         req.op,
				Kind:       domain.RemoteClient,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: decode body: %v", domain.ErrUnexpectedResponse, err),
			}
		}
	}
	return resp.Header, nil
}
