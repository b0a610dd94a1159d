// Package categorizer calls the external product categorization service for
// marketplace orders.
package categorizer

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
)

const (
	serviceName    = "categorizer"
	headerSecret   = "X-API-Secret"
	defaultTimeout = 15 * time.Second
)

// Config holds service settings.
type Config struct {
	BaseURL string
	Secret  string
	Timeout time.Duration
}

// Client implements normalize.Categorizer. Calls are made once; the caller
// degrades on failure.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		secret:     cfg.Secret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    m,
		logger:     logger.With().Str("component", serviceName).Logger(),
	}
}

type categorizeRequest struct {
	Transaction string           `json:"transaction"`
	Categories  []categoryOption `json:"categories,omitempty"`
}

type categoryOption struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

// Categorize asks the service for a category suggestion for text.
func (c *Client) Categorize(ctx context.Context, text string, categories []domain.Category) (*domain.Categorization, error) {
	req := categorizeRequest{Transaction: text}
	for _, cat := range categories {
		req.Categories = append(req.Categories, categoryOption{ID: cat.ID, Name: cat.Name, Group: cat.Group})
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal categorize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/categorize", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build categorize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(headerSecret, c.secret)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveRemote(serviceName, "categorize", 0, time.Since(start))
		return nil, &domain.RemoteError{Op: "categorize", Kind: domain.RemoteNetwork, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveRemote(serviceName, "categorize", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &domain.RemoteError{
			Op:         "categorize",
			Kind:       domain.RemoteErrorKindFromStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var result domain.Categorization
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode categorization: %v", domain.ErrUnexpectedResponse, err)
	}

	c.logger.Debug().
		Str("order_number", result.OrderNumber).
		Str("category", result.CategoryName).
		Int("products", len(result.Products)).
		Msg("categorization received")

	return &result, nil
}
