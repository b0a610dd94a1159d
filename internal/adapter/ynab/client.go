// Package ynab is a client for the two budgeting API operations the importer
// needs: creating a transaction and listing categories.
package ynab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/infrastructure/metrics"
	"github.com/iho/ynabimport/internal/infrastructure/retry"
)

const (
	serviceName  = "ynab"
	maxErrorBody = 512
)

// Groups that hold no user-selectable categories.
var internalGroups = []string{"Internal Master Category", "Credit Card Payments"}

// Config holds API settings.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client implements usecase.BudgetAPI.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	retrier    *retry.Retrier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithRetrier replaces the retrier used for category listings.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) { c.retrier = r }
}

// WithMetrics records outbound request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a Client authenticating with a personal access token.
func NewClient(cfg Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	if cfg.Token == "" {
		return nil, &domain.ConfigError{Key: "YNAB_TOKEN"}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	base := &http.Client{Timeout: cfg.Timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: cfg.Token,
		TokenType:   "Bearer",
	}))

	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout:    cfg.Timeout,
		httpClient: httpClient,
		logger:     logger.With().Str("component", serviceName).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retrier == nil {
		c.retrier = retry.New(c.logger)
	}
	return c, nil
}

type saveTransaction struct {
	AccountID  string `json:"account_id"`
	Date       string `json:"date"`
	Amount     int64  `json:"amount"`
	PayeeName  string `json:"payee_name,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
	Memo       string `json:"memo,omitempty"`
	Cleared    string `json:"cleared"`
	ImportID   string `json:"import_id"`
}

type saveTransactionWrapper struct {
	Transaction saveTransaction `json:"transaction"`
}

type saveTransactionsResponse struct {
	Data struct {
		TransactionIDs     []string `json:"transaction_ids"`
		DuplicateImportIDs []string `json:"duplicate_import_ids"`
		Transaction        *struct {
			ID string `json:"id"`
		} `json:"transaction"`
	} `json:"data"`
}

type categoriesResponse struct {
	Data struct {
		CategoryGroups []struct {
			Name       string `json:"name"`
			Hidden     bool   `json:"hidden"`
			Deleted    bool   `json:"deleted"`
			Categories []struct {
				ID      string `json:"id"`
				Name    string `json:"name"`
				Hidden  bool   `json:"hidden"`
				Deleted bool   `json:"deleted"`
			} `json:"categories"`
		} `json:"category_groups"`
	} `json:"data"`
}

type errorResponse struct {
	Error struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Detail string `json:"detail"`
	} `json:"error"`
}

// CreateTransaction creates txn. A 409, or a 201 that lists the import id as
// a duplicate, yields an error wrapping domain.ErrConflict. It is never retried.
func (c *Client) CreateTransaction(ctx context.Context, budgetID string, txn domain.Transaction) (string, error) {
	body := saveTransactionWrapper{Transaction: saveTransaction{
		AccountID:  txn.AccountID,
		Date:       txn.DateString(),
		Amount:     txn.Amount,
		PayeeName:  txn.Payee,
		CategoryID: txn.CategoryID,
		Memo:       txn.Memo,
		Cleared:    string(txn.Cleared),
		ImportID:   txn.ImportID,
	}}

	var resp saveTransactionsResponse
	status, err := c.do(ctx, "create_transaction", http.MethodPost,
		"/budgets/"+url.PathEscape(budgetID)+"/transactions", body, http.StatusCreated, &resp)
	if err != nil {
		if status == http.StatusConflict {
			return "", fmt.Errorf("%w: %s", domain.ErrConflict, txn.ImportID)
		}
		return "", err
	}

	if slices.Contains(resp.Data.DuplicateImportIDs, txn.ImportID) {
		return "", fmt.Errorf("%w: %s", domain.ErrConflict, txn.ImportID)
	}

	switch {
	case resp.Data.Transaction != nil && resp.Data.Transaction.ID != "":
		return resp.Data.Transaction.ID, nil
	case len(resp.Data.TransactionIDs) > 0:
		return resp.Data.TransactionIDs[0], nil
	default:
		return "", &domain.RemoteError{
			Op:         "create_transaction",
			Kind:       domain.RemoteClient,
			StatusCode: http.StatusCreated,
			Err:        fmt.Errorf("%w: no transaction id", domain.ErrUnexpectedResponse),
		}
	}
}

// ListCategories returns the flattened, selectable categories: hidden and
// deleted entries and the internal groups are skipped.
func (c *Client) ListCategories(ctx context.Context, budgetID string) ([]domain.Category, error) {
	var resp categoriesResponse
	err := c.retrier.Retry(ctx, "list_categories", func() error {
		_, err := c.do(ctx, "list_categories", http.MethodGet,
			"/budgets/"+url.PathEscape(budgetID)+"/categories", nil, http.StatusOK, &resp)
		return err
	})
	if err != nil {
		return nil, err
	}

	var categories []domain.Category
	for _, group := range resp.Data.CategoryGroups {
		if group.Hidden || group.Deleted || slices.Contains(internalGroups, group.Name) {
			continue
		}
		for _, cat := range group.Categories {
			if cat.Hidden || cat.Deleted {
				continue
			}
			categories = append(categories, domain.Category{ID: cat.ID, Name: cat.Name, Group: group.Name})
		}
	}
	return categories, nil
}

// do returns the response status even on error so callers can special-case it.
func (c *Client) do(ctx context.Context, op, method, path string, in any, want int, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRemote(serviceName, op, 0, time.Since(start))
		return 0, &domain.RemoteError{Op: op, Kind: domain.RemoteNetwork, Err: err}
	}
	defer resp.Body.Close()
	c.metrics.ObserveRemote(serviceName, op, resp.StatusCode, time.Since(start))

	if resp.StatusCode != want {
		return resp.StatusCode, c.remoteError(op, resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, &domain.RemoteError{
				Op:         op,
				Kind:       domain.RemoteClient,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%w: decode body: %v", domain.ErrUnexpectedResponse, err),
			}
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) remoteError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(raw))
	var apiErr errorResponse
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Detail != "" {
		detail = apiErr.Error.Name + ": " + apiErr.Error.Detail
	}

	c.logger.Debug().
		Str("operation", op).
		Int("status", resp.StatusCode).
		Str("detail", detail).
		Msg("budget API request failed")

	return &domain.RemoteError{
		Op:         op,
		Kind:       domain.RemoteErrorKindFromStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Body:       detail,
	}
}
