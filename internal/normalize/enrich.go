package normalize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/domain"
)

const (
	maxProductLabels   = 3
	unknownProduct     = "Unknown Product"
	defaultCategoryTTL = 10 * time.Minute
)

// Enrichment outcomes reported to the observer.
const (
	EnrichmentSuccess  = "success"
	EnrichmentFallback = "fallback"
	EnrichmentSkipped  = "skipped"
)

// Categorizer suggests a budget category for a marketplace purchase.
type Categorizer interface {
	Categorize(ctx context.Context, text string, categories []domain.Category) (*domain.Categorization, error)
}

// CategoryLister returns the flattened, selectable budget categories.
type CategoryLister interface {
	ListCategories(ctx context.Context, budgetID string) ([]domain.Category, error)
}

// Enricher replaces cryptic marketplace memos with order details. Failures
// degrade to a tagged memo and are never retried inline.
type Enricher struct {
	categorizer Categorizer
	lister      CategoryLister
	budgetID    string
	logger      zerolog.Logger
	observe     func(outcome string)
	ttl         time.Duration
	now         func() time.Time

	mu         sync.Mutex
	categories []domain.Category
	loadedAt   time.Time
	loadErr    error
}

// EnricherConfig holds the dependencies of an Enricher.
type EnricherConfig struct {
	Categorizer Categorizer
	Lister      CategoryLister
	BudgetID    string
	Logger      zerolog.Logger
	// Observe is called with one of the Enrichment* outcomes; optional.
	Observe func(outcome string)
	// CategoryTTL bounds how long the category list is reused.
	CategoryTTL time.Duration
}

// NewEnricher creates an Enricher. A nil Categorizer disables enrichment.
func NewEnricher(cfg EnricherConfig) *Enricher {
	ttl := cfg.CategoryTTL
	if ttl == 0 {
		ttl = defaultCategoryTTL
	}
	return &Enricher{
		categorizer: cfg.Categorizer,
		lister:      cfg.Lister,
		budgetID:    cfg.BudgetID,
		logger:      cfg.Logger,
		observe:     cfg.Observe,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Enabled reports whether an external categorizer is wired.
func (e *Enricher) Enabled() bool {
	return e != nil && e.categorizer != nil
}

func (e *Enricher) apply(ctx context.Context, d *Draft) {
	if !d.Has(OriginMarketplace) {
		return
	}

	text := d.Txn.Memo
	order := FindOrderNumber(text)
	if order == "" {
		if order = FindOrderNumber(d.Raw.Remitter); order != "" {
			text = CollapseSpace(d.Raw.Remitter + " " + text)
		}
	}
	if text == "" {
		text = CollapseSpace(d.Raw.Remitter)
	}

	if order == "" || !e.Enabled() {
		d.Txn.Memo = marketplaceFallback(text)
		e.report(EnrichmentSkipped)
		return
	}

	result, err := e.categorize(ctx, text)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("order_number", order).
			Str("import_id", d.Txn.ImportID).
			Msg("marketplace enrichment failed, keeping tagged memo")
		d.Txn.Memo = marketplaceFallback(text)
		e.report(EnrichmentFallback)
		return
	}

	if result.OrderNumber != "" {
		order = result.OrderNumber
	}
	d.Txn.Memo = EnrichedMemo(order, result, text)
	d.Txn.CategoryID = result.CategoryID
	e.report(EnrichmentSuccess)
}

func (e *Enricher) categorize(ctx context.Context, text string) (*domain.Categorization, error) {
	categories, err := e.loadCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("load categories: %w", err)
	}

	result, err := e.categorizer.Categorize(ctx, text, categories)
	if err != nil {
		return nil, err
	}
	if result == nil || result.CategoryName == "" {
		return nil, fmt.Errorf("empty categorization")
	}

	return result, nil
}

// loadCategories fetches the category list once per TTL. A failed load is
// remembered for the same window so a broken upstream is not hammered per record.
func (e *Enricher) loadCategories(ctx context.Context) ([]domain.Category, error) {
	if e.lister == nil {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.loadedAt.IsZero() && e.now().Sub(e.loadedAt) < e.ttl {
		return e.categories, e.loadErr
	}

	e.categories, e.loadErr = e.lister.ListCategories(ctx, e.budgetID)
	e.loadedAt = e.now()

	return e.categories, e.loadErr
}

func (e *Enricher) report(outcome string) {
	if e != nil && e.observe != nil {
		e.observe(outcome)
	}
}

// EnrichedMemo renders "Amazon Order <order>: <p1>, <p2>, <p3> - <category> - <original>".
func EnrichedMemo(order string, c *domain.Categorization, original string) string {
	var products []string
	for _, p := range c.Products {
		p = CollapseSpace(p)
		if p == "" {
			continue
		}
		products = append(products, p)
		if len(products) == maxProductLabels {
			break
		}
	}

	label := unknownProduct
	if len(products) > 0 {
		label = strings.Join(products, ", ")
	}

	return fmt.Sprintf("%s Order %s: %s - %s - %s", MarketplaceTag, order, label, c.CategoryName, original)
}
