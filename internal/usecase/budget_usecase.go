package usecase

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/domain"
)

// BudgetUseCase exposes read operations of the remote budget.
type BudgetUseCase struct {
	budget   BudgetAPI
	cache    CategoryCache
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// NewBudgetUseCase creates a new BudgetUseCase.
func NewBudgetUseCase(budget BudgetAPI) *BudgetUseCase {
	return &BudgetUseCase{budget: budget, logger: zerolog.Nop()}
}

// WithCategoryCache serves category listings from cache for ttl.
func (uc *BudgetUseCase) WithCategoryCache(cache CategoryCache, ttl time.Duration, logger zerolog.Logger) *BudgetUseCase {
	uc.cache = cache
	uc.cacheTTL = ttl
	uc.logger = logger
	return uc
}

// ListCategories returns the selectable categories sorted by group and name.
func (uc *BudgetUseCase) ListCategories(ctx context.Context, budgetID string) ([]domain.Category, error) {
	if budgetID == "" {
		return nil, &domain.ConfigError{Key: "budget_id"}
	}

	if uc.cache != nil {
		cached, ok, err := uc.cache.GetCategories(ctx, budgetID)
		if err != nil {
			uc.logger.Warn().Err(err).Msg("category cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	categories, err := uc.budget.ListCategories(ctx, budgetID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(categories, func(i, j int) bool {
		if categories[i].Group != categories[j].Group {
			return categories[i].Group < categories[j].Group
		}
		return categories[i].Name < categories[j].Name
	})

	if uc.cache != nil {
		if err := uc.cache.SetCategories(ctx, budgetID, categories, uc.cacheTTL); err != nil {
			uc.logger.Warn().Err(err).Msg("category cache write failed")
		}
	}

	return categories, nil
}
