package handler

import (
	"context"
	"net/http"

	"github.com/iho/ynabimport/internal/adapter/http/dto"
	"github.com/iho/ynabimport/internal/domain"
)

// CategoryService lists budget categories.
type CategoryService interface {
	ListCategories(ctx context.Context, budgetID string) ([]domain.Category, error)
}

// CategoryHandler handles category requests.
type CategoryHandler struct {
	categories CategoryService
	budgetID   string
}

// NewCategoryHandler creates a new CategoryHandler for the configured budget.
func NewCategoryHandler(categories CategoryService, budgetID string) *CategoryHandler {
	return &CategoryHandler{categories: categories, budgetID: budgetID}
}

// List returns the flattened category list. ?budget_id overrides the default.
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	budgetID := r.URL.Query().Get("budget_id")
	if budgetID == "" {
		budgetID = h.budgetID
	}

	categories, err := h.categories.ListCategories(r.Context(), budgetID)
	if err != nil {
		writeError(w, mapDomainError(err), "failed to list categories", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, dto.CategoriesFromDomain(categories))
}
