package domain

import (
	"time"
)

// DateLayout is the ISO-8601 calendar date layout used on the wire.
const DateLayout = "2006-01-02"

// Field budgets enforced by the remote budgeting API.
const (
	MaxPayeeLength    = 50
	MaxMemoLength     = 200
	MaxImportIDLength = 36
)

// ClearedStatus is the reconciliation flag of a transaction.
type ClearedStatus string

const (
	Cleared   ClearedStatus = "cleared"
	Uncleared ClearedStatus = "uncleared"
)

// Transaction is the canonical, adapter-independent record sent to the budgeting ledger.
type Transaction struct {
	Date       time.Time
	ImportID   string
	AccountID  string
	Payee      string
	Memo       string
	Cleared    ClearedStatus
	CategoryID string
	// Amount is expressed in thousandths of the currency's minor unit.
	Amount int64
}

// DateString returns the booking date formatted as YYYY-MM-DD.
func (t *Transaction) DateString() string {
	return t.Date.Format(DateLayout)
}

// HasCategory reports whether a categorization step assigned a category.
func (t *Transaction) HasCategory() bool {
	return t.CategoryID != ""
}

// Category is one entry of the flattened budget category list.
type Category struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Group   string `json:"group"`
	Hidden  bool   `json:"hidden,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

// FullName returns "Group > Name".
func (c Category) FullName() string {
	if c.Group == "" {
		return c.Name
	}
	return c.Group + " > " + c.Name
}

// Categorization is the result of the external category-suggestion service.
type Categorization struct {
	OrderNumber  string   `json:"order_number,omitempty"`
	CategoryID   string   `json:"category_id"`
	CategoryName string   `json:"category_name"`
	Products     []string `json:"products"`
}
