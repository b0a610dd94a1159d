// Package normalize turns source-native records into canonical transactions
// through an ordered list of named rules shared by every source adapter.
package normalize

import (
	"context"
	"slices"

	"github.com/iho/ynabimport/internal/domain"
)

// Rule names, in execution order of DefaultRules.
const (
	RuleAmount     = "amount"
	RuleDate       = "date"
	RuleImportID   = "import_id"
	RuleMemo       = "memo_cleanup"
	RulePayee      = "payee_fallback"
	RuleOrigin     = "origin_tagging"
	RuleEnrichment = "enrichment"
	RuleCapping    = "length_capping"
)

const payeeFallbackLength = 15

// Draft is the record under construction while rules run.
type Draft struct {
	Raw     domain.RawRecord
	Txn     domain.Transaction
	Origins []Origin
}

// Has reports whether the draft was tagged with origin o.
func (d *Draft) Has(o Origin) bool {
	return slices.Contains(d.Origins, o)
}

// Rule is one named normalization step.
type Rule struct {
	Name  string
	Apply func(ctx context.Context, d *Draft) error
}

// Pipeline applies rules in order.
type Pipeline struct {
	rules []Rule
}

// NewPipeline creates a pipeline from rules.
func NewPipeline(rules ...Rule) *Pipeline {
	return &Pipeline{rules: rules}
}

// NewDefaultPipeline creates the standard pipeline; enricher may be nil.
func NewDefaultPipeline(enricher *Enricher) *Pipeline {
	return NewPipeline(DefaultRules(enricher)...)
}

// RuleNames lists the rule names in execution order.
func (p *Pipeline) RuleNames() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name
	}
	return names
}

// Normalize runs every rule over raw. A rule error stops the record; errors
// from parsing rules are *domain.ParseError.
func (p *Pipeline) Normalize(ctx context.Context, raw domain.RawRecord, accountID string) (domain.Transaction, error) {
	d := &Draft{
		Raw: raw,
		Txn: domain.Transaction{
			AccountID: accountID,
			Cleared:   domain.Cleared,
			Payee:     CollapseSpace(raw.Remitter),
			Memo:      raw.Memo,
		},
	}

	for _, rule := range p.rules {
		if err := rule.Apply(ctx, d); err != nil {
			return domain.Transaction{}, err
		}
	}

	return d.Txn, nil
}

// DefaultRules returns the shared rule list. Length capping is always last so
// it sees the fully enriched memo.
func DefaultRules(enricher *Enricher) []Rule {
	return []Rule{
		{Name: RuleAmount, Apply: applyAmount},
		{Name: RuleDate, Apply: applyDate},
		{Name: RuleImportID, Apply: applyImportID},
		{Name: RuleMemo, Apply: applyMemoCleanup},
		{Name: RulePayee, Apply: applyPayeeFallback},
		{Name: RuleOrigin, Apply: applyOriginTagging},
		{Name: RuleEnrichment, Apply: func(ctx context.Context, d *Draft) error {
			enricher.apply(ctx, d)
			return nil
		}},
		{Name: RuleCapping, Apply: applyCapping},
	}
}

func applyAmount(_ context.Context, d *Draft) error {
	amount, err := ParseAmount(d.Raw.Amount)
	if err != nil {
		return &domain.ParseError{Source: d.Raw.Source, Line: d.Raw.Line, Field: "amount", Value: d.Raw.Amount, Err: err}
	}
	d.Txn.Amount = amount
	return nil
}

func applyDate(_ context.Context, d *Draft) error {
	date, err := ParseDate(d.Raw.Date, d.Raw.DateLayouts)
	if err != nil {
		return &domain.ParseError{Source: d.Raw.Source, Line: d.Raw.Line, Field: "date", Value: d.Raw.Date, Err: err}
	}
	d.Txn.Date = date
	return nil
}

func applyImportID(_ context.Context, d *Draft) error {
	d.Txn.ImportID = ImportID(d.Raw, d.Txn)
	return nil
}

func applyMemoCleanup(_ context.Context, d *Draft) error {
	d.Txn.Memo = CleanMemo(d.Txn.Memo)
	return nil
}

func applyPayeeFallback(_ context.Context, d *Draft) error {
	if d.Txn.Payee == "" {
		d.Txn.Payee = CollapseSpace(Truncate(d.Txn.Memo, payeeFallbackLength))
	}
	return nil
}

func applyOriginTagging(_ context.Context, d *Draft) error {
	d.Origins = DetectOrigins(d.Raw, d.Txn.Memo)

	for _, o := range d.Origins {
		switch o {
		case OriginPaymentProcessor:
			d.Txn.Memo = rewritePaymentProcessor(d.Txn.Memo)
		case OriginDirectDebit:
			payee, memo := rewriteDirectDebit(d.Txn.Memo)
			if payee != "" {
				d.Txn.Payee = payee
			}
			d.Txn.Memo = memo
		case OriginTransfer:
			d.Txn.Memo = rewriteTransfer(d.Txn.Memo)
		}
	}

	return nil
}

func applyCapping(_ context.Context, d *Draft) error {
	d.Txn.Memo = Truncate(d.Txn.Memo, domain.MaxMemoLength)
	d.Txn.Payee = Truncate(d.Txn.Payee, domain.MaxPayeeLength)
	return nil
}
