package normalize

import (
	"strings"

	"github.com/iho/ynabimport/internal/domain"
)

// Origin is a known counterparty class that gets its own memo rewriting.
type Origin string

const (
	OriginMarketplace      Origin = "marketplace"
	OriginPaymentProcessor Origin = "payment_processor"
	OriginDirectDebit      Origin = "direct_debit"
	OriginTransfer         Origin = "transfer"
)

// Memo tags written by the origin rules.
const (
	MarketplaceTag      = "Amazon"
	PaymentProcessorTag = "PayPal"
	DirectDebitTag      = "Lastschrift"
	TransferTag         = "Überweisung"
)

const (
	unspecifiedReference = "nicht angegeben"
	transferTypeKey      = "TRANSFER"
)

var marketplaceMarkers = []string{"amazon", "amzn"}

// DetectOrigins classifies a record by its remitter, memo and attributes.
func DetectOrigins(raw domain.RawRecord, memo string) []Origin {
	remitter := strings.ToLower(strings.TrimSpace(raw.Remitter))

	var origins []Origin
	if strings.HasPrefix(remitter, "paypal") {
		origins = append(origins, OriginPaymentProcessor)
	}
	if strings.HasPrefix(remitter, "lastschrift") {
		origins = append(origins, OriginDirectDebit)
	}
	if isMarketplace(remitter, memo) {
		origins = append(origins, OriginMarketplace)
	}
	if raw.Attr(domain.AttrEndToEndReference) == unspecifiedReference &&
		raw.Attr(domain.AttrTransactionType) == transferTypeKey {
		origins = append(origins, OriginTransfer)
	}

	return origins
}

func isMarketplace(remitter, memo string) bool {
	for _, marker := range marketplaceMarkers {
		if strings.Contains(remitter, marker) {
			return true
		}
	}
	return FindOrderNumber(memo) != "" || FindOrderNumber(remitter) != ""
}

// rewritePaymentProcessor keeps the part after the processor's own prefix.
func rewritePaymentProcessor(memo string) string {
	if _, rest, ok := strings.Cut(memo, ","); ok {
		return PaymentProcessorTag + ": " + strings.TrimSpace(rest)
	}
	return PaymentProcessorTag + ": " + memo
}

// rewriteDirectDebit splits "<creditor> // <purpose>" into payee and memo.
func rewriteDirectDebit(memo string) (payee, newMemo string) {
	creditor, purpose, ok := strings.Cut(memo, "//")
	if ok {
		return strings.TrimSpace(creditor), strings.TrimSpace(purpose)
	}
	return "", DirectDebitTag + ": " + memo
}

func rewriteTransfer(memo string) string {
	return TransferTag + " " + memo
}

func marketplaceFallback(memo string) string {
	return MarketplaceTag + ": " + memo
}
