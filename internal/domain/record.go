package domain

// Source names used for import id prefixes, metrics and logging.
const (
	SourceComdirect = "comdirect"
	SourcePDF       = "pdf"
	SourceCSV       = "csv"
	SourcePayPal    = "paypal"
)

// Attribute keys carried on RawRecord.Attributes.
const (
	AttrEndToEndReference = "end_to_end_reference"
	AttrTransactionType   = "transaction_type"
)

// RawRecord is a source-native record before normalization.
type RawRecord struct {
	Attributes map[string]string
	// Source identifies the origin adapter.
	Source string
	// IDPrefix is prepended to the import id, e.g. "PP." for the payment export.
	IDPrefix string
	// NativeID is the source's own identifier; empty means a content hash is used.
	NativeID string
	Date     string
	// DateLayouts lists the layouts tried in order; empty means the defaults.
	DateLayouts []string
	Amount      string
	Remitter    string
	Memo        string
	// Occurrence disambiguates identical content-hashed records within one extraction.
	Occurrence int
	// Line is the position of the record within its source, for error reporting.
	Line int
}

// Attr returns an attribute or the empty string.
func (r *RawRecord) Attr(key string) string {
	if r.Attributes == nil {
		return ""
	}
	return r.Attributes[key]
}
