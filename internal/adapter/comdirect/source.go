package comdirect

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/iho/ynabimport/internal/domain"
)

const (
	balancesPath = "/api/banking/clients/user/v1/accounts/balances"

	DefaultAccountType = "Girokonto"
	DefaultPagingCount = 200
)

type accountBalances struct {
	Values []struct {
		Account account `json:"account"`
	} `json:"values"`
}

type account struct {
	AccountID   string `json:"accountId"`
	IBAN        string `json:"iban"`
	AccountType struct {
		Key  string `json:"key"`
		Text string `json:"text"`
	} `json:"accountType"`
}

type transactionList struct {
	Values []transaction `json:"values"`
}

type transaction struct {
	Reference     string `json:"reference"`
	BookingStatus string `json:"bookingStatus"`
	BookingDate   string `json:"bookingDate"`
	Amount        struct {
		Value string `json:"value"`
		Unit  string `json:"unit"`
	} `json:"amount"`
	Remitter *struct {
		HolderName string `json:"holderName"`
	} `json:"remitter"`
	RemittanceInfo    string `json:"remittanceInfo"`
	EndToEndReference string `json:"endToEndReference"`
	TransactionType   *struct {
		Key  string `json:"key"`
		Text string `json:"text"`
	} `json:"transactionType"`
}

// AccountSelector picks the bank account to read. IBAN wins over AccountType.
type AccountSelector struct {
	IBAN        string
	AccountType string
}

func (s AccountSelector) matches(a account) bool {
	if s.IBAN != "" {
		return strings.EqualFold(strings.ReplaceAll(a.IBAN, " ", ""), strings.ReplaceAll(s.IBAN, " ", ""))
	}
	accountType := s.AccountType
	if accountType == "" {
		accountType = DefaultAccountType
	}
	return a.AccountType.Text == accountType
}

// Source yields the transactions of one account of an authenticated session.
type Source struct {
	client      *Client
	session     *domain.Session
	selector    AccountSelector
	pagingCount int
}

// NewSource creates a Source. session must be authenticated.
func NewSource(client *Client, session *domain.Session, selector AccountSelector, pagingCount int) *Source {
	if pagingCount <= 0 {
		pagingCount = DefaultPagingCount
	}
	return &Source{client: client, session: session, selector: selector, pagingCount: pagingCount}
}

// Name returns the source name.
func (s *Source) Name() string { return domain.SourceComdirect }

// Records fetches the account listing and its transactions, then yields them
// one by one. Unbooked transactions yield a *domain.ParseError.
func (s *Source) Records(ctx context.Context) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		if s.session == nil || !s.session.Authenticated() {
			yield(domain.RawRecord{}, &domain.AuthStateError{State: stateOf(s.session), Op: "list_transactions", Err: domain.ErrNoActiveSession})
			return
		}

		accountID, err := s.client.findAccount(ctx, s.session, s.selector)
		if err != nil {
			yield(domain.RawRecord{}, err)
			return
		}

		txns, err := s.client.listTransactions(ctx, s.session, accountID, s.pagingCount)
		if err != nil {
			yield(domain.RawRecord{}, err)
			return
		}

		for i, t := range txns {
			record, err := toRawRecord(i+1, t)
			if !yield(record, err) {
				return
			}
		}
	}
}

func stateOf(session *domain.Session) domain.SessionState {
	if session == nil {
		return domain.StateInit
	}
	return session.State
}

func (c *Client) findAccount(ctx context.Context, session *domain.Session, selector AccountSelector) (string, error) {
	var balances accountBalances
	err := c.retrier.Retry(ctx, "list_accounts", func() error {
		_, err := c.do(ctx, request{
			op:      "list_accounts",
			method:  http.MethodGet,
			path:    balancesPath,
			session: session,
			token:   session.AccessToken,
			want:    http.StatusOK,
		}, &balances)
		return err
	})
	if err != nil {
		return "", err
	}

	for _, v := range balances.Values {
		if selector.matches(v.Account) && v.Account.AccountID != "" {
			return v.Account.AccountID, nil
		}
	}

	what := selector.IBAN
	if what == "" {
		what = selector.AccountType
	}
	return "", fmt.Errorf("%w: %s", domain.ErrAccountNotFound, what)
}

func (c *Client) listTransactions(ctx context.Context, session *domain.Session, accountID string, pagingCount int) ([]transaction, error) {
	query := url.Values{"paging-count": {strconv.Itoa(pagingCount)}}
	path := "/api/banking/v1/accounts/" + url.PathEscape(accountID) + "/transactions?" + query.Encode()

	var list transactionList
	err := c.retrier.Retry(ctx, "list_transactions", func() error {
		_, err := c.do(ctx, request{
			op:      "list_transactions",
			method:  http.MethodGet,
			path:    path,
			session: session,
			token:   session.AccessToken,
			want:    http.StatusOK,
		}, &list)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list.Values, nil
}

var errNotBooked = errors.New("transaction is not booked yet")

func toRawRecord(line int, t transaction) (domain.RawRecord, error) {
	record := domain.RawRecord{
		Source:      domain.SourceComdirect,
		NativeID:    t.Reference,
		Date:        t.BookingDate,
		DateLayouts: []string{domain.DateLayout},
		Amount:      t.Amount.Value,
		Memo:        t.RemittanceInfo,
		Line:        line,
		Attributes: map[string]string{
			domain.AttrEndToEndReference: t.EndToEndReference,
		},
	}
	if t.Remitter != nil {
		record.Remitter = t.Remitter.HolderName
	}
	if t.TransactionType != nil {
		record.Attributes[domain.AttrTransactionType] = t.TransactionType.Key
	}

	if t.BookingDate == "" {
		return record, &domain.ParseError{
			Source: domain.SourceComdirect,
			Line:   line,
			Field:  "bookingDate",
			Value:  t.Reference,
			Err:    errNotBooked,
		}
	}
	return record, nil
}
