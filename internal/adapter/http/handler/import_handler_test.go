package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/ynabimport/internal/adapter/http/dto"
	"github.com/iho/ynabimport/internal/domain"
	"github.com/iho/ynabimport/internal/usecase"
)

type authServiceStub struct {
	startFn   func(ctx context.Context) (*domain.Session, error)
	confirmFn func(ctx context.Context, sessionID string, answer domain.ChallengeAnswer) (*domain.Session, error)
}

func (s *authServiceStub) Start(ctx context.Context) (*domain.Session, error) {
	return s.startFn(ctx)
}

func (s *authServiceStub) Confirm(ctx context.Context, sessionID string, answer domain.ChallengeAnswer) (*domain.Session, error) {
	return s.confirmFn(ctx, sessionID, answer)
}

type importServiceStub struct {
	importFn func(ctx context.Context, input usecase.ImportInput) (*domain.BatchSummary, error)
}

func (s *importServiceStub) Import(ctx context.Context, input usecase.ImportInput) (*domain.BatchSummary, error) {
	return s.importFn(ctx, input)
}

type namedSource struct {
	name string
	data []byte
}

func (s namedSource) Name() string { return s.name }

func (s namedSource) Records(ctx context.Context) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {}
}

type sourceFactoryStub struct {
	bankSession *domain.Session
	checkErr    error
	checked     []bool
}

func (f *sourceFactoryStub) CheckImport(source string, dryRun bool) error {
	f.checked = append(f.checked, dryRun)
	return f.checkErr
}

func (f *sourceFactoryStub) FileSource(kind string, data []byte) (usecase.Source, error) {
	switch kind {
	case domain.SourceCSV, domain.SourcePDF, domain.SourcePayPal:
		return namedSource{name: kind, data: data}, nil
	}
	return nil, &domain.ConfigError{Key: "source", Reason: "not a file source"}
}

func (f *sourceFactoryStub) BankSource(session *domain.Session) (usecase.Source, error) {
	f.bankSession = session
	return namedSource{name: domain.SourceComdirect}, nil
}

func (f *sourceFactoryStub) ImportInput(src usecase.Source, sink usecase.Sink) (usecase.ImportInput, error) {
	return usecase.ImportInput{Source: src, Sink: sink, BudgetID: "b-1", AccountID: "acc-1"}, nil
}

func newImportHandler(auth AuthService, importer ImportService, sources SourceFactory) *ImportHandler {
	return NewImportHandler(auth, importer, sources, 1<<10, zerolog.Nop())
}

func TestImportHandler_StartComdirect(t *testing.T) {
	expires := time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC)
	h := newImportHandler(&authServiceStub{
		startFn: func(ctx context.Context) (*domain.Session, error) {
			return &domain.Session{
				SessionID:   "s-1",
				State:       domain.StateChallengeIssued,
				ExpiresAt:   expires,
				AccessToken: "secret-token",
				Challenge:   &domain.Challenge{Type: domain.ChallengePhotoTAN, ID: "c-1", Image: []byte{0x89, 0x50}},
			}, nil
		},
	}, nil, &sourceFactoryStub{})

	rec := httptest.NewRecorder()
	h.StartComdirect(rec, httptest.NewRequest(http.MethodPost, "/api/v1/import/comdirect/start", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "secret-token") {
		t.Fatalf("tokens must not be exposed: %s", rec.Body.String())
	}

	var resp dto.SessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SessionID != "s-1" || resp.Challenge == nil || !resp.Challenge.RequiresCode {
		t.Fatalf("unexpected session response %+v", resp)
	}
	if !bytes.Equal(resp.Challenge.Image, []byte{0x89, 0x50}) {
		t.Fatalf("expected challenge image to survive encoding")
	}
}

func TestImportHandler_ConfirmComdirectImports(t *testing.T) {
	authenticated := &domain.Session{SessionID: "s-1", State: domain.StateAuthenticated}
	var answer domain.ChallengeAnswer
	sources := &sourceFactoryStub{}

	h := newImportHandler(&authServiceStub{
		confirmFn: func(ctx context.Context, sessionID string, a domain.ChallengeAnswer) (*domain.Session, error) {
			if sessionID != "s-1" {
				t.Fatalf("unexpected session id %q", sessionID)
			}
			answer = a
			return authenticated, nil
		},
	}, &importServiceStub{
		importFn: func(ctx context.Context, input usecase.ImportInput) (*domain.BatchSummary, error) {
			if input.Sink != nil {
				t.Fatalf("expected remote import")
			}
			return &domain.BatchSummary{Source: input.Source.Name(), Imported: 2, Duplicates: 1}, nil
		},
	}, sources)

	body := `{"session_id":"s-1","code":" 123456 "}`
	rec := httptest.NewRecorder()
	h.ConfirmComdirect(rec, httptest.NewRequest(http.MethodPost, "/api/v1/import/comdirect/confirm", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if answer.Code != "123456" {
		t.Fatalf("expected trimmed code, got %q", answer.Code)
	}
	if sources.bankSession != authenticated {
		t.Fatalf("expected bank source to use the authenticated session")
	}

	var resp struct {
		Source   string `json:"source"`
		Imported int    `json:"imported"`
		Total    int    `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Source != domain.SourceComdirect || resp.Imported != 2 || resp.Total != 3 {
		t.Fatalf("unexpected summary %+v", resp)
	}
}

func TestImportHandler_ConfirmErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{"malformed body", `{`, nil, http.StatusBadRequest},
		{"missing session id", `{"code":"1"}`, nil, http.StatusBadRequest},
		{"unknown session", `{"session_id":"x"}`, domain.ErrNoActiveSession, http.StatusNotFound},
		{"expired session", `{"session_id":"x"}`, &domain.AuthStateError{State: domain.StateChallengeIssued, Op: "confirm", Err: domain.ErrSessionExpired}, http.StatusGone},
		{"rejected tan", `{"session_id":"x","code":"1"}`, &domain.RemoteError{Op: "activate", Kind: domain.RemoteUnauthorized, StatusCode: 401}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newImportHandler(&authServiceStub{
				confirmFn: func(ctx context.Context, sessionID string, answer domain.ChallengeAnswer) (*domain.Session, error) {
					return nil, tt.err
				},
			}, nil, &sourceFactoryStub{})

			rec := httptest.NewRecorder()
			h.ConfirmComdirect(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body)))

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestImportHandler_ConfigErrorBeforeBankCalls(t *testing.T) {
	auth := &authServiceStub{
		startFn: func(ctx context.Context) (*domain.Session, error) {
			t.Fatalf("bank login must not start with incomplete settings")
			return nil, nil
		},
		confirmFn: func(ctx context.Context, sessionID string, answer domain.ChallengeAnswer) (*domain.Session, error) {
			t.Fatalf("challenge must not be consumed with incomplete settings")
			return nil, nil
		},
	}
	sources := &sourceFactoryStub{checkErr: &domain.ConfigError{Key: "YNAB_ACCOUNT_COMDIRECT"}}
	h := newImportHandler(auth, nil, sources)

	rec := httptest.NewRecorder()
	h.StartComdirect(rec, httptest.NewRequest(http.MethodPost, "/api/v1/import/comdirect/start", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from start, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ConfirmComdirect(rec, httptest.NewRequest(http.MethodPost, "/api/v1/import/comdirect/confirm", strings.NewReader(`{"session_id":"s-1","code":"1"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 from confirm, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "YNAB_ACCOUNT_COMDIRECT") {
		t.Fatalf("expected the missing setting to be named: %s", rec.Body.String())
	}
}

func TestImportHandler_StartComdirectDryRunCheck(t *testing.T) {
	sources := &sourceFactoryStub{}
	h := newImportHandler(&authServiceStub{
		startFn: func(ctx context.Context) (*domain.Session, error) {
			return &domain.Session{SessionID: "s-1", State: domain.StateChallengeIssued, Challenge: &domain.Challenge{Type: domain.ChallengePushTAN}}, nil
		},
	}, nil, sources)

	rec := httptest.NewRecorder()
	h.StartComdirect(rec, httptest.NewRequest(http.MethodPost, "/api/v1/import/comdirect/start?dry_run=true", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sources.checked) != 1 || !sources.checked[0] {
		t.Fatalf("expected one dry-run settings check, got %v", sources.checked)
	}
}

func multipartUpload(t *testing.T, field string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "upload")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, mw.FormDataContentType()
}

func routeFile(h *ImportHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/v1/import/{source}", h.ImportFile)
	return r
}

func TestImportHandler_ImportFile(t *testing.T) {
	var got usecase.ImportInput
	h := newImportHandler(nil, &importServiceStub{
		importFn: func(ctx context.Context, input usecase.ImportInput) (*domain.BatchSummary, error) {
			got = input
			if input.Sink != nil {
				if err := input.Sink.Write(ctx, domain.Transaction{ImportID: "CSV.1", Amount: -1000, Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}); err != nil {
					return nil, err
				}
				if err := input.Sink.Close(); err != nil {
					return nil, err
				}
			}
			return &domain.BatchSummary{Source: input.Source.Name(), Imported: 1, DryRun: input.Sink != nil}, nil
		},
	}, &sourceFactoryStub{})

	body, contentType := multipartUpload(t, "file", []byte("a;b\n"))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv?dry_run=true", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	routeFile(h).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if src, ok := got.Source.(namedSource); !ok || src.name != domain.SourceCSV || string(src.data) != "a;b\n" {
		t.Fatalf("unexpected source %+v", got.Source)
	}

	var resp dto.ImportResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !strings.HasPrefix(resp.Rows, "import_id,date,cleared,amount,payee,memo\nCSV.1,2024-03-01") {
		t.Fatalf("expected dry-run rows, got %q", resp.Rows)
	}
}

func TestImportHandler_ImportFileErrors(t *testing.T) {
	importer := &importServiceStub{
		importFn: func(ctx context.Context, input usecase.ImportInput) (*domain.BatchSummary, error) {
			return nil, &domain.ConfigError{Key: "csv.columns", Reason: `column "Betrag" not found in header`}
		},
	}
	h := newImportHandler(nil, importer, &sourceFactoryStub{})

	t.Run("unknown source", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/xlsx", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		routeFile(h).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		body, contentType := multipartUpload(t, "other", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		routeFile(h).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("upload too large", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", bytes.Repeat([]byte("x"), 4<<10))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		routeFile(h).ServeHTTP(rec, req)
		if rec.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("expected 413, got %d", rec.Code)
		}
	})

	t.Run("aborted batch", func(t *testing.T) {
		body, contentType := multipartUpload(t, "file", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		routeFile(h).ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

type categoryServiceStub struct {
	budgetID string
	err      error
}

func (s *categoryServiceStub) ListCategories(ctx context.Context, budgetID string) ([]domain.Category, error) {
	s.budgetID = budgetID
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Category{{ID: "1", Name: "Rent", Group: "Bills"}}, nil
}

func TestCategoryHandler_List(t *testing.T) {
	svc := &categoryServiceStub{}
	h := NewCategoryHandler(svc, "default-budget")

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil))
	if rec.Code != http.StatusOK || svc.budgetID != "default-budget" {
		t.Fatalf("unexpected result %d for budget %q", rec.Code, svc.budgetID)
	}

	var resp []dto.CategoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp) != 1 || resp[0].FullName != "Bills > Rent" {
		t.Fatalf("unexpected categories %+v", resp)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/categories?budget_id=other", nil))
	if svc.budgetID != "other" {
		t.Fatalf("expected budget override, got %q", svc.budgetID)
	}

	svc.err = &domain.RemoteError{Op: "list categories", Kind: domain.RemoteServer, StatusCode: 503}
	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHealthHandler_Readiness(t *testing.T) {
	healthy := NewHealthHandler(map[string]Check{
		"redis": func(ctx context.Context) error { return nil },
		"skip":  nil,
	})
	rec := httptest.NewRecorder()
	healthy.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	unhealthy := NewHealthHandler(map[string]Check{
		"postgres": func(ctx context.Context) error { return errors.New("connection refused") },
	})
	rec = httptest.NewRecorder()
	unhealthy.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
