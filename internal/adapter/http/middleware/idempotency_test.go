package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeIdempotencyStore struct {
	checkAndSetFn func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error)
	updateFn      func(ctx context.Context, key string, response []byte, ttl time.Duration) error
	deleteFn      func(ctx context.Context, key string) error
}

func (f *fakeIdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	if f.checkAndSetFn != nil {
		return f.checkAndSetFn(ctx, key, response, ttl)
	}
	return false, nil, nil
}

func (f *fakeIdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	if f.updateFn != nil {
		return f.updateFn(ctx, key, response, ttl)
	}
	return nil
}

func (f *fakeIdempotencyStore) Delete(ctx context.Context, key string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, key)
	}
	return nil
}

func newTestIdempotency(store *fakeIdempotencyStore) *IdempotencyMiddleware {
	return NewIdempotencyMiddleware(store, time.Hour, zerolog.Nop())
}

func TestIdempotencyMiddleware_FailsOnStoreErrors(t *testing.T) {
	var called bool
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return false, nil, context.DeadlineExceeded
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-err")
	rr := httptest.NewRecorder()

	newTestIdempotency(store).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if called {
		t.Fatalf("handler should not be called when store errors")
	}

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}

func TestIdempotencyMiddleware_ReleasesFailedResponses(t *testing.T) {
	var updated, deleted bool
	store := &fakeIdempotencyStore{
		updateFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) error {
			updated = true
			return nil
		},
		deleteFn: func(ctx context.Context, key string) error {
			deleted = key == "/api/v1/import/csv:key-fail"
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-fail")
	rr := httptest.NewRecorder()

	newTestIdempotency(store).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})).ServeHTTP(rr, req)

	if updated {
		t.Fatalf("expected error responses not to be cached")
	}
	if !deleted {
		t.Fatalf("expected the key to be released")
	}
}

func TestIdempotencyMiddleware_SkipsNonMutatingRequests(t *testing.T) {
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			t.Fatalf("store should not be consulted for GET")
			return false, nil, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil)
	req.Header.Set(IdempotencyKeyHeader, "key")
	rr := httptest.NewRecorder()

	called := false
	newTestIdempotency(store).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})).ServeHTTP(rr, req)

	if !called {
		t.Fatalf("expected next handler to be called")
	}
}

func TestIdempotencyMiddleware_ReturnsCachedResponse(t *testing.T) {
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return true, []byte(`{"imported":3}`), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-123")
	rr := httptest.NewRecorder()

	newTestIdempotency(store).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called when cached response exists")
	})).ServeHTTP(rr, req)

	if rr.Header().Get("X-Idempotency-Replay") != "true" {
		t.Fatalf("expected X-Idempotency-Replay header to be set")
	}

	if got := rr.Body.String(); got != `{"imported":3}` {
		t.Fatalf("unexpected cached body: %s", got)
	}
}

func TestIdempotencyMiddleware_InFlightRequestConflicts(t *testing.T) {
	store := &fakeIdempotencyStore{
		checkAndSetFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
			return true, []byte("processing"), nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/comdirect/confirm", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-busy")
	rr := httptest.NewRecorder()

	newTestIdempotency(store).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not run twice")
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestIdempotencyMiddleware_StoresSuccessfulResponse(t *testing.T) {
	var (
		updatedBody []byte
		updatedTTL  time.Duration
	)
	store := &fakeIdempotencyStore{
		updateFn: func(ctx context.Context, key string, response []byte, ttl time.Duration) error {
			updatedBody = append([]byte(nil), response...)
			updatedTTL = ttl
			return nil
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/csv", bytes.NewBufferString(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "key-456")
	rr := httptest.NewRecorder()

	newTestIdempotency(store).Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rr.Code)
	}

	if string(updatedBody) != `{"ok":true}` {
		t.Fatalf("expected cached body to be stored, got %s", string(updatedBody))
	}
	if updatedTTL != time.Hour {
		t.Fatalf("expected configured ttl, got %s", updatedTTL)
	}
}
