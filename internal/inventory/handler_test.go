// internal/inventory/handler_test.go
package inventory_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"libinventory/internal/inventory"
	"libinventory/internal/store"
)

func newTestServer(t *testing.T, limiter *rate.Limiter, seed ...inventory.Book) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := newTestService(t, seed...)
	srv := httptest.NewServer(inventory.NewRouter(inventory.NewHandler(svc, logger), limiter, logger))
	t.Cleanup(srv.Close)
	return srv
}

func doRequest(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandler_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doRequest(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestHandler_AddBook(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/book", book("978-1", "Jane Austen", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[inventory.Book](t, resp)
	assert.Equal(t, "978-1", created.ISBN)
	assert.Equal(t, 1, created.Version)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/book", book("978-1", "Jane Austen", 5))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, inventory.CodeAlreadyExists, decode[inventory.ErrorResponse](t, resp).Code)
}

func TestHandler_AddBook_BadInput(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/book", book("", "Nobody", 1))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, inventory.CodeInvalidBook, decode[inventory.ErrorResponse](t, resp).Code)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/book", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestHandler_RemoveBook(t *testing.T) {
	srv := newTestServer(t, nil, book("978-1", "Jane Austen", 2))

	resp := doRequest(t, http.MethodDelete, srv.URL+"/api/book/978-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/book/978-1", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, inventory.CodeNotFound, decode[inventory.ErrorResponse](t, resp).Code)
}

func TestHandler_FindByISBN(t *testing.T) {
	srv := newTestServer(t, nil, book("978-1", "Jane Austen", 2))

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/book/findByISBN/978-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, decode[inventory.Book](t, resp).CopiesAvailable)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/book/findByISBN/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_FindByAuthor(t *testing.T) {
	srv := newTestServer(t, nil,
		book("978-0-9961281-0-3", "Alex Xu", 4),
		book("978-1", "Jane Austen", 2),
	)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/book/findByAuthor/Alex%20Xu", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	books := decode[[]inventory.Book](t, resp)
	require.Len(t, books, 1)
	assert.Equal(t, "978-0-9961281-0-3", books[0].ISBN)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/book/findByAuthor/Nobody", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestHandler_BorrowAndReturn(t *testing.T) {
	srv := newTestServer(t, nil, book("978-1", "Jane Austen", 1))

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/book/borrow/978-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[inventory.Book](t, resp).CopiesAvailable)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/book/borrow/978-1", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, inventory.CodeNoCopiesRemaining, decode[inventory.ErrorResponse](t, resp).Code)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/book/borrow/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/book/return/978-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[inventory.Book](t, resp).CopiesAvailable)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/book/return/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_Seed(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/book/seed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 4, decode[inventory.SeedResponse](t, resp).Added)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/book/seed", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[inventory.SeedResponse](t, resp).Added)
}

func TestHandler_StoreErrorsMapToStatus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"unavailable", inventory.ErrStoreUnavailable, http.StatusServiceUnavailable, inventory.CodeStoreUnavailable},
		{"conflict", inventory.ErrConcurrencyConflict, http.StatusConflict, inventory.CodeConcurrencyConflict},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError, inventory.CodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, err := inventory.NewService(failingRepo{err: tc.err})
			require.NoError(t, err)
			srv := httptest.NewServer(inventory.NewRouter(inventory.NewHandler(svc, logger), nil, logger))
			defer srv.Close()

			resp := doRequest(t, http.MethodGet, srv.URL+"/api/book/findByISBN/978-1", nil)
			require.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.code, decode[inventory.ErrorResponse](t, resp).Code)
		})
	}
}

func TestRouter_RateLimit(t *testing.T) {
	srv := newTestServer(t, rate.NewLimiter(rate.Limit(0.001), 2), book("978-1", "A", 1))

	for range 2 {
		resp := doRequest(t, http.MethodGet, srv.URL+"/api/book/findByISBN/978-1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/book/findByISBN/978-1", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	// Liveness checks are served even with the bucket drained.
	resp = doRequest(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_PathParamsKeepLiteralPercent(t *testing.T) {
	srv := newTestServer(t, nil)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/book", book("X%41", "100%25 Pure", 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/book/findByISBN/"+url.PathEscape("X%41"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "X%41", decode[inventory.Book](t, resp).ISBN)

	resp = doRequest(t, http.MethodGet, srv.URL+"/api/book/findByAuthor/"+url.PathEscape("100%25 Pure"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]inventory.Book](t, resp), 1)

	resp = doRequest(t, http.MethodPost, srv.URL+"/api/book/borrow/"+url.PathEscape("X%41"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, decode[inventory.Book](t, resp).CopiesAvailable)

	resp = doRequest(t, http.MethodDelete, srv.URL+"/api/book/"+url.PathEscape("X%41"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandler_PathParamsDecodeEscapedSlash(t *testing.T) {
	srv := newTestServer(t, nil, book("a/b", "A", 1))

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/book/findByISBN/"+url.PathEscape("a/b"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "a/b", decode[inventory.Book](t, resp).ISBN)
}

func TestRouter_JoinsIncomingTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc, err := inventory.NewService(store.NewMemoryStore(book("978-1", "A", 1)), inventory.WithTracer(tp.Tracer("test")))
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(inventory.NewRouter(inventory.NewHandler(svc, logger), nil, logger))
	t.Cleanup(srv.Close)

	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/book/borrow/978-1", nil)
	require.NoError(t, err)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var borrow sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		if span.Name() == "inventory.borrow_book" {
			borrow = span
		}
	}
	require.NotNil(t, borrow)
	assert.True(t, borrow.Parent().IsValid())
	assert.Equal(t, traceID, borrow.SpanContext().TraceID().String())
}

func TestRouter_WrongMethod(t *testing.T) {
	srv := newTestServer(t, nil, book("978-1", "A", 1))

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/book/borrow/978-1", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
