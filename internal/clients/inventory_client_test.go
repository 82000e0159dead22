// internal/clients/inventory_client_test.go
package clients

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"libinventory/internal/inventory"
	"libinventory/internal/store"
)

func newTestClient(t *testing.T, seed ...inventory.Book) *InventoryClient {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := inventory.NewService(store.NewMemoryStore(seed...))
	require.NoError(t, err)

	srv := httptest.NewServer(inventory.NewRouter(inventory.NewHandler(svc, logger), nil, logger))
	t.Cleanup(srv.Close)

	return NewInventoryClient(srv.URL+"/", srv.Client())
}

func TestInventoryClient_Lifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	created, err := c.AddBook(ctx, inventory.Book{
		ISBN:            "978-1",
		Title:           "Pride and Prejudice",
		Author:          "Jane Austen",
		PublicationYear: 1813,
		CopiesAvailable: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)

	_, err = c.AddBook(ctx, inventory.Book{ISBN: "978-1"})
	assert.ErrorIs(t, err, inventory.ErrAlreadyExists)

	got, found, err := c.FindByISBN(ctx, "978-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, created, got)

	borrowed, found, err := c.BorrowBook(ctx, "978-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, borrowed.CopiesAvailable)

	returned, err := c.ReturnBook(ctx, "978-1")
	require.NoError(t, err)
	assert.Equal(t, 2, returned.CopiesAvailable)

	require.NoError(t, c.RemoveBook(ctx, "978-1"))
	assert.ErrorIs(t, c.RemoveBook(ctx, "978-1"), inventory.ErrNotFound)

	_, found, err = c.FindByISBN(ctx, "978-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInventoryClient_Absence(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, found, err := c.BorrowBook(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, found)

	books, err := c.FindByAuthor(ctx, "Nobody")
	require.NoError(t, err)
	assert.NotNil(t, books)
	assert.Empty(t, books)

	_, err = c.ReturnBook(ctx, "nope")
	assert.ErrorIs(t, err, inventory.ErrNotFound)

	_, err = c.AddBook(ctx, inventory.Book{})
	assert.ErrorIs(t, err, inventory.ErrInvalidBook)
}

func TestInventoryClient_FindByAuthorEscapesPath(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t,
		inventory.Book{ISBN: "978-0-9961281-0-3", Author: "Alex Xu", CopiesAvailable: 4},
		inventory.Book{ISBN: "978-1", Author: "T. D. Pankaj", CopiesAvailable: 1},
	)

	books, err := c.FindByAuthor(ctx, "Alex Xu")
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "978-0-9961281-0-3", books[0].ISBN)

	books, err = c.FindByAuthor(ctx, "T. D. Pankaj")
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestInventoryClient_LiteralPercentKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.AddBook(ctx, inventory.Book{ISBN: "X%41", Author: "100%25 Pure", CopiesAvailable: 1})
	require.NoError(t, err)

	got, found, err := c.FindByISBN(ctx, "X%41")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "X%41", got.ISBN)

	books, err := c.FindByAuthor(ctx, "100%25 Pure")
	require.NoError(t, err)
	assert.Len(t, books, 1)

	require.NoError(t, c.RemoveBook(ctx, "X%41"))
	_, found, err = c.FindByISBN(ctx, "X%41")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInventoryClient_DefaultTransportPropagatesTrace(t *testing.T) {
	otel.SetTextMapPropagator(propagation.TraceContext{})

	headers := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	traceID := trace.TraceID{0x4b, 0xf9, 0x2f, 0x35, 0x77, 0xb3, 0x4d, 0xa6, 0xa3, 0xce, 0x92, 0x9d, 0x0e, 0x0e, 0x47, 0x36}
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7},
		TraceFlags: trace.FlagsSampled,
	}))

	_, found, err := NewInventoryClient(srv.URL, nil).FindByISBN(ctx, "978-1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Contains(t, <-headers, traceID.String())
}

func TestInventoryClient_Seed(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	added, err := c.Seed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, added)

	books, err := c.FindByAuthor(ctx, "Alex Xu")
	require.NoError(t, err)
	assert.Len(t, books, 1)
}

func TestInventoryClient_ConcurrentBorrowLastCopy(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t, inventory.Book{ISBN: "978-1", Author: "Jane Austen", CopiesAvailable: 1})

	const borrowers = 2
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range borrowers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.BorrowBook(ctx, "978-1")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, inventory.ErrNoCopiesRemaining):
			rejected++
		}
	}
	assert.Equal(t, 1, ok, "only one borrower should get the last copy")
	assert.Equal(t, 1, rejected)

	book, _, err := c.FindByISBN(ctx, "978-1")
	require.NoError(t, err)
	assert.Equal(t, 0, book.CopiesAvailable)
}

func TestInventoryClient_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gateway exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewInventoryClient(srv.URL, nil)
	_, _, err := c.FindByISBN(context.Background(), "978-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestInventoryClient_StoreUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"circuit breaker is open","code":"store_unavailable"}`))
	}))
	defer srv.Close()

	c := NewInventoryClient(srv.URL, nil)
	_, err := c.ReturnBook(context.Background(), "978-1")
	assert.ErrorIs(t, err, inventory.ErrStoreUnavailable)
}
