// internal/clients/inventory_client.go
package clients

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"libinventory/internal/inventory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var _ inventory.Service = (*InventoryClient)(nil)

// InventoryClient talks to the inventory HTTP API.
type InventoryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewInventoryClient builds a client for baseURL. A nil httpClient is replaced
// by one that propagates trace context on every request.
func NewInventoryClient(baseURL string, httpClient *http.Client) *InventoryClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &InventoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *InventoryClient) AddBook(ctx context.Context, book inventory.Book) (inventory.Book, error) {
	body, err := json.Marshal(book)
	if err != nil {
		return inventory.Book{}, err
	}

	var created inventory.Book
	if _, err := c.do(ctx, http.MethodPost, "/api/book", body, http.StatusCreated, &created); err != nil {
		return inventory.Book{}, err
	}
	return created, nil
}

func (c *InventoryClient) RemoveBook(ctx context.Context, isbn string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/book/"+url.PathEscape(isbn), nil, http.StatusOK, nil)
	return err
}

func (c *InventoryClient) FindByISBN(ctx context.Context, isbn string) (inventory.Book, bool, error) {
	var book inventory.Book
	status, err := c.do(ctx, http.MethodGet, "/api/book/findByISBN/"+url.PathEscape(isbn), nil, http.StatusOK, &book)
	if status == http.StatusNotFound {
		return inventory.Book{}, false, nil
	}
	if err != nil {
		return inventory.Book{}, false, err
	}
	return book, true, nil
}

func (c *InventoryClient) FindByAuthor(ctx context.Context, author string) ([]inventory.Book, error) {
	books := make([]inventory.Book, 0)
	status, err := c.do(ctx, http.MethodGet, "/api/book/findByAuthor/"+url.PathEscape(author), nil, http.StatusOK, &books)
	if status == http.StatusNoContent {
		return []inventory.Book{}, nil
	}
	if err != nil {
		return nil, err
	}
	return books, nil
}

func (c *InventoryClient) BorrowBook(ctx context.Context, isbn string) (inventory.Book, bool, error) {
	var book inventory.Book
	status, err := c.do(ctx, http.MethodPost, "/api/book/borrow/"+url.PathEscape(isbn), nil, http.StatusOK, &book)
	if status == http.StatusNotFound {
		return inventory.Book{}, false, nil
	}
	if err != nil {
		return inventory.Book{}, true, err
	}
	return book, true, nil
}

func (c *InventoryClient) ReturnBook(ctx context.Context, isbn string) (inventory.Book, error) {
	var book inventory.Book
	if _, err := c.do(ctx, http.MethodPost, "/api/book/return/"+url.PathEscape(isbn), nil, http.StatusOK, &book); err != nil {
		return inventory.Book{}, err
	}
	return book, nil
}

// Seed asks the server to load its built-in catalog.
func (c *InventoryClient) Seed(ctx context.Context) (int, error) {
	var resp inventory.SeedResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/book/seed", nil, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return resp.Added, nil
}

// do sends the request and decodes a wantStatus response into out. Any
// other status with a JSON error body is mapped back onto the inventory
// sentinel errors. The status code is returned whenever a response arrived.
func (c *InventoryClient) do(ctx context.Context, method, path string, body []byte, wantStatus int, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return resp.StatusCode, decodeError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	var body inventory.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code == "" {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var sentinel error
	switch body.Code {
	case inventory.CodeAlreadyExists:
		sentinel = inventory.ErrAlreadyExists
	case inventory.CodeNotFound:
		sentinel = inventory.ErrNotFound
	case inventory.CodeNoCopiesRemaining:
		sentinel = inventory.ErrNoCopiesRemaining
	case inventory.CodeInvalidBook:
		sentinel = inventory.ErrInvalidBook
	case inventory.CodeConcurrencyConflict:
		sentinel = inventory.ErrConcurrencyConflict
	case inventory.CodeStoreUnavailable:
		sentinel = inventory.ErrStoreUnavailable
	default:
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, body.Error)
	}

	return fmt.Errorf("%w (status %d): %s", sentinel, resp.StatusCode, body.Error)
}
