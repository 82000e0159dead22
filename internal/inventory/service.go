// internal/inventory/service.go
package inventory

import (
	"context"
)

// Service defines the interface for the inventory service.
type Service interface {
	AddBook(ctx context.Context, book Book) (Book, error)
	RemoveBook(ctx context.Context, isbn string) error
	FindByISBN(ctx context.Context, isbn string) (Book, bool, error)
	FindByAuthor(ctx context.Context, author string) ([]Book, error)
	BorrowBook(ctx context.Context, isbn string) (Book, bool, error)
	ReturnBook(ctx context.Context, isbn string) (Book, error)
}
