// internal/inventory/domain.go
package inventory

import (
	"context"
)

// Book is a title held by the library. ISBN is the primary key.
type Book struct {
	ISBN            string `json:"isbn" db:"isbn" yaml:"isbn"`
	Title           string `json:"title" db:"title" yaml:"title"`
	Author          string `json:"author" db:"author" yaml:"author"`
	PublicationYear int    `json:"publicationYear" db:"publication_year" yaml:"publicationYear"`
	CopiesAvailable int    `json:"copiesAvailable" db:"copies_available" yaml:"copiesAvailable"`
	Version         int    `json:"version" db:"version" yaml:"-"`
}

// Repository is the keyed record store backing the inventory service.
//
// Update treats book.Version as the expected current version: the store
// persists the mutable fields, bumps the version and returns the stored
// record, or fails with ErrConcurrencyConflict when the version is stale.
type Repository interface {
	Get(ctx context.Context, isbn string) (Book, bool, error)
	ListByAuthor(ctx context.Context, author string) ([]Book, error)
	Insert(ctx context.Context, book Book) (Book, error)
	Delete(ctx context.Context, isbn string) error
	Update(ctx context.Context, book Book) (Book, error)
}
