// internal/inventory/seed.go
package inventory

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

//go:embed seed_books.yaml
var defaultSeed []byte

// DefaultSeed returns the built-in demo catalog.
func DefaultSeed() ([]Book, error) {
	return LoadSeed(bytes.NewReader(defaultSeed))
}

// LoadSeed parses a YAML list of books.
func LoadSeed(r io.Reader) ([]Book, error) {
	var books []Book
	if err := yaml.NewDecoder(r).Decode(&books); err != nil {
		if errors.Is(err, io.EOF) {
			return []Book{}, nil
		}
		return nil, fmt.Errorf("failed to decode seed books: %w", err)
	}
	return books, nil
}

// Seed adds each book to svc, skipping ISBNs that are already present.
// It returns how many books were added.
func Seed(ctx context.Context, svc Service, books []Book) (int, error) {
	added := 0
	for _, book := range books {
		if _, err := svc.AddBook(ctx, book); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				continue
			}
			return added, fmt.Errorf("failed to seed book %s: %w", book.ISBN, err)
		}
		added++
	}
	return added, nil
}
