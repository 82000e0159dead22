// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"libinventory/internal/inventory"
)

// MemoryStore provides an in-memory implementation of inventory.Repository.
type MemoryStore struct {
	mu    sync.RWMutex
	books map[string]inventory.Book
}

// NewMemoryStore constructs a MemoryStore seeded with the provided books.
// Seeded books start at version 1.
func NewMemoryStore(seed ...inventory.Book) *MemoryStore {
	s := &MemoryStore{books: make(map[string]inventory.Book, len(seed))}
	for _, book := range seed {
		book.Version = 1
		s.books[book.ISBN] = book
	}
	return s
}

// Get retrieves a book by its ISBN.
func (s *MemoryStore) Get(_ context.Context, isbn string) (inventory.Book, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[isbn]
	return book, ok, nil
}

// ListByAuthor returns the books by author in ascending ISBN order.
func (s *MemoryStore) ListByAuthor(_ context.Context, author string) ([]inventory.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]inventory.Book, 0)
	for _, book := range s.books {
		if book.Author == author {
			result = append(result, book)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ISBN < result[j].ISBN
	})

	return result, nil
}

// Insert stores a new book at version 1.
func (s *MemoryStore) Insert(_ context.Context, book inventory.Book) (inventory.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[book.ISBN]; ok {
		return inventory.Book{}, fmt.Errorf("insert %s: %w", book.ISBN, inventory.ErrAlreadyExists)
	}

	book.Version = 1
	s.books[book.ISBN] = book
	return book, nil
}

// Delete removes the book with the given ISBN.
func (s *MemoryStore) Delete(_ context.Context, isbn string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.books[isbn]; !ok {
		return fmt.Errorf("delete %s: %w", isbn, inventory.ErrNotFound)
	}

	delete(s.books, isbn)
	return nil
}

// Update replaces the stored book if its version still matches book.Version.
func (s *MemoryStore) Update(_ context.Context, book inventory.Book) (inventory.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.books[book.ISBN]
	if !ok {
		return inventory.Book{}, fmt.Errorf("update %s: %w", book.ISBN, inventory.ErrNotFound)
	}
	if current.Version != book.Version {
		return inventory.Book{}, fmt.Errorf("update %s at version %d (stored %d): %w",
			book.ISBN, book.Version, current.Version, inventory.ErrConcurrencyConflict)
	}

	book.Version = current.Version + 1
	s.books[book.ISBN] = book
	return book, nil
}
