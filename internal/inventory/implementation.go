// internal/inventory/implementation.go
package inventory

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "libinventory/inventory"

// service implements the Service interface.
type service struct {
	repo   Repository
	locks  *keyedMutex
	tracer trace.Tracer

	borrowed metric.Int64Counter
	returned metric.Int64Counter
	rejected metric.Int64Counter
}

// Option configures the service.
type Option func(*options)

type options struct {
	tracer trace.Tracer
	meter  metric.Meter
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// WithMeter overrides the meter taken from the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *options) { o.meter = meter }
}

// NewService creates a new inventory service backed by repo.
func NewService(repo Repository, opts ...Option) (Service, error) {
	o := options{
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &service{
		repo:   repo,
		locks:  newKeyedMutex(),
		tracer: o.tracer,
	}

	var err error
	if s.borrowed, err = o.meter.Int64Counter("inventory.books.borrowed",
		metric.WithDescription("Copies lent out by successful borrows")); err != nil {
		return nil, fmt.Errorf("failed to create borrowed counter: %w", err)
	}
	if s.returned, err = o.meter.Int64Counter("inventory.books.returned",
		metric.WithDescription("Copies brought back by returns")); err != nil {
		return nil, fmt.Errorf("failed to create returned counter: %w", err)
	}
	if s.rejected, err = o.meter.Int64Counter("inventory.borrow.rejected",
		metric.WithDescription("Borrows rejected because no copies were left")); err != nil {
		return nil, fmt.Errorf("failed to create rejected counter: %w", err)
	}

	return s, nil
}

// AddBook inserts a new book. Existing ISBNs are rejected, never overwritten.
func (s *service) AddBook(ctx context.Context, book Book) (Book, error) {
	ctx, span := s.startSpan(ctx, "inventory.add_book", book.ISBN)
	defer span.End()

	if strings.TrimSpace(book.ISBN) == "" {
		return Book{}, s.fail(span, fmt.Errorf("%w: isbn is required", ErrInvalidBook))
	}

	unlock := s.locks.Lock(book.ISBN)
	defer unlock()

	_, found, err := s.repo.Get(ctx, book.ISBN)
	if err != nil {
		return Book{}, s.fail(span, fmt.Errorf("failed to look up book %s: %w", book.ISBN, err))
	}
	if found {
		return Book{}, s.fail(span, fmt.Errorf("book %s: %w", book.ISBN, ErrAlreadyExists))
	}

	stored, err := s.repo.Insert(ctx, book)
	if err != nil {
		return Book{}, s.fail(span, fmt.Errorf("failed to insert book %s: %w", book.ISBN, err))
	}

	return stored, nil
}

// RemoveBook permanently deletes the book with the given ISBN.
func (s *service) RemoveBook(ctx context.Context, isbn string) error {
	ctx, span := s.startSpan(ctx, "inventory.remove_book", isbn)
	defer span.End()

	unlock := s.locks.Lock(isbn)
	defer unlock()

	_, found, err := s.repo.Get(ctx, isbn)
	if err != nil {
		return s.fail(span, fmt.Errorf("failed to look up book %s: %w", isbn, err))
	}
	if !found {
		return s.fail(span, fmt.Errorf("book %s: %w", isbn, ErrNotFound))
	}

	if err := s.repo.Delete(ctx, isbn); err != nil {
		return s.fail(span, fmt.Errorf("failed to delete book %s: %w", isbn, err))
	}

	return nil
}

// FindByISBN looks up a single book. A miss is not an error.
func (s *service) FindByISBN(ctx context.Context, isbn string) (Book, bool, error) {
	ctx, span := s.startSpan(ctx, "inventory.find_by_isbn", isbn)
	defer span.End()

	book, found, err := s.repo.Get(ctx, isbn)
	if err != nil {
		return Book{}, false, s.fail(span, fmt.Errorf("failed to look up book %s: %w", isbn, err))
	}

	span.SetAttributes(attribute.Bool("book.found", found))
	return book, found, nil
}

// FindByAuthor returns every book whose author matches exactly.
func (s *service) FindByAuthor(ctx context.Context, author string) ([]Book, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.find_by_author",
		trace.WithAttributes(attribute.String("book.author", author)),
	)
	defer span.End()

	books, err := s.repo.ListByAuthor(ctx, author)
	if err != nil {
		return nil, s.fail(span, fmt.Errorf("failed to list books by %q: %w", author, err))
	}
	if books == nil {
		books = []Book{}
	}

	span.SetAttributes(attribute.Int("books.count", len(books)))
	return books, nil
}

// BorrowBook lends out one copy. An unknown ISBN yields found == false
// rather than an error so callers can tell it apart from an empty shelf.
func (s *service) BorrowBook(ctx context.Context, isbn string) (Book, bool, error) {
	ctx, span := s.startSpan(ctx, "inventory.borrow_book", isbn)
	defer span.End()

	unlock := s.locks.Lock(isbn)
	defer unlock()

	book, found, err := s.repo.Get(ctx, isbn)
	if err != nil {
		return Book{}, false, s.fail(span, fmt.Errorf("failed to look up book %s: %w", isbn, err))
	}
	if !found {
		span.SetAttributes(attribute.Bool("book.found", false))
		return Book{}, false, nil
	}

	if book.CopiesAvailable-1 < 0 {
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("book.isbn", isbn)))
		return Book{}, true, s.fail(span, fmt.Errorf("book %s: %w", isbn, ErrNoCopiesRemaining))
	}

	book.CopiesAvailable--
	updated, err := s.repo.Update(ctx, book)
	if err != nil {
		return Book{}, true, s.fail(span, fmt.Errorf("failed to update book %s: %w", isbn, err))
	}

	s.borrowed.Add(ctx, 1, metric.WithAttributes(attribute.String("book.isbn", isbn)))
	span.SetAttributes(attribute.Int("book.copies_available", updated.CopiesAvailable))
	return updated, true, nil
}

// ReturnBook puts one copy back on the shelf. Returns are not checked
// against how many copies were lent; the count only stops at math.MaxInt.
func (s *service) ReturnBook(ctx context.Context, isbn string) (Book, error) {
	ctx, span := s.startSpan(ctx, "inventory.return_book", isbn)
	defer span.End()

	unlock := s.locks.Lock(isbn)
	defer unlock()

	book, found, err := s.repo.Get(ctx, isbn)
	if err != nil {
		return Book{}, s.fail(span, fmt.Errorf("failed to look up book %s: %w", isbn, err))
	}
	if !found {
		return Book{}, s.fail(span, fmt.Errorf("book %s: %w", isbn, ErrNotFound))
	}

	if book.CopiesAvailable == math.MaxInt {
		return Book{}, s.fail(span, fmt.Errorf("book %s is at the maximum copy count: %w", isbn, ErrInvalidBook))
	}

	book.CopiesAvailable++
	updated, err := s.repo.Update(ctx, book)
	if err != nil {
		return Book{}, s.fail(span, fmt.Errorf("failed to update book %s: %w", isbn, err))
	}

	s.returned.Add(ctx, 1, metric.WithAttributes(attribute.String("book.isbn", isbn)))
	span.SetAttributes(attribute.Int("book.copies_available", updated.CopiesAvailable))
	return updated, nil
}

func (s *service) startSpan(ctx context.Context, name, isbn string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("book.isbn", isbn)))
}

func (s *service) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
