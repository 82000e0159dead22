// internal/store/sql.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"libinventory/internal/inventory"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite3"

	tableBooks         = "books"
	colISBN            = "isbn"
	colTitle           = "title"
	colAuthor          = "author"
	colPublicationYear = "publication_year"
	colCopiesAvailable = "copies_available"
	colVersion         = "version"

	pqUniqueViolation = "23505"
)

var bookColumns = []any{colISBN, colTitle, colAuthor, colPublicationYear, colCopiesAvailable, colVersion}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		isbn TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL DEFAULT '',
		publication_year INTEGER NOT NULL DEFAULT 0,
		copies_available INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS books_author_idx ON books (author)`,
}

// SQLStore persists books in a relational database through sqlx, with
// queries built by goqu for the configured dialect.
type SQLStore struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
	system  string
	tracer  trace.Tracer
}

// OpenSQL opens and pings a database for the given driver
// (DriverPostgres or DriverSQLite) and wraps it in a SQLStore.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var dialect string
	switch driver {
	case DriverPostgres:
		dialect = dialectPostgres
	case DriverSQLite:
		dialect = dialectSQLite
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == DriverSQLite {
		// sqlite allows a single writer; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(time.Hour)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewSQLStore(db, dialect), nil
}

// NewSQLStore wraps an open connection. dialect is a goqu dialect name.
func NewSQLStore(db *sqlx.DB, dialect string) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: goqu.Dialect(dialect),
		system:  dialect,
		tracer:  otel.Tracer("libinventory/store"),
	}
}

// EnsureSchema creates the books table and its author index if missing.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Get retrieves a book by its ISBN.
func (s *SQLStore) Get(ctx context.Context, isbn string) (inventory.Book, bool, error) {
	ctx, span := s.startSpan(ctx, "store.get", isbn)
	defer span.End()

	query, args, err := s.dialect.From(tableBooks).Prepared(true).
		Select(bookColumns...).
		Where(goqu.C(colISBN).Eq(isbn)).
		ToSQL()
	if err != nil {
		return inventory.Book{}, false, fail(span, fmt.Errorf("build select query: %w", err))
	}

	var book inventory.Book
	if err := s.db.GetContext(ctx, &book, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return inventory.Book{}, false, nil
		}
		return inventory.Book{}, false, fail(span, fmt.Errorf("query book %s: %w", isbn, err))
	}

	return book, true, nil
}

// ListByAuthor returns the books by author in ascending ISBN order.
func (s *SQLStore) ListByAuthor(ctx context.Context, author string) ([]inventory.Book, error) {
	ctx, span := s.tracer.Start(ctx, "store.list_by_author",
		trace.WithAttributes(
			attribute.String("db.system", s.system),
			attribute.String("book.author", author),
		),
	)
	defer span.End()

	query, args, err := s.dialect.From(tableBooks).Prepared(true).
		Select(bookColumns...).
		Where(goqu.C(colAuthor).Eq(author)).
		Order(goqu.I(colISBN).Asc()).
		ToSQL()
	if err != nil {
		return nil, fail(span, fmt.Errorf("build select query: %w", err))
	}

	books := make([]inventory.Book, 0)
	if err := s.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fail(span, fmt.Errorf("query books by author: %w", err))
	}

	span.SetAttributes(attribute.Int("books.loaded", len(books)))
	return books, nil
}

// Insert stores a new book at version 1.
func (s *SQLStore) Insert(ctx context.Context, book inventory.Book) (inventory.Book, error) {
	ctx, span := s.startSpan(ctx, "store.insert", book.ISBN)
	defer span.End()

	book.Version = 1
	query, args, err := s.dialect.Insert(tableBooks).Prepared(true).
		Rows(goqu.Record{
			colISBN:            book.ISBN,
			colTitle:           book.Title,
			colAuthor:          book.Author,
			colPublicationYear: book.PublicationYear,
			colCopiesAvailable: book.CopiesAvailable,
			colVersion:         book.Version,
		}).
		ToSQL()
	if err != nil {
		return inventory.Book{}, fail(span, fmt.Errorf("build insert query: %w", err))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return inventory.Book{}, fail(span, fmt.Errorf("insert %s: %w", book.ISBN, inventory.ErrAlreadyExists))
		}
		return inventory.Book{}, fail(span, fmt.Errorf("insert %s: %w", book.ISBN, err))
	}

	return book, nil
}

// Delete removes the book with the given ISBN.
func (s *SQLStore) Delete(ctx context.Context, isbn string) error {
	ctx, span := s.startSpan(ctx, "store.delete", isbn)
	defer span.End()

	query, args, err := s.dialect.Delete(tableBooks).Prepared(true).
		Where(goqu.C(colISBN).Eq(isbn)).
		ToSQL()
	if err != nil {
		return fail(span, fmt.Errorf("build delete query: %w", err))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fail(span, fmt.Errorf("delete %s: %w", isbn, err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fail(span, fmt.Errorf("rows affected: %w", err))
	}
	if affected == 0 {
		return fail(span, fmt.Errorf("delete %s: %w", isbn, inventory.ErrNotFound))
	}

	return nil
}

// Update persists the mutable fields of book when the stored version still
// equals book.Version, and bumps the version.
func (s *SQLStore) Update(ctx context.Context, book inventory.Book) (inventory.Book, error) {
	ctx, span := s.startSpan(ctx, "store.update", book.ISBN)
	defer span.End()

	span.SetAttributes(attribute.Int("expected.version", book.Version))

	query, args, err := s.dialect.Update(tableBooks).Prepared(true).
		Set(goqu.Record{
			colTitle:           book.Title,
			colAuthor:          book.Author,
			colPublicationYear: book.PublicationYear,
			colCopiesAvailable: book.CopiesAvailable,
			colVersion:         book.Version + 1,
		}).
		Where(
			goqu.C(colISBN).Eq(book.ISBN),
			goqu.C(colVersion).Eq(book.Version),
		).
		ToSQL()
	if err != nil {
		return inventory.Book{}, fail(span, fmt.Errorf("build update query: %w", err))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return inventory.Book{}, fail(span, fmt.Errorf("update %s: %w", book.ISBN, err))
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return inventory.Book{}, fail(span, fmt.Errorf("rows affected: %w", err))
	}

	if affected == 0 {
		// Either the row is gone or somebody else committed first.
		_, found, getErr := s.Get(ctx, book.ISBN)
		if getErr != nil {
			return inventory.Book{}, fail(span, getErr)
		}
		if !found {
			return inventory.Book{}, fail(span, fmt.Errorf("update %s: %w", book.ISBN, inventory.ErrNotFound))
		}
		span.SetAttributes(attribute.Bool("conflict.detected", true))
		return inventory.Book{}, fail(span, fmt.Errorf("update %s at version %d: %w",
			book.ISBN, book.Version, inventory.ErrConcurrencyConflict))
	}

	book.Version++
	return book, nil
}

func (s *SQLStore) startSpan(ctx context.Context, name, isbn string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithAttributes(
			attribute.String("db.system", s.system),
			attribute.String("book.isbn", isbn),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}

	return false
}
