// internal/store/breaker.go
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"libinventory/internal/inventory"
)

// BreakerSettings tunes the circuit breaker in front of a repository.
type BreakerSettings struct {
	Name        string
	MaxFailures uint32
	Timeout     time.Duration
	Logger      *slog.Logger
}

// BreakerStore guards a repository with a circuit breaker. Domain outcomes
// (missing rows, duplicates, version conflicts) do not count as failures.
type BreakerStore struct {
	next inventory.Repository
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps next with a breaker that opens after
// settings.MaxFailures consecutive infrastructure errors.
func NewBreakerStore(next inventory.Repository, settings BreakerSettings) *BreakerStore {
	if settings.Name == "" {
		settings.Name = "book-store"
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 5
	}

	st := gobreaker.Settings{
		Name:    settings.Name,
		Timeout: settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, inventory.ErrNotFound) ||
				errors.Is(err, inventory.ErrAlreadyExists) ||
				errors.Is(err, inventory.ErrConcurrencyConflict) ||
				errors.Is(err, context.Canceled)
		},
	}
	if settings.Logger != nil {
		logger := settings.Logger
		st.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
	}

	return &BreakerStore{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

// State reports the breaker state.
func (b *BreakerStore) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerStore) Get(ctx context.Context, isbn string) (inventory.Book, bool, error) {
	type result struct {
		book  inventory.Book
		found bool
	}
	v, err := b.cb.Execute(func() (interface{}, error) {
		book, found, err := b.next.Get(ctx, isbn)
		return result{book: book, found: found}, err
	})
	if err != nil {
		return inventory.Book{}, false, mapBreakerErr(err)
	}
	r := v.(result)
	return r.book, r.found, nil
}

func (b *BreakerStore) ListByAuthor(ctx context.Context, author string) ([]inventory.Book, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ListByAuthor(ctx, author)
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return v.([]inventory.Book), nil
}

func (b *BreakerStore) Insert(ctx context.Context, book inventory.Book) (inventory.Book, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Insert(ctx, book)
	})
	if err != nil {
		return inventory.Book{}, mapBreakerErr(err)
	}
	return v.(inventory.Book), nil
}

func (b *BreakerStore) Delete(ctx context.Context, isbn string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, isbn)
	})
	return mapBreakerErr(err)
}

func (b *BreakerStore) Update(ctx context.Context, book inventory.Book) (inventory.Book, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Update(ctx, book)
	})
	if err != nil {
		return inventory.Book{}, mapBreakerErr(err)
	}
	return v.(inventory.Book), nil
}

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", inventory.ErrStoreUnavailable, err)
	}
	return err
}
