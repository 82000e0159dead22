// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"libinventory/internal/inventory"
)

// RegisterExperiments registers the inventory experiments against target.
// Each experiment works on its own isbn so they can share a store.
func (e *Engine) RegisterExperiments(target inventory.Service, isbnPrefix string, copies, borrowers int) {
	e.Register(ConcurrentBorrowRace(target, isbnPrefix+"-race", copies, borrowers))
	e.Register(ReturnStorm(target, isbnPrefix+"-storm", copies, borrowers))
}

// ConcurrentBorrowRace fires borrowers concurrent borrows at a book with
// copies copies. Exactly min(copies, borrowers) of them may succeed.
func ConcurrentBorrowRace(target inventory.Service, isbn string, copies, borrowers int) Experiment {
	var succeeded, rejected atomic.Int64
	expected := min(copies, borrowers)

	return Experiment{
		Name:       "concurrent-borrow-race",
		Hypothesis: "Concurrent borrows never hand out more copies than are available",
		Setup: []Action{
			resetBook(target, isbn, copies, func() {
				succeeded.Store(0)
				rejected.Store(0)
			}),
		},
		SteadyState: []Probe{
			{
				Name:      "copies_available",
				Query:     copiesAvailable(target, isbn),
				Threshold: Threshold{Operator: ">=", Value: 0},
			},
			{
				Name: "copies_conserved",
				Query: func(ctx context.Context) (float64, error) {
					available, err := copiesAvailable(target, isbn)(ctx)
					if err != nil {
						return 0, err
					}
					return available + float64(succeeded.Load()), nil
				},
				Threshold: Threshold{Operator: "==", Value: float64(copies)},
			},
		},
		Method: []Action{
			{
				Type:   "concurrent-borrow",
				Target: isbn,
				Execute: func(ctx context.Context) error {
					return fanOut(borrowers, func() error {
						_, found, err := target.BorrowBook(ctx, isbn)
						switch {
						case errors.Is(err, inventory.ErrNoCopiesRemaining):
							rejected.Add(1)
							return nil
						case err != nil:
							return err
						case !found:
							return fmt.Errorf("book %s vanished during borrow", isbn)
						}
						succeeded.Add(1)
						return nil
					})
				},
			},
		},
		Rollback: []Action{removeBook(target, isbn)},
		Validation: []Assertion{
			{
				Probe:     "copies_available",
				Condition: func(v float64) bool { return v == float64(copies-expected) },
				Message:   fmt.Sprintf("%d copies should remain after the race", copies-expected),
			},
			{
				Probe:     "copies_conserved",
				Condition: func(v float64) bool { return v == float64(copies) },
				Message:   "remaining plus borrowed copies should equal the stocked copies",
			},
		},
	}
}

// ReturnStorm borrows every copy of a book, then returns them all while
// other workers borrow and return concurrently. Every copy must be back.
func ReturnStorm(target inventory.Service, isbn string, copies, workers int) Experiment {
	return Experiment{
		Name:       "return-storm",
		Hypothesis: "Interleaved borrows and returns leave the stock where it started",
		Setup: []Action{
			resetBook(target, isbn, copies, nil),
			{
				Type:   "borrow-all",
				Target: isbn,
				Execute: func(ctx context.Context) error {
					for range copies {
						if _, _, err := target.BorrowBook(ctx, isbn); err != nil {
							return err
						}
					}
					return nil
				},
			},
		},
		SteadyState: []Probe{
			{
				Name:      "copies_available",
				Query:     copiesAvailable(target, isbn),
				Threshold: Threshold{Operator: ">=", Value: 0},
			},
		},
		Method: []Action{
			{
				Type:   "return-storm",
				Target: isbn,
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					var returnsErr, churnErr error

					wg.Add(2)
					go func() {
						defer wg.Done()
						returnsErr = fanOut(copies, func() error {
							_, err := target.ReturnBook(ctx, isbn)
							return err
						})
					}()
					go func() {
						defer wg.Done()
						churnErr = fanOut(workers, func() error {
							_, found, err := target.BorrowBook(ctx, isbn)
							if errors.Is(err, inventory.ErrNoCopiesRemaining) || (err == nil && !found) {
								return nil
							}
							if err != nil {
								return err
							}
							_, err = target.ReturnBook(ctx, isbn)
							return err
						})
					}()
					wg.Wait()

					return errors.Join(returnsErr, churnErr)
				},
			},
		},
		Rollback: []Action{removeBook(target, isbn)},
		Validation: []Assertion{
			{
				Probe:     "copies_available",
				Condition: func(v float64) bool { return v == float64(copies) },
				Message:   fmt.Sprintf("all %d copies should be back on the shelf", copies),
			},
		},
	}
}

func copiesAvailable(target inventory.Service, isbn string) func(context.Context) (float64, error) {
	return func(ctx context.Context) (float64, error) {
		book, found, err := target.FindByISBN(ctx, isbn)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("book %s: %w", isbn, inventory.ErrNotFound)
		}
		return float64(book.CopiesAvailable), nil
	}
}

func resetBook(target inventory.Service, isbn string, copies int, reset func()) Action {
	return Action{
		Type:   "stock-book",
		Target: isbn,
		Execute: func(ctx context.Context) error {
			if reset != nil {
				reset()
			}
			if err := target.RemoveBook(ctx, isbn); err != nil && !errors.Is(err, inventory.ErrNotFound) {
				return err
			}
			_, err := target.AddBook(ctx, inventory.Book{
				ISBN:            isbn,
				Title:           "Chaos Engineering",
				Author:          "Game Day",
				PublicationYear: time.Now().Year(),
				CopiesAvailable: copies,
			})
			return err
		},
	}
}

func removeBook(target inventory.Service, isbn string) Action {
	return Action{
		Type:   "remove-book",
		Target: isbn,
		Execute: func(ctx context.Context) error {
			if err := target.RemoveBook(ctx, isbn); err != nil && !errors.Is(err, inventory.ErrNotFound) {
				return err
			}
			return nil
		},
	}
}

// fanOut runs fn n times concurrently, released together, and joins the errors.
func fanOut(n int, fn func() error) error {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		errs  []error
		start = make(chan struct{})
	)

	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if err := fn(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}

	close(start)
	wg.Wait()
	return errors.Join(errs...)
}
