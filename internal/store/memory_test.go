// internal/store/memory_test.go
package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libinventory/internal/inventory"
)

func testBook(isbn, author string, copies int) inventory.Book {
	return inventory.Book{
		ISBN:            isbn,
		Title:           "Title " + isbn,
		Author:          author,
		PublicationYear: 2021,
		CopiesAvailable: copies,
	}
}

// repositoryContract exercises the behavior every inventory.Repository
// implementation must share.
func repositoryContract(t *testing.T, newRepo func(t *testing.T) inventory.Repository) {
	ctx := context.Background()

	t.Run("insert then get", func(t *testing.T) {
		repo := newRepo(t)

		stored, err := repo.Insert(ctx, testBook("111", "A", 3))
		require.NoError(t, err)
		assert.Equal(t, 1, stored.Version)

		got, found, err := repo.Get(ctx, "111")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, stored, got)
	})

	t.Run("get missing", func(t *testing.T) {
		repo := newRepo(t)

		_, found, err := repo.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("duplicate insert", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Insert(ctx, testBook("111", "A", 3))
		require.NoError(t, err)
		_, err = repo.Insert(ctx, testBook("111", "B", 1))
		assert.ErrorIs(t, err, inventory.ErrAlreadyExists)

		got, _, err := repo.Get(ctx, "111")
		require.NoError(t, err)
		assert.Equal(t, "A", got.Author)
	})

	t.Run("list by author", func(t *testing.T) {
		repo := newRepo(t)

		for _, b := range []inventory.Book{
			testBook("333", "Alex Xu", 1),
			testBook("111", "Alex Xu", 2),
			testBook("222", "Someone", 3),
		} {
			_, err := repo.Insert(ctx, b)
			require.NoError(t, err)
		}

		books, err := repo.ListByAuthor(ctx, "Alex Xu")
		require.NoError(t, err)
		require.Len(t, books, 2)
		assert.Equal(t, "111", books[0].ISBN)
		assert.Equal(t, "333", books[1].ISBN)

		books, err = repo.ListByAuthor(ctx, "alex xu")
		require.NoError(t, err)
		assert.NotNil(t, books)
		assert.Empty(t, books)
	})

	t.Run("delete", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Insert(ctx, testBook("111", "A", 3))
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, "111"))
		_, found, err := repo.Get(ctx, "111")
		require.NoError(t, err)
		assert.False(t, found)

		assert.ErrorIs(t, repo.Delete(ctx, "111"), inventory.ErrNotFound)
	})

	t.Run("update bumps version", func(t *testing.T) {
		repo := newRepo(t)

		stored, err := repo.Insert(ctx, testBook("111", "A", 3))
		require.NoError(t, err)

		stored.CopiesAvailable = 2
		updated, err := repo.Update(ctx, stored)
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, 2, updated.CopiesAvailable)

		got, _, err := repo.Get(ctx, "111")
		require.NoError(t, err)
		assert.Equal(t, updated, got)
	})

	t.Run("stale update conflicts", func(t *testing.T) {
		repo := newRepo(t)

		stale, err := repo.Insert(ctx, testBook("111", "A", 3))
		require.NoError(t, err)

		fresh := stale
		fresh.CopiesAvailable = 2
		_, err = repo.Update(ctx, fresh)
		require.NoError(t, err)

		stale.CopiesAvailable = 0
		_, err = repo.Update(ctx, stale)
		assert.ErrorIs(t, err, inventory.ErrConcurrencyConflict)

		got, _, err := repo.Get(ctx, "111")
		require.NoError(t, err)
		assert.Equal(t, 2, got.CopiesAvailable)
		assert.Equal(t, 2, got.Version)
	})

	t.Run("update missing", func(t *testing.T) {
		repo := newRepo(t)

		_, err := repo.Update(ctx, inventory.Book{ISBN: "missing", Version: 1})
		assert.ErrorIs(t, err, inventory.ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	repositoryContract(t, func(*testing.T) inventory.Repository {
		return NewMemoryStore()
	})
}

func TestMemoryStore_SeedStartsAtVersionOne(t *testing.T) {
	b := testBook("111", "A", 3)
	b.Version = 42

	got, found, err := NewMemoryStore(b).Get(context.Background(), "111")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, got.Version)
}
