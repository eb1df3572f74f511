package resource

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestHandleTeardownRunsOnce(t *testing.T) {
	closes := 0
	h := New("db", "test", nil, func() error { closes++; return nil })

	require.NoError(t, h.Retain())
	require.NoError(t, h.Retain())
	assert.Equal(t, int64(3), h.Refs())

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	assert.Equal(t, 0, closes)
	assert.False(t, h.Closed())

	require.NoError(t, h.Release())
	assert.Equal(t, 1, closes)
	assert.True(t, h.Closed())

	err := h.Release()
	assert.True(t, errors.Is(err, ErrReleased))
	assert.True(t, errors.Is(h.Retain(), ErrReleased))
	assert.Equal(t, 1, closes)
}

func TestHandleConcurrentRelease(t *testing.T) {
	var mu sync.Mutex
	closes := 0
	h := New("db", "test", nil, func() error {
		mu.Lock()
		closes++
		mu.Unlock()
		return nil
	})
	const n = 50
	for i := 0; i < n; i++ {
		require.NoError(t, h.Retain())
	}
	var wg sync.WaitGroup
	for i := 0; i < n+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.Release()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, closes)
}

func TestHandleTeardownErrorIsReturned(t *testing.T) {
	boom := errors.New("boom")
	h := New("db", "test", nil, func() error { return boom })
	assert.ErrorIs(t, h.Release(), boom)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	h, err := OpenSQL(ctx, "mem", "sqlite", ":memory:")
	require.NoError(t, err)
	defer h.Release()

	db := h.Value().(*SQL)
	_, err = db.Exec(ctx, "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT, score REAL)")
	require.NoError(t, err)

	require.NoError(t, db.Begin(ctx))
	res, err := db.Exec(ctx, "INSERT INTO people (name, score) VALUES (?, ?)", "ada", 9.5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	require.NoError(t, db.Commit())

	require.NoError(t, db.Begin(ctx))
	_, err = db.Exec(ctx, "INSERT INTO people (name, score) VALUES (?, ?)", "bob", 1.0)
	require.NoError(t, err)
	require.NoError(t, db.Rollback())

	rows, cols, err := db.Query(ctx, "SELECT id, name, score FROM people ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "score"}, cols)
	require.Len(t, rows, 1)
	assert.Equal(t, "ada", rows[0]["name"])
	assert.Equal(t, int64(1), rows[0]["id"])
	assert.Equal(t, 9.5, rows[0]["score"])

	assert.Error(t, db.Commit())
}

func TestOpenSQLUnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), "x", "oracle", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown sql driver "oracle"`)
}
