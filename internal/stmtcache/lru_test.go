package stmtcache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/fakedriver"
	"github.com/yuku/connpool/internal/stmtcache"
)

type lookups struct{ hits, misses int }

func (l *lookups) observe(hit bool) {
	if hit {
		l.hits++
	} else {
		l.misses++
	}
}

func TestLRU_Prepare(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("returns the cached statement on a second prepare", func(t *testing.T) {
		// Given
		var l lookups
		cache, err := stmtcache.NewLRU(4, l.observe)
		require.NoError(t, err)
		session := fakedriver.NewSession()

		// When
		first, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 1"))
		require.NoError(t, err)
		second, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 1"))
		require.NoError(t, err)

		// Then
		assert.Same(t, first, second)
		assert.Equal(t, 1, session.Prepared(), "only the miss should reach the session")
		assert.Equal(t, lookups{hits: 1, misses: 1}, l)
		assert.Equal(t, 1, cache.Len())
	})

	t.Run("evicts and closes the least recently used statement", func(t *testing.T) {
		// Given
		cache, err := stmtcache.NewLRU(2, nil)
		require.NoError(t, err)
		session := fakedriver.NewSession()

		a, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'a'"))
		require.NoError(t, err)
		b, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'b'"))
		require.NoError(t, err)
		// Touch a so that b becomes the eldest.
		_, err = cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'a'"))
		require.NoError(t, err)

		// When
		c, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'c'"))
		require.NoError(t, err)

		// Then
		assert.Equal(t, 2, cache.Len())
		assert.True(t, cache.Contains(a))
		assert.True(t, cache.Contains(c))
		assert.False(t, cache.Contains(b), "b should have been evicted")
		assert.Equal(t, 1, b.(*fakedriver.Stmt).Closes(), "evicted statement should be closed")
		assert.Zero(t, a.(*fakedriver.Stmt).Closes())
	})

	t.Run("does not cache failed prepares", func(t *testing.T) {
		// Given
		cache, err := stmtcache.NewLRU(2, nil)
		require.NoError(t, err)
		session := fakedriver.NewSession()
		session.PrepareErr = errors.New("syntax error")

		// When
		stmt, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELEC 1"))

		// Then
		assert.Error(t, err)
		assert.Nil(t, stmt)
		assert.Zero(t, cache.Len())
	})
}

func TestLRU_Pin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("evicted statement stays open until its last unpin", func(t *testing.T) {
		t.Parallel()

		// Given: a pinned twice and pushed out by b
		cache, err := stmtcache.NewLRU(1, nil)
		require.NoError(t, err)
		session := fakedriver.NewSession()
		a, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'a'"))
		require.NoError(t, err)
		cache.Pin(a)
		cache.Pin(a)
		_, err = cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'b'"))
		require.NoError(t, err)
		require.False(t, cache.Contains(a))
		require.Zero(t, a.(*fakedriver.Stmt).Closes())

		// When
		require.NoError(t, cache.Unpin(ctx, a))
		assert.Zero(t, a.(*fakedriver.Stmt).Closes(), "still pinned once")
		require.NoError(t, cache.Unpin(ctx, a))
		require.NoError(t, cache.Unpin(ctx, a))

		// Then
		assert.Equal(t, 1, a.(*fakedriver.Stmt).Closes())
	})

	t.Run("unpinning a cached statement keeps it open", func(t *testing.T) {
		t.Parallel()

		// Given
		cache, err := stmtcache.NewLRU(2, nil)
		require.NoError(t, err)
		stmt, err := cache.Prepare(ctx, fakedriver.NewSession(), driver.NewPrepareRequest("SELECT 1"))
		require.NoError(t, err)
		cache.Pin(stmt)

		// When
		require.NoError(t, cache.Unpin(ctx, stmt))

		// Then
		assert.True(t, cache.Contains(stmt))
		assert.Zero(t, stmt.(*fakedriver.Stmt).Closes())
	})

	t.Run("close reaches pinned statements once", func(t *testing.T) {
		t.Parallel()

		// Given: one pinned statement cached, one pinned and evicted
		cache, err := stmtcache.NewLRU(1, nil)
		require.NoError(t, err)
		session := fakedriver.NewSession()
		a, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'a'"))
		require.NoError(t, err)
		cache.Pin(a)
		b, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 'b'"))
		require.NoError(t, err)
		cache.Pin(b)

		// When
		require.NoError(t, cache.Close(ctx))
		require.NoError(t, cache.Unpin(ctx, a))
		require.NoError(t, cache.Unpin(ctx, b))

		// Then
		assert.Equal(t, 1, a.(*fakedriver.Stmt).Closes())
		assert.Equal(t, 1, b.(*fakedriver.Stmt).Closes())
	})
}

func TestLRU_Remove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Given
	cache, err := stmtcache.NewLRU(2, nil)
	require.NoError(t, err)
	session := fakedriver.NewSession()
	stmt, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 1"))
	require.NoError(t, err)

	// When
	removed := cache.Remove(stmt)

	// Then
	assert.True(t, removed)
	assert.False(t, cache.Contains(stmt))
	assert.Zero(t, stmt.(*fakedriver.Stmt).Closes(), "Remove must not close the statement")
	assert.False(t, cache.Remove(stmt), "second Remove should report nothing removed")

	t.Run("next prepare misses", func(t *testing.T) {
		again, err := cache.Prepare(ctx, session, driver.NewPrepareRequest("SELECT 1"))
		require.NoError(t, err)
		assert.NotSame(t, stmt, again)
	})
}

func TestLRU_Close(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Given
	cache, err := stmtcache.NewLRU(3, nil)
	require.NoError(t, err)
	session := fakedriver.NewSession()
	var stmts []*fakedriver.Stmt
	for _, sql := range []string{"SELECT 1", "SELECT 2", "SELECT 3"} {
		stmt, err := cache.Prepare(ctx, session, driver.NewPrepareRequest(sql))
		require.NoError(t, err)
		stmts = append(stmts, stmt.(*fakedriver.Stmt))
	}
	stmts[0].CloseErr = errors.New("first")
	stmts[2].CloseErr = errors.New("third")

	// When
	err = cache.Close(ctx)

	// Then
	require.Error(t, err)
	assert.ErrorContains(t, err, "first")
	assert.ErrorContains(t, err, "third")
	assert.Zero(t, cache.Len())
	for i, stmt := range stmts {
		assert.Equal(t, 1, stmt.Closes(), "statement %d should be closed once", i)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("zero capacity returns a pass-through cache", func(t *testing.T) {
		// Given
		cache, err := stmtcache.New(0, nil)
		require.NoError(t, err)
		session := fakedriver.NewSession()

		// When
		a, err := cache.Prepare(context.Background(), session, driver.NewPrepareRequest("SELECT 1"))
		require.NoError(t, err)
		b, err := cache.Prepare(context.Background(), session, driver.NewPrepareRequest("SELECT 1"))
		require.NoError(t, err)

		// Then
		assert.NotSame(t, a, b)
		assert.Equal(t, 2, session.Prepared())
		assert.False(t, cache.Contains(a))
		assert.Zero(t, cache.Cap())

		cache.Pin(a)
		require.NoError(t, cache.Unpin(context.Background(), a))
		assert.Equal(t, 1, a.(*fakedriver.Stmt).Closes(), "unpin closes uncached statements")
	})

	t.Run("positive capacity returns an LRU", func(t *testing.T) {
		cache, err := stmtcache.New(8, nil)
		require.NoError(t, err)
		assert.IsType(t, &stmtcache.LRU{}, cache)
		assert.Equal(t, 8, cache.Cap())
	})

	t.Run("negative capacity is rejected", func(t *testing.T) {
		_, err := stmtcache.New(-1, nil)
		assert.Error(t, err)
	})
}
