package pgxsession_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yuku/connpool"
	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal"
	"github.com/yuku/connpool/pgxsession"
)

func newPool(t *testing.T) *connpool.Pool {
	t.Helper()
	p, err := connpool.New(context.Background(), connpool.Config{
		Name:               "test-" + uuid.NewString()[:8],
		Connector:          pgxsession.NewConnector(internal.ConnConfigOrSkip(t)),
		CorePoolSize:       1,
		MaxPoolSize:        1,
		ValidationTimeout:  5 * time.Second,
		StatementCacheSize: 8,
		Logger:             zaptest.NewLogger(t),
	})
	require.NoError(t, err, "failed to create pool")
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestSession_ResetsProperties(t *testing.T) {
	t.Parallel()

	// Given
	p := newPool(t)
	ctx := context.Background()
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	defaultSchema, err := c.Schema(ctx)
	require.NoError(t, err)

	// When
	require.NoError(t, c.SetSchema(ctx, "pg_catalog"))
	require.NoError(t, c.SetIsolation(ctx, driver.IsolationSerializable))
	require.NoError(t, c.SetReadOnly(ctx, true))
	require.NoError(t, c.SetNetworkTimeout(ctx, 1500*time.Millisecond))
	timeout, err := c.NetworkTimeout(ctx)
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, timeout)
	require.NoError(t, c.Release(ctx))

	// Then
	c, err = p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Close()
	schema, err := c.Schema(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSchema, schema)
	isolation, err := c.Isolation(ctx)
	require.NoError(t, err)
	assert.Equal(t, driver.IsolationReadCommitted, isolation)
	readOnly, err := c.ReadOnly(ctx)
	require.NoError(t, err)
	assert.False(t, readOnly)
}

func TestSession_AutoCommitOff(t *testing.T) {
	t.Parallel()

	// Given
	p := newPool(t)
	ctx := context.Background()
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Close()
	table := fmt.Sprintf("items_%s", uuid.NewString()[:8])
	create, err := c.Prepare(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (id serial PRIMARY KEY, name text)", table))
	require.NoError(t, err)
	_, err = create.Exec(ctx)
	require.NoError(t, err)

	// When
	require.NoError(t, c.SetAutoCommit(ctx, false))
	insert, err := c.Prepare(ctx, fmt.Sprintf("INSERT INTO %s (name) VALUES ($1)", table))
	require.NoError(t, err)
	_, err = insert.Exec(ctx, "rolled back")
	require.NoError(t, err)
	require.NoError(t, c.Rollback(ctx))
	_, err = insert.Exec(ctx, "committed")
	require.NoError(t, err)
	require.NoError(t, c.Commit(ctx))

	// Then
	count, err := c.Prepare(ctx, fmt.Sprintf("SELECT count(*) FROM %s", table))
	require.NoError(t, err)
	rows, err := count.Query(ctx)
	require.NoError(t, err)
	require.True(t, rows.Next())
	var n int64
	require.NoError(t, rows.Scan(&n))
	require.NoError(t, rows.Close())
	assert.Equal(t, int64(1), n)
}

func TestSession_GeneratedKeys(t *testing.T) {
	t.Parallel()

	p := newPool(t)
	ctx := context.Background()
	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	defer c.Close()
	table := fmt.Sprintf("keys_%s", uuid.NewString()[:8])
	create, err := c.Prepare(ctx, fmt.Sprintf("CREATE TEMP TABLE %s (id serial PRIMARY KEY, name text)", table))
	require.NoError(t, err)
	_, err = create.Exec(ctx)
	require.NoError(t, err)

	insert, err := c.PrepareRequest(ctx,
		driver.NewPrepareRequest(fmt.Sprintf("INSERT INTO %s (name) VALUES ($1)", table)).WithColumnNames("id"))
	require.NoError(t, err)
	rows, err := insert.Query(ctx, "first")
	require.NoError(t, err)
	require.True(t, rows.Next())
	var id int32
	require.NoError(t, rows.Scan(&id))
	require.NoError(t, rows.Close())

	assert.Equal(t, int32(1), id)
}

func TestSession_StatementCacheSurvivesRelease(t *testing.T) {
	t.Parallel()

	p := newPool(t)
	ctx := context.Background()

	var names []string
	for range 2 {
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		st, err := c.Prepare(ctx, "SELECT $1::int + 1")
		require.NoError(t, err)
		rows, err := st.Query(ctx, 41)
		require.NoError(t, err)
		require.True(t, rows.Next())
		var v int
		require.NoError(t, rows.Scan(&v))
		require.NoError(t, rows.Close())
		require.Equal(t, 42, v)

		var name string
		err = c.Session().(*pgxsession.Session).Conn().
			QueryRow(ctx, "SELECT string_agg(name, ',') FROM pg_prepared_statements WHERE name LIKE 'connpool_%'").
			Scan(&name)
		require.NoError(t, err)
		names = append(names, name)
		require.NoError(t, c.Release(ctx))
	}

	assert.Equal(t, names[0], names[1], "the cached statement is reused")
}

func TestEvictionNotifier_Listen(t *testing.T) {
	t.Parallel()

	// Given
	config := internal.ConnConfigOrSkip(t)
	p := newPool(t)
	channel := "connpool_test_" + uuid.NewString()[:8]
	n := pgxsession.NewEvictionNotifier(config, channel, zaptest.NewLogger(t))
	require.NoError(t, n.Register(p))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.Listen(ctx) }()

	c, err := p.Acquire(ctx)
	require.NoError(t, err)
	first := c.ID()
	require.NoError(t, c.Release(ctx))

	// When
	conn := internal.MustGetConnectionWithCleanup(t)
	require.Eventually(t, func() bool {
		require.NoError(t, pgxsession.Notify(ctx, conn, channel, p.Name()))
		c, err := p.Acquire(ctx)
		require.NoError(t, err)
		defer c.Close()
		return c.ID() != first
	}, 10*time.Second, 100*time.Millisecond)

	// Then
	require.NoError(t, p.Close())
	assert.False(t, n.Has(p.Name()), "closing the pool unregisters it")
}
