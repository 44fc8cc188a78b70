package defaults_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/defaults"
	"github.com/yuku/connpool/internal/fakedriver"
)

func ptr[T any](v T) *T { return &v }

func TestCapture(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("marks readable and writable properties as supported", func(t *testing.T) {
		// Given
		session := fakedriver.NewSession()
		session.Put(driver.Schema, "app")
		session.Unsupport(driver.TypeMap)
		session.Unsupport(driver.Holdability)

		// When
		d, err := defaults.Capture(ctx, session, defaults.Overrides{})

		// Then
		require.NoError(t, err)
		assert.True(t, d.Supported().Has(driver.Schema))
		assert.True(t, d.Supported().Has(driver.AutoCommit))
		assert.False(t, d.Supported().Has(driver.TypeMap))
		assert.False(t, d.Supported().Has(driver.Holdability))
		assert.Equal(t, "app", d.Value(driver.Schema))
		assert.Equal(t, driver.HoldCursorsOverCommit, d.Value(driver.Holdability), "unsupported property gets a placeholder")
	})

	t.Run("overrides replace captured baselines", func(t *testing.T) {
		// Given
		session := fakedriver.NewSession()

		// When
		d, err := defaults.Capture(ctx, session, defaults.Overrides{
			AutoCommit:     ptr(false),
			Isolation:      ptr(driver.IsolationSerializable),
			Schema:         ptr("reporting"),
			ClientInfo:     map[string]string{"ApplicationName": "billing"},
			NetworkTimeout: ptr(5 * time.Second),
		})

		// Then
		require.NoError(t, err)
		assert.False(t, d.AutoCommit())
		assert.Equal(t, driver.IsolationSerializable, d.Value(driver.Isolation))
		assert.Equal(t, "reporting", d.Value(driver.Schema))
		assert.Equal(t, map[string]string{"ApplicationName": "billing"}, d.Value(driver.ClientInfo))
		assert.Equal(t, 5*time.Second, d.Value(driver.NetworkTimeout))
	})

	tests := []struct {
		name      string
		overrides defaults.Overrides
		property  driver.Property
	}{
		{name: "invalid isolation", overrides: defaults.Overrides{Isolation: ptr(driver.IsolationLevel(3))}, property: driver.Isolation},
		{name: "invalid holdability", overrides: defaults.Overrides{Holdability: ptr(driver.CursorHoldability(7))}, property: driver.Holdability},
	}
	for _, tt := range tests {
		t.Run(tt.name+" is a configuration error", func(t *testing.T) {
			_, err := defaults.Capture(ctx, fakedriver.NewSession(), tt.overrides)

			var ce *defaults.ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.property, ce.Property)
		})
	}
}

func TestDefaults_Initialize(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("applies supported baselines only", func(t *testing.T) {
		// Given
		s := fakedriver.NewSession()
		s.Unsupport(driver.Catalog)
		d, err := defaults.Capture(ctx, s, defaults.Overrides{Schema: ptr("app")})
		require.NoError(t, err)
		session := fakedriver.NewSession()
		session.Unsupport(driver.Catalog)

		// When
		err = d.Initialize(ctx, session)

		// Then
		require.NoError(t, err)
		assert.Equal(t, "app", session.Value(driver.Schema))
		assert.Equal(t, 1, session.SetCalls(driver.Schema))
		assert.Zero(t, session.SetCalls(driver.Catalog))
		assert.Zero(t, session.Rollbacks(), "no rollback in auto-commit mode")
	})

	t.Run("rolls back when auto-commit is off", func(t *testing.T) {
		d, err := defaults.Capture(ctx, fakedriver.NewSession(), defaults.Overrides{AutoCommit: ptr(false)})
		require.NoError(t, err)
		session := fakedriver.NewSession()

		require.NoError(t, d.Initialize(ctx, session))

		assert.Equal(t, false, session.Value(driver.AutoCommit))
		assert.Equal(t, 1, session.Rollbacks())
	})
}

func TestDefaults_Set(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Given
	d, err := defaults.Capture(ctx, fakedriver.NewSession(), defaults.Overrides{})
	require.NoError(t, err)
	session := fakedriver.NewSession()
	var dirty defaults.Flags

	// When
	require.NoError(t, d.Set(ctx, session, &dirty, driver.ReadOnly, true))

	// Then
	assert.True(t, dirty.Has(driver.ReadOnly))
	assert.Equal(t, true, session.Value(driver.ReadOnly))

	t.Run("setting the baseline again clears the bit", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, session, &dirty, driver.ReadOnly, false))
		assert.False(t, dirty.Has(driver.ReadOnly))
		assert.Equal(t, 2, session.SetCalls(driver.ReadOnly), "the mutation is always performed")
	})

	t.Run("maps are compared by content", func(t *testing.T) {
		require.NoError(t, d.Set(ctx, session, &dirty, driver.ClientInfo, map[string]string{"a": "b"}))
		assert.True(t, dirty.Has(driver.ClientInfo))
		require.NoError(t, d.Set(ctx, session, &dirty, driver.ClientInfo, map[string]string{}))
		assert.False(t, dirty.Has(driver.ClientInfo))
	})

	t.Run("failed mutation leaves flags untouched", func(t *testing.T) {
		session.Unsupport(driver.Catalog)
		err := d.Set(ctx, session, &dirty, driver.Catalog, "other")
		assert.ErrorIs(t, err, driver.ErrNotSupported)
		assert.False(t, dirty.Has(driver.Catalog))
	})
}

func TestDefaults_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("restores only dirty properties", func(t *testing.T) {
		// Given
		d, err := defaults.Capture(ctx, fakedriver.NewSession(), defaults.Overrides{})
		require.NoError(t, err)
		session := fakedriver.NewSession()
		var dirty defaults.Flags
		require.NoError(t, d.Set(ctx, session, &dirty, driver.Schema, "tmp"))
		require.NoError(t, d.Set(ctx, session, &dirty, driver.Isolation, driver.IsolationSerializable))
		session.ResetCalls()

		// When
		cleared, err := d.Reset(ctx, session, dirty, true)

		// Then
		require.NoError(t, err)
		assert.Zero(t, cleared)
		assert.Equal(t, "public", session.Value(driver.Schema))
		assert.Equal(t, driver.IsolationReadCommitted, session.Value(driver.Isolation))
		for p := range driver.Property(driver.NumProperties) {
			want := 0
			if p == driver.Schema || p == driver.Isolation {
				want = 1
			}
			assert.Equal(t, want, session.SetCalls(p), "unexpected writes to %s", p)
		}
		assert.Zero(t, session.Rollbacks())
		assert.Equal(t, 1, session.WarningsCleared())
	})

	t.Run("rolls back outside auto-commit", func(t *testing.T) {
		d, err := defaults.Capture(ctx, fakedriver.NewSession(), defaults.Overrides{})
		require.NoError(t, err)
		session := fakedriver.NewSession()
		var dirty defaults.Flags
		require.NoError(t, d.Set(ctx, session, &dirty, driver.AutoCommit, false))

		_, err = d.Reset(ctx, session, dirty, false)

		require.NoError(t, err)
		assert.Equal(t, 1, session.Rollbacks())
		assert.Equal(t, true, session.Value(driver.AutoCommit))
	})

	t.Run("skips unsupported properties and reports failures", func(t *testing.T) {
		s := fakedriver.NewSession()
		s.Unsupport(driver.Catalog)
		d, err := defaults.Capture(ctx, s, defaults.Overrides{})
		require.NoError(t, err)
		session := fakedriver.NewSession()
		session.ResetErr = errors.New("read-only transaction")

		dirty := defaults.Bit(driver.Catalog) | defaults.Bit(driver.Schema)
		_, err = d.Reset(ctx, session, dirty, true)

		assert.ErrorContains(t, err, "failed to reset schema")
		assert.NotContains(t, err.Error(), "catalog")
	})
}
