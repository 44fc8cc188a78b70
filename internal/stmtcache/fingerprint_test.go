package stmtcache_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yuku/connpool/driver"
	"github.com/yuku/connpool/internal/stmtcache"
)

func TestNewFingerprint(t *testing.T) {
	t.Parallel()

	base := func() *driver.PrepareRequest {
		return driver.NewPrepareRequest("SELECT * FROM users WHERE id = $1").
			WithCursor(driver.CursorForwardOnly, driver.ConcurrencyReadOnly).
			WithHoldability(driver.CloseCursorsAtCommit)
	}

	t.Run("equal requests produce equal fingerprints", func(t *testing.T) {
		assert.Equal(t, stmtcache.NewFingerprint(base()), stmtcache.NewFingerprint(base()))
	})

	t.Run("surrounding whitespace is ignored", func(t *testing.T) {
		req := base()
		req.SQL = "  \n" + req.SQL + "\t "
		assert.Equal(t, stmtcache.NewFingerprint(base()), stmtcache.NewFingerprint(req))
	})

	tests := []struct {
		name   string
		modify func(*driver.PrepareRequest)
	}{
		{name: "sql text", modify: func(r *driver.PrepareRequest) { r.SQL = "SELECT * FROM users WHERE id = $2" }},
		{name: "statement kind", modify: func(r *driver.PrepareRequest) { r.Kind = driver.KindCallable }},
		{name: "cursor type", modify: func(r *driver.PrepareRequest) { r.CursorType = driver.CursorScrollInsensitive }},
		{name: "concurrency", modify: func(r *driver.PrepareRequest) { r.Concurrency = driver.ConcurrencyUpdatable }},
		{name: "holdability", modify: func(r *driver.PrepareRequest) { r.Holdability = int32(driver.HoldCursorsOverCommit) }},
		{name: "generated keys", modify: func(r *driver.PrepareRequest) { r.GeneratedKeys = driver.ReturnGeneratedKeys }},
		{name: "empty column names", modify: func(r *driver.PrepareRequest) { r.ColumnNames = []string{} }},
		{name: "column names", modify: func(r *driver.PrepareRequest) { r.ColumnNames = []string{"id"} }},
		{name: "column indexes", modify: func(r *driver.PrepareRequest) { r.ColumnIndexes = []int32{1} }},
	}
	for _, tt := range tests {
		t.Run("changing "+tt.name+" changes the fingerprint", func(t *testing.T) {
			req := base()
			tt.modify(req)
			assert.NotEqual(t, stmtcache.NewFingerprint(base()), stmtcache.NewFingerprint(req))
		})
	}

	t.Run("column names are not confused by concatenation", func(t *testing.T) {
		a := driver.NewPrepareRequest("INSERT INTO t VALUES (1)").WithColumnNames("ab", "c")
		b := driver.NewPrepareRequest("INSERT INTO t VALUES (1)").WithColumnNames("a", "bc")
		assert.NotEqual(t, stmtcache.NewFingerprint(a), stmtcache.NewFingerprint(b))
	})

	t.Run("header is big-endian", func(t *testing.T) {
		// Given
		req := driver.NewPrepareRequest(" SELECT 1 ").WithColumnIndexes(1, 2)

		// When
		fp := stmtcache.NewFingerprint(req)

		// Then
		require.Equal(t, byte(driver.KindPrepared), fp[0])
		assert.Equal(t, uint32(0xFFFFFFFF), binary.BigEndian.Uint32(fp[1:]), "unset cursor type encodes as -1")
		assert.Equal(t, uint32(len("SELECT 1")), binary.BigEndian.Uint32(fp[17:]), "sql length is the trimmed length")
		assert.Equal(t, uint32(0xFFFFFFFF), binary.BigEndian.Uint32(fp[21:]), "absent column names encode as -1")
		assert.Equal(t, uint32(2), binary.BigEndian.Uint32(fp[25:]))
	})
}
