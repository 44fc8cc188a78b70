// Package stmtcache caches prepared statements of one session, keyed by a
// canonical fingerprint of the prepare request.
package stmtcache

import (
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/yuku/connpool/driver"
)

const (
	headerSize      = 1 + 7*4
	fingerprintSize = headerSize + sha256.Size
)

// Fingerprint identifies a prepare request. Two requests are cache
// equivalent iff their fingerprints are equal.
//
// Layout: kind byte, then cursor type, concurrency, holdability, generated
// keys mode, SQL length, column names length and column indexes length as
// big-endian int32 (absent column slices encode as -1), then the SHA-256
// digest of the column names, column indexes and trimmed SQL.
type Fingerprint [fingerprintSize]byte

// NewFingerprint computes the fingerprint of req.
func NewFingerprint(req *driver.PrepareRequest) Fingerprint {
	var fp Fingerprint
	sql := strings.TrimSpace(req.SQL)

	fp[0] = byte(req.Kind)
	fields := [...]int32{
		req.CursorType,
		req.Concurrency,
		req.Holdability,
		req.GeneratedKeys,
		int32(len(sql)),
		optionalLen(req.ColumnNames == nil, len(req.ColumnNames)),
		optionalLen(req.ColumnIndexes == nil, len(req.ColumnIndexes)),
	}
	for i, v := range fields {
		binary.BigEndian.PutUint32(fp[1+i*4:], uint32(v))
	}

	h := sha256.New()
	var buf [4]byte
	for _, name := range req.ColumnNames {
		binary.BigEndian.PutUint32(buf[:], uint32(len(name)))
		h.Write(buf[:])
		h.Write([]byte(name))
	}
	for _, idx := range req.ColumnIndexes {
		binary.BigEndian.PutUint32(buf[:], uint32(idx))
		h.Write(buf[:])
	}
	h.Write([]byte(sql))
	copy(fp[headerSize:], h.Sum(nil))
	return fp
}

func optionalLen(absent bool, n int) int32 {
	if absent {
		return driver.Unset
	}
	return int32(n)
}
