package driver

// StatementKind distinguishes plain prepared statements from stored
// procedure calls.
type StatementKind uint8

const (
	KindPrepared StatementKind = iota
	KindCallable
)

// Unset marks an optional request field that was not specified.
const Unset int32 = -1

// Cursor types.
const (
	CursorForwardOnly       int32 = 1003
	CursorScrollInsensitive int32 = 1004
	CursorScrollSensitive   int32 = 1005
)

// Concurrency modes.
const (
	ConcurrencyReadOnly  int32 = 1007
	ConcurrencyUpdatable int32 = 1008
)

// Generated keys modes.
const (
	ReturnGeneratedKeys int32 = 1
	NoGeneratedKeys     int32 = 2
)

// PrepareRequest describes one call to prepare a statement. Fields left at
// Unset were not given by the caller; nil column slices mean absent.
type PrepareRequest struct {
	Kind          StatementKind
	SQL           string
	CursorType    int32
	Concurrency   int32
	Holdability   int32
	GeneratedKeys int32
	ColumnNames   []string
	ColumnIndexes []int32
}

// NewPrepareRequest returns a request for a prepared statement with every
// optional field unset.
func NewPrepareRequest(sql string) *PrepareRequest {
	return &PrepareRequest{
		Kind:          KindPrepared,
		SQL:           sql,
		CursorType:    Unset,
		Concurrency:   Unset,
		Holdability:   Unset,
		GeneratedKeys: Unset,
	}
}

// NewCallRequest returns a request for a callable statement with every
// optional field unset.
func NewCallRequest(sql string) *PrepareRequest {
	req := NewPrepareRequest(sql)
	req.Kind = KindCallable
	return req
}

// WithCursor sets the cursor type and concurrency mode.
func (r *PrepareRequest) WithCursor(cursorType, concurrency int32) *PrepareRequest {
	r.CursorType = cursorType
	r.Concurrency = concurrency
	return r
}

// WithHoldability sets the cursor holdability.
func (r *PrepareRequest) WithHoldability(h CursorHoldability) *PrepareRequest {
	r.Holdability = int32(h)
	return r
}

// WithGeneratedKeys sets the generated keys mode.
func (r *PrepareRequest) WithGeneratedKeys(mode int32) *PrepareRequest {
	r.GeneratedKeys = mode
	return r
}

// WithColumnNames requests the named generated columns.
func (r *PrepareRequest) WithColumnNames(names ...string) *PrepareRequest {
	r.ColumnNames = append([]string{}, names...)
	return r
}

// WithColumnIndexes requests the generated columns at the given positions.
func (r *PrepareRequest) WithColumnIndexes(indexes ...int32) *PrepareRequest {
	r.ColumnIndexes = append([]int32{}, indexes...)
	return r
}
