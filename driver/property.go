package driver

import "fmt"

// Property identifies a configurable session property.
type Property uint8

// Session properties and the Go type of their values.
const (
	AutoCommit     Property = iota // bool
	Isolation                      // IsolationLevel
	ReadOnly                       // bool
	Holdability                    // CursorHoldability
	Catalog                        // string
	Schema                         // string
	TypeMap                        // map[string]string
	ClientInfo                     // map[string]string
	NetworkTimeout                 // time.Duration

	NumProperties = iota
)

var propertyNames = [NumProperties]string{
	AutoCommit:     "auto_commit",
	Isolation:      "isolation",
	ReadOnly:       "read_only",
	Holdability:    "holdability",
	Catalog:        "catalog",
	Schema:         "schema",
	TypeMap:        "type_map",
	ClientInfo:     "client_info",
	NetworkTimeout: "network_timeout",
}

func (p Property) String() string {
	if int(p) < len(propertyNames) {
		return propertyNames[p]
	}
	return fmt.Sprintf("property(%d)", uint8(p))
}

// IsolationLevel is a transaction isolation level.
type IsolationLevel int32

const (
	IsolationNone            IsolationLevel = 0
	IsolationReadUncommitted IsolationLevel = 1
	IsolationReadCommitted   IsolationLevel = 2
	IsolationRepeatableRead  IsolationLevel = 4
	IsolationSerializable    IsolationLevel = 8
)

// Valid reports whether l is one of the known levels.
func (l IsolationLevel) Valid() bool {
	switch l {
	case IsolationNone, IsolationReadUncommitted, IsolationReadCommitted,
		IsolationRepeatableRead, IsolationSerializable:
		return true
	}
	return false
}

func (l IsolationLevel) String() string {
	switch l {
	case IsolationNone:
		return "none"
	case IsolationReadUncommitted:
		return "read uncommitted"
	case IsolationReadCommitted:
		return "read committed"
	case IsolationRepeatableRead:
		return "repeatable read"
	case IsolationSerializable:
		return "serializable"
	}
	return fmt.Sprintf("isolation(%d)", int32(l))
}

// CursorHoldability controls whether cursors survive a commit.
type CursorHoldability int32

const (
	HoldCursorsOverCommit CursorHoldability = 1
	CloseCursorsAtCommit  CursorHoldability = 2
)

// Valid reports whether h is one of the known holdability modes.
func (h CursorHoldability) Valid() bool {
	return h == HoldCursorsOverCommit || h == CloseCursorsAtCommit
}
