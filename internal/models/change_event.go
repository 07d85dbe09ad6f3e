package models

// Operation is the kind of row mutation a change event describes
type Operation int

const (
	OpUnknown Operation = iota
	OpCreate
	OpRead // snapshot-time synthetic insert
	OpUpdate
	OpDelete
)

// ParseOperation maps an envelope op code (c, r, u, d) to an Operation.
// Unrecognized codes map to OpUnknown.
func ParseOperation(code string) Operation {
	switch code {
	case "c":
		return OpCreate
	case "r":
		return OpRead
	case "u":
		return OpUpdate
	case "d":
		return OpDelete
	default:
		return OpUnknown
	}
}

// Code returns the envelope op code for the operation
func (o Operation) Code() string {
	switch o {
	case OpCreate:
		return "c"
	case OpRead:
		return "r"
	case OpUpdate:
		return "u"
	case OpDelete:
		return "d"
	default:
		return ""
	}
}

func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "CREATE"
	case OpRead:
		return "READ"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// ChangeEvent represents one captured row mutation
type ChangeEvent struct {
	Operation Operation
	Database  string
	Table     string
	Timestamp int64 // source commit time in milliseconds, 0 when unknown
	Before    Row   // Update and Delete only
	After     Row   // Create, Read and Update only
	Key       Row   // primary-key columns, never empty for a valid event

	// TypeHints maps column name to the source column type (e.g. VARCHAR2(64))
	TypeHints map[string]string
}

// OutgoingRecord is what the source-side stage emits onto the change log.
// A nil Value is a tombstone.
type OutgoingRecord struct {
	Target string
	Key    Row
	Value  Row
	Op     Operation
}

// IsTombstone reports whether the record carries no value
func (r OutgoingRecord) IsTombstone() bool {
	return r.Value == nil
}

// IsDeleteMarker reports whether the record is the value-bearing half of a
// delete pair. Markers only carry the route and are never written.
func (r OutgoingRecord) IsDeleteMarker() bool {
	return r.Op == OpDelete && r.Value != nil
}

// RawRecord is a record as read from or written to a change-log transport
type RawRecord struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}
