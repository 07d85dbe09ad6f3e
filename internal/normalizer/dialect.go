package normalizer

import "strings"

// Kind is one of the canonical value kinds a field can be normalized to
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindDouble Kind = "double"
	KindDate   Kind = "date"
	KindBinary Kind = "binData"
)

// Supported dialect modes
const (
	ModeOracle   = "oracle"
	ModePostgres = "postgres"
)

// Dialect maps normalized source column types to canonical kinds. It is
// built once and never modified.
type Dialect struct {
	name  string
	types map[string]Kind
}

// Name returns the dialect mode name
func (d Dialect) Name() string {
	return d.name
}

// Lookup returns the canonical kind for a raw source column type such as
// "varchar2(255)"
func (d Dialect) Lookup(sourceType string) (Kind, bool) {
	normalized := SourceType(sourceType)
	if normalized == "" {
		return "", false
	}
	kind, ok := d.types[normalized]
	return kind, ok
}

// SourceType upper-cases a source column type and strips any precision or
// length suffix: "numeric(10, 2)" becomes "NUMERIC"
func SourceType(raw string) string {
	t := strings.ToUpper(strings.TrimSpace(raw))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	return t
}

// Oracle returns the narrower dialect used for Oracle sources
func Oracle() Dialect {
	return Dialect{
		name: ModeOracle,
		types: map[string]Kind{
			"VARCHAR2":      KindString,
			"CHAR":          KindString,
			"NCHAR":         KindString,
			"NVARCHAR2":     KindString,
			"INTEGER":       KindInt,
			"FLOAT":         KindDouble,
			"BINARY_FLOAT":  KindDouble,
			"BINARY_DOUBLE": KindDouble,
			"DATE":          KindDate,
			"TIMESTAMP":     KindDate,
			"CLOB":          KindString,
			"NCLOB":         KindString,
			"BLOB":          KindBinary,
			"RAW":           KindBinary,
			"LONG RAW":      KindBinary,
		},
	}
}

// Postgres returns the wider dialect used for PostgreSQL sources
func Postgres() Dialect {
	return Dialect{
		name: ModePostgres,
		types: map[string]Kind{
			"VARCHAR":   KindString,
			"CHAR":      KindString,
			"CHARACTER": KindString,
			"TEXT":      KindString,

			"INTEGER":  KindInt,
			"INT4":     KindInt,
			"SMALLINT": KindInt,
			"INT2":     KindInt,

			"DOUBLE PRECISION": KindDouble,
			"FLOAT8":           KindDouble,
			"REAL":             KindDouble,
			"FLOAT4":           KindDouble,
			"NUMERIC":          KindDouble,
			"DECIMAL":          KindDouble,

			"DATE":                     KindDate,
			"TIMESTAMP":                KindDate,
			"TIMESTAMPTZ":              KindDate,
			"TIMESTAMP WITH TIME ZONE": KindDate,

			"BYTEA": KindBinary,
		},
	}
}

// DialectFor returns the dialect for a mode name. Unknown modes resolve to
// the postgres dialect and ok is false.
func DialectFor(mode string) (d Dialect, ok bool) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeOracle:
		return Oracle(), true
	case ModePostgres:
		return Postgres(), true
	default:
		return Postgres(), false
	}
}
