package normalizer

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"cdc-router/internal/models"
)

// Thresholds used to tell day counts, epoch seconds and epoch milliseconds
// apart when a number is normalized to a date
const (
	maxEpochDays    = 5_000_000
	maxEpochSeconds = 100_000_000_000
)

// Normalizer rewrites row values to canonical kinds using source column
// type hints. Normalization is best-effort: values that cannot be converted
// are returned unchanged.
type Normalizer struct {
	enabled bool
	dialect Dialect
}

// New creates a normalizer for the given dialect
func New(enabled bool, dialect Dialect) *Normalizer {
	return &Normalizer{
		enabled: enabled,
		dialect: dialect,
	}
}

// Enabled reports whether normalization is switched on
func (n *Normalizer) Enabled() bool {
	return n != nil && n.enabled
}

// Dialect returns the active dialect
func (n *Normalizer) Dialect() Dialect {
	return n.dialect
}

// Normalize returns a copy of row with hinted fields converted. Fields
// without a hint, or whose hint is not in the dialect, pass through.
func (n *Normalizer) Normalize(row models.Row, hints map[string]string) models.Row {
	if !n.Enabled() || row == nil || len(hints) == 0 {
		return row
	}

	out := make(models.Row, len(row))
	for i, f := range row {
		out[i] = f
		hint, ok := hints[f.Name]
		if !ok {
			continue
		}
		if kind, ok := n.dialect.Lookup(hint); ok {
			out[i].Value = NormalizeValue(f.Value, kind)
		}
	}
	return out
}

// NormalizeValue converts v to the given canonical kind, returning v
// unchanged when it cannot be converted
func NormalizeValue(v interface{}, kind Kind) interface{} {
	if v == nil {
		return nil
	}

	switch kind {
	case KindString:
		return toString(v)
	case KindInt:
		return toInt(v)
	case KindDouble:
		return toDouble(v)
	case KindDate:
		return toDate(v)
	case KindBinary:
		return toBinary(v)
	default:
		return v
	}
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

func toString(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return t.String()
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}

func toInt(v interface{}) interface{} {
	switch t := v.(type) {
	case int64:
		return t
	case decimal.Decimal:
		return t.IntPart()
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return v
		}
		return i
	}
	if !isNumber(v) {
		return v
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return v
	}
	return i
}

func toDouble(v interface{}) interface{} {
	switch t := v.(type) {
	case float64:
		return t
	case decimal.Decimal:
		f, _ := t.Float64()
		return f
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return v
		}
		return f
	}
	if !isNumber(v) {
		return v
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return v
	}
	return f
}

func toDate(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UTC()
		}
		if d, err := time.Parse(time.DateOnly, t); err == nil {
			return d.UTC()
		}
		return v
	}
	if !isNumber(v) {
		return v
	}

	n, err := cast.ToInt64E(v)
	if err != nil {
		return v
	}
	abs := n
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs < maxEpochDays:
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(n))
	case abs < maxEpochSeconds:
		return time.Unix(n, 0).UTC()
	default:
		return time.UnixMilli(n).UTC()
	}
}

func toBinary(v interface{}) interface{} {
	switch t := v.(type) {
	case []byte:
		return t
	case *bytes.Buffer:
		return bytes.Clone(t.Bytes())
	case string:
		b, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			return v
		}
		return b
	default:
		return v
	}
}
