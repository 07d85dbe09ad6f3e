package decoder

import (
	"encoding/base64"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"cdc-router/internal/models"
)

// Logical types carried as bytes or structs on the wire
const (
	decimalSchema              = "org.apache.kafka.connect.data.Decimal"
	variableScaleDecimalSchema = "io.debezium.data.VariableScaleDecimal"
)

// Schema is a Kafka Connect schema as emitted by the JSON converter with
// schemas enabled
type Schema struct {
	Type       string            `json:"type"`
	Optional   bool              `json:"optional"`
	Name       string            `json:"name,omitempty"`
	Field      string            `json:"field,omitempty"`
	Fields     []Schema          `json:"fields,omitempty"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// FieldSchema returns the schema of the named struct field, or nil
func (s *Schema) FieldSchema(name string) *Schema {
	if s == nil {
		return nil
	}
	for i := range s.Fields {
		if s.Fields[i].Field == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// ColumnType returns the source column type carried in the schema
// parameters (e.g. __debezium.source.column.type), or "" when absent
func (s *Schema) ColumnType() string {
	if s == nil || len(s.Parameters) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s.Parameters))
	for k := range s.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if strings.Contains(strings.ToLower(k), "column.type") {
			return s.Parameters[k]
		}
	}
	return ""
}

// Struct is a payload described by a struct schema
type Struct struct {
	Schema  *Schema
	Payload models.Row
}

// typed returns the payload with values coerced to the schema field types,
// in schema field order. Fields the schema does not describe are kept as-is.
func (s Struct) typed() models.Row {
	if s.Payload == nil {
		return nil
	}
	if s.Schema == nil || len(s.Schema.Fields) == 0 {
		return s.Payload
	}

	out := make(models.Row, 0, len(s.Payload))
	for i := range s.Schema.Fields {
		fs := &s.Schema.Fields[i]
		v, ok := s.Payload.Get(fs.Field)
		if !ok {
			continue
		}
		out = append(out, models.Field{Name: fs.Field, Value: coerce(v, fs)})
	}
	for _, f := range s.Payload {
		if s.Schema.FieldSchema(f.Name) == nil {
			out = append(out, f)
		}
	}
	return out
}

// hints collects the column-type hints of the struct's fields
func (s Struct) hints() map[string]string {
	if s.Schema == nil {
		return nil
	}
	var hints map[string]string
	for i := range s.Schema.Fields {
		fs := &s.Schema.Fields[i]
		if ct := fs.ColumnType(); ct != "" {
			if hints == nil {
				hints = make(map[string]string)
			}
			hints[fs.Field] = ct
		}
	}
	return hints
}

func coerce(v interface{}, schema *Schema) interface{} {
	if v == nil || schema == nil {
		return v
	}

	switch schema.Name {
	case decimalSchema:
		scale, _ := strconv.Atoi(schema.Parameters["scale"])
		if d, ok := toDecimal(v, int32(scale)); ok {
			return d
		}
		return v
	case variableScaleDecimalSchema:
		if row, ok := models.AsRow(v); ok {
			unscaled, _ := row.Get("value")
			if d, ok := toDecimal(unscaled, int32(int64Field(row, "scale"))); ok {
				return d
			}
		}
		return v
	}

	switch schema.Type {
	case "int8", "int16", "int32", "int64":
		if f, ok := v.(float64); ok {
			return int64(f)
		}
	case "float32", "float64":
		if i, ok := v.(int64); ok {
			return float64(i)
		}
	case "bytes":
		if s, ok := v.(string); ok {
			if b, err := base64.StdEncoding.DecodeString(s); err == nil {
				return b
			}
		}
	case "struct":
		if row, ok := models.AsRow(v); ok {
			return Struct{Schema: schema, Payload: row}.typed()
		}
	}
	return v
}

// toDecimal reads a decimal value. Bytes (base64 on the wire) hold the
// big-endian two's-complement unscaled integer; numeric and string forms are
// taken as the decimal value itself.
func toDecimal(v interface{}, scale int32) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case string:
		b, err := base64.StdEncoding.DecodeString(t)
		if err != nil {
			d, err := decimal.NewFromString(t)
			return d, err == nil
		}
		return decimalFromBytes(b, scale), true
	case []byte:
		return decimalFromBytes(t, scale), true
	case float64:
		return decimal.NewFromFloat(t), true
	case int64:
		return decimal.NewFromInt(t), true
	default:
		return decimal.Decimal{}, false
	}
}

func decimalFromBytes(b []byte, scale int32) decimal.Decimal {
	unscaled := new(big.Int).SetBytes(b)
	if len(b) > 0 && b[0]&0x80 != 0 {
		unscaled.Sub(unscaled, new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8)))
	}
	return decimal.NewFromBigInt(unscaled, -scale)
}

// StructEnvelope is the schema-described representation of a change event
type StructEnvelope struct {
	Key   Struct
	Value Struct
}

// Decode implements Envelope
func (e *StructEnvelope) Decode() (*models.ChangeEvent, error) {
	if e.Value.Payload == nil {
		return nil, malformed("missing envelope payload")
	}
	if e.Value.Schema == nil || e.Value.Schema.Type != "struct" {
		return nil, malformed("envelope schema is not a struct")
	}

	value := e.Value.typed()
	op, err := operationOf(value)
	if err != nil {
		return nil, err
	}

	sourceVal, _ := value.Get("source")
	source, ok := models.AsRow(sourceVal)
	if !ok {
		return nil, malformed("missing source block")
	}
	table, err := tableOf(source)
	if err != nil {
		return nil, err
	}

	key := e.Key.typed()
	if len(key) == 0 {
		return nil, malformed("missing record key")
	}

	event := &models.ChangeEvent{
		Operation: op,
		Database:  stringField(source, "db"),
		Table:     table,
		Timestamp: int64Field(source, "ts_ms"),
		Key:       key,
	}

	if before, _ := value.Get("before"); before != nil {
		event.Before, _ = models.AsRow(before)
	}
	if after, _ := value.Get("after"); after != nil {
		event.After, _ = models.AsRow(after)
		event.TypeHints = Struct{Schema: e.Value.Schema.FieldSchema("after")}.hints()
	} else if event.Before != nil {
		event.TypeHints = Struct{Schema: e.Value.Schema.FieldSchema("before")}.hints()
	}
	return event, nil
}
