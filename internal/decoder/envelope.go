package decoder

import (
	"errors"
	"fmt"

	"cdc-router/internal/models"
)

// ErrMalformedEnvelope is returned when the operation kind, source table or
// record key of a change event cannot be determined
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Envelope is one raw change event in one of its wire representations. Both
// variants decode to the same representation-independent ChangeEvent.
type Envelope interface {
	Decode() (*models.ChangeEvent, error)
}

// MapEnvelope is the schema-less representation: the record key and the
// Debezium envelope are plain key/value mappings.
type MapEnvelope struct {
	Key   models.Row
	Value models.Row
}

// NewMapEnvelope builds a MapEnvelope from unordered Go maps
func NewMapEnvelope(key, value map[string]interface{}) *MapEnvelope {
	return &MapEnvelope{
		Key:   models.RowFromMap(key),
		Value: models.RowFromMap(value),
	}
}

// Decode implements Envelope
func (e *MapEnvelope) Decode() (*models.ChangeEvent, error) {
	if e.Value == nil {
		return nil, malformed("missing envelope value")
	}

	op, err := operationOf(e.Value)
	if err != nil {
		return nil, err
	}

	sourceVal, _ := e.Value.Get("source")
	source, ok := models.AsRow(sourceVal)
	if !ok {
		return nil, malformed("missing source block")
	}
	table, err := tableOf(source)
	if err != nil {
		return nil, err
	}

	if len(e.Key) == 0 {
		return nil, malformed("missing record key")
	}

	event := &models.ChangeEvent{
		Operation: op,
		Database:  stringField(source, "db"),
		Table:     table,
		Timestamp: int64Field(source, "ts_ms"),
		Key:       e.Key,
	}
	if before, _ := e.Value.Get("before"); before != nil {
		event.Before, _ = models.AsRow(before)
	}
	if after, _ := e.Value.Get("after"); after != nil {
		event.After, _ = models.AsRow(after)
	}
	return event, nil
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, fmt.Sprintf(format, args...))
}

func operationOf(value models.Row) (models.Operation, error) {
	raw, ok := value.Get("op")
	if !ok || raw == nil {
		return models.OpUnknown, malformed("missing op")
	}
	code, ok := raw.(string)
	if !ok {
		return models.OpUnknown, malformed("op is %T, not a string", raw)
	}
	return models.ParseOperation(code), nil
}

func tableOf(source models.Row) (string, error) {
	table := stringField(source, "table")
	if table == "" {
		return "", malformed("missing source.table")
	}
	return table, nil
}

func stringField(row models.Row, name string) string {
	v, _ := row.Get(name)
	s, _ := v.(string)
	return s
}

func int64Field(row models.Row, name string) int64 {
	v, _ := row.Get(name)
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}
