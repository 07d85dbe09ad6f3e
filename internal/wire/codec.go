package wire

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/v2/bson"

	"cdc-router/internal/models"
)

// Record headers carried next to every outgoing record
const (
	HeaderOp    = "cdc.op"
	HeaderError = "cdc.error"
)

// Encode serializes an outgoing record for the change log. The topic is the
// routing target; a tombstone is encoded with a nil value.
func Encode(rec models.OutgoingRecord) (models.RawRecord, error) {
	key, err := MarshalRow(rec.Key)
	if err != nil {
		return models.RawRecord{}, fmt.Errorf("failed to encode key for %s: %w", rec.Target, err)
	}

	var value []byte
	if !rec.IsTombstone() {
		if value, err = MarshalRow(rec.Value); err != nil {
			return models.RawRecord{}, fmt.Errorf("failed to encode value for %s: %w", rec.Target, err)
		}
	}

	return models.RawRecord{
		Topic:   rec.Target,
		Key:     key,
		Value:   value,
		Headers: map[string]string{HeaderOp: rec.Op.Code()},
	}, nil
}

// Decode parses a change-log record back into an outgoing record addressed
// at target. A record without an op header is treated as an update, or as
// a delete when it has no value.
func Decode(raw models.RawRecord, target string) (models.OutgoingRecord, error) {
	key, err := UnmarshalRow(raw.Key)
	if err != nil {
		return models.OutgoingRecord{}, fmt.Errorf("failed to decode key: %w", err)
	}
	value, err := UnmarshalRow(raw.Value)
	if err != nil {
		return models.OutgoingRecord{}, fmt.Errorf("failed to decode value: %w", err)
	}

	op := models.ParseOperation(raw.Headers[HeaderOp])
	if op == models.OpUnknown {
		op = models.OpUpdate
		if value == nil {
			op = models.OpDelete
		}
	}

	return models.OutgoingRecord{
		Target: target,
		Key:    key,
		Value:  value,
		Op:     op,
	}, nil
}

// MarshalRow encodes a row as relaxed extended JSON. A nil row encodes to
// nil.
func MarshalRow(row models.Row) ([]byte, error) {
	if row == nil {
		return nil, nil
	}
	return bson.MarshalExtJSON(ToBSON(row), false, false)
}

// UnmarshalRow decodes relaxed or canonical extended JSON (plain JSON
// objects included) into a row. Empty input and JSON null decode to nil.
func UnmarshalRow(data []byte) (models.Row, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON(data, false, &doc); err != nil {
		return nil, err
	}
	return FromBSON(doc), nil
}

// ToBSON converts a row into an ordered BSON document
func ToBSON(row models.Row) bson.D {
	if row == nil {
		return nil
	}
	doc := make(bson.D, 0, len(row))
	for _, f := range row {
		doc = append(doc, bson.E{Key: f.Name, Value: BSONValue(f.Value)})
	}
	return doc
}

// BSONValue converts a row value into its BSON counterpart
func BSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case models.Row:
		return ToBSON(t)
	case []interface{}:
		arr := make(bson.A, len(t))
		for i, item := range t {
			arr[i] = BSONValue(item)
		}
		return arr
	case time.Time:
		return bson.NewDateTimeFromTime(t)
	case decimal.Decimal:
		d, err := bson.ParseDecimal128(t.String())
		if err != nil {
			return t.String()
		}
		return d
	default:
		return v
	}
}

// FromBSON converts a BSON document into a row with canonical Go values:
// int32 widens to int64, datetimes become UTC time.Time, binary becomes
// []byte and Decimal128 becomes decimal.Decimal
func FromBSON(doc bson.D) models.Row {
	if doc == nil {
		return nil
	}
	row := make(models.Row, 0, len(doc))
	for _, e := range doc {
		row = append(row, models.Field{Name: e.Key, Value: fromBSONValue(e.Value)})
	}
	return row
}

func fromBSONValue(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.D:
		return FromBSON(t)
	case bson.A:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = fromBSONValue(item)
		}
		return out
	case int32:
		return int64(t)
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Binary:
		return t.Data
	case bson.Decimal128:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return t.String()
		}
		return d
	default:
		return v
	}
}
