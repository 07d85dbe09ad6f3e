package wire

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-router/internal/models"
)

func TestEncodeDecodeRecord(t *testing.T) {
	created := time.Date(2022, 1, 8, 10, 30, 0, 0, time.UTC)
	rec := models.OutgoingRecord{
		Target: "products",
		Key:    models.Row{{Name: "product_id", Value: int64(999)}},
		Value: models.Row{
			{Name: "product_id", Value: int64(999)},
			{Name: "name", Value: "Test"},
			{Name: "price", Value: 3.0},
			{Name: "created", Value: created},
			{Name: "blob", Value: []byte{0xde, 0xad}},
			{Name: "dims", Value: models.Row{{Name: "w", Value: int64(2)}}},
			{Name: "tags", Value: []interface{}{"a", int64(1)}},
			{Name: "note", Value: nil},
		},
		Op: models.OpCreate,
	}

	raw, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, "products", raw.Topic)
	assert.Equal(t, "c", raw.Headers[HeaderOp])
	assert.JSONEq(t, `{"product_id": 999}`, string(raw.Key))

	decoded, err := Decode(raw, "products")
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestEncodeTombstone(t *testing.T) {
	rec := models.OutgoingRecord{
		Target: "products",
		Key:    models.Row{{Name: "product_id", Value: int64(999)}},
		Op:     models.OpDelete,
	}

	raw, err := Encode(rec)
	require.NoError(t, err)
	assert.Nil(t, raw.Value)
	assert.Equal(t, "d", raw.Headers[HeaderOp])

	decoded, err := Decode(raw, "products")
	require.NoError(t, err)
	assert.True(t, decoded.IsTombstone())
	assert.Equal(t, rec.Key, decoded.Key)
}

func TestDecodeWithoutOpHeader(t *testing.T) {
	upsert, err := Decode(models.RawRecord{Key: []byte(`{"id": 1}`), Value: []byte(`{"id": 1, "v": "x"}`)}, "t")
	require.NoError(t, err)
	assert.Equal(t, models.OpUpdate, upsert.Op)
	assert.Equal(t, models.Row{{Name: "id", Value: int64(1)}, {Name: "v", Value: "x"}}, upsert.Value)

	tombstone, err := Decode(models.RawRecord{Key: []byte(`{"id": 1}`)}, "t")
	require.NoError(t, err)
	assert.Equal(t, models.OpDelete, tombstone.Op)
	assert.True(t, tombstone.IsTombstone())
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(models.RawRecord{Key: []byte(`{"id": `)}, "t")
	require.Error(t, err)

	_, err = Decode(models.RawRecord{Key: []byte(`{"id": 1}`), Value: []byte(`{"v": `)}, "t")
	require.Error(t, err)
}

func TestUnmarshalRowNull(t *testing.T) {
	row, err := UnmarshalRow([]byte("null"))
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = UnmarshalRow(nil)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestUnmarshalRowLargeInteger(t *testing.T) {
	row, err := UnmarshalRow([]byte(`{"big": 9007199254740993}`))
	require.NoError(t, err)
	assert.Equal(t, models.Row{{Name: "big", Value: int64(9007199254740993)}}, row)
}

func TestRowDecimalRoundTrip(t *testing.T) {
	price := decimal.RequireFromString("-123.45")
	data, err := MarshalRow(models.Row{{Name: "price", Value: price}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"$numberDecimal"`)

	row, err := UnmarshalRow(data)
	require.NoError(t, err)
	v, _ := row.Get("price")
	require.IsType(t, decimal.Decimal{}, v)
	assert.True(t, price.Equal(v.(decimal.Decimal)))
}
