package normalizer

import (
	"bytes"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-router/internal/models"
)

func TestSourceType(t *testing.T) {
	require.Equal(t, "VARCHAR2", SourceType(" varchar2(255) "))
	require.Equal(t, "NUMERIC", SourceType("numeric(10, 2)"))
	require.Equal(t, "TIMESTAMP WITH TIME ZONE", SourceType("timestamp with time zone"))
	require.Equal(t, "", SourceType(""))
}

func TestDialectLookup(t *testing.T) {
	oracle := Oracle()
	kind, ok := oracle.Lookup("VARCHAR2(64)")
	require.True(t, ok)
	require.Equal(t, KindString, kind)

	kind, ok = oracle.Lookup("long raw")
	require.True(t, ok)
	require.Equal(t, KindBinary, kind)

	_, ok = oracle.Lookup("TEXT")
	require.False(t, ok, "TEXT is not an oracle type")

	postgres := Postgres()
	kind, ok = postgres.Lookup("text")
	require.True(t, ok)
	require.Equal(t, KindString, kind)

	kind, ok = postgres.Lookup("numeric(12,4)")
	require.True(t, ok)
	require.Equal(t, KindDouble, kind)
}

func TestDialectFor(t *testing.T) {
	d, ok := DialectFor("Oracle")
	require.True(t, ok)
	require.Equal(t, ModeOracle, d.Name())

	d, ok = DialectFor("postgres")
	require.True(t, ok)
	require.Equal(t, ModePostgres, d.Name())

	d, ok = DialectFor("mysql")
	require.False(t, ok)
	require.Equal(t, ModePostgres, d.Name())
}

func TestNormalizeValue(t *testing.T) {
	epoch := time.Unix(0, 0).UTC()

	tests := []struct {
		name string
		in   interface{}
		kind Kind
		want interface{}
	}{
		{"int to string", int64(42), KindString, "42"},
		{"float to string", 1.5, KindString, "1.5"},
		{"bytes to string", []byte("abc"), KindString, "abc"},
		{"string to int", "123", KindInt, int64(123)},
		{"bad string to int", "12a", KindInt, "12a"},
		{"float to int truncates", 3.9, KindInt, int64(3)},
		{"bool not int", true, KindInt, true},
		{"int32 to int", int32(7), KindInt, int64(7)},
		{"string to double", "2.25", KindDouble, 2.25},
		{"int to double", int64(2), KindDouble, float64(2)},
		{"bad string to double", "abc", KindDouble, "abc"},
		{"decimal to double", decimal.RequireFromString("123.45"), KindDouble, 123.45},
		{"decimal to int", decimal.RequireFromString("123.45"), KindInt, int64(123)},
		{"decimal to string", decimal.RequireFromString("123.45"), KindString, "123.45"},
		{"day count", int64(19000), KindDate, epoch.AddDate(0, 0, 19000)},
		{"negative day count", int64(-1), KindDate, epoch.AddDate(0, 0, -1)},
		{"epoch seconds", int64(1_700_000_000), KindDate, time.Unix(1_700_000_000, 0).UTC()},
		{"epoch millis", int64(1_700_000_000_123), KindDate, time.UnixMilli(1_700_000_000_123).UTC()},
		{"timestamp string", "2024-03-01T10:20:30Z", KindDate, time.Date(2024, 3, 1, 10, 20, 30, 0, time.UTC)},
		{"offset timestamp", "2024-03-01T10:20:30+02:00", KindDate, time.Date(2024, 3, 1, 8, 20, 30, 0, time.UTC)},
		{"date string", "2024-03-01", KindDate, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"unparseable date", "yesterday", KindDate, "yesterday"},
		{"base64", "aGVsbG8=", KindBinary, []byte("hello")},
		{"invalid base64", "not base64!", KindBinary, "not base64!"},
		{"raw bytes", []byte{1, 2}, KindBinary, []byte{1, 2}},
		{"byte buffer", bytes.NewBuffer([]byte{3, 4}), KindBinary, []byte{3, 4}},
		{"nil", nil, KindInt, nil},
		{"unknown kind", "x", Kind("decimal128"), "x"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeValue(tc.in, tc.kind))
		})
	}
}

func TestNormalizeDayCountBoundary(t *testing.T) {
	got := NormalizeValue(int64(maxEpochDays-1), KindDate)
	require.Equal(t, time.Unix(0, 0).UTC().AddDate(0, 0, maxEpochDays-1), got)

	got = NormalizeValue(int64(maxEpochDays), KindDate)
	require.Equal(t, time.Unix(maxEpochDays, 0).UTC(), got)

	got = NormalizeValue(int64(maxEpochSeconds), KindDate)
	require.Equal(t, time.UnixMilli(maxEpochSeconds).UTC(), got)
}

func TestNormalizeRow(t *testing.T) {
	row := models.Row{
		{Name: "id", Value: "17"},
		{Name: "created", Value: int64(19000)},
		{Name: "note", Value: "kept"},
		{Name: "payload", Value: "aGk="},
	}
	hints := map[string]string{
		"id":      "INTEGER",
		"created": "DATE",
		"payload": "BLOB",
		"note":    "XMLTYPE",
	}

	n := New(true, Oracle())
	out := n.Normalize(row, hints)

	require.Equal(t, []string{"id", "created", "note", "payload"}, out.Names())
	id, _ := out.Get("id")
	require.Equal(t, int64(17), id)
	created, _ := out.Get("created")
	require.Equal(t, time.Unix(0, 0).UTC().AddDate(0, 0, 19000), created)
	note, _ := out.Get("note")
	require.Equal(t, "kept", note)
	payload, _ := out.Get("payload")
	require.Equal(t, []byte("hi"), payload)

	orig, _ := row.Get("id")
	require.Equal(t, "17", orig, "input row must not be modified")
}

func TestNormalizeDisabledIsPassThrough(t *testing.T) {
	row := models.Row{{Name: "id", Value: "17"}}
	hints := map[string]string{"id": "INTEGER"}

	require.Equal(t, row, New(false, Oracle()).Normalize(row, hints))

	var nilNormalizer *Normalizer
	require.Equal(t, row, nilNormalizer.Normalize(row, hints))

	require.Equal(t, row, New(true, Oracle()).Normalize(row, nil))
}
