package memstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-router/internal/models"
)

func upsert(collection string, filter []models.Predicate, doc models.Row) models.WriteIntent {
	return models.WriteIntent{Kind: models.IntentUpsert, Collection: collection, Filter: filter, Document: doc}
}

func TestUpsertInsertsThenUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	filter := []models.Predicate{{Path: "id", Value: int64(1)}}

	require.NoError(t, s.Apply(ctx, upsert("orders", filter, models.Row{{Name: "id", Value: int64(1)}, {Name: "v", Value: "a"}})))
	first, ok := s.FindOne("orders", filter)
	require.True(t, ok)
	id, ok := first.Get(IDField)
	require.True(t, ok)
	require.NotEmpty(t, id)

	require.NoError(t, s.Apply(ctx, upsert("orders", filter, models.Row{{Name: "id", Value: int64(1)}, {Name: "v", Value: "b"}})))
	require.Equal(t, 1, s.Count("orders"))
	second, _ := s.FindOne("orders", filter)
	v, _ := second.Get("v")
	assert.Equal(t, "b", v)
	secondID, _ := second.Get(IDField)
	assert.Equal(t, id, secondID)
}

func TestUpsertIgnoresIdentifierInDocument(t *testing.T) {
	ctx := context.Background()
	s := New()
	filter := []models.Predicate{{Path: "id", Value: int64(1)}}

	require.NoError(t, s.Apply(ctx, upsert("orders", filter, models.Row{{Name: "id", Value: int64(1)}})))
	doc, _ := s.FindOne("orders", filter)
	id, _ := doc.Get(IDField)

	require.NoError(t, s.Apply(ctx, upsert("orders", filter, models.Row{{Name: IDField, Value: "forged"}})))
	doc, _ = s.FindOne("orders", filter)
	got, _ := doc.Get(IDField)
	assert.Equal(t, id, got)
}

func TestNumericEquality(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Apply(ctx, upsert("t", []models.Predicate{{Path: "id", Value: int32(7)}}, nil)))
	_, ok := s.FindOne("t", []models.Predicate{{Path: "id", Value: int64(7)}})
	assert.True(t, ok)
	_, ok = s.FindOne("t", []models.Predicate{{Path: "id", Value: 7.0}})
	assert.True(t, ok)
	_, ok = s.FindOne("t", []models.Predicate{{Path: "id", Value: "7"}})
	assert.False(t, ok)
}

func TestDecimalEquality(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.Apply(ctx, upsert("t", []models.Predicate{{Path: "sku", Value: decimal.RequireFromString("10.50")}}, nil)))
	_, ok := s.FindOne("t", []models.Predicate{{Path: "sku", Value: decimal.RequireFromString("10.5")}})
	assert.True(t, ok)
}

func TestNestedPaths(t *testing.T) {
	ctx := context.Background()
	s := New()
	filter := []models.Predicate{
		{Path: "_businessKey.a", Value: int64(1)},
		{Path: "_businessKey.b", Value: "x"},
	}

	require.NoError(t, s.Apply(ctx, upsert("t", filter, models.Row{{Name: "v", Value: true}})))
	doc, ok := s.FindOne("t", filter)
	require.True(t, ok)
	bk, _ := doc.Get("_businessKey")
	assert.Equal(t, models.Row{{Name: "a", Value: int64(1)}, {Name: "b", Value: "x"}}, bk)

	_, ok = s.FindOne("t", filter[:1])
	assert.True(t, ok)
	_, ok = s.FindOne("t", []models.Predicate{{Path: "_businessKey.a", Value: int64(1)}, {Path: "_businessKey.b", Value: "y"}})
	assert.False(t, ok)
}

func TestDeleteAndMarkDeleted(t *testing.T) {
	ctx := context.Background()
	s := New()
	filter := []models.Predicate{{Path: "id", Value: int64(1)}}

	require.NoError(t, s.Apply(ctx, models.WriteIntent{Kind: models.IntentDelete, Collection: "t", Filter: filter}))
	require.NoError(t, s.Apply(ctx, models.WriteIntent{Kind: models.IntentMarkDeleted, Collection: "t", Filter: filter,
		Document: models.Row{{Name: "_deleted", Value: true}}}))
	assert.Zero(t, s.Count("t"))

	require.NoError(t, s.Apply(ctx, upsert("t", filter, nil)))
	require.NoError(t, s.Apply(ctx, models.WriteIntent{Kind: models.IntentMarkDeleted, Collection: "t", Filter: filter,
		Document: models.Row{{Name: "_deleted", Value: true}}}))
	doc, ok := s.FindOne("t", filter)
	require.True(t, ok)
	deleted, _ := doc.Get("_deleted")
	assert.Equal(t, true, deleted)

	require.NoError(t, s.Apply(ctx, models.WriteIntent{Kind: models.IntentDelete, Collection: "t", Filter: filter}))
	assert.Zero(t, s.Count("t"))
	assert.Empty(t, s.Collections())
}

func TestApplyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New()
	err := s.Apply(ctx, upsert("t", []models.Predicate{{Path: "id", Value: int64(1)}}, nil))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, s.Count("t"))
}
