package reconciler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdc-router/internal/config"
	"cdc-router/internal/models"
	"cdc-router/internal/store/memstore"
)

var productKey = models.Row{{Name: "product_id", Value: int64(999)}}

func apply(t *testing.T, s *memstore.Store, r *Reconciler, rec models.OutgoingRecord) {
	t.Helper()
	intent, err := r.Reconcile(rec)
	require.NoError(t, err)
	if intent != nil {
		require.NoError(t, s.Apply(context.Background(), *intent))
	}
}

func TestProductLifecycle(t *testing.T) {
	r := New(DefaultOptions())
	s := memstore.New()
	filter := []models.Predicate{{Path: "product_id", Value: int64(999)}}

	// create
	created := models.Row{{Name: "product_id", Value: int64(999)}, {Name: "name", Value: "Test"}}
	intent, err := r.Reconcile(models.OutgoingRecord{Target: "products", Key: productKey, Value: created, Op: models.OpCreate})
	require.NoError(t, err)
	require.Equal(t, &models.WriteIntent{
		Kind:       models.IntentUpsert,
		Collection: "products",
		Filter:     filter,
		Document:   created,
	}, intent)
	require.NoError(t, s.Apply(context.Background(), *intent))

	doc, ok := s.FindOne("products", filter)
	require.True(t, ok)
	id, _ := doc.Get(memstore.IDField)

	// update
	updated := models.Row{{Name: "product_id", Value: int64(999)}, {Name: "name", Value: "Updated"}}
	intent, err = r.Reconcile(models.OutgoingRecord{Target: "products", Key: productKey, Value: updated, Op: models.OpUpdate})
	require.NoError(t, err)
	require.Equal(t, filter, intent.Filter)
	require.NoError(t, s.Apply(context.Background(), *intent))

	doc, ok = s.FindOne("products", filter)
	require.True(t, ok)
	name, _ := doc.Get("name")
	assert.Equal(t, "Updated", name)
	gotID, _ := doc.Get(memstore.IDField)
	assert.Equal(t, id, gotID)

	// delete: marker then tombstone
	marker, err := r.Reconcile(models.OutgoingRecord{Target: "products", Key: productKey, Value: updated, Op: models.OpDelete})
	require.NoError(t, err)
	assert.Nil(t, marker)

	intent, err = r.Reconcile(models.OutgoingRecord{Target: "products", Key: productKey, Op: models.OpDelete})
	require.NoError(t, err)
	require.Equal(t, &models.WriteIntent{Kind: models.IntentDelete, Collection: "products", Filter: filter}, intent)
	require.NoError(t, s.Apply(context.Background(), *intent))

	_, ok = s.FindOne("products", filter)
	assert.False(t, ok)
}

func TestUpsertStripsIdentifier(t *testing.T) {
	r := New(DefaultOptions())
	value := models.Row{{Name: "_id", Value: "abc"}, {Name: "product_id", Value: int64(999)}}

	intent, err := r.Upsert("products", productKey, value)
	require.NoError(t, err)
	_, ok := intent.Document.Get("_id")
	assert.False(t, ok)
	_, ok = value.Get("_id")
	assert.True(t, ok, "input value must not be modified")
}

func TestMissingBusinessKey(t *testing.T) {
	tests := map[string]struct {
		opts  Options
		key   models.Row
		value models.Row
	}{
		"no key":          {opts: DefaultOptions(), value: models.Row{{Name: "name", Value: "x"}}},
		"null key field":  {opts: DefaultOptions(), key: models.Row{{Name: "id", Value: nil}}, value: models.Row{{Name: "id", Value: nil}}},
		"partially null":  {opts: DefaultOptions(), key: models.Row{{Name: "a", Value: int64(1)}, {Name: "b", Value: nil}}, value: models.Row{{Name: "a", Value: int64(1)}}},
		"embedded absent": {opts: Options{KeyMode: KeyModeEmbedded, BusinessKeyField: "_businessKey", IDField: "_id"}, value: models.Row{{Name: "name", Value: "x"}}},
		"embedded empty":  {opts: Options{KeyMode: KeyModeEmbedded, BusinessKeyField: "_businessKey", IDField: "_id"}, value: models.Row{{Name: "_businessKey", Value: models.Row{}}}},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			intent, err := New(tc.opts).Reconcile(models.OutgoingRecord{Target: "t", Key: tc.key, Value: tc.value, Op: models.OpCreate})
			require.ErrorIs(t, err, ErrMissingBusinessKey)
			assert.Nil(t, intent)
		})
	}

	_, err := New(DefaultOptions()).Reconcile(models.OutgoingRecord{Target: "t", Op: models.OpDelete})
	require.ErrorIs(t, err, ErrMissingBusinessKey)
}

func TestIdempotentUpsert(t *testing.T) {
	r := New(DefaultOptions())
	s := memstore.New()
	rec := models.OutgoingRecord{
		Target: "products",
		Key:    productKey,
		Value:  models.Row{{Name: "product_id", Value: int64(999)}, {Name: "name", Value: "Test"}},
		Op:     models.OpCreate,
	}

	apply(t, s, r, rec)
	once, _ := s.FindOne("products", BusinessKey(productKey).Filter(""))

	for i := 0; i < 3; i++ {
		apply(t, s, r, rec)
	}
	require.Equal(t, 1, s.Count("products"))
	again, _ := s.FindOne("products", BusinessKey(productKey).Filter(""))
	assert.Equal(t, once, again)
}

func TestDeleteWithoutMatchIsNoop(t *testing.T) {
	r := New(DefaultOptions())
	s := memstore.New()

	apply(t, s, r, models.OutgoingRecord{Target: "products", Key: productKey, Op: models.OpDelete})
	assert.Zero(t, s.Count("products"))
}

func TestCompositeKeyConjunction(t *testing.T) {
	r := New(DefaultOptions())
	s := memstore.New()

	key := models.Row{{Name: "order_id", Value: int64(1)}, {Name: "line", Value: int64(1)}}
	intent, err := r.Upsert("lines", key, models.Row{{Name: "order_id", Value: int64(1)}, {Name: "line", Value: int64(1)}, {Name: "qty", Value: int64(5)}})
	require.NoError(t, err)
	require.Equal(t, []models.Predicate{{Path: "order_id", Value: int64(1)}, {Path: "line", Value: int64(1)}}, intent.Filter)
	require.NoError(t, s.Apply(context.Background(), *intent))

	for _, other := range []models.Row{
		{{Name: "order_id", Value: int64(2)}, {Name: "line", Value: int64(1)}},
		{{Name: "order_id", Value: int64(1)}, {Name: "line", Value: int64(2)}},
	} {
		_, ok := s.FindOne("lines", BusinessKey(other).Filter(""))
		assert.False(t, ok)

		apply(t, s, r, models.OutgoingRecord{Target: "lines", Key: other, Op: models.OpDelete})
		assert.Equal(t, 1, s.Count("lines"))
	}

	apply(t, s, r, models.OutgoingRecord{Target: "lines", Key: key, Op: models.OpDelete})
	assert.Zero(t, s.Count("lines"))
}

func TestIdentifierPreservedAcrossUpserts(t *testing.T) {
	r := New(DefaultOptions())
	s := memstore.New()
	filter := BusinessKey(productKey).Filter("")

	apply(t, s, r, models.OutgoingRecord{Target: "products", Key: productKey,
		Value: models.Row{{Name: "product_id", Value: int64(999)}, {Name: "price", Value: 1.5}}, Op: models.OpCreate})
	first, _ := s.FindOne("products", filter)

	apply(t, s, r, models.OutgoingRecord{Target: "products", Key: productKey,
		Value: models.Row{{Name: "_id", Value: "other"}, {Name: "product_id", Value: int64(999)}, {Name: "price", Value: 2.5}}, Op: models.OpUpdate})
	second, _ := s.FindOne("products", filter)

	firstID, _ := first.Get(memstore.IDField)
	secondID, _ := second.Get(memstore.IDField)
	assert.Equal(t, firstID, secondID)
	price, _ := second.Get("price")
	assert.Equal(t, 2.5, price)
}

func TestEmbeddedKeyMode(t *testing.T) {
	opts := DefaultOptions()
	opts.KeyMode = KeyModeEmbedded
	r := New(opts)
	s := memstore.New()

	value := models.Row{
		{Name: "_businessKey", Value: models.Row{{Name: "sku", Value: "A-1"}}},
		{Name: "name", Value: "Widget"},
	}
	intent, err := r.Upsert("items", models.Row{{Name: "id", Value: int64(5)}}, value)
	require.NoError(t, err)
	assert.Equal(t, []models.Predicate{{Path: "_businessKey.sku", Value: "A-1"}}, intent.Filter)
	require.NoError(t, s.Apply(context.Background(), *intent))

	// no embedded key: fall back to the record key, stored as the sub-document
	intent, err = r.Upsert("items", models.Row{{Name: "sku", Value: "B-2"}}, models.Row{{Name: "name", Value: "Gadget"}})
	require.NoError(t, err)
	assert.Equal(t, []models.Predicate{{Path: "_businessKey.sku", Value: "B-2"}}, intent.Filter)
	bk, _ := intent.Document.Get("_businessKey")
	assert.Equal(t, models.Row{{Name: "sku", Value: "B-2"}}, bk)
	require.NoError(t, s.Apply(context.Background(), *intent))
	require.Equal(t, 2, s.Count("items"))

	del, err := r.Delete("items", models.Row{{Name: "sku", Value: "A-1"}})
	require.NoError(t, err)
	assert.Equal(t, []models.Predicate{{Path: "_businessKey.sku", Value: "A-1"}}, del.Filter)
	require.NoError(t, s.Apply(context.Background(), *del))
	assert.Equal(t, 1, s.Count("items"))
}

func TestSoftDelete(t *testing.T) {
	opts := DefaultOptions()
	opts.DeleteMode = DeleteModeSoft
	r := New(opts)
	s := memstore.New()
	filter := BusinessKey(productKey).Filter("")

	apply(t, s, r, models.OutgoingRecord{Target: "products", Key: productKey,
		Value: models.Row{{Name: "product_id", Value: int64(999)}}, Op: models.OpCreate})

	intent, err := r.Delete("products", productKey)
	require.NoError(t, err)
	assert.Equal(t, models.IntentMarkDeleted, intent.Kind)
	require.NoError(t, s.Apply(context.Background(), *intent))

	doc, ok := s.FindOne("products", filter)
	require.True(t, ok)
	deleted, _ := doc.Get("_deleted")
	assert.Equal(t, true, deleted)

	apply(t, s, r, models.OutgoingRecord{Target: "products", Key: productKey,
		Value: models.Row{{Name: "product_id", Value: int64(999)}}, Op: models.OpCreate})
	doc, _ = s.FindOne("products", filter)
	deleted, _ = doc.Get("_deleted")
	assert.Equal(t, false, deleted)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ReconcileConfig{KeyMode: "EMBEDDED", DeleteMode: "soft", BusinessKeyField: "bk"})
	assert.Equal(t, KeyModeEmbedded, opts.KeyMode)
	assert.Equal(t, DeleteModeSoft, opts.DeleteMode)
	assert.Equal(t, "bk", opts.BusinessKeyField)
	assert.Equal(t, "_id", opts.IDField)
	assert.Equal(t, "_deleted", opts.DeletedField)
}
