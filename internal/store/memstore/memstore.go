package memstore

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"cdc-router/internal/models"
)

// IDField is the identifier field the store assigns on insert
const IDField = "_id"

// Store is an in-memory document store that applies write-intents with the
// same semantics as the MongoDB writer. It backs dry runs and tests.
type Store struct {
	mu          sync.RWMutex
	collections map[string][]models.Row
}

// New creates an empty store
func New() *Store {
	return &Store{collections: make(map[string][]models.Row)}
}

// Apply applies intents in order. It stops at the first failing intent.
func (s *Store) Apply(ctx context.Context, intents ...models.WriteIntent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, intent := range intents {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.apply(intent); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) apply(intent models.WriteIntent) error {
	docs := s.collections[intent.Collection]
	idx := find(docs, intent.Filter)

	switch intent.Kind {
	case models.IntentUpsert:
		if idx < 0 {
			doc := models.Row{{Name: IDField, Value: xid.New().String()}}
			for _, p := range intent.Filter {
				doc = setPath(doc, p.Path, p.Value)
			}
			docs = append(docs, doc)
			idx = len(docs) - 1
		}
		for _, f := range intent.Document {
			if f.Name == IDField {
				continue
			}
			docs[idx] = docs[idx].Set(f.Name, f.Value)
		}

	case models.IntentMarkDeleted:
		if idx < 0 {
			return nil
		}
		for _, f := range intent.Document {
			docs[idx] = docs[idx].Set(f.Name, f.Value)
		}

	case models.IntentDelete:
		if idx < 0 {
			return nil
		}
		docs = append(docs[:idx:idx], docs[idx+1:]...)

	default:
		return fmt.Errorf("unsupported write intent kind %d", intent.Kind)
	}

	s.collections[intent.Collection] = docs
	return nil
}

// FindOne returns a copy of the first document matching all predicates
func (s *Store) FindOne(collection string, filter []models.Predicate) (models.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	idx := find(docs, filter)
	if idx < 0 {
		return nil, false
	}
	return docs[idx].Clone(), true
}

// Count returns the number of documents in a collection
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Collections returns the names of all non-empty collections
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name, docs := range s.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	return names
}

func find(docs []models.Row, filter []models.Predicate) int {
	if len(filter) == 0 {
		return -1
	}
	for i, doc := range docs {
		if matches(doc, filter) {
			return i
		}
	}
	return -1
}

func matches(doc models.Row, filter []models.Predicate) bool {
	for _, p := range filter {
		v, ok := getPath(doc, p.Path)
		if !ok || !equal(v, p.Value) {
			return false
		}
	}
	return true
}

func getPath(doc models.Row, path string) (interface{}, bool) {
	head, rest, nested := strings.Cut(path, ".")
	v, ok := doc.Get(head)
	if !ok || !nested {
		return v, ok
	}
	sub, ok := models.AsRow(v)
	if !ok {
		return nil, false
	}
	return getPath(sub, rest)
}

func setPath(doc models.Row, path string, value interface{}) models.Row {
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		return doc.Set(head, value)
	}
	var sub models.Row
	if v, ok := doc.Get(head); ok {
		sub, _ = models.AsRow(v)
	}
	return doc.Set(head, setPath(sub.Clone(), rest, value))
}

// equal compares values the way the document store does: numbers by value
// regardless of their Go type
func equal(a, b interface{}) bool {
	if isNumber(a) && isNumber(b) {
		if isInteger(a) && isInteger(b) {
			return cast.ToInt64(a) == cast.ToInt64(b)
		}
		return cast.ToFloat64(a) == cast.ToFloat64(b)
	}

	switch x := a.(type) {
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	case decimal.Decimal:
		y, ok := b.(decimal.Decimal)
		return ok && x.Equal(y)
	}
	return reflect.DeepEqual(a, b)
}

func isInteger(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}

func isNumber(v interface{}) bool {
	switch v.(type) {
	case float32, float64:
		return true
	default:
		return isInteger(v)
	}
}
