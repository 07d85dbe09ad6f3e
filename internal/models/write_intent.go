package models

// IntentKind is the kind of write a WriteIntent asks the store to perform
type IntentKind int

const (
	IntentUpsert IntentKind = iota + 1
	IntentDelete
	IntentMarkDeleted // soft delete: update matched document, never insert
)

func (k IntentKind) String() string {
	switch k {
	case IntentUpsert:
		return "upsert"
	case IntentDelete:
		return "delete"
	case IntentMarkDeleted:
		return "mark_deleted"
	default:
		return "unknown"
	}
}

// Predicate is a single equality match on a (possibly dotted) field path
type Predicate struct {
	Path  string
	Value interface{}
}

// WriteIntent is a fully resolved instruction for the document store. Filter
// is a conjunction: a document matches only when every predicate matches.
type WriteIntent struct {
	Kind       IntentKind
	Collection string
	Filter     []Predicate
	Document   Row // fields to set; empty for IntentDelete
}
