package reconciler

import (
	"errors"
	"fmt"

	"cdc-router/internal/models"
)

// ErrMissingBusinessKey is returned when a record carries no usable
// business key. Such records must be surfaced to the operator, never
// dropped or written with a partial match.
var ErrMissingBusinessKey = errors.New("missing business key")

// BusinessKey is the set of primary-key values a destination document is
// matched on
type BusinessKey models.Row

// Validate checks that the key has at least one field and that no field is
// null
func (k BusinessKey) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("%w: key is empty", ErrMissingBusinessKey)
	}
	for _, f := range k {
		if f.Name == "" {
			return fmt.Errorf("%w: unnamed key field", ErrMissingBusinessKey)
		}
		if f.Value == nil {
			return fmt.Errorf("%w: key field %q is null", ErrMissingBusinessKey, f.Name)
		}
	}
	return nil
}

// Filter builds the match conjunction over all key fields. A non-empty
// prefix nests the paths under a sub-document: "_businessKey.product_id".
func (k BusinessKey) Filter(prefix string) []models.Predicate {
	filter := make([]models.Predicate, 0, len(k))
	for _, f := range k {
		path := f.Name
		if prefix != "" {
			path = prefix + "." + f.Name
		}
		filter = append(filter, models.Predicate{Path: path, Value: f.Value})
	}
	return filter
}
