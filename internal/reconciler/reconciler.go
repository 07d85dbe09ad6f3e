package reconciler

import (
	"fmt"
	"strings"

	"cdc-router/internal/config"
	"cdc-router/internal/models"
)

// KeyMode selects where the business key of an upsert is taken from
type KeyMode string

const (
	// KeyModeKey matches top-level document fields against the record key
	KeyModeKey KeyMode = "key"
	// KeyModeEmbedded matches a business-key sub-document carried in the
	// value, falling back to the record key when the value has none
	KeyModeEmbedded KeyMode = "embedded"
)

// DeleteMode selects how a tombstone is applied
type DeleteMode string

const (
	DeleteModeHard DeleteMode = "hard"
	DeleteModeSoft DeleteMode = "soft"
)

// Options configures a Reconciler. One policy is picked per deployment.
type Options struct {
	KeyMode          KeyMode
	DeleteMode       DeleteMode
	BusinessKeyField string
	IDField          string
	DeletedField     string
}

// DefaultOptions returns hard deletes matched on the record key
func DefaultOptions() Options {
	return Options{
		KeyMode:          KeyModeKey,
		DeleteMode:       DeleteModeHard,
		BusinessKeyField: "_businessKey",
		IDField:          "_id",
		DeletedField:     "_deleted",
	}
}

// OptionsFromConfig builds reconciler options from the reconcile section
func OptionsFromConfig(cfg config.ReconcileConfig) Options {
	opts := DefaultOptions()
	if cfg.KeyMode != "" {
		opts.KeyMode = KeyMode(strings.ToLower(cfg.KeyMode))
	}
	if cfg.DeleteMode != "" {
		opts.DeleteMode = DeleteMode(strings.ToLower(cfg.DeleteMode))
	}
	if cfg.BusinessKeyField != "" {
		opts.BusinessKeyField = cfg.BusinessKeyField
	}
	if cfg.IDField != "" {
		opts.IDField = cfg.IDField
	}
	if cfg.DeletedField != "" {
		opts.DeletedField = cfg.DeletedField
	}
	return opts
}

// Reconciler turns change-log records into write-intents matched by
// business key. It holds no per-record state.
type Reconciler struct {
	opts Options
}

// New creates a reconciler
func New(opts Options) *Reconciler {
	return &Reconciler{opts: opts}
}

// Options returns the active policy
func (r *Reconciler) Options() Options {
	return r.opts
}

// Reconcile maps one change-log record to a write-intent. Delete markers
// carry the route only and yield no intent (nil, nil).
func (r *Reconciler) Reconcile(rec models.OutgoingRecord) (*models.WriteIntent, error) {
	switch {
	case rec.IsDeleteMarker():
		return nil, nil
	case rec.IsTombstone():
		return r.Delete(rec.Target, rec.Key)
	default:
		return r.Upsert(rec.Target, rec.Key, rec.Value)
	}
}

// Upsert builds an update-or-insert intent for value. The store identifier
// field is stripped so an existing document keeps its identifier. With soft
// deletes a re-inserted row clears the deleted flag.
func (r *Reconciler) Upsert(target string, key, value models.Row) (*models.WriteIntent, error) {
	document := value.Without(r.opts.IDField)

	var filter []models.Predicate
	switch r.opts.KeyMode {
	case KeyModeEmbedded:
		bk := r.embeddedKey(value, key)
		if err := bk.Validate(); err != nil {
			return nil, fmt.Errorf("upsert into %s: %w", target, err)
		}
		filter = bk.Filter(r.opts.BusinessKeyField)
		document = document.Set(r.opts.BusinessKeyField, models.Row(bk).Clone())
	default:
		bk := BusinessKey(key)
		if err := bk.Validate(); err != nil {
			return nil, fmt.Errorf("upsert into %s: %w", target, err)
		}
		filter = bk.Filter("")
	}
	if r.opts.DeleteMode == DeleteModeSoft {
		document = document.Set(r.opts.DeletedField, false)
	}

	return &models.WriteIntent{
		Kind:       models.IntentUpsert,
		Collection: target,
		Filter:     filter,
		Document:   document,
	}, nil
}

// Delete builds a single-document delete intent matched by the record key,
// or a mark-deleted update when soft deletes are configured
func (r *Reconciler) Delete(target string, key models.Row) (*models.WriteIntent, error) {
	bk := BusinessKey(key)
	if err := bk.Validate(); err != nil {
		return nil, fmt.Errorf("delete from %s: %w", target, err)
	}

	prefix := ""
	if r.opts.KeyMode == KeyModeEmbedded {
		prefix = r.opts.BusinessKeyField
	}

	if r.opts.DeleteMode == DeleteModeSoft {
		return &models.WriteIntent{
			Kind:       models.IntentMarkDeleted,
			Collection: target,
			Filter:     bk.Filter(prefix),
			Document:   models.Row{{Name: r.opts.DeletedField, Value: true}},
		}, nil
	}
	return &models.WriteIntent{
		Kind:       models.IntentDelete,
		Collection: target,
		Filter:     bk.Filter(prefix),
	}, nil
}

func (r *Reconciler) embeddedKey(value, key models.Row) BusinessKey {
	if v, ok := value.Get(r.opts.BusinessKeyField); ok {
		if embedded, ok := models.AsRow(v); ok && len(embedded) > 0 {
			return BusinessKey(embedded)
		}
	}
	return BusinessKey(key)
}
