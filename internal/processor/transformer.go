package processor

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"cdc-router/internal/decoder"
	"cdc-router/internal/models"
	"cdc-router/internal/routing"
)

// ErrUnrouted is returned when the transformer makes no routing decision for
// an event (unknown operation, or a create/read/update without an after
// image). It is not a failure: the processor counts the event as skipped,
// does not forward it to the change log, and moves on. The change log only
// carries routed records, so there is nothing for the sink to apply.
var ErrUnrouted = errors.New("event left unrouted")

// Transformer turns change events into outgoing records addressed at the
// routing target of their source table
type Transformer struct {
	resolver routing.Resolver
	logger   *logrus.Logger
}

// NewTransformer creates a new transformer
func NewTransformer(resolver routing.Resolver, logger *logrus.Logger) *Transformer {
	return &Transformer{
		resolver: resolver,
		logger:   logger,
	}
}

// Transform maps one change event to its outgoing records. Create, read and
// update produce one record carrying the after image. Delete produces a
// value-bearing delete marker followed by a tombstone, both with the same
// target and key; the pair must be published together and in this order.
func (t *Transformer) Transform(event *models.ChangeEvent) ([]models.OutgoingRecord, error) {
	if len(event.Key) == 0 {
		return nil, fmt.Errorf("%w: %s event for %s has no key", decoder.ErrMalformedEnvelope, event.Operation, event.Table)
	}

	switch event.Operation {
	case models.OpCreate, models.OpRead, models.OpUpdate:
		if event.After == nil {
			return nil, fmt.Errorf("%w: %s event for %s has no after image", ErrUnrouted, event.Operation, event.Table)
		}
		return []models.OutgoingRecord{{
			Target: t.resolver.Resolve(event.Table),
			Key:    event.Key,
			Value:  event.After,
			Op:     event.Operation,
		}}, nil

	case models.OpDelete:
		target := t.resolver.Resolve(event.Table)
		marker := event.Before
		if len(marker) == 0 {
			marker = event.Key.Clone()
		}
		return []models.OutgoingRecord{
			{Target: target, Key: event.Key, Value: marker, Op: models.OpDelete},
			{Target: target, Key: event.Key, Value: nil, Op: models.OpDelete},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown operation for %s", ErrUnrouted, event.Table)
	}
}
