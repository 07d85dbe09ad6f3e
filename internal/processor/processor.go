package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cdc-router/internal/decoder"
	"cdc-router/internal/metrics"
	"cdc-router/internal/models"
	"cdc-router/internal/normalizer"
)

// Reader reads raw change envelopes from the change-log source
type Reader interface {
	ReadRecords(ctx context.Context) ([]models.RawRecord, error)
	Commit(ctx context.Context) error
}

// EventSource yields already decoded change events
type EventSource interface {
	ReadEvents(ctx context.Context) ([]*models.ChangeEvent, error)
}

// Publisher publishes outgoing records onto the change log. All records
// passed in one call must be delivered in order.
type Publisher interface {
	Publish(ctx context.Context, records ...models.OutgoingRecord) error
}

// Processor is the source-side stage: it decodes, normalizes, routes and
// transforms change events and publishes the resulting records
type Processor struct {
	publisher   Publisher
	normalizer  *normalizer.Normalizer
	transformer *Transformer
	metrics     *metrics.Metrics
	logger      *logrus.Logger
}

// NewProcessor creates a new event processor. normalizer may be nil to skip
// type normalization.
func NewProcessor(publisher Publisher, normalizer *normalizer.Normalizer, transformer *Transformer, m *metrics.Metrics, logger *logrus.Logger) *Processor {
	return &Processor{
		publisher:   publisher,
		normalizer:  normalizer,
		transformer: transformer,
		metrics:     m,
		logger:      logger,
	}
}

// HandleRecord decodes one raw record and processes the event it carries.
// Malformed envelopes and upstream tombstones are logged and skipped.
func (p *Processor) HandleRecord(ctx context.Context, raw models.RawRecord) error {
	event, err := decoder.Decode(raw.Key, raw.Value)
	if err != nil {
		if errors.Is(err, decoder.ErrTombstone) {
			p.logger.Debugf("Skipping upstream tombstone on %s", raw.Topic)
			p.metrics.RecordSkipped("upstream_tombstone")
			return nil
		}
		p.logger.Warnf("Skipping record from %s: %v", raw.Topic, err)
		p.metrics.RecordSkipped("malformed")
		return nil
	}
	return p.HandleEvent(ctx, event)
}

// HandleEvent normalizes, routes and publishes one change event. Only
// publish failures are returned.
func (p *Processor) HandleEvent(ctx context.Context, event *models.ChangeEvent) error {
	p.metrics.EventDecoded(event.Operation.String())

	normalized := *event
	normalized.After = p.normalizer.Normalize(event.After, event.TypeHints)

	records, err := p.transformer.Transform(&normalized)
	if err != nil {
		if errors.Is(err, ErrUnrouted) {
			p.logger.Debugf("Passing over event: %v", err)
			p.metrics.RecordSkipped("unrouted")
			return nil
		}
		p.logger.Warnf("Skipping event: %v", err)
		p.metrics.RecordSkipped("malformed")
		return nil
	}

	if err := p.publisher.Publish(ctx, records...); err != nil {
		return fmt.Errorf("failed to publish %s event for %s: %w", event.Operation, event.Table, err)
	}
	for _, r := range records {
		p.metrics.RecordEmitted(r.Target)
	}

	p.logger.Debugf("Processed %s event for %s -> %s (%d records)",
		event.Operation, event.Table, records[0].Target, len(records))
	return nil
}

// Start consumes raw records until the context is cancelled. Offsets are
// committed after every fully published batch; a publish failure stops the
// processor without committing, so the batch is redelivered on restart.
func (p *Processor) Start(ctx context.Context, reader Reader) error {
	p.logger.Info("Starting event processor...")

	for {
		records, err := reader.ReadRecords(ctx)
		if ctx.Err() != nil {
			p.logger.Info("Context cancelled, stopping event processor")
			return nil
		}
		if err != nil {
			p.logger.Errorf("Error reading change records: %v", err)
			sleep(ctx, time.Second)
			continue
		}

		for _, raw := range records {
			if err := p.HandleRecord(ctx, raw); err != nil {
				return err
			}
		}

		if err := reader.Commit(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offsets: %w", err)
		}
	}
}

// StartEvents consumes decoded events from source until the context is
// cancelled
func (p *Processor) StartEvents(ctx context.Context, source EventSource) error {
	p.logger.Info("Starting event processor...")

	for {
		events, err := source.ReadEvents(ctx)
		if ctx.Err() != nil {
			p.logger.Info("Context cancelled, stopping event processor")
			return nil
		}
		if err != nil {
			p.logger.Errorf("Error reading change events: %v", err)
			sleep(ctx, time.Second)
			continue
		}

		for _, event := range events {
			if err := p.HandleEvent(ctx, event); err != nil {
				return err
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
