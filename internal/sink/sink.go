package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"cdc-router/internal/metrics"
	"cdc-router/internal/models"
	"cdc-router/internal/reconciler"
	"cdc-router/internal/wire"
)

// Reader reads change-log records addressed at routing targets
type Reader interface {
	ReadRecords(ctx context.Context) ([]models.RawRecord, error)
	Commit(ctx context.Context) error
}

// Applier applies write-intents to the document store
type Applier interface {
	Apply(ctx context.Context, intents ...models.WriteIntent) error
}

// DeadLetter receives records whose business key cannot be established
type DeadLetter interface {
	DeadLetter(ctx context.Context, raw models.RawRecord, cause error) error
}

// Sink is the store-side stage: it reconciles change-log records into
// write-intents and applies them
type Sink struct {
	reconciler *reconciler.Reconciler
	applier    Applier
	deadLetter DeadLetter
	metrics    *metrics.Metrics
	logger     *logrus.Logger
}

// New creates a sink. deadLetter may be nil, in which case failing records
// are only logged.
func New(r *reconciler.Reconciler, applier Applier, deadLetter DeadLetter, m *metrics.Metrics, logger *logrus.Logger) *Sink {
	return &Sink{
		reconciler: r,
		applier:    applier,
		deadLetter: deadLetter,
		metrics:    m,
		logger:     logger,
	}
}

// HandleRecord reconciles and applies one record. Delete markers are
// acknowledged without a write. Records without a business key are
// dead-lettered; store failures are returned.
func (s *Sink) HandleRecord(ctx context.Context, raw models.RawRecord) error {
	rec, err := wire.Decode(raw, raw.Topic)
	if err != nil {
		s.logger.Warnf("Undecodable record on %s: %v", raw.Topic, err)
		return s.sendToDeadLetter(ctx, raw, err, "undecodable")
	}

	intent, err := s.reconciler.Reconcile(rec)
	if err != nil {
		if errors.Is(err, reconciler.ErrMissingBusinessKey) {
			s.logger.Errorf("Cannot reconcile record on %s: %v", raw.Topic, err)
			return s.sendToDeadLetter(ctx, raw, err, "missing_business_key")
		}
		return err
	}
	if intent == nil {
		s.logger.Debugf("Skipping delete marker on %s", raw.Topic)
		s.metrics.RecordSkipped("delete_marker")
		return nil
	}

	s.metrics.WriteIntent(intent.Kind.String())
	if err := s.applier.Apply(ctx, *intent); err != nil {
		s.metrics.ApplyFailed()
		return fmt.Errorf("failed to apply %s to %s: %w", intent.Kind, intent.Collection, err)
	}

	s.logger.Debugf("Applied %s to %s", intent.Kind, intent.Collection)
	return nil
}

func (s *Sink) sendToDeadLetter(ctx context.Context, raw models.RawRecord, cause error, reason string) error {
	s.metrics.DeadLettered(reason)
	if s.deadLetter == nil {
		return nil
	}
	if err := s.deadLetter.DeadLetter(ctx, raw, cause); err != nil {
		return fmt.Errorf("failed to dead-letter record: %w", err)
	}
	return nil
}

// Start consumes records until the context is cancelled. Offsets are
// committed after every applied batch; an apply failure stops the sink
// without committing.
func (s *Sink) Start(ctx context.Context, reader Reader) error {
	s.logger.Info("Starting sink...")

	for {
		records, err := reader.ReadRecords(ctx)
		if ctx.Err() != nil {
			s.logger.Info("Context cancelled, stopping sink")
			return nil
		}
		if err != nil {
			s.logger.Errorf("Error reading change-log records: %v", err)
			sleep(ctx, time.Second)
			continue
		}

		for _, raw := range records {
			if err := s.HandleRecord(ctx, raw); err != nil {
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

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
