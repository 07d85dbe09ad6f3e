package kafka

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"

	"cdc-router/internal/models"
	"cdc-router/internal/wire"
)

// Producer publishes outgoing records to topics named after their routing
// target
type Producer struct {
	client          *kgo.Client
	deadLetterTopic string
	logger          *logrus.Logger
}

// NewProducer creates a producer on an existing client. An empty
// deadLetterTopic disables dead lettering.
func NewProducer(client *kgo.Client, deadLetterTopic string, logger *logrus.Logger) *Producer {
	return &Producer{
		client:          client,
		deadLetterTopic: deadLetterTopic,
		logger:          logger,
	}
}

// Publish produces all records synchronously in one call. Records sharing a
// key land on the same partition in call order, which keeps a delete marker
// ahead of its tombstone.
func (p *Producer) Publish(ctx context.Context, records ...models.OutgoingRecord) error {
	if len(records) == 0 {
		return nil
	}

	krs := make([]*kgo.Record, 0, len(records))
	for _, rec := range records {
		raw, err := wire.Encode(rec)
		if err != nil {
			return err
		}
		krs = append(krs, toKafkaRecord(raw))
	}

	if err := p.client.ProduceSync(ctx, krs...).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce %d records: %w", len(krs), err)
	}

	p.logger.Debugf("Produced %d records to %s", len(krs), records[0].Target)
	return nil
}

// DeadLetter re-publishes a failing record unchanged to the dead-letter
// topic with the failure attached as a header
func (p *Producer) DeadLetter(ctx context.Context, raw models.RawRecord, cause error) error {
	if p.deadLetterTopic == "" {
		p.logger.Errorf("Dropping failed record from %s (no dead-letter topic): %v", raw.Topic, cause)
		return nil
	}

	headers := make(map[string]string, len(raw.Headers)+1)
	for k, v := range raw.Headers {
		headers[k] = v
	}
	headers[wire.HeaderError] = cause.Error()

	rec := toKafkaRecord(models.RawRecord{
		Topic:   p.deadLetterTopic,
		Key:     raw.Key,
		Value:   raw.Value,
		Headers: headers,
	})
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to dead-letter record from %s: %w", raw.Topic, err)
	}
	return nil
}

// Close flushes and closes the client
func (p *Producer) Close(ctx context.Context) {
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warnf("Failed to flush kafka producer: %v", err)
	}
	p.client.Close()
}

func toKafkaRecord(raw models.RawRecord) *kgo.Record {
	rec := &kgo.Record{
		Topic: raw.Topic,
		Key:   raw.Key,
		Value: raw.Value,
	}
	for _, k := range sortedKeys(raw.Headers) {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{Key: k, Value: []byte(raw.Headers[k])})
	}
	return rec
}
