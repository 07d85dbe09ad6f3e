package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"

	"cdc-router/internal/models"
)

// Consumer reads records from the subscribed topics
type Consumer struct {
	client   *kgo.Client
	hasGroup bool
	logger   *logrus.Logger
}

// NewConsumer creates a consumer on a client built with ConsumeOptions.
// Without a consumer group Commit does nothing.
func NewConsumer(client *kgo.Client, hasGroup bool, logger *logrus.Logger) *Consumer {
	return &Consumer{
		client:   client,
		hasGroup: hasGroup,
		logger:   logger,
	}
}

// ReadRecords blocks until a batch of records is available
func (c *Consumer) ReadRecords(ctx context.Context) ([]models.RawRecord, error) {
	fetches := c.client.PollFetches(ctx)
	if fetches.IsClientClosed() {
		return nil, kgo.ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.Canceled) {
			return
		}
		errs = append(errs, fmt.Errorf("fetch %s[%d]: %w", topic, partition, err))
	})
	if len(errs) > 0 && fetches.NumRecords() == 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		c.logger.Warnf("Kafka fetch error: %v", err)
	}

	records := make([]models.RawRecord, 0, fetches.NumRecords())
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, fromKafkaRecord(r))
	})
	return records, nil
}

// Commit commits the offsets of every record returned so far
func (c *Consumer) Commit(ctx context.Context) error {
	if !c.hasGroup {
		return nil
	}
	return c.client.CommitUncommittedOffsets(ctx)
}

// Close leaves the group and closes the client
func (c *Consumer) Close() {
	c.client.Close()
}

func fromKafkaRecord(r *kgo.Record) models.RawRecord {
	raw := models.RawRecord{
		Topic: r.Topic,
		Key:   r.Key,
		Value: r.Value,
	}
	if len(r.Headers) > 0 {
		raw.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			raw.Headers[h.Key] = string(h.Value)
		}
	}
	return raw
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
