package nats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"cdc-router/internal/config"
	"cdc-router/internal/models"
	"cdc-router/internal/wire"
)

// Message headers. The key travels in a header because core NATS messages
// have no key; a tombstone has an empty body and the tombstone header.
const (
	HeaderKey       = "Cdc-Key"
	HeaderTombstone = "Cdc-Tombstone"
)

// Connect opens a NATS connection with the configured reconnect policy
func Connect(cfg config.NATSConfig, logger *logrus.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("cdc-router"),
		nats.MaxReconnects(cfg.MaxReconnect),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Infof("Connected to NATS at %s", cfg.URL)
	return conn, nil
}

// Publisher publishes outgoing records to subjects named prefix + target
type Publisher struct {
	conn              *nats.Conn
	prefix            string
	deadLetterSubject string
	logger            *logrus.Logger
}

// NewPublisher creates a publisher on an open connection. An empty
// deadLetterSubject disables dead lettering.
func NewPublisher(conn *nats.Conn, prefix, deadLetterSubject string, logger *logrus.Logger) *Publisher {
	return &Publisher{
		conn:              conn,
		prefix:            prefix,
		deadLetterSubject: deadLetterSubject,
		logger:            logger,
	}
}

// Publish sends the records in order and flushes, so a delete marker and
// its tombstone reach the server together
func (p *Publisher) Publish(ctx context.Context, records ...models.OutgoingRecord) error {
	for _, rec := range records {
		raw, err := wire.Encode(rec)
		if err != nil {
			return err
		}
		if err := p.conn.PublishMsg(BuildMsg(p.prefix+raw.Topic, raw)); err != nil {
			return fmt.Errorf("failed to publish to NATS: %w", err)
		}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}

	if len(records) > 0 {
		p.logger.Debugf("Published %d records to %s%s", len(records), p.prefix, records[0].Target)
	}
	return nil
}

// DeadLetter re-publishes a failing record to the dead-letter subject with
// the failure attached as a header
func (p *Publisher) DeadLetter(ctx context.Context, raw models.RawRecord, cause error) error {
	if p.deadLetterSubject == "" {
		p.logger.Errorf("Dropping failed record from %s (no dead-letter subject): %v", raw.Topic, cause)
		return nil
	}

	msg := BuildMsg(p.deadLetterSubject, raw)
	msg.Header[wire.HeaderError] = []string{cause.Error()}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to dead-letter record from %s: %w", raw.Topic, err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection
func (p *Publisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

// BuildMsg wraps a raw record in a NATS message for subject
func BuildMsg(subject string, raw models.RawRecord) *nats.Msg {
	msg := nats.NewMsg(subject)
	for k, v := range raw.Headers {
		msg.Header[k] = []string{v}
	}
	if len(raw.Key) > 0 {
		msg.Header[HeaderKey] = []string{string(raw.Key)}
	}
	if raw.Value == nil {
		msg.Header[HeaderTombstone] = []string{"true"}
	} else {
		msg.Data = raw.Value
	}
	return msg
}

// ParseMsg unwraps a NATS message. The topic is the subject without prefix.
func ParseMsg(msg *nats.Msg, prefix string) models.RawRecord {
	raw := models.RawRecord{
		Topic: strings.TrimPrefix(msg.Subject, prefix),
		Value: msg.Data,
	}
	for k, vs := range msg.Header {
		if len(vs) == 0 {
			continue
		}
		switch k {
		case HeaderKey:
			raw.Key = []byte(vs[0])
		case HeaderTombstone:
		default:
			if raw.Headers == nil {
				raw.Headers = make(map[string]string)
			}
			raw.Headers[k] = vs[0]
		}
	}
	if _, ok := msg.Header[HeaderTombstone]; ok {
		raw.Value = nil
	}
	return raw
}

// Subscriber reads records from every subject under a prefix
type Subscriber struct {
	sub    *nats.Subscription
	prefix string
	logger *logrus.Logger
}

// NewSubscriber subscribes to prefix + ">"
func NewSubscriber(conn *nats.Conn, prefix string, logger *logrus.Logger) (*Subscriber, error) {
	subject := prefix + ">"
	sub, err := conn.SubscribeSync(subject)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	logger.Infof("Subscribed to NATS subject %s", subject)

	return &Subscriber{
		sub:    sub,
		prefix: prefix,
		logger: logger,
	}, nil
}

// ReadRecords waits for the next message and returns it with any messages
// already buffered behind it
func (s *Subscriber) ReadRecords(ctx context.Context) ([]models.RawRecord, error) {
	msg, err := s.sub.NextMsgWithContext(ctx)
	if err != nil {
		return nil, err
	}
	records := []models.RawRecord{ParseMsg(msg, s.prefix)}

	for {
		pending, _, err := s.sub.Pending()
		if err != nil || pending == 0 {
			return records, nil
		}
		next, err := s.sub.NextMsg(time.Millisecond)
		if err != nil {
			return records, nil
		}
		records = append(records, ParseMsg(next, s.prefix))
	}
}

// Commit is a no-op: core NATS delivery has no acknowledgements
func (s *Subscriber) Commit(context.Context) error {
	return nil
}

// Close removes the subscription
func (s *Subscriber) Close() error {
	return s.sub.Unsubscribe()
}
