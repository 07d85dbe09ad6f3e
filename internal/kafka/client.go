package kafka

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/twmb/franz-go/pkg/kgo"

	"cdc-router/internal/config"
)

// NewClient creates a franz-go client for the configured brokers. Extra
// options select the topics to consume.
func NewClient(ctx context.Context, cfg config.KafkaConfig, logger *logrus.Logger, opts ...kgo.Opt) (*kgo.Client, error) {
	clientOpts := append([]kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.WithLogger(&kgoLogger{logger: logger}),
	}, opts...)

	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to kafka cluster: %w", err)
	}

	logger.Infof("Connected to Kafka at %v", cfg.Brokers)
	return client, nil
}

// ConsumeOptions returns the options for consuming topics. Topics are
// treated as regular expressions when regex is set; a consumer group
// enables manual offset commits.
func ConsumeOptions(topics []string, regex bool, group string) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.ConsumeTopics(topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if regex {
		opts = append(opts, kgo.ConsumeRegex())
	}
	if group != "" {
		opts = append(opts,
			kgo.ConsumerGroup(group),
			kgo.DisableAutoCommit(),
		)
	}
	return opts
}

// kgoLogger forwards client logs to logrus
type kgoLogger struct {
	logger *logrus.Logger
}

func (l *kgoLogger) Level() kgo.LogLevel {
	switch l.logger.GetLevel() {
	case logrus.TraceLevel, logrus.DebugLevel:
		return kgo.LogLevelDebug
	case logrus.InfoLevel:
		return kgo.LogLevelInfo
	case logrus.WarnLevel:
		return kgo.LogLevelWarn
	default:
		return kgo.LogLevelError
	}
}

func (l *kgoLogger) Log(level kgo.LogLevel, msg string, keyvals ...interface{}) {
	fields := make(logrus.Fields, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		fields[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	entry := l.logger.WithFields(fields)

	switch level {
	case kgo.LogLevelError:
		entry.Error(msg)
	case kgo.LogLevelWarn:
		entry.Warn(msg)
	case kgo.LogLevelInfo:
		entry.Info(msg)
	case kgo.LogLevelDebug:
		entry.Debug(msg)
	}
}
