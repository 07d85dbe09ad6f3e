package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"cdc-router/internal/binlog"
	"cdc-router/internal/config"
	"cdc-router/internal/kafka"
	"cdc-router/internal/metrics"
	"cdc-router/internal/nats"
	"cdc-router/internal/normalizer"
	"cdc-router/internal/processor"
	"cdc-router/internal/reconciler"
	"cdc-router/internal/routing"
	"cdc-router/internal/sink"
	"cdc-router/internal/store/memstore"
	"cdc-router/internal/store/mongodb"
)

func newSourceCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "source",
		Usage: "consume Debezium change envelopes from Kafka and publish routed records to the change log",
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx, logger)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if len(cfg.Kafka.Brokers) == 0 || len(cfg.Kafka.SourceTopics) == 0 {
				return fmt.Errorf("source requires kafka brokers and source_topics")
			}

			m, stopMetrics := newMetrics(cfg.Metrics, logger)
			defer stopMetrics()

			proc, closePublisher, err := newProcessor(cCtx.Context, cfg, m, logger)
			if err != nil {
				return err
			}
			defer closePublisher()

			client, err := kafka.NewClient(cCtx.Context, cfg.Kafka, logger,
				kafka.ConsumeOptions(cfg.Kafka.SourceTopics, false, cfg.Kafka.ConsumerGroup)...)
			if err != nil {
				return err
			}
			consumer := kafka.NewConsumer(client, cfg.Kafka.ConsumerGroup != "", logger)
			defer consumer.Close()

			logger.Info("Starting change event source...")
			return run(cCtx.Context, logger, "source", func(ctx context.Context) error {
				return proc.Start(ctx, consumer)
			})
		},
	}
}

func newBinlogCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "binlog",
		Usage: "read row changes from a MySQL binlog and publish routed records to the change log",
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx, logger)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			m, stopMetrics := newMetrics(cfg.Metrics, logger)
			defer stopMetrics()

			proc, closePublisher, err := newProcessor(cCtx.Context, cfg, m, logger)
			if err != nil {
				return err
			}
			defer closePublisher()

			catalog, err := binlog.OpenCatalog(cCtx.Context, cfg.MySQL, logger)
			if err != nil {
				return err
			}
			defer catalog.Close()

			reader, err := binlog.NewReader(cfg.MySQL, cfg.Binlog, logger)
			if err != nil {
				return err
			}
			defer reader.Close()

			source := binlog.NewSource(reader, catalog, logger)

			logger.Info("Starting MySQL binlog source...")
			return run(cCtx.Context, logger, "binlog", func(ctx context.Context) error {
				return proc.StartEvents(ctx, source)
			})
		},
	}
}

func newSinkCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "sink",
		Usage: "reconcile routed change-log records into MongoDB write-intents and apply them",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "apply write-intents to an in-memory store instead of MongoDB",
			},
		},
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx, logger)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			m, stopMetrics := newMetrics(cfg.Metrics, logger)
			defer stopMetrics()

			var applier sink.Applier
			if cCtx.Bool("dry-run") {
				logger.Warn("Dry run: write-intents are applied to an in-memory store")
				applier = memstore.New()
			} else {
				writer, err := mongodb.Connect(cCtx.Context, cfg.MongoDB, logger)
				if err != nil {
					return err
				}
				defer writer.Close(context.Background())
				applier = writer
			}

			var reader sink.Reader
			var deadLetter sink.DeadLetter
			switch cfg.ChangeLog.Transport {
			case config.TransportNATS:
				conn, err := nats.Connect(cfg.NATS, logger)
				if err != nil {
					return err
				}
				publisher := nats.NewPublisher(conn, cfg.NATS.SubjectPrefix, cfg.ChangeLog.DeadLetter, logger)
				defer publisher.Close()

				sub, err := nats.NewSubscriber(conn, cfg.NATS.SubjectPrefix, logger)
				if err != nil {
					return err
				}
				defer sub.Close()
				reader, deadLetter = sub, publisher

			default:
				if len(cfg.Kafka.SinkTopics) == 0 {
					return fmt.Errorf("sink requires kafka sink_topics")
				}
				client, err := kafka.NewClient(cCtx.Context, cfg.Kafka, logger,
					kafka.ConsumeOptions(cfg.Kafka.SinkTopics, true, cfg.Kafka.ConsumerGroup)...)
				if err != nil {
					return err
				}
				consumer := kafka.NewConsumer(client, cfg.Kafka.ConsumerGroup != "", logger)
				defer consumer.Close()

				producerClient, err := kafka.NewClient(cCtx.Context, cfg.Kafka, logger)
				if err != nil {
					return err
				}
				producer := kafka.NewProducer(producerClient, cfg.ChangeLog.DeadLetter, logger)
				defer producer.Close(context.Background())
				reader, deadLetter = consumer, producer
			}

			opts := reconciler.OptionsFromConfig(cfg.Reconcile)
			logger.Infof("Reconciling with key_mode=%s delete_mode=%s", opts.KeyMode, opts.DeleteMode)
			s := sink.New(reconciler.New(opts), applier, deadLetter, m, logger)

			return run(cCtx.Context, logger, "sink", func(ctx context.Context) error {
				return s.Start(ctx, reader)
			})
		},
	}
}

func newCheckMySQLCommand(logger *logrus.Logger) *cli.Command {
	return &cli.Command{
		Name:  "check-mysql",
		Usage: "verify MySQL connectivity, replication grants and binlog settings",
		Action: func(cCtx *cli.Context) error {
			cfg, err := loadConfig(cCtx, logger)
			if err != nil {
				return err
			}
			if err := binlog.NewChecker(cfg.MySQL, logger).Check(cCtx.Context); err != nil {
				return fmt.Errorf("MySQL check failed: %w", err)
			}
			logger.Info("MySQL check passed")
			return nil
		},
	}
}

// newProcessor builds the source-side stage and its change-log publisher
func newProcessor(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *logrus.Logger) (*processor.Processor, func(), error) {
	resolver, err := newResolver(cfg.Routing, logger)
	if err != nil {
		return nil, nil, err
	}

	var publisher processor.Publisher
	var closePublisher func()
	switch cfg.ChangeLog.Transport {
	case config.TransportNATS:
		conn, err := nats.Connect(cfg.NATS, logger)
		if err != nil {
			return nil, nil, err
		}
		p := nats.NewPublisher(conn, cfg.NATS.SubjectPrefix, cfg.ChangeLog.DeadLetter, logger)
		publisher, closePublisher = p, p.Close
	default:
		client, err := kafka.NewClient(ctx, cfg.Kafka, logger)
		if err != nil {
			return nil, nil, err
		}
		p := kafka.NewProducer(client, cfg.ChangeLog.DeadLetter, logger)
		publisher, closePublisher = p, func() { p.Close(context.Background()) }
	}

	proc := processor.NewProcessor(
		publisher,
		newNormalizer(cfg.Normalization, logger),
		processor.NewTransformer(resolver, logger),
		m,
		logger,
	)
	return proc, closePublisher, nil
}

func newNormalizer(cfg config.NormalizationConfig, logger *logrus.Logger) *normalizer.Normalizer {
	dialect, ok := normalizer.DialectFor(cfg.Mode)
	if !ok {
		logger.Warnf("Unknown normalization mode %q, using %s", cfg.Mode, dialect.Name())
	}
	if !cfg.IsEnabled() {
		logger.Info("Type normalization disabled")
	}
	return normalizer.New(cfg.IsEnabled(), dialect)
}

func newResolver(cfg config.RoutingConfig, logger *logrus.Logger) (routing.Resolver, error) {
	resolver, err := routing.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up routing: %w", err)
	}
	return resolver, nil
}
