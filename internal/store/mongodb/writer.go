package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"cdc-router/internal/config"
	"cdc-router/internal/models"
	"cdc-router/internal/wire"
)

// Writer applies write-intents to a MongoDB database
type Writer struct {
	client       *mongo.Client
	database     *mongo.Database
	writeTimeout time.Duration
	logger       *logrus.Logger
}

// Connect creates a client for cfg and verifies the connection
func Connect(ctx context.Context, cfg config.MongoDBConfig, logger *logrus.Logger) (*Writer, error) {
	opt := options.Client().
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(30 * time.Second).
		ApplyURI(cfg.URL)

	if cfg.Username != "" && cfg.Password != "" {
		opt.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	client, err := mongo.Connect(opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create mongodb client: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	logger.Infof("Connected to MongoDB database %s", cfg.Database)

	return &Writer{
		client:       client,
		database:     client.Database(cfg.Database),
		writeTimeout: cfg.WriteTimeout,
		logger:       logger,
	}, nil
}

// Apply writes intents in order. Consecutive intents for the same
// collection are sent as one ordered bulk write.
func (w *Writer) Apply(ctx context.Context, intents ...models.WriteIntent) error {
	for start := 0; start < len(intents); {
		end := start + 1
		for end < len(intents) && intents[end].Collection == intents[start].Collection {
			end++
		}

		writeModels := make([]mongo.WriteModel, 0, end-start)
		for _, intent := range intents[start:end] {
			model, err := WriteModel(intent)
			if err != nil {
				return err
			}
			writeModels = append(writeModels, model)
		}
		if err := w.bulkWrite(ctx, intents[start].Collection, writeModels); err != nil {
			return err
		}
		start = end
	}
	return nil
}

func (w *Writer) bulkWrite(ctx context.Context, collection string, writeModels []mongo.WriteModel) error {
	if w.writeTimeout != 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, w.writeTimeout)
		defer cancel()
	}

	result, err := w.database.Collection(collection).
		BulkWrite(ctx, writeModels, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("failed to write %d intents to %s: %w", len(writeModels), collection, err)
	}

	w.logger.Debugf("Applied %d intents to %s (upserted %d, modified %d, deleted %d)",
		len(writeModels), collection, result.UpsertedCount, result.ModifiedCount, result.DeletedCount)
	return nil
}

// Close disconnects the client
func (w *Writer) Close(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	err := w.client.Disconnect(ctx)
	w.client = nil
	return err
}

// WriteModel translates one intent into a bulk write model
func WriteModel(intent models.WriteIntent) (mongo.WriteModel, error) {
	if len(intent.Filter) == 0 {
		return nil, fmt.Errorf("refusing %s on %s without a filter", intent.Kind, intent.Collection)
	}
	filter := FilterDocument(intent.Filter)

	switch intent.Kind {
	case models.IntentUpsert:
		return mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(UpdateDocument(intent.Document, intent.Filter)).
			SetUpsert(true), nil
	case models.IntentMarkDeleted:
		return mongo.NewUpdateOneModel().
			SetFilter(filter).
			SetUpdate(UpdateDocument(intent.Document, intent.Filter)).
			SetUpsert(false), nil
	case models.IntentDelete:
		return mongo.NewDeleteOneModel().SetFilter(filter), nil
	default:
		return nil, fmt.Errorf("unsupported write intent kind %d", intent.Kind)
	}
}

// FilterDocument builds the match document: a single equality for one
// predicate, an $and conjunction for several
func FilterDocument(filter []models.Predicate) bson.D {
	if len(filter) == 1 {
		return bson.D{{Key: filter[0].Path, Value: wire.BSONValue(filter[0].Value)}}
	}

	clauses := make(bson.A, 0, len(filter))
	for _, p := range filter {
		clauses = append(clauses, bson.D{{Key: p.Path, Value: wire.BSONValue(p.Value)}})
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

// UpdateDocument wraps the fields to write in a $set operator. An empty
// document sets the filter fields, since $set must not be empty.
func UpdateDocument(document models.Row, filter []models.Predicate) bson.D {
	set := wire.ToBSON(document)
	if len(set) == 0 {
		set = make(bson.D, 0, len(filter))
		for _, p := range filter {
			set = append(set, bson.E{Key: p.Path, Value: wire.BSONValue(p.Value)})
		}
	}
	return bson.D{{Key: "$set", Value: set}}
}
