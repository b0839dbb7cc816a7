package dedup

import (
	"context"
	"time"

	"plane-relay/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStore persists delivery records so dedup survives restarts and works
// across processes (required for queue mode, where the worker runs separately
// from the receiving server).
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       Options
	logger     *zap.Logger
}

func NewMongoStore(ctx context.Context, uri, database, collection string, opts Options, logger *zap.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).
		SetMaxPoolSize(100).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, err
	}

	logger.Info("Connected to MongoDB delivery-record store",
		zap.String("database", database),
		zap.String("collection", collection),
	)

	coll := client.Database(database).Collection(collection)

	// TTL index implements the retention sweep server-side; it only ever
	// matches terminal records because updated_at is refreshed on commit.
	o := opts.withDefaults()
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().
				SetExpireAfterSeconds(int32(o.Retention.Seconds())).
				SetPartialFilterExpression(bson.M{"in_flight": false}),
		},
	}
	if _, err := coll.Indexes().CreateMany(connectCtx, indexes); err != nil {
		return nil, err
	}

	return &MongoStore{
		client:     client,
		collection: coll,
		opts:       o,
		logger:     logger,
	}, nil
}

// Claim races on a single conditional upsert: the filter only matches ids
// that are reclaimable, so a concurrent claim for the same id falls through
// to the insert path and hits the _id unique index.
func (s *MongoStore) Claim(ctx context.Context, eventID string) error {
	now := time.Now().UTC()
	expiredBefore := now.Add(-s.opts.ClaimTTL)

	filter := bson.M{
		"_id": eventID,
		"$or": bson.A{
			bson.M{"outcome": models.OutcomeFailed, "in_flight": false},
			bson.M{"in_flight": true, "claimed_at": bson.M{"$lt": expiredBefore}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"in_flight":  true,
			"claimed_at": now,
			"updated_at": now,
		},
		"$unset": bson.M{"outcome": ""},
	}

	opts := options.Update().SetUpsert(true)
	_, err := s.collection.UpdateOne(ctx, filter, update, opts)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}

	// The id exists and is not reclaimable: tell the caller which way.
	var rec models.DeliveryRecord
	if ferr := s.collection.FindOne(ctx, bson.M{"_id": eventID}).Decode(&rec); ferr != nil {
		return ErrInFlight
	}
	if rec.Outcome == models.OutcomeDelivered {
		return ErrDuplicate
	}
	return ErrInFlight
}

func (s *MongoStore) Commit(ctx context.Context, eventID string, outcome models.DeliveryOutcome) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"outcome":    outcome,
			"in_flight":  false,
			"updated_at": now,
		},
	}
	opts := options.Update().SetUpsert(true)
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": eventID}, update, opts)
	if err != nil {
		s.logger.Error("Failed to commit delivery record",
			zap.Error(err),
			zap.String("event_id", eventID),
			zap.String("outcome", string(outcome)))
	}
	return err
}

func (s *MongoStore) Release(ctx context.Context, eventID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": eventID, "in_flight": true})
	return err
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
