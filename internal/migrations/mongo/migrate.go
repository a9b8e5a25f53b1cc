package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"slotswapper/internal/exchanges/repository"
	"slotswapper/internal/migrations/mongo/validators"
	"slotswapper/pkg/logger"
)

var (
	SlotsIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "start_time", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "start_time", Value: 1}}},
	}

	ExchangeRequestsIndexes = []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "counterparty_id", Value: 1},
			{Key: "status", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "initiator_id", Value: 1},
			{Key: "created_at", Value: -1},
		}},
		{Keys: bson.D{{Key: "offered_slot_id", Value: 1}}},
		{Keys: bson.D{{Key: "requested_slot_id", Value: 1}}},
	}

	SlotClaimsIndexes = []mongo.IndexModel{
		{Keys: bson.D{{Key: "request_id", Value: 1}}},
	}

	// Expired lock documents are removed by Mongo; the locker also takes
	// over expired locks itself, so the TTL sweep is only housekeeping.
	SlotLocksIndexes = []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
)

type CollectionDef struct {
	Indexes   []mongo.IndexModel
	Validator bson.M
}

func Collections() map[string]CollectionDef {
	return map[string]CollectionDef{
		repository.SlotsCollection: {
			Indexes:   SlotsIndexes,
			Validator: validators.SlotValidator,
		},
		repository.ExchangeRequestsCollection: {
			Indexes:   ExchangeRequestsIndexes,
			Validator: validators.ExchangeRequestValidator,
		},
		repository.SlotClaimsCollection: {
			Indexes:   SlotClaimsIndexes,
			Validator: validators.SlotClaimValidator,
		},
		repository.SlotLocksCollection: {
			Indexes:   SlotLocksIndexes,
			Validator: validators.SlotLockValidator,
		},
	}
}

// RunMigration creates the collections up front; multi-document transactions
// cannot create collections implicitly.
func RunMigration(ctx context.Context, db *mongo.Database, log *logger.Logger) error {
	log.Info("Running Mongo migrations", "database", db.Name())

	for name, def := range Collections() {
		if err := ensureCollection(ctx, db, name, def.Validator, log); err != nil {
			return fmt.Errorf("failed to ensure collection %s: %w", name, err)
		}
		if err := ensureIndexes(ctx, db, name, def.Indexes, log); err != nil {
			return fmt.Errorf("failed to ensure indexes for %s: %w", name, err)
		}
	}

	log.Info("All migrations applied successfully")
	return nil
}

func ensureCollection(ctx context.Context, db *mongo.Database, name string, validator bson.M, log *logger.Logger) error {
	existing, err := db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return err
	}

	if len(existing) == 0 {
		log.Info("Creating collection", "collection", name)
		opts := options.CreateCollection().SetValidator(validator)
		if err := db.CreateCollection(ctx, name, opts); err != nil {
			return fmt.Errorf("failed creating %s: %w", name, err)
		}
		return nil
	}

	log.Info("Collection exists, updating validator", "collection", name)
	command := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: validator},
	}
	if err := db.RunCommand(ctx, command).Err(); err != nil {
		log.Warn("Failed updating validator", "collection", name, "error", err)
	}
	return nil
}

func ensureIndexes(ctx context.Context, db *mongo.Database, name string, models []mongo.IndexModel, log *logger.Logger) error {
	if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	log.Info("Ensured indexes", "collection", name, "count", len(models))
	return nil
}
