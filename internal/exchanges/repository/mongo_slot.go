package repository

import (
	"context"
	"errors"
	"fmt"
	"slotswapper/pkg/model"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoSlotRepository struct {
	collection *mongo.Collection
	timeouts
}

func (r *mongoSlotRepository) Create(ctx context.Context, slot *model.Slot) error {
	ctx, cancel := withTimeout(ctx, r.write)
	defer cancel()

	if slot.ID == "" {
		slot.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	slot.Version = 1
	slot.CreatedAt = now
	slot.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, slot); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: slot %s already exists", ErrConflict, slot.ID)
		}
		return fmt.Errorf("failed to create slot: %w", err)
	}
	return nil
}

func (r *mongoSlotRepository) FindByID(ctx context.Context, id string) (*model.Slot, error) {
	ctx, cancel := withTimeout(ctx, r.read)
	defer cancel()

	var slot model.Slot
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&slot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find slot: %w", err)
	}
	return &slot, nil
}

func (r *mongoSlotRepository) Find(ctx context.Context, filter SlotFilter, page model.Page) ([]*model.Slot, error) {
	ctx, cancel := withTimeout(ctx, r.read)
	defer cancel()

	opts := options.Find().SetSort(bson.D{
		{Key: "start_time", Value: 1},
		{Key: "_id", Value: 1},
	})
	if page.Offset > 0 {
		opts.SetSkip(page.Offset)
	}
	if page.Bounded() {
		opts.SetLimit(int64(page.Limit))
	}

	cursor, err := r.collection.Find(ctx, slotQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find slots: %w", err)
	}
	defer cursor.Close(ctx)

	slots := []*model.Slot{}
	if err = cursor.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("failed to decode slots: %w", err)
	}
	return slots, nil
}

func (r *mongoSlotRepository) Count(ctx context.Context, filter SlotFilter) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.read)
	defer cancel()

	count, err := r.collection.CountDocuments(ctx, slotQuery(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count slots: %w", err)
	}
	return count, nil
}

func (r *mongoSlotRepository) CompareAndSwap(ctx context.Context, expected, next *model.Slot) error {
	ctx, cancel := withTimeout(ctx, r.write)
	defer cancel()

	now := time.Now().UTC().Truncate(time.Millisecond)
	filter := bson.M{
		"_id":      expected.ID,
		"version":  expected.Version,
		"state":    expected.State,
		"owner_id": expected.OwnerID,
	}
	update := bson.M{
		"$set": bson.M{
			"owner_id":   next.OwnerID,
			"title":      next.Title,
			"start_time": next.StartTime,
			"end_time":   next.EndTime,
			"state":      next.State,
			"updated_at": now,
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update slot: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: slot %s", ErrConflict, expected.ID)
	}

	next.ID = expected.ID
	next.Version = expected.Version + 1
	next.UpdatedAt = now
	next.CreatedAt = expected.CreatedAt
	return nil
}

func (r *mongoSlotRepository) DeleteIf(ctx context.Context, expected *model.Slot) error {
	ctx, cancel := withTimeout(ctx, r.write)
	defer cancel()

	filter := bson.M{
		"_id":     expected.ID,
		"version": expected.Version,
		"state":   bson.M{"$ne": model.SlotReserved},
	}
	result, err := r.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete slot: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: slot %s", ErrConflict, expected.ID)
	}
	return nil
}

func slotQuery(f SlotFilter) bson.M {
	query := bson.M{}
	if len(f.IDs) > 0 {
		query["_id"] = bson.M{"$in": f.IDs}
	}
	switch {
	case f.OwnerID != "" && f.ExcludeOwnerID != "":
		query["owner_id"] = bson.M{"$eq": f.OwnerID, "$ne": f.ExcludeOwnerID}
	case f.OwnerID != "":
		query["owner_id"] = f.OwnerID
	case f.ExcludeOwnerID != "":
		query["owner_id"] = bson.M{"$ne": f.ExcludeOwnerID}
	}
	if len(f.States) > 0 {
		query["state"] = bson.M{"$in": f.States}
	}
	return query
}
