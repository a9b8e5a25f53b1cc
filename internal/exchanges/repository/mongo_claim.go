package repository

import (
	"context"
	"errors"
	"fmt"
	"slotswapper/pkg/model"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// mongoClaimRepository relies on _id uniqueness: a second claim on the same
// slot fails with a duplicate key error.
type mongoClaimRepository struct {
	collection *mongo.Collection
	timeouts
}

func (r *mongoClaimRepository) Claim(ctx context.Context, slotID, requestID string) error {
	ctx, cancel := withTimeout(ctx, r.write)
	defer cancel()

	claim := model.SlotClaim{
		SlotID:    slotID,
		RequestID: requestID,
		ClaimedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := r.collection.InsertOne(ctx, claim); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: slot %s", ErrClaimed, slotID)
		}
		return fmt.Errorf("failed to claim slot: %w", err)
	}
	return nil
}

func (r *mongoClaimRepository) Release(ctx context.Context, slotID, requestID string) error {
	ctx, cancel := withTimeout(ctx, r.write)
	defer cancel()

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": slotID, "request_id": requestID})
	if err != nil {
		return fmt.Errorf("failed to release slot claim: %w", err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("%w: slot %s is not claimed by request %s", ErrConflict, slotID, requestID)
	}
	return nil
}

func (r *mongoClaimRepository) Lookup(ctx context.Context, slotID string) (*model.SlotClaim, error) {
	ctx, cancel := withTimeout(ctx, r.read)
	defer cancel()

	var claim model.SlotClaim
	err := r.collection.FindOne(ctx, bson.M{"_id": slotID}).Decode(&claim)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up slot claim: %w", err)
	}
	return &claim, nil
}

func (r *mongoClaimRepository) List(ctx context.Context) ([]*model.SlotClaim, error) {
	ctx, cancel := withTimeout(ctx, r.read)
	defer cancel()

	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list slot claims: %w", err)
	}
	defer cursor.Close(ctx)

	claims := []*model.SlotClaim{}
	if err = cursor.All(ctx, &claims); err != nil {
		return nil, fmt.Errorf("failed to decode slot claims: %w", err)
	}
	return claims, nil
}
