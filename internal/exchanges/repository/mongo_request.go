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

type mongoRequestRepository struct {
	collection *mongo.Collection
	timeouts
}

func (r *mongoRequestRepository) Create(ctx context.Context, req *model.ExchangeRequest) error {
	ctx, cancel := withTimeout(ctx, r.write)
	defer cancel()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC().Truncate(time.Millisecond)
	req.CreatedAt = now
	req.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, req); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: request %s already exists", ErrConflict, req.ID)
		}
		return fmt.Errorf("failed to create exchange request: %w", err)
	}
	return nil
}

func (r *mongoRequestRepository) FindByID(ctx context.Context, id string) (*model.ExchangeRequest, error) {
	ctx, cancel := withTimeout(ctx, r.read)
	defer cancel()

	var req model.ExchangeRequest
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&req)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find exchange request: %w", err)
	}
	return &req, nil
}

func (r *mongoRequestRepository) Find(ctx context.Context, filter ExchangeRequestFilter) ([]*model.ExchangeRequest, error) {
	ctx, cancel := withTimeout(ctx, r.read)
	defer cancel()

	opts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "_id", Value: -1},
	})

	cursor, err := r.collection.Find(ctx, requestQuery(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find exchange requests: %w", err)
	}
	defer cursor.Close(ctx)

	reqs := []*model.ExchangeRequest{}
	if err = cursor.All(ctx, &reqs); err != nil {
		return nil, fmt.Errorf("failed to decode exchange requests: %w", err)
	}
	return reqs, nil
}

func (r *mongoRequestRepository) UpdateStatusIf(ctx context.Context, from model.ExchangeStatus, req *model.ExchangeRequest) error {
	ctx, cancel := withTimeout(ctx, r.write)
	defer cancel()

	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}
	set := bson.M{
		"status":     req.Status,
		"updated_at": req.UpdatedAt,
	}
	if req.ResolvedAt != nil {
		set["resolved_at"] = *req.ResolvedAt
	}

	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": req.ID, "status": from}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update exchange request: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%w: request %s is no longer %s", ErrConflict, req.ID, from)
	}
	return nil
}

func requestQuery(f ExchangeRequestFilter) bson.M {
	query := bson.M{}
	if f.InitiatorID != "" {
		query["initiator_id"] = f.InitiatorID
	}
	if f.CounterpartyID != "" {
		query["counterparty_id"] = f.CounterpartyID
	}
	if len(f.Statuses) > 0 {
		query["status"] = bson.M{"$in": f.Statuses}
	}
	if f.SlotID != "" {
		query["$or"] = bson.A{
			bson.M{"offered_slot_id": f.SlotID},
			bson.M{"requested_slot_id": f.SlotID},
		}
	}
	return query
}
