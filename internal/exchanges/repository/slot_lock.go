package repository

import (
	"context"
	"errors"
	"fmt"
	"slotswapper/pkg/config"
	"slotswapper/pkg/lock"
	"slotswapper/pkg/logger"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type slotLock struct {
	ID        string    `bson:"_id"`
	Owner     string    `bson:"owner"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}

// MongoSlotLocker is an advisory lock shared by every replica. Each slot has
// at most one lock document; a holder that dies leaves a document whose
// expires_at lets the next caller take it over, and the TTL index removes it
// eventually.
type MongoSlotLocker struct {
	collection    *mongo.Collection
	ttl           time.Duration
	waitTimeout   time.Duration
	retryInterval time.Duration
	log           *logger.Logger
}

func NewMongoSlotLocker(cfg *config.Config) *MongoSlotLocker {
	db := cfg.Client.Mongo.Client.Database(cfg.MongoDatabaseName)
	return NewMongoSlotLockerWithCollection(
		db.Collection(SlotLocksCollection),
		cfg.LockTTL,
		cfg.LockWaitTimeout,
		cfg.LockRetryInterval,
		cfg.Log,
	)
}

func NewMongoSlotLockerWithCollection(collection *mongo.Collection, ttl, waitTimeout, retryInterval time.Duration, log *logger.Logger) *MongoSlotLocker {
	return &MongoSlotLocker{
		collection:    collection,
		ttl:           ttl,
		waitTimeout:   waitTimeout,
		retryInterval: retryInterval,
		log:           log,
	}
}

func lockID(slotID string) string {
	return "slot_lock_" + slotID
}

func (l *MongoSlotLocker) Acquire(ctx context.Context, keys ...string) (lock.Release, error) {
	ctx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()

	owner := uuid.NewString()
	ordered := lock.Canonical(keys)
	held := make([]string, 0, len(ordered))

	for _, key := range ordered {
		if err := l.acquireOne(ctx, lockID(key), owner); err != nil {
			l.releaseAll(held, owner)
			return nil, err
		}
		held = append(held, lockID(key))
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.releaseAll(held, owner) })
	}, nil
}

func (l *MongoSlotLocker) acquireOne(ctx context.Context, id, owner string) error {
	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		now := time.Now().UTC()
		_, err := l.collection.InsertOne(ctx, slotLock{
			ID:        id,
			Owner:     owner,
			ExpiresAt: now.Add(l.ttl),
			CreatedAt: now,
		})
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			if ctx.Err() != nil {
				return waitError(ctx)
			}
			return fmt.Errorf("failed to acquire slot lock %s: %w", id, err)
		}

		stolen, err := l.takeExpired(ctx, id, owner, now)
		if err != nil {
			if ctx.Err() != nil {
				return waitError(ctx)
			}
			return err
		}
		if stolen {
			l.log.Warn("Took over expired slot lock", "lock_id", id)
			return nil
		}

		select {
		case <-ctx.Done():
			return waitError(ctx)
		case <-ticker.C:
		}
	}
}

func (l *MongoSlotLocker) takeExpired(ctx context.Context, id, owner string, now time.Time) (bool, error) {
	result, err := l.collection.UpdateOne(ctx,
		bson.M{"_id": id, "expires_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{
			"owner":      owner,
			"expires_at": now.Add(l.ttl),
			"created_at": now,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to take over slot lock %s: %w", id, err)
	}
	return result.ModifiedCount == 1, nil
}

func (l *MongoSlotLocker) releaseAll(ids []string, owner string) {
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.waitTimeout)
	defer cancel()

	for i := len(ids) - 1; i >= 0; i-- {
		if _, err := l.collection.DeleteOne(ctx, bson.M{"_id": ids[i], "owner": owner}); err != nil {
			l.log.Warn("Failed to release slot lock", "lock_id", ids[i], "error", err)
		}
	}
}

func waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return lock.ErrTimeout
	}
	return ctx.Err()
}
