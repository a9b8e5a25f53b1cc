package repository

import (
	"context"
	"os"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// These tests need a replica set (transactions). Set TEST_MONGO_URI to run them.
func mongoTestDatabase(t *testing.T) (*mongo.Client, *mongo.Database) {
	t.Helper()
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	require.NoError(t, client.Ping(ctx, nil))

	db := client.Database("slotswapper_test_" + uuid.NewString()[:8])
	for _, name := range []string{SlotsCollection, ExchangeRequestsCollection, SlotClaimsCollection, SlotLocksCollection} {
		require.NoError(t, db.CreateCollection(ctx, name))
	}

	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	return client, db
}

func TestMongoStore_TransactionAndClaims(t *testing.T) {
	client, db := mongoTestDatabase(t)
	store := NewMongoStoreWithDatabase(client, db, 5*time.Second, 5*time.Second)
	ctx := context.Background()

	s := newSlot("alice", time.Now().UTC(), model.SlotListed)
	require.NoError(t, store.Slots().Create(ctx, s))

	err := store.WithTransaction(ctx, func(ctx context.Context) error {
		cur, err := store.Slots().FindByID(ctx, s.ID)
		if err != nil {
			return err
		}
		next := *cur
		next.State = model.SlotReserved
		if err := store.Slots().CompareAndSwap(ctx, cur, &next); err != nil {
			return err
		}
		return store.Claims().Claim(ctx, s.ID, "r1")
	})
	require.NoError(t, err)

	got, err := store.Slots().FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotReserved, got.State)
	assert.Equal(t, int64(2), got.Version)

	assert.ErrorIs(t, store.Claims().Claim(ctx, s.ID, "r2"), ErrClaimed)
	assert.ErrorIs(t, store.Slots().DeleteIf(ctx, got), ErrConflict)

	found, err := store.Slots().Find(ctx, SlotFilter{States: []model.SlotState{model.SlotReserved}}, model.Page{})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestMongoSlotLocker(t *testing.T) {
	_, db := mongoTestDatabase(t)
	locker := NewMongoSlotLockerWithCollection(db.Collection(SlotLocksCollection), time.Second, 100*time.Millisecond, 10*time.Millisecond, logger.Discard())
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "b", "a")
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "a")
	assert.Error(t, err, "held lock must time out")

	release()
	release2, err := locker.Acquire(ctx, "a", "b")
	require.NoError(t, err)
	release2()
}
