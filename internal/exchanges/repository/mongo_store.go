package repository

import (
	"context"
	"slotswapper/pkg/config"
	mongotx "slotswapper/pkg/db/mongo"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	SlotsCollection            = "Slots"
	ExchangeRequestsCollection = "Exchange_requests"
	SlotClaimsCollection       = "Slot_claims"
	SlotLocksCollection        = "Slot_locks"
)

type mongoStore struct {
	client    *mongo.Client
	slots     *mongoSlotRepository
	requests  *mongoRequestRepository
	claims    *mongoClaimRepository
	txManager mongotx.TransactionManager
}

func NewMongoStore(cfg *config.Config) Store {
	return NewMongoStoreWithDatabase(
		cfg.Client.Mongo.Client,
		cfg.Client.Mongo.Client.Database(cfg.MongoDatabaseName),
		cfg.ReadTimeout,
		cfg.WriteTimeout,
	)
}

func NewMongoStoreWithDatabase(client *mongo.Client, db *mongo.Database, readTimeout, writeTimeout time.Duration) Store {
	t := timeouts{read: readTimeout, write: writeTimeout}
	return &mongoStore{
		client:    client,
		slots:     &mongoSlotRepository{collection: db.Collection(SlotsCollection), timeouts: t},
		requests:  &mongoRequestRepository{collection: db.Collection(ExchangeRequestsCollection), timeouts: t},
		claims:    &mongoClaimRepository{collection: db.Collection(SlotClaimsCollection), timeouts: t},
		txManager: mongotx.NewTransactionManager(client),
	}
}

func (s *mongoStore) Slots() SlotRepository               { return s.slots }
func (s *mongoStore) Requests() ExchangeRequestRepository { return s.requests }
func (s *mongoStore) Claims() ClaimRepository             { return s.claims }

func (s *mongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.txManager.ExecuteTransaction(ctx, fn)
}

func (s *mongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

type timeouts struct {
	read  time.Duration
	write time.Duration
}

// withTimeout bounds a single collection call. Inside a transaction the
// context is returned unchanged; the transaction owns the deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if mongotx.InTransaction(ctx) || timeout <= 0 {
		return ctx, func() {}
	}

	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline && time.Until(deadline) < timeout {
		return context.WithDeadline(ctx, deadline)
	}
	return context.WithTimeout(ctx, timeout)
}
