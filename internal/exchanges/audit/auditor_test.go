package audit

import (
	"context"
	"errors"
	"slotswapper/internal/exchanges/repository"
	"slotswapper/internal/exchanges/service"
	"slotswapper/pkg/config"
	"slotswapper/pkg/lock"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var auditBase = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func createSlot(t *testing.T, store repository.Store, owner string, offset int, state model.SlotState) *model.Slot {
	t.Helper()
	start := auditBase.Add(time.Duration(offset) * time.Hour)
	s := &model.Slot{OwnerID: owner, Title: "slot", StartTime: start, EndTime: start.Add(time.Hour), State: state}
	require.NoError(t, store.Slots().Create(context.Background(), s))
	return s
}

func kinds(violations []Violation) []string {
	out := make([]string, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.Kind)
	}
	return out
}

func TestRun_CleanAfterEngineOperations(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	cfg := &config.Config{Log: logger.Discard(), OperationTimeout: 5 * time.Second}
	engine := service.NewExchangeService(store, lock.NewKeyedMutex(time.Second), nil, cfg)

	a1 := createSlot(t, store, "alice", 0, model.SlotListed)
	b1 := createSlot(t, store, "bob", 1, model.SlotListed)
	a2 := createSlot(t, store, "alice", 2, model.SlotListed)
	b2 := createSlot(t, store, "bob", 3, model.SlotListed)

	open, err := engine.OpenExchange(ctx, "alice", a1.ID, b1.ID)
	require.NoError(t, err)
	_, err = engine.OpenExchange(ctx, "bob", b2.ID, a2.ID)
	require.NoError(t, err)
	_, err = engine.ResolveExchange(ctx, "bob", open.ID, true)
	require.NoError(t, err)

	violations, err := NewAuditor(store, logger.Discard()).Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestRun_ConsistentUnderConcurrentExchanges(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	cfg := &config.Config{Log: logger.Discard(), OperationTimeout: 5 * time.Second}
	engine := service.NewExchangeService(store, lock.NewKeyedMutex(time.Second), nil, cfg)
	auditor := NewAuditor(store, logger.Discard())

	const pairs, rounds = 10, 100
	type pair struct{ mine, theirs *model.Slot }
	legs := make([]pair, pairs)
	for i := range legs {
		legs[i] = pair{
			mine:   createSlot(t, store, "alice", 2*i, model.SlotListed),
			theirs: createSlot(t, store, "bob", 2*i+1, model.SlotListed),
		}
	}

	var wg sync.WaitGroup
	for _, p := range legs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range rounds {
				req, err := engine.OpenExchange(ctx, "alice", p.mine.ID, p.theirs.ID)
				if !assert.NoError(t, err) {
					return
				}
				if _, err := engine.ResolveExchange(ctx, "bob", req.ID, false); !assert.NoError(t, err) {
					return
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	audits := 0
	for {
		select {
		case <-done:
			assert.Positive(t, audits)
			return
		default:
		}
		violations, err := auditor.Run(ctx)
		require.NoError(t, err)
		require.Empty(t, violations, "audit %d saw a state no commit produced", audits)
		audits++
	}
}

func TestRun_ReportsEveryViolationKind(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()

	orphan := createSlot(t, store, "alice", 0, model.SlotReserved)

	listed := createSlot(t, store, "bob", 1, model.SlotListed)
	require.NoError(t, store.Claims().Claim(ctx, listed.ID, "ghost"))

	offered := createSlot(t, store, "carol", 2, model.SlotReserved)
	requested := createSlot(t, store, "dave", 3, model.SlotUnlisted)
	req := &model.ExchangeRequest{
		InitiatorID:     "carol",
		CounterpartyID:  "dave",
		OfferedSlotID:   offered.ID,
		RequestedSlotID: requested.ID,
		Status:          model.ExchangeOpen,
	}
	require.NoError(t, store.Requests().Create(ctx, req))
	require.NoError(t, store.Claims().Claim(ctx, offered.ID, "someone-else"))

	violations, err := NewAuditor(store, logger.Discard()).Run(ctx)
	require.NoError(t, err)

	got := kinds(violations)
	assert.Contains(t, got, KindReservedWithoutClaim)
	assert.Contains(t, got, KindClaimWithoutOpenRequest)
	assert.Contains(t, got, KindOpenRequestLegNotReserve)
	assert.Contains(t, got, KindClaimRequestMismatch)

	for _, v := range violations {
		switch v.Kind {
		case KindReservedWithoutClaim:
			assert.Equal(t, orphan.ID, v.SlotID)
		case KindOpenRequestLegNotReserve:
			assert.Equal(t, requested.ID, v.SlotID)
			assert.Equal(t, req.ID, v.RequestID)
		case KindClaimRequestMismatch:
			assert.Equal(t, offered.ID, v.SlotID)
		}
	}
}

type failingStore struct {
	repository.Store
}

func (failingStore) WithTransaction(context.Context, func(ctx context.Context) error) error {
	return errors.New("store offline")
}

func TestRun_StoreFailure(t *testing.T) {
	_, err := NewAuditor(failingStore{repository.NewMemoryStore()}, logger.Discard()).Run(context.Background())
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	a := NewAuditor(repository.NewMemoryStore(), logger.Discard())

	require.NoError(t, a.Start(""))
	a.Stop()

	assert.Error(t, a.Start("not a schedule"))

	require.NoError(t, a.Start("@every 1h"))
	assert.Error(t, a.Start("@every 1h"), "second start must be refused")
	a.Stop()
	a.Stop()
}
