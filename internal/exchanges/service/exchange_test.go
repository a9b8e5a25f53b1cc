package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	exchangeserrors "slotswapper/internal/exchanges/errors"
	"slotswapper/internal/exchanges/repository"
	"slotswapper/pkg/config"
	apperrors "slotswapper/pkg/errors"
	"slotswapper/pkg/lock"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mu        sync.Mutex
	events    []model.ExchangeEvent
	PublishFn func(ctx context.Context, event model.ExchangeEvent) error
}

func (m *mockPublisher) Publish(ctx context.Context, event model.ExchangeEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.PublishFn != nil {
		return m.PublishFn(ctx, event)
	}
	return nil
}

func (m *mockPublisher) Close() error { return nil }

func (m *mockPublisher) types() []model.ExchangeEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ExchangeEventType, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

type mockLocker struct {
	AcquireFn func(ctx context.Context, keys ...string) (lock.Release, error)
}

func (m *mockLocker) Acquire(ctx context.Context, keys ...string) (lock.Release, error) {
	return m.AcquireFn(ctx, keys...)
}

type fixture struct {
	store     *repository.MemoryStore
	publisher *mockPublisher
	svc       ExchangeService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLocker(t, lock.NewKeyedMutex(2*time.Second))
}

func newFixtureWithLocker(t *testing.T, locker lock.Locker) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	publisher := &mockPublisher{}
	cfg := &config.Config{Log: logger.Discard(), OperationTimeout: 5 * time.Second}
	return &fixture{
		store:     store,
		publisher: publisher,
		svc:       NewExchangeService(store, locker, publisher, cfg),
	}
}

var slotBase = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func (f *fixture) slot(t *testing.T, owner string, state model.SlotState) *model.Slot {
	t.Helper()
	s := &model.Slot{
		OwnerID:   owner,
		Title:     owner + "'s slot",
		StartTime: slotBase,
		EndTime:   slotBase.Add(time.Hour),
		State:     state,
	}
	slotBase = slotBase.Add(2 * time.Hour)
	require.NoError(t, f.store.Slots().Create(context.Background(), s))
	return s
}

func (f *fixture) get(t *testing.T, id string) *model.Slot {
	t.Helper()
	s, err := f.store.Slots().FindByID(context.Background(), id)
	require.NoError(t, err)
	return s
}

// checkInvariant asserts a slot is RESERVED exactly when one OPEN request
// references it, and that the claim index agrees.
func (f *fixture) checkInvariant(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	open, err := f.store.Requests().Find(ctx, repository.ExchangeRequestFilter{Statuses: []model.ExchangeStatus{model.ExchangeOpen}})
	require.NoError(t, err)
	refs := map[string][]string{}
	for _, req := range open {
		for _, id := range req.Legs() {
			refs[id] = append(refs[id], req.ID)
		}
	}

	slots, err := f.store.Slots().Find(ctx, repository.SlotFilter{}, model.Page{})
	require.NoError(t, err)
	for _, s := range slots {
		if s.State == model.SlotReserved {
			assert.Len(t, refs[s.ID], 1, "reserved slot %s must have exactly one open request", s.ID)
			claim, err := f.store.Claims().Lookup(ctx, s.ID)
			if assert.NoError(t, err, "reserved slot %s must be claimed", s.ID) && len(refs[s.ID]) == 1 {
				assert.Equal(t, refs[s.ID][0], claim.RequestID)
			}
		} else {
			assert.Empty(t, refs[s.ID], "slot %s is %s but referenced by an open request", s.ID, s.State)
			_, err := f.store.Claims().Lookup(ctx, s.ID)
			assert.ErrorIs(t, err, repository.ErrNotFound, "unreserved slot %s must not be claimed", s.ID)
		}
	}

	claims, err := f.store.Claims().List(ctx)
	require.NoError(t, err)
	assert.Len(t, claims, 2*len(open))
}

func TestOpenExchange_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.slot(t, "alice", model.SlotListed)
	theirs := f.slot(t, "bob", model.SlotListed)

	req, err := f.svc.OpenExchange(ctx, "alice", mine.ID, theirs.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, model.ExchangeOpen, req.Status)
	assert.Equal(t, "alice", req.InitiatorID)
	assert.Equal(t, "bob", req.CounterpartyID)
	assert.Nil(t, req.ResolvedAt)

	for _, id := range []string{mine.ID, theirs.ID} {
		s := f.get(t, id)
		assert.Equal(t, model.SlotReserved, s.State)
		assert.Equal(t, int64(2), s.Version)
		claim, err := f.store.Claims().Lookup(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, req.ID, claim.RequestID)
	}
	assert.Equal(t, []model.ExchangeEventType{model.EventExchangeOpened}, f.publisher.types())
	f.checkInvariant(t)
}

func TestOpenExchange_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture) (caller, offered, requested string)
		want  error
	}{
		{
			name: "offered slot missing",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				return "alice", "missing", f.slot(t, "bob", model.SlotListed).ID
			},
			want: exchangeserrors.ErrNotOwner,
		},
		{
			name: "offered slot owned by someone else",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				return "alice", f.slot(t, "carol", model.SlotListed).ID, f.slot(t, "bob", model.SlotListed).ID
			},
			want: exchangeserrors.ErrNotOwner,
		},
		{
			name: "requested slot missing",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				return "alice", f.slot(t, "alice", model.SlotListed).ID, "missing"
			},
			want: exchangeserrors.ErrSlotNotFound,
		},
		{
			name: "self trade",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				return "alice", f.slot(t, "alice", model.SlotListed).ID, f.slot(t, "alice", model.SlotListed).ID
			},
			want: exchangeserrors.ErrSelfTrade,
		},
		{
			name: "same slot on both legs",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				id := f.slot(t, "alice", model.SlotListed).ID
				return "alice", id, id
			},
			want: exchangeserrors.ErrSelfTrade,
		},
		{
			name: "offered slot unlisted",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				return "alice", f.slot(t, "alice", model.SlotUnlisted).ID, f.slot(t, "bob", model.SlotListed).ID
			},
			want: exchangeserrors.ErrNotListed,
		},
		{
			name: "requested slot unlisted",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				return "alice", f.slot(t, "alice", model.SlotListed).ID, f.slot(t, "bob", model.SlotUnlisted).ID
			},
			want: exchangeserrors.ErrNotListed,
		},
		{
			name: "requested slot already in an open exchange",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				target := f.slot(t, "bob", model.SlotListed)
				_, err := f.svc.OpenExchange(context.Background(), "carol", f.slot(t, "carol", model.SlotListed).ID, target.ID)
				require.NoError(t, err)
				return "alice", f.slot(t, "alice", model.SlotListed).ID, target.ID
			},
			want: exchangeserrors.ErrSlotBusy,
		},
		{
			name: "offered slot already in an open exchange",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				mine := f.slot(t, "alice", model.SlotListed)
				_, err := f.svc.OpenExchange(context.Background(), "alice", mine.ID, f.slot(t, "carol", model.SlotListed).ID)
				require.NoError(t, err)
				return "alice", mine.ID, f.slot(t, "bob", model.SlotListed).ID
			},
			want: exchangeserrors.ErrSlotBusy,
		},
		{
			name: "ownership checked before listing",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				return "alice", f.slot(t, "carol", model.SlotUnlisted).ID, f.slot(t, "bob", model.SlotUnlisted).ID
			},
			want: exchangeserrors.ErrNotOwner,
		},
		{
			name: "unlisted reported before busy",
			setup: func(t *testing.T, f *fixture) (string, string, string) {
				target := f.slot(t, "bob", model.SlotListed)
				_, err := f.svc.OpenExchange(context.Background(), "carol", f.slot(t, "carol", model.SlotListed).ID, target.ID)
				require.NoError(t, err)
				return "alice", f.slot(t, "alice", model.SlotUnlisted).ID, target.ID
			},
			want: exchangeserrors.ErrNotListed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			caller, offered, requested := tt.setup(t, f)

			before, err := f.store.Slots().Find(context.Background(), repository.SlotFilter{}, model.Page{})
			require.NoError(t, err)
			requestsBefore, err := f.store.Requests().Find(context.Background(), repository.ExchangeRequestFilter{})
			require.NoError(t, err)

			_, err = f.svc.OpenExchange(context.Background(), caller, offered, requested)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, apperrors.IsRetryable(err))

			after, err := f.store.Slots().Find(context.Background(), repository.SlotFilter{}, model.Page{})
			require.NoError(t, err)
			assert.Equal(t, before, after, "a rejected open must not change any slot")
			requestsAfter, err := f.store.Requests().Find(context.Background(), repository.ExchangeRequestFilter{})
			require.NoError(t, err)
			assert.Len(t, requestsAfter, len(requestsBefore))
			f.checkInvariant(t)
		})
	}
}

func TestResolveExchange_Accept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.slot(t, "alice", model.SlotListed)
	theirs := f.slot(t, "bob", model.SlotListed)

	req, err := f.svc.OpenExchange(ctx, "alice", mine.ID, theirs.ID)
	require.NoError(t, err)

	resolved, err := f.svc.ResolveExchange(ctx, "bob", req.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeAccepted, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)

	offered := f.get(t, mine.ID)
	requested := f.get(t, theirs.ID)
	assert.Equal(t, "bob", offered.OwnerID)
	assert.Equal(t, "alice", requested.OwnerID)
	assert.Equal(t, model.SlotUnlisted, offered.State)
	assert.Equal(t, model.SlotUnlisted, requested.State)

	assert.Equal(t, mine.Title, offered.Title)
	assert.True(t, mine.StartTime.Equal(offered.StartTime))
	assert.True(t, mine.EndTime.Equal(offered.EndTime))
	assert.Equal(t, theirs.Title, requested.Title)
	assert.True(t, theirs.StartTime.Equal(requested.StartTime))

	stored, err := f.store.Requests().FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeAccepted, stored.Status)

	assert.Equal(t, []model.ExchangeEventType{model.EventExchangeOpened, model.EventExchangeAccepted}, f.publisher.types())
	f.checkInvariant(t)

	// A replay must not touch anything.
	_, err = f.svc.ResolveExchange(ctx, "bob", req.ID, true)
	assert.ErrorIs(t, err, exchangeserrors.ErrRequestNotPending)
	_, err = f.svc.ResolveExchange(ctx, "bob", req.ID, false)
	assert.ErrorIs(t, err, exchangeserrors.ErrRequestNotPending)
	assert.Equal(t, offered, f.get(t, mine.ID))
	assert.Equal(t, requested, f.get(t, theirs.ID))
}

func TestResolveExchange_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mine := f.slot(t, "alice", model.SlotListed)
	theirs := f.slot(t, "bob", model.SlotListed)

	req, err := f.svc.OpenExchange(ctx, "alice", mine.ID, theirs.ID)
	require.NoError(t, err)

	resolved, err := f.svc.ResolveExchange(ctx, "bob", req.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeRejected, resolved.Status)

	assert.Equal(t, "alice", f.get(t, mine.ID).OwnerID)
	assert.Equal(t, "bob", f.get(t, theirs.ID).OwnerID)
	assert.Equal(t, model.SlotListed, f.get(t, mine.ID).State)
	assert.Equal(t, model.SlotListed, f.get(t, theirs.ID).State)
	f.checkInvariant(t)

	// Both slots are free again.
	_, err = f.svc.OpenExchange(ctx, "bob", theirs.ID, mine.ID)
	require.NoError(t, err)
	f.checkInvariant(t)
}

func TestResolveExchange_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req, err := f.svc.OpenExchange(ctx, "alice", f.slot(t, "alice", model.SlotListed).ID, f.slot(t, "bob", model.SlotListed).ID)
	require.NoError(t, err)

	_, err = f.svc.ResolveExchange(ctx, "bob", "missing", true)
	assert.ErrorIs(t, err, exchangeserrors.ErrRequestNotFound)

	_, err = f.svc.ResolveExchange(ctx, "alice", req.ID, true)
	assert.ErrorIs(t, err, exchangeserrors.ErrNotAuthorized, "the initiator cannot resolve")

	_, err = f.svc.ResolveExchange(ctx, "mallory", req.ID, true)
	assert.ErrorIs(t, err, exchangeserrors.ErrNotAuthorized)

	stored, err := f.store.Requests().FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeOpen, stored.Status)
	f.checkInvariant(t)
}

func TestOpenExchange_ConcurrentOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	target := f.slot(t, "bob", model.SlotListed)

	const callers = 16
	offered := make([]string, callers)
	for i := range offered {
		offered[i] = f.slot(t, fmt.Sprintf("user-%d", i), model.SlotListed).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.OpenExchange(ctx, fmt.Sprintf("user-%d", i), offered[i], target.ID)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, exchangeserrors.ErrSlotBusy)
	}
	assert.Equal(t, 1, succeeded)

	reserved, err := f.store.Slots().Count(ctx, repository.SlotFilter{States: []model.SlotState{model.SlotReserved}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), reserved, "no orphan reservations")
	f.checkInvariant(t)
}

func TestExchange_RandomInterleavings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	users := []string{"u1", "u2", "u3", "u4"}
	var slotIDs []string
	for _, u := range users {
		for range 3 {
			slotIDs = append(slotIDs, f.slot(t, u, model.SlotListed).ID)
		}
	}

	type op struct {
		open          bool
		caller        string
		a, b          string
		accept        bool
		pickOpenIndex int
	}
	ops := make([]op, 400)
	for i := range ops {
		ops[i] = op{
			open:          rng.Intn(3) != 0,
			caller:        users[rng.Intn(len(users))],
			a:             slotIDs[rng.Intn(len(slotIDs))],
			b:             slotIDs[rng.Intn(len(slotIDs))],
			accept:        rng.Intn(2) == 0,
			pickOpenIndex: rng.Intn(8),
		}
	}

	var wg sync.WaitGroup
	work := make(chan op)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for o := range work {
				if o.open {
					// Owners change as exchanges are accepted; offer whatever
					// the caller holds right now.
					s, err := f.store.Slots().FindByID(ctx, o.a)
					if err != nil {
						continue
					}
					_, err = f.svc.OpenExchange(ctx, s.OwnerID, o.a, o.b)
					if err != nil && !exchangeserrors.IsPrecondition(err) {
						t.Errorf("open: unexpected error %v", err)
					}
					continue
				}
				open, err := f.store.Requests().Find(ctx, repository.ExchangeRequestFilter{Statuses: []model.ExchangeStatus{model.ExchangeOpen}})
				if err != nil || len(open) == 0 {
					continue
				}
				req := open[o.pickOpenIndex%len(open)]
				_, err = f.svc.ResolveExchange(ctx, req.CounterpartyID, req.ID, o.accept)
				if err != nil && !exchangeserrors.IsPrecondition(err) {
					t.Errorf("resolve: unexpected error %v", err)
				}
			}
		}()
	}
	for _, o := range ops {
		work <- o
	}
	close(work)
	wg.Wait()

	f.checkInvariant(t)

	// Ownership is only ever exchanged, never created or lost.
	owned := map[string]int{}
	all, err := f.store.Slots().Find(ctx, repository.SlotFilter{}, model.Page{})
	require.NoError(t, err)
	for _, s := range all {
		owned[s.OwnerID]++
	}
	for _, u := range users {
		assert.Equal(t, 3, owned[u], "user %s must still own three slots", u)
	}
}

func TestOpenExchange_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.publisher.PublishFn = func(context.Context, model.ExchangeEvent) error {
		return errors.New("broker down")
	}

	req, err := f.svc.OpenExchange(context.Background(), "alice", f.slot(t, "alice", model.SlotListed).ID, f.slot(t, "bob", model.SlotListed).ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeOpen, req.Status)
	f.checkInvariant(t)
}

func TestOpenExchange_LockTimeoutIsRetryable(t *testing.T) {
	f := newFixtureWithLocker(t, &mockLocker{
		AcquireFn: func(context.Context, ...string) (lock.Release, error) {
			return nil, lock.ErrTimeout
		},
	})

	_, err := f.svc.OpenExchange(context.Background(), "alice", f.slot(t, "alice", model.SlotListed).ID, f.slot(t, "bob", model.SlotListed).ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, apperrors.CodeUnavailable, apperrors.AsAppError(err).Code)
	assert.Empty(t, f.publisher.types())
}

// stalledStore never finishes a transaction before its context ends.
type stalledStore struct {
	*repository.MemoryStore
}

func (stalledStore) WithTransaction(ctx context.Context, _ func(ctx context.Context) error) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestExchange_OperationTimeoutIsRetryable(t *testing.T) {
	mem := repository.NewMemoryStore()
	cfg := &config.Config{Log: logger.Discard(), OperationTimeout: 50 * time.Millisecond}
	svc := NewExchangeService(stalledStore{mem}, lock.NewKeyedMutex(time.Second), &mockPublisher{}, cfg)
	f := &fixture{store: mem}

	mine := f.slot(t, "alice", model.SlotListed)
	theirs := f.slot(t, "bob", model.SlotListed)

	_, err := svc.OpenExchange(context.Background(), "alice", mine.ID, theirs.ID)
	require.Error(t, err)
	appErr := apperrors.AsAppError(err)
	assert.Equal(t, apperrors.CodeTimeout, appErr.Code)
	assert.True(t, apperrors.IsRetryable(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, model.SlotListed, f.get(t, mine.ID).State)

	healthy := NewExchangeService(mem, lock.NewKeyedMutex(time.Second), &mockPublisher{}, cfg)
	open, err := healthy.OpenExchange(context.Background(), "alice", mine.ID, theirs.ID)
	require.NoError(t, err)

	_, err = svc.ResolveExchange(context.Background(), "bob", open.ID, true)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
	assert.Equal(t, "alice", f.get(t, mine.ID).OwnerID)
	assert.Equal(t, model.SlotReserved, f.get(t, mine.ID).State)
}

func TestOpenExchange_CallerCancelInsideAtomicSection(t *testing.T) {
	inner := lock.NewKeyedMutex(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixtureWithLocker(t, &mockLocker{
		AcquireFn: func(ctx context.Context, keys ...string) (lock.Release, error) {
			release, err := inner.Acquire(ctx, keys...)
			cancel()
			return release, err
		},
	})

	mine := f.slot(t, "alice", model.SlotListed)
	theirs := f.slot(t, "bob", model.SlotListed)
	_, err := f.svc.OpenExchange(ctx, "alice", mine.ID, theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotReserved, f.get(t, mine.ID).State)
	f.checkInvariant(t)
}
