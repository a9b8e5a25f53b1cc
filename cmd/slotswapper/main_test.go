package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"slotswapper/internal/exchanges/events"
	"slotswapper/internal/exchanges/repository"
	"slotswapper/pkg/client"
	"slotswapper/pkg/config"
	"slotswapper/pkg/lock"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const identityHeader = "X-User-ID"

func testConfig() *config.Config {
	return &config.Config{
		StoreBackend:      config.StoreMemory,
		Port:              "0",
		IdentityHeader:    identityHeader,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		RequestTimeout:    5 * time.Second,
		IdempotencyTTL:    time.Minute,
		MaxRequestSize:    1 << 20,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LockWaitTimeout:   2 * time.Second,
		OperationTimeout:  5 * time.Second,
		Log:               logger.Discard(),
	}
}

type testServer struct {
	url   string
	store *repository.MemoryStore
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	cfg := testConfig()
	store := repository.NewMemoryStore()
	serverApp := newApplication(cfg, store, lock.NewKeyedMutex(cfg.LockWaitTimeout), events.NopPublisher{})
	srv := httptest.NewServer(serverApp.Handler())
	t.Cleanup(func() {
		srv.Close()
		serverApp.Stop()
	})
	return &testServer{url: srv.URL, store: store}
}

func (s *testServer) as(user string) *client.SlotSwapperClient {
	return client.NewSlotSwapperClient(s.url, identityHeader, user)
}

var e2eBase = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func createListedSlot(t *testing.T, c *client.SlotSwapperClient, title string, offset int) *model.Slot {
	t.Helper()
	ctx := context.Background()
	start := e2eBase.Add(time.Duration(offset) * time.Hour)

	resp, err := c.CreateSlot(ctx, map[string]any{
		"title":      title,
		"start_time": start,
		"end_time":   start.Add(time.Hour),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.ToString())
	slot, err := c.DecodeSlot(resp)
	require.NoError(t, err)
	assert.Equal(t, model.SlotUnlisted, slot.State)

	resp, err = c.SetSlotState(ctx, slot.ID, model.SlotListed)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.ToString())
	slot, err = c.DecodeSlot(resp)
	require.NoError(t, err)
	return slot
}

func TestExchangeFlow_Accept(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	alice, bob := srv.as("alice"), srv.as("bob")

	aliceSlot := createListedSlot(t, alice, "Team standup", 0)
	bobSlot := createListedSlot(t, bob, "Focus block", 1)

	resp, err := alice.ListDiscoverable(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.ToString())
	market, meta, err := client.DecodePaginated[*model.Slot](resp)
	require.NoError(t, err)
	require.Len(t, market, 1)
	assert.Equal(t, bobSlot.ID, market[0].ID)
	assert.Equal(t, int64(1), meta.TotalCount)

	resp, err = alice.OpenExchange(ctx, aliceSlot.ID, bobSlot.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.ToString())
	req, err := alice.DecodeExchange(resp)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeOpen, req.Status)
	assert.Equal(t, "bob", req.CounterpartyID)

	resp, err = bob.UpdateSlot(ctx, bobSlot.ID, map[string]any{"title": "renamed"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "reserved slots cannot be edited")

	resp, err = bob.ListIncoming(ctx)
	require.NoError(t, err)
	incoming, err := bob.DecodeExchangeViews(resp)
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, req.ID, incoming[0].ID)
	require.NotNil(t, incoming[0].OfferedSlot)
	assert.Equal(t, model.SlotReserved, incoming[0].OfferedSlot.State)

	resp, err = alice.ResolveExchange(ctx, req.ID, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NOT_AUTHORIZED", client.GetErrorCode(resp))

	resp, err = bob.ResolveExchange(ctx, req.ID, true)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.ToString())
	resolved, err := bob.DecodeExchange(resp)
	require.NoError(t, err)
	assert.Equal(t, model.ExchangeAccepted, resolved.Status)

	resp, err = alice.GetSlot(ctx, bobSlot.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.ToString())
	swapped, err := alice.DecodeSlot(resp)
	require.NoError(t, err)
	assert.Equal(t, "alice", swapped.OwnerID)
	assert.Equal(t, "Focus block", swapped.Title)
	assert.Equal(t, model.SlotUnlisted, swapped.State)

	resp, err = bob.ResolveExchange(ctx, req.ID, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "REQUEST_NOT_PENDING", client.GetErrorCode(resp))
}

func TestExchangeFlow_RejectAndPreconditions(t *testing.T) {
	ctx := context.Background()
	srv := startServer(t)
	alice, bob, carol := srv.as("alice"), srv.as("bob"), srv.as("carol")

	aliceSlot := createListedSlot(t, alice, "Lunch", 0)
	bobSlot := createListedSlot(t, bob, "Gym", 1)
	carolSlot := createListedSlot(t, carol, "Review", 2)

	resp, err := alice.OpenExchange(ctx, bobSlot.ID, carolSlot.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "NOT_OWNER", client.GetErrorCode(resp))

	resp, err = alice.OpenExchange(ctx, aliceSlot.ID, "missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "SLOT_NOT_FOUND", client.GetErrorCode(resp))

	resp, err = alice.OpenExchange(ctx, aliceSlot.ID, bobSlot.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, resp.ToString())
	req, err := alice.DecodeExchange(resp)
	require.NoError(t, err)

	resp, err = carol.OpenExchange(ctx, carolSlot.ID, bobSlot.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "SLOT_BUSY", client.GetErrorCode(resp))

	resp, err = carol.GetExchange(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = bob.ResolveExchange(ctx, req.ID, false)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, resp.ToString())

	for _, tc := range []struct {
		c    *client.SlotSwapperClient
		slot *model.Slot
	}{{alice, aliceSlot}, {bob, bobSlot}} {
		resp, err := tc.c.GetSlot(ctx, tc.slot.ID)
		require.NoError(t, err)
		got, err := tc.c.DecodeSlot(resp)
		require.NoError(t, err)
		assert.Equal(t, model.SlotListed, got.State)
		assert.Equal(t, tc.slot.OwnerID, got.OwnerID)
	}

	resp, err = alice.ListOutgoing(ctx)
	require.NoError(t, err)
	outgoing, err := alice.DecodeExchangeViews(resp)
	require.NoError(t, err)
	require.Len(t, outgoing, 1)
	assert.Equal(t, model.ExchangeRejected, outgoing[0].Status)
}

func TestMissingIdentityIsUnauthorized(t *testing.T) {
	srv := startServer(t)
	resp, err := srv.as("").ListIncoming(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv := startServer(t)
	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(srv.url + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
