package repository

import (
	"context"
	"fmt"
	"maps"
	"slotswapper/pkg/model"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps everything in process. A transaction reads from a
// snapshot of the committed records taken when it begins, buffers its
// writes in an overlay and validates the versions it started from at
// commit, so a transaction that raced another writer fails with ErrConflict
// instead of overwriting it. Committed records are replaced, never mutated,
// which keeps a shallow copy of the maps a consistent snapshot.
type MemoryStore struct {
	mu       sync.RWMutex
	slots    map[string]*model.Slot
	requests map[string]*model.ExchangeRequest
	claims   map[string]*model.SlotClaim
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:    make(map[string]*model.Slot),
		requests: make(map[string]*model.ExchangeRequest),
		claims:   make(map[string]*model.SlotClaim),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source; used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryStore) Slots() SlotRepository               { return memorySlots{s} }
func (s *MemoryStore) Requests() ExchangeRequestRepository { return memoryRequests{s} }
func (s *MemoryStore) Claims() ClaimRepository             { return memoryClaims{s} }

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := s.txFrom(ctx); tx != nil {
		return fn(ctx)
	}
	tx := newMemTx(s)
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		return err
	}
	return s.commit(tx)
}

type memTxKey struct{}

type slotWrite struct {
	baseVersion int64 // 0 when the slot did not exist
	value       *model.Slot
}

type requestWrite struct {
	baseStatus model.ExchangeStatus // empty when the request did not exist
	value      *model.ExchangeRequest
}

type claimWrite struct {
	baseRequestID string // empty when there was no claim
	value         *model.SlotClaim
}

type memTx struct {
	store    *MemoryStore
	slots    map[string]*slotWrite
	requests map[string]*requestWrite
	claims   map[string]*claimWrite

	snapSlots    map[string]*model.Slot
	snapRequests map[string]*model.ExchangeRequest
	snapClaims   map[string]*model.SlotClaim
}

func newMemTx(s *MemoryStore) *memTx {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &memTx{
		store:        s,
		slots:        make(map[string]*slotWrite),
		requests:     make(map[string]*requestWrite),
		claims:       make(map[string]*claimWrite),
		snapSlots:    maps.Clone(s.slots),
		snapRequests: maps.Clone(s.requests),
		snapClaims:   maps.Clone(s.claims),
	}
}

func (s *MemoryStore) txFrom(ctx context.Context) *memTx {
	tx, _ := ctx.Value(memTxKey{}).(*memTx)
	if tx == nil || tx.store != s {
		return nil
	}
	return tx
}

// run executes fn inside the caller's transaction, or inside a fresh one
// committed on return.
func (s *MemoryStore) run(ctx context.Context, fn func(tx *memTx) error) error {
	if tx := s.txFrom(ctx); tx != nil {
		return fn(tx)
	}
	tx := newMemTx(s)
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, w := range tx.slots {
		var current int64
		if cur, ok := s.slots[id]; ok {
			current = cur.Version
		}
		if current != w.baseVersion {
			return fmt.Errorf("%w: slot %s", ErrConflict, id)
		}
	}
	for id, w := range tx.requests {
		var current model.ExchangeStatus
		if cur, ok := s.requests[id]; ok {
			current = cur.Status
		}
		if current != w.baseStatus {
			return fmt.Errorf("%w: request %s", ErrConflict, id)
		}
	}
	for id, w := range tx.claims {
		var current string
		if cur, ok := s.claims[id]; ok {
			current = cur.RequestID
		}
		if current != w.baseRequestID {
			return fmt.Errorf("%w: claim %s", ErrConflict, id)
		}
	}

	for id, w := range tx.slots {
		if w.value == nil {
			delete(s.slots, id)
		} else {
			s.slots[id] = w.value
		}
	}
	for id, w := range tx.requests {
		s.requests[id] = w.value
	}
	for id, w := range tx.claims {
		if w.value == nil {
			delete(s.claims, id)
		} else {
			s.claims[id] = w.value
		}
	}
	return nil
}

func (tx *memTx) getSlot(id string) *model.Slot {
	if w, ok := tx.slots[id]; ok {
		return w.value
	}
	return tx.snapSlots[id]
}

func (tx *memTx) putSlot(id string, base int64, value *model.Slot) {
	if w, ok := tx.slots[id]; ok {
		w.value = value
		return
	}
	tx.slots[id] = &slotWrite{baseVersion: base, value: value}
}

func (tx *memTx) getRequest(id string) *model.ExchangeRequest {
	if w, ok := tx.requests[id]; ok {
		return w.value
	}
	return tx.snapRequests[id]
}

func (tx *memTx) putRequest(id string, base model.ExchangeStatus, value *model.ExchangeRequest) {
	if w, ok := tx.requests[id]; ok {
		w.value = value
		return
	}
	tx.requests[id] = &requestWrite{baseStatus: base, value: value}
}

func (tx *memTx) getClaim(slotID string) *model.SlotClaim {
	if w, ok := tx.claims[slotID]; ok {
		return w.value
	}
	return tx.snapClaims[slotID]
}

func (tx *memTx) putClaim(slotID, base string, value *model.SlotClaim) {
	if w, ok := tx.claims[slotID]; ok {
		w.value = value
		return
	}
	tx.claims[slotID] = &claimWrite{baseRequestID: base, value: value}
}

type memorySlots struct{ s *MemoryStore }

func (r memorySlots) Create(ctx context.Context, slot *model.Slot) error {
	return r.s.run(ctx, func(tx *memTx) error {
		if slot.ID == "" {
			slot.ID = uuid.NewString()
		}
		if tx.getSlot(slot.ID) != nil {
			return fmt.Errorf("%w: slot %s already exists", ErrConflict, slot.ID)
		}
		now := r.s.now()
		slot.Version = 1
		slot.CreatedAt = now
		slot.UpdatedAt = now
		tx.putSlot(slot.ID, 0, cloneSlot(slot))
		return nil
	})
}

func (r memorySlots) FindByID(ctx context.Context, id string) (*model.Slot, error) {
	var out *model.Slot
	err := r.s.run(ctx, func(tx *memTx) error {
		out = cloneSlot(tx.getSlot(id))
		if out == nil {
			return ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r memorySlots) collect(ctx context.Context, filter SlotFilter) ([]*model.Slot, error) {
	var out []*model.Slot
	err := r.s.run(ctx, func(tx *memTx) error {
		for id, slot := range tx.snapSlots {
			if _, shadowed := tx.slots[id]; shadowed {
				continue
			}
			if filter.Match(slot) {
				out = append(out, cloneSlot(slot))
			}
		}
		for _, w := range tx.slots {
			if w.value != nil && filter.Match(w.value) {
				out = append(out, cloneSlot(w.value))
			}
		}
		return nil
	})
	sortSlots(out)
	return out, err
}

func (r memorySlots) Find(ctx context.Context, filter SlotFilter, page model.Page) ([]*model.Slot, error) {
	out, err := r.collect(ctx, filter)
	if err != nil {
		return nil, err
	}
	return applyPage(out, page), nil
}

func (r memorySlots) Count(ctx context.Context, filter SlotFilter) (int64, error) {
	out, err := r.collect(ctx, filter)
	return int64(len(out)), err
}

func (r memorySlots) CompareAndSwap(ctx context.Context, expected, next *model.Slot) error {
	return r.s.run(ctx, func(tx *memTx) error {
		cur := tx.getSlot(expected.ID)
		if cur == nil {
			return ErrNotFound
		}
		if cur.Version != expected.Version || cur.State != expected.State || cur.OwnerID != expected.OwnerID {
			return fmt.Errorf("%w: slot %s", ErrConflict, expected.ID)
		}
		updated := cloneSlot(next)
		updated.ID = cur.ID
		updated.CreatedAt = cur.CreatedAt
		updated.Version = cur.Version + 1
		updated.UpdatedAt = r.s.now()
		tx.putSlot(cur.ID, cur.Version, updated)

		next.Version = updated.Version
		next.UpdatedAt = updated.UpdatedAt
		next.CreatedAt = updated.CreatedAt
		return nil
	})
}

func (r memorySlots) DeleteIf(ctx context.Context, expected *model.Slot) error {
	return r.s.run(ctx, func(tx *memTx) error {
		cur := tx.getSlot(expected.ID)
		if cur == nil {
			return ErrNotFound
		}
		if cur.Version != expected.Version || cur.State == model.SlotReserved {
			return fmt.Errorf("%w: slot %s", ErrConflict, expected.ID)
		}
		tx.putSlot(cur.ID, cur.Version, nil)
		return nil
	})
}

type memoryRequests struct{ s *MemoryStore }

func (r memoryRequests) Create(ctx context.Context, req *model.ExchangeRequest) error {
	return r.s.run(ctx, func(tx *memTx) error {
		if req.ID == "" {
			req.ID = uuid.NewString()
		}
		if tx.getRequest(req.ID) != nil {
			return fmt.Errorf("%w: request %s already exists", ErrConflict, req.ID)
		}
		now := r.s.now()
		req.CreatedAt = now
		req.UpdatedAt = now
		tx.putRequest(req.ID, "", cloneRequest(req))
		return nil
	})
}

func (r memoryRequests) FindByID(ctx context.Context, id string) (*model.ExchangeRequest, error) {
	var out *model.ExchangeRequest
	err := r.s.run(ctx, func(tx *memTx) error {
		out = cloneRequest(tx.getRequest(id))
		if out == nil {
			return ErrNotFound
		}
		return nil
	})
	return out, err
}

func (r memoryRequests) Find(ctx context.Context, filter ExchangeRequestFilter) ([]*model.ExchangeRequest, error) {
	var out []*model.ExchangeRequest
	err := r.s.run(ctx, func(tx *memTx) error {
		for id, req := range tx.snapRequests {
			if _, shadowed := tx.requests[id]; shadowed {
				continue
			}
			if filter.Match(req) {
				out = append(out, cloneRequest(req))
			}
		}
		for _, w := range tx.requests {
			if filter.Match(w.value) {
				out = append(out, cloneRequest(w.value))
			}
		}
		return nil
	})
	sortRequests(out)
	return out, err
}

func (r memoryRequests) UpdateStatusIf(ctx context.Context, from model.ExchangeStatus, req *model.ExchangeRequest) error {
	return r.s.run(ctx, func(tx *memTx) error {
		cur := tx.getRequest(req.ID)
		if cur == nil {
			return ErrNotFound
		}
		if cur.Status != from {
			return fmt.Errorf("%w: request %s is %s", ErrConflict, req.ID, cur.Status)
		}
		updated := cloneRequest(cur)
		updated.Status = req.Status
		updated.UpdatedAt = req.UpdatedAt
		updated.ResolvedAt = req.ResolvedAt
		if updated.UpdatedAt.IsZero() {
			updated.UpdatedAt = r.s.now()
		}
		tx.putRequest(cur.ID, cur.Status, updated)
		return nil
	})
}

type memoryClaims struct{ s *MemoryStore }

func (r memoryClaims) Claim(ctx context.Context, slotID, requestID string) error {
	return r.s.run(ctx, func(tx *memTx) error {
		if cur := tx.getClaim(slotID); cur != nil {
			return fmt.Errorf("%w: slot %s by request %s", ErrClaimed, slotID, cur.RequestID)
		}
		tx.putClaim(slotID, "", &model.SlotClaim{
			SlotID:    slotID,
			RequestID: requestID,
			ClaimedAt: r.s.now(),
		})
		return nil
	})
}

func (r memoryClaims) Release(ctx context.Context, slotID, requestID string) error {
	return r.s.run(ctx, func(tx *memTx) error {
		cur := tx.getClaim(slotID)
		if cur == nil {
			return fmt.Errorf("%w: slot %s has no claim", ErrConflict, slotID)
		}
		if cur.RequestID != requestID {
			return fmt.Errorf("%w: slot %s is claimed by request %s", ErrConflict, slotID, cur.RequestID)
		}
		tx.putClaim(slotID, cur.RequestID, nil)
		return nil
	})
}

func (r memoryClaims) Lookup(ctx context.Context, slotID string) (*model.SlotClaim, error) {
	var out *model.SlotClaim
	err := r.s.run(ctx, func(tx *memTx) error {
		cur := tx.getClaim(slotID)
		if cur == nil {
			return ErrNotFound
		}
		c := *cur
		out = &c
		return nil
	})
	return out, err
}

func (r memoryClaims) List(ctx context.Context) ([]*model.SlotClaim, error) {
	var out []*model.SlotClaim
	err := r.s.run(ctx, func(tx *memTx) error {
		for id, c := range tx.snapClaims {
			if _, shadowed := tx.claims[id]; shadowed {
				continue
			}
			cc := *c
			out = append(out, &cc)
		}
		for _, w := range tx.claims {
			if w.value != nil {
				cc := *w.value
				out = append(out, &cc)
			}
		}
		return nil
	})
	return out, err
}
