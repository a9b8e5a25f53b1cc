package repository

import (
	"context"
	"errors"
	"slices"
	"slotswapper/pkg/model"
)

var (
	// ErrNotFound is returned when no record has the requested id.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional write finds the record in a
	// different state than expected, or a transaction loses a write race.
	ErrConflict = errors.New("record changed concurrently")

	// ErrClaimed is returned when a slot already has a claim.
	ErrClaimed = errors.New("slot already claimed")
)

// SlotFilter selects slots. Empty fields do not constrain the result.
type SlotFilter struct {
	IDs            []string
	OwnerID        string
	ExcludeOwnerID string
	States         []model.SlotState
}

func (f SlotFilter) Match(s *model.Slot) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, s.ID) {
		return false
	}
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if f.ExcludeOwnerID != "" && s.OwnerID == f.ExcludeOwnerID {
		return false
	}
	if len(f.States) > 0 && !slices.Contains(f.States, s.State) {
		return false
	}
	return true
}

// ExchangeRequestFilter selects requests. SlotID matches either leg.
type ExchangeRequestFilter struct {
	InitiatorID    string
	CounterpartyID string
	Statuses       []model.ExchangeStatus
	SlotID         string
}

func (f ExchangeRequestFilter) Match(r *model.ExchangeRequest) bool {
	if f.InitiatorID != "" && r.InitiatorID != f.InitiatorID {
		return false
	}
	if f.CounterpartyID != "" && r.CounterpartyID != f.CounterpartyID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.SlotID != "" && r.OfferedSlotID != f.SlotID && r.RequestedSlotID != f.SlotID {
		return false
	}
	return true
}

// SlotRepository results are sorted by start time ascending.
type SlotRepository interface {
	Create(ctx context.Context, slot *model.Slot) error
	FindByID(ctx context.Context, id string) (*model.Slot, error)
	Find(ctx context.Context, filter SlotFilter, page model.Page) ([]*model.Slot, error)
	Count(ctx context.Context, filter SlotFilter) (int64, error)
	// CompareAndSwap replaces expected with next if the stored record still
	// has expected's state, owner and version. The stored version becomes
	// expected.Version+1.
	CompareAndSwap(ctx context.Context, expected, next *model.Slot) error
	// DeleteIf removes the slot if it still has expected's version and is
	// not RESERVED.
	DeleteIf(ctx context.Context, expected *model.Slot) error
}

// ExchangeRequestRepository results are sorted by creation time descending.
type ExchangeRequestRepository interface {
	Create(ctx context.Context, req *model.ExchangeRequest) error
	FindByID(ctx context.Context, id string) (*model.ExchangeRequest, error)
	Find(ctx context.Context, filter ExchangeRequestFilter) ([]*model.ExchangeRequest, error)
	// UpdateStatusIf moves the request from status from to req.Status,
	// also writing UpdatedAt and ResolvedAt.
	UpdateStatusIf(ctx context.Context, from model.ExchangeStatus, req *model.ExchangeRequest) error
}

// ClaimRepository is the slot -> open request index.
type ClaimRepository interface {
	Claim(ctx context.Context, slotID, requestID string) error
	// Release removes the claim only if it belongs to requestID.
	Release(ctx context.Context, slotID, requestID string) error
	Lookup(ctx context.Context, slotID string) (*model.SlotClaim, error)
	List(ctx context.Context) ([]*model.SlotClaim, error)
}

// Store groups the repositories that must change together.
type Store interface {
	Slots() SlotRepository
	Requests() ExchangeRequestRepository
	Claims() ClaimRepository
	// WithTransaction runs fn atomically. Calls made with the ctx passed to
	// fn join the transaction; a non-nil return discards every write.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Ping(ctx context.Context) error
}

func sortSlots(slots []*model.Slot) {
	slices.SortStableFunc(slots, func(a, b *model.Slot) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
}

func sortRequests(reqs []*model.ExchangeRequest) {
	slices.SortStableFunc(reqs, func(a, b *model.ExchangeRequest) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		if a.ID > b.ID {
			return -1
		}
		if a.ID < b.ID {
			return 1
		}
		return 0
	})
}

func applyPage[T any](items []T, page model.Page) []T {
	if page.Offset > 0 {
		if page.Offset >= int64(len(items)) {
			return []T{}
		}
		items = items[page.Offset:]
	}
	if page.Bounded() && len(items) > page.Limit {
		items = items[:page.Limit]
	}
	return items
}

func cloneSlot(s *model.Slot) *model.Slot {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

func cloneRequest(r *model.ExchangeRequest) *model.ExchangeRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
