package service

import (
	"context"
	"errors"
	exchangeserrors "slotswapper/internal/exchanges/errors"
	"slotswapper/internal/exchanges/repository"
	apperrors "slotswapper/pkg/errors"
	"slotswapper/pkg/model"
	"sync"
)

func (s *exchangeService) ListDiscoverable(ctx context.Context, callerID string, page model.Page) ([]*model.Slot, int64, error) {
	if callerID == "" {
		return nil, 0, apperrors.Unauthorized("Caller identity is required")
	}
	filter := repository.SlotFilter{
		ExcludeOwnerID: callerID,
		States:         []model.SlotState{model.SlotListed},
	}

	var count int64
	var slots []*model.Slot
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		count, errCount = s.store.Slots().Count(ctx, filter)
		if errCount != nil {
			s.log.Error("Failed to count discoverable slots", "caller_id", callerID, "error", errCount)
			errCount = apperrors.Unavailable("Slot store").WithCause(errCount)
		}
	}()

	go func() {
		defer wg.Done()
		slots, errFind = s.store.Slots().Find(ctx, filter, page)
		if errFind != nil {
			s.log.Error("Failed to list discoverable slots", "caller_id", callerID, "error", errFind)
			errFind = apperrors.Unavailable("Slot store").WithCause(errFind)
		}
	}()

	wg.Wait()
	if errCount != nil {
		return nil, 0, errCount
	}
	if errFind != nil {
		return nil, 0, errFind
	}
	return slots, count, nil
}

func (s *exchangeService) ListIncoming(ctx context.Context, callerID string) ([]*model.ExchangeView, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized("Caller identity is required")
	}
	return s.listViews(ctx, repository.ExchangeRequestFilter{
		CounterpartyID: callerID,
		Statuses:       []model.ExchangeStatus{model.ExchangeOpen},
	})
}

func (s *exchangeService) ListOutgoing(ctx context.Context, callerID string) ([]*model.ExchangeView, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized("Caller identity is required")
	}
	return s.listViews(ctx, repository.ExchangeRequestFilter{InitiatorID: callerID})
}

// GetExchange hides requests the caller is not a party to behind
// REQUEST_NOT_FOUND.
func (s *exchangeService) GetExchange(ctx context.Context, callerID, requestID string) (*model.ExchangeView, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized("Caller identity is required")
	}
	notFound := exchangeserrors.Reject(exchangeserrors.ErrRequestNotFound, map[string]any{"request_id": requestID})

	var view *model.ExchangeView
	err := s.store.WithTransaction(ctx, func(tx context.Context) error {
		req, err := s.store.Requests().FindByID(tx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return notFound
			}
			return err
		}
		if req.InitiatorID != callerID && req.CounterpartyID != callerID {
			return notFound
		}
		views, err := s.join(tx, []*model.ExchangeRequest{req})
		if err != nil {
			return err
		}
		view = views[0]
		return nil
	})
	if err != nil {
		if apperrors.IsAppError(err) {
			return nil, err
		}
		s.log.Error("Failed to get exchange", "request_id", requestID, "error", err)
		return nil, apperrors.Unavailable("Exchange store").WithCause(err)
	}
	return view, nil
}

// listViews reads the requests and their legs in one transaction so the
// projection is a consistent snapshot.
func (s *exchangeService) listViews(ctx context.Context, filter repository.ExchangeRequestFilter) ([]*model.ExchangeView, error) {
	var views []*model.ExchangeView
	err := s.store.WithTransaction(ctx, func(tx context.Context) error {
		reqs, err := s.store.Requests().Find(tx, filter)
		if err != nil {
			return err
		}
		views, err = s.join(tx, reqs)
		return err
	})
	if err != nil {
		s.log.Error("Failed to list exchanges",
			"initiator_id", filter.InitiatorID,
			"counterparty_id", filter.CounterpartyID,
			"error", err,
		)
		return nil, apperrors.Unavailable("Exchange store").WithCause(err)
	}
	return views, nil
}

func (s *exchangeService) join(ctx context.Context, reqs []*model.ExchangeRequest) ([]*model.ExchangeView, error) {
	views := make([]*model.ExchangeView, 0, len(reqs))
	if len(reqs) == 0 {
		return views, nil
	}

	ids := make([]string, 0, 2*len(reqs))
	for _, req := range reqs {
		legs := req.Legs()
		ids = append(ids, legs[:]...)
	}
	slots, err := s.store.Slots().Find(ctx, repository.SlotFilter{IDs: ids}, model.Page{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.Slot, len(slots))
	for _, slot := range slots {
		byID[slot.ID] = slot
	}

	for _, req := range reqs {
		views = append(views, &model.ExchangeView{
			ExchangeRequest: req,
			OfferedSlot:     byID[req.OfferedSlotID],
			RequestedSlot:   byID[req.RequestedSlotID],
		})
	}
	return views, nil
}
