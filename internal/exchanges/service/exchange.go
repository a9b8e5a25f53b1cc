package service

import (
	"context"
	"errors"
	"fmt"
	exchangeserrors "slotswapper/internal/exchanges/errors"
	"slotswapper/internal/exchanges/events"
	"slotswapper/internal/exchanges/repository"
	"slotswapper/pkg/config"
	apperrors "slotswapper/pkg/errors"
	"slotswapper/pkg/lock"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/metrics"
	"slotswapper/pkg/model"
	"time"
)

const (
	OperationOpen    = "open"
	OperationResolve = "resolve"

	publishTimeout = 5 * time.Second
)

type ExchangeService interface {
	OpenExchange(ctx context.Context, initiatorID, offeredSlotID, requestedSlotID string) (*model.ExchangeRequest, error)
	ResolveExchange(ctx context.Context, callerID, requestID string, accept bool) (*model.ExchangeRequest, error)
	GetExchange(ctx context.Context, callerID, requestID string) (*model.ExchangeView, error)
	ListDiscoverable(ctx context.Context, callerID string, page model.Page) ([]*model.Slot, int64, error)
	ListIncoming(ctx context.Context, callerID string) ([]*model.ExchangeView, error)
	ListOutgoing(ctx context.Context, callerID string) ([]*model.ExchangeView, error)
}

type exchangeService struct {
	store            repository.Store
	locker           lock.Locker
	publisher        events.Publisher
	operationTimeout time.Duration
	log              *logger.Logger
	now              func() time.Time
}

func NewExchangeService(
	store repository.Store,
	locker lock.Locker,
	publisher events.Publisher,
	cfg *config.Config,
) ExchangeService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &exchangeService{
		store:            store,
		locker:           locker,
		publisher:        publisher,
		operationTimeout: cfg.OperationTimeout,
		log:              cfg.Log,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

func (s *exchangeService) OpenExchange(ctx context.Context, initiatorID, offeredSlotID, requestedSlotID string) (*model.ExchangeRequest, error) {
	start := time.Now()
	req, err := s.openExchange(ctx, initiatorID, offeredSlotID, requestedSlotID)
	s.record(OperationOpen, start, err)
	if err != nil {
		s.logFailure("Failed to open exchange", err,
			"initiator_id", initiatorID,
			"offered_slot_id", offeredSlotID,
			"requested_slot_id", requestedSlotID,
		)
		return nil, err
	}

	s.log.Info("Exchange opened",
		"request_id", req.ID,
		"initiator_id", req.InitiatorID,
		"counterparty_id", req.CounterpartyID,
		"offered_slot_id", req.OfferedSlotID,
		"requested_slot_id", req.RequestedSlotID,
	)
	s.publish(ctx, model.NewExchangeEvent(model.EventExchangeOpened, req))
	return req, nil
}

func (s *exchangeService) openExchange(ctx context.Context, initiatorID, offeredSlotID, requestedSlotID string) (*model.ExchangeRequest, error) {
	if initiatorID == "" {
		return nil, apperrors.Unauthorized("Caller identity is required")
	}
	if offeredSlotID == "" || requestedSlotID == "" {
		return nil, apperrors.InvalidInput("Both offered and requested slot IDs are required")
	}

	var created *model.ExchangeRequest
	err := s.atomically(ctx, []string{offeredSlotID, requestedSlotID}, func(tx context.Context) error {
		offered, err := s.store.Slots().FindByID(tx, offeredSlotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return exchangeserrors.Reject(exchangeserrors.ErrNotOwner, map[string]any{"slot_id": offeredSlotID})
			}
			return err
		}
		if offered.OwnerID != initiatorID {
			return exchangeserrors.Reject(exchangeserrors.ErrNotOwner, map[string]any{"slot_id": offeredSlotID})
		}

		requested, err := s.store.Slots().FindByID(tx, requestedSlotID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return exchangeserrors.Reject(exchangeserrors.ErrSlotNotFound, map[string]any{"slot_id": requestedSlotID})
			}
			return err
		}
		if requested.OwnerID == initiatorID {
			return exchangeserrors.Reject(exchangeserrors.ErrSelfTrade, map[string]any{"slot_id": requestedSlotID})
		}

		for _, slot := range []*model.Slot{offered, requested} {
			if err := checkListed(slot); err != nil {
				return err
			}
		}
		for _, slot := range []*model.Slot{offered, requested} {
			if err := s.checkFree(tx, slot); err != nil {
				return err
			}
		}

		now := s.now()
		req := &model.ExchangeRequest{
			InitiatorID:     initiatorID,
			CounterpartyID:  requested.OwnerID,
			OfferedSlotID:   offered.ID,
			RequestedSlotID: requested.ID,
			Status:          model.ExchangeOpen,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.store.Requests().Create(tx, req); err != nil {
			return err
		}

		for _, slot := range []*model.Slot{offered, requested} {
			if err := s.store.Claims().Claim(tx, slot.ID, req.ID); err != nil {
				return err
			}
			if err := s.moveSlot(tx, slot, slot.OwnerID, model.SlotReserved); err != nil {
				return err
			}
		}
		created = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *exchangeService) ResolveExchange(ctx context.Context, callerID, requestID string, accept bool) (*model.ExchangeRequest, error) {
	start := time.Now()
	req, err := s.resolveExchange(ctx, callerID, requestID, accept)
	s.record(OperationResolve, start, err)
	if err != nil {
		s.logFailure("Failed to resolve exchange", err,
			"caller_id", callerID,
			"request_id", requestID,
			"accept", accept,
		)
		return nil, err
	}

	eventType := model.EventExchangeRejected
	if accept {
		eventType = model.EventExchangeAccepted
	}
	s.log.Info("Exchange resolved",
		"request_id", req.ID,
		"status", req.Status,
		"initiator_id", req.InitiatorID,
		"counterparty_id", req.CounterpartyID,
	)
	s.publish(ctx, model.NewExchangeEvent(eventType, req))
	return req, nil
}

func (s *exchangeService) resolveExchange(ctx context.Context, callerID, requestID string, accept bool) (*model.ExchangeRequest, error) {
	if callerID == "" {
		return nil, apperrors.Unauthorized("Caller identity is required")
	}

	// The legs are immutable, so the unlocked read only decides what to lock.
	// Every check is repeated under the locks.
	pending, err := s.store.Requests().FindByID(ctx, requestID)
	if err != nil {
		return nil, s.mapError(err, requestID)
	}
	if err := checkResolvable(pending, callerID); err != nil {
		return nil, err
	}

	legs := pending.Legs()
	var resolved *model.ExchangeRequest
	err = s.atomically(ctx, legs[:], func(tx context.Context) error {
		req, err := s.store.Requests().FindByID(tx, requestID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return exchangeserrors.Reject(exchangeserrors.ErrRequestNotFound, map[string]any{"request_id": requestID})
			}
			return err
		}
		if err := checkResolvable(req, callerID); err != nil {
			return err
		}

		offered, err := s.reservedLeg(tx, req, req.OfferedSlotID)
		if err != nil {
			return err
		}
		requested, err := s.reservedLeg(tx, req, req.RequestedSlotID)
		if err != nil {
			return err
		}

		next := *req
		if accept {
			next.Status = model.ExchangeAccepted
			if err := s.moveSlot(tx, offered, requested.OwnerID, model.SlotUnlisted); err != nil {
				return err
			}
			if err := s.moveSlot(tx, requested, offered.OwnerID, model.SlotUnlisted); err != nil {
				return err
			}
		} else {
			next.Status = model.ExchangeRejected
			if err := s.moveSlot(tx, offered, offered.OwnerID, model.SlotListed); err != nil {
				return err
			}
			if err := s.moveSlot(tx, requested, requested.OwnerID, model.SlotListed); err != nil {
				return err
			}
		}

		for _, slotID := range legs {
			if err := s.store.Claims().Release(tx, slotID, req.ID); err != nil {
				return err
			}
		}

		now := s.now()
		next.UpdatedAt = now
		next.ResolvedAt = &now
		if err := s.store.Requests().UpdateStatusIf(tx, model.ExchangeOpen, &next); err != nil {
			return err
		}
		resolved = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// atomically holds the locks of every slot in slotIDs and runs fn in one
// store transaction. Once the locks are held the work no longer follows the
// caller's cancellation, only the operation timeout.
func (s *exchangeService) atomically(ctx context.Context, slotIDs []string, fn func(tx context.Context) error) error {
	waitStart := time.Now()
	release, err := s.locker.Acquire(ctx, slotIDs...)
	metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		return s.mapError(err, "")
	}
	defer release()

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.operationTimeout)
	defer cancel()

	if err := s.store.WithTransaction(opCtx, fn); err != nil {
		return s.mapError(err, "")
	}
	return nil
}

// checkListed reports UNLISTED legs. A RESERVED leg is left to checkFree,
// which reports it as busy.
func checkListed(slot *model.Slot) error {
	switch slot.State {
	case model.SlotListed, model.SlotReserved:
		return nil
	case model.SlotUnlisted:
		return exchangeserrors.Reject(exchangeserrors.ErrNotListed, map[string]any{"slot_id": slot.ID})
	default:
		return apperrors.Internal("Slot has an unknown state", fmt.Errorf("slot %s: state %q", slot.ID, slot.State))
	}
}

func (s *exchangeService) checkFree(tx context.Context, slot *model.Slot) error {
	busy := exchangeserrors.Reject(exchangeserrors.ErrSlotBusy, map[string]any{"slot_id": slot.ID})
	if slot.State == model.SlotReserved {
		return busy
	}
	_, err := s.store.Claims().Lookup(tx, slot.ID)
	switch {
	case err == nil:
		return busy
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return err
	}
}

func checkResolvable(req *model.ExchangeRequest, callerID string) error {
	if req.CounterpartyID != callerID {
		return exchangeserrors.Reject(exchangeserrors.ErrNotAuthorized, map[string]any{"request_id": req.ID})
	}
	switch req.Status {
	case model.ExchangeOpen:
		return nil
	case model.ExchangeAccepted, model.ExchangeRejected:
		return exchangeserrors.Reject(exchangeserrors.ErrRequestNotPending, map[string]any{
			"request_id": req.ID,
			"status":     req.Status,
		})
	default:
		return apperrors.Internal("Exchange request has an unknown status", fmt.Errorf("request %s: status %q", req.ID, req.Status))
	}
}

// reservedLeg loads one leg of an open request and checks it is still held
// by that request.
func (s *exchangeService) reservedLeg(tx context.Context, req *model.ExchangeRequest, slotID string) (*model.Slot, error) {
	slot, err := s.store.Slots().FindByID(tx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal("Exchange leg is missing", fmt.Errorf("slot %s of open request %s: %w", slotID, req.ID, err))
		}
		return nil, err
	}
	claim, err := s.store.Claims().Lookup(tx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Internal("Exchange leg is not claimed", fmt.Errorf("slot %s of open request %s: %w", slotID, req.ID, err))
		}
		return nil, err
	}
	if slot.State != model.SlotReserved || claim.RequestID != req.ID {
		return nil, apperrors.Internal("Exchange legs are inconsistent", fmt.Errorf(
			"slot %s is %s and claimed by %s, want %s claimed by %s",
			slotID, slot.State, claim.RequestID, model.SlotReserved, req.ID,
		))
	}
	return slot, nil
}

func (s *exchangeService) moveSlot(tx context.Context, current *model.Slot, ownerID string, state model.SlotState) error {
	if err := model.CheckTransition(current.State, state); err != nil {
		return apperrors.Internal("Invalid slot transition", err)
	}
	next := *current
	next.OwnerID = ownerID
	next.State = state
	next.UpdatedAt = s.now()
	return s.store.Slots().CompareAndSwap(tx, current, &next)
}

// mapError turns store and lock failures into AppErrors. Precondition
// rejections pass through untouched.
func (s *exchangeService) mapError(err error, requestID string) error {
	switch {
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, repository.ErrNotFound) && requestID != "":
		return exchangeserrors.Reject(exchangeserrors.ErrRequestNotFound, map[string]any{"request_id": requestID})
	case errors.Is(err, repository.ErrConflict), errors.Is(err, repository.ErrClaimed):
		return exchangeserrors.Reject(exchangeserrors.ErrSlotBusy, map[string]any{"reason": err.Error()})
	case errors.Is(err, lock.ErrTimeout):
		return apperrors.Unavailable("Slot lock").WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("Exchange operation did not complete in time").WithCause(err).MarkRetryable()
	default:
		return apperrors.Unavailable("Slot store").WithCause(err)
	}
}

func (s *exchangeService) publish(ctx context.Context, event model.ExchangeEvent) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(pubCtx, event); err != nil {
		metrics.RecordEventPublishFailure(string(event.Type))
		s.log.Error("Failed to publish exchange event",
			"event_type", event.Type,
			"request_id", event.RequestID,
			"error", err,
		)
	}
}

func (s *exchangeService) record(operation string, start time.Time, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = apperrors.AsAppError(err).Code
	}
	metrics.RecordExchangeOperation(operation, outcome, time.Since(start))
}

func (s *exchangeService) logFailure(msg string, err error, args ...any) {
	args = append(args, "error", err)
	switch {
	case exchangeserrors.IsPrecondition(err):
		s.log.Warn(msg, append(args, "code", exchangeserrors.Kind(err))...)
	case apperrors.IsRetryable(err):
		s.log.Warn(msg, append(args, "retryable", true)...)
	default:
		s.log.Error(msg, args...)
	}
}
