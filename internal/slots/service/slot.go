package service

import (
	"context"
	"errors"
	"net/http"
	"slotswapper/internal/exchanges/repository"
	slotserrors "slotswapper/internal/slots/errors"
	"slotswapper/internal/slots/validator"
	"slotswapper/pkg/config"
	apperrors "slotswapper/pkg/errors"
	"slotswapper/pkg/lock"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/metrics"
	"slotswapper/pkg/model"
	"slotswapper/pkg/sanitizer"
	"slotswapper/pkg/validation"
	"sync"
	"time"
)

type SlotService interface {
	Create(ctx context.Context, ownerID string, slot *model.Slot) error
	GetByID(ctx context.Context, ownerID, id string) (*model.Slot, error)
	ListMine(ctx context.Context, ownerID string, page model.Page) ([]*model.Slot, int64, error)
	Update(ctx context.Context, ownerID, id string, updates *model.SlotUpdate) (*model.Slot, error)
	SetState(ctx context.Context, ownerID, id string, state model.SlotState) (*model.Slot, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// slotService never touches a RESERVED slot. Every mutation holds the slot
// lock the exchange engine uses and writes conditionally on the version it
// read, so it cannot interleave with an exchange.
type slotService struct {
	repo      repository.SlotRepository
	locker    lock.Locker
	validator *validator.SlotValidator
	log       *logger.Logger

	operationTimeout time.Duration
}

func NewSlotService(
	repo repository.SlotRepository,
	locker lock.Locker,
	validator *validator.SlotValidator,
	cfg *config.Config,
) SlotService {
	return &slotService{
		repo:      repo,
		locker:    locker,
		validator: validator,
		log:       cfg.Log,

		operationTimeout: cfg.OperationTimeout,
	}
}

func (s *slotService) Create(ctx context.Context, ownerID string, slot *model.Slot) (err error) {
	defer s.record("create", &err)

	slot.ID = ""
	slot.OwnerID = ownerID
	if slot.State == "" {
		slot.State = model.SlotUnlisted
	}
	s.sanitize(slot)
	if !slot.State.OwnerSettable() {
		return apperrors.Validation("Invalid slot input", map[string]any{
			"fields": map[string]any{"State": "state must be one of: UNLISTED LISTED"},
		})
	}
	if err := s.validate(slot); err != nil {
		return err
	}

	if err := s.repo.Create(ctx, slot); err != nil {
		s.log.Error("Failed to create slot", "owner_id", ownerID, "error", err)
		return apperrors.Unavailable("Slot store").WithCause(err)
	}

	s.log.Info("Slot created successfully",
		"id", slot.ID,
		"owner_id", slot.OwnerID,
		"state", slot.State,
		"start_time", slot.StartTime,
	)
	return nil
}

func (s *slotService) GetByID(ctx context.Context, ownerID, id string) (*model.Slot, error) {
	slot, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.mapFindError(err, id)
	}
	if slot.OwnerID != ownerID {
		return nil, apperrors.NotFoundWithID("Slot", id).WithCause(slotserrors.ErrNotFound)
	}
	return slot, nil
}

func (s *slotService) ListMine(ctx context.Context, ownerID string, page model.Page) ([]*model.Slot, int64, error) {
	filter := repository.SlotFilter{OwnerID: ownerID}

	var count int64
	var slots []*model.Slot
	var errCount, errFind error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		count, errCount = s.repo.Count(ctx, filter)
		if errCount != nil {
			s.log.Error("Failed to count slots", "owner_id", ownerID, "error", errCount)
			errCount = apperrors.Unavailable("Slot store").WithCause(errCount)
		}
	}()

	go func() {
		defer wg.Done()
		slots, errFind = s.repo.Find(ctx, filter, page)
		if errFind != nil {
			s.log.Error("Failed to list slots", "owner_id", ownerID, "error", errFind)
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

func (s *slotService) Update(ctx context.Context, ownerID, id string, updates *model.SlotUpdate) (updated *model.Slot, err error) {
	defer s.record("update", &err)

	if err := s.validator.ValidateUpdate(updates); err != nil {
		s.log.Warn("Slot update validation failed", "id", id, "error", err)
		return nil, validationError(err)
	}

	err = s.mutate(ctx, ownerID, id, func(ctx context.Context, current *model.Slot) error {
		merged := mergeSlotUpdates(current, updates)
		s.sanitize(merged)
		if err := s.validate(merged); err != nil {
			return err
		}
		if err := s.repo.CompareAndSwap(ctx, current, merged); err != nil {
			return err
		}
		updated = merged
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Slot updated successfully", "id", id, "owner_id", ownerID)
	return updated, nil
}

func (s *slotService) SetState(ctx context.Context, ownerID, id string, state model.SlotState) (updated *model.Slot, err error) {
	defer s.record("set_state", &err)

	if !state.OwnerSettable() {
		return nil, apperrors.Validation("Invalid state", map[string]any{
			"fields": map[string]any{"State": "state must be one of: UNLISTED LISTED"},
		})
	}

	err = s.mutate(ctx, ownerID, id, func(ctx context.Context, current *model.Slot) error {
		if current.State == state {
			updated = current
			return nil
		}
		if err := model.CheckTransition(current.State, state); err != nil {
			return apperrors.Validation("Invalid state transition", map[string]any{"error": err.Error()})
		}
		next := *current
		next.State = state
		if err := s.repo.CompareAndSwap(ctx, current, &next); err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Slot state changed", "id", id, "owner_id", ownerID, "state", updated.State)
	return updated, nil
}

func (s *slotService) Delete(ctx context.Context, ownerID, id string) (err error) {
	defer s.record("delete", &err)

	err = s.mutate(ctx, ownerID, id, func(ctx context.Context, current *model.Slot) error {
		return s.repo.DeleteIf(ctx, current)
	})
	if err != nil {
		return err
	}

	s.log.Info("Slot deleted successfully", "id", id, "owner_id", ownerID)
	return nil
}

// mutate loads the caller's slot under its lock, refuses RESERVED slots and
// runs fn. fn must write conditionally on the slot it is given. Work under
// the lock is bounded by the operation timeout so it ends before the lock
// can expire.
func (s *slotService) mutate(ctx context.Context, ownerID, id string, fn func(ctx context.Context, current *model.Slot) error) error {
	release, err := s.locker.Acquire(ctx, id)
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			return apperrors.Unavailable("Slot lock").WithCause(err)
		}
		return apperrors.Timeout("Slot operation did not complete in time").WithCause(err).MarkRetryable()
	}
	defer release()

	if s.operationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.operationTimeout)
		defer cancel()
	}

	current, err := s.GetByID(ctx, ownerID, id)
	if err != nil {
		return err
	}

	switch current.State {
	case model.SlotReserved:
		s.log.Warn("Refused to modify reserved slot", "id", id, "owner_id", ownerID)
		return reservedError(id)
	case model.SlotListed, model.SlotUnlisted:
	default:
		return apperrors.Internal("Slot has an unknown state", nil)
	}

	err = fn(ctx, current)
	switch {
	case err == nil:
		return nil
	case apperrors.IsAppError(err):
		return err
	case errors.Is(err, repository.ErrConflict):
		return apperrors.Conflict("Slot was modified concurrently, retry with fresh data").WithCause(err)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NotFoundWithID("Slot", id).WithCause(slotserrors.ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.Timeout("Slot operation did not complete in time").WithCause(err).MarkRetryable()
	default:
		s.log.Error("Slot store failure", "id", id, "error", err)
		return apperrors.Unavailable("Slot store").WithCause(err)
	}
}

func (s *slotService) mapFindError(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFoundWithID("Slot", id).WithCause(slotserrors.ErrNotFound)
	}
	s.log.Error("Failed to retrieve slot", "id", id, "error", err)
	return apperrors.Unavailable("Slot store").WithCause(err)
}

func (s *slotService) sanitize(slot *model.Slot) {
	slot.Title = sanitizer.NormalizeTitle(slot.Title)
	slot.StartTime = slot.StartTime.UTC()
	slot.EndTime = slot.EndTime.UTC()
}

func (s *slotService) validate(slot *model.Slot) error {
	if err := s.validator.Validate(slot); err != nil {
		s.log.Warn("Slot validation failed",
			"owner_id", slot.OwnerID,
			"error", err,
		)
		return validationError(err)
	}
	return nil
}

func (s *slotService) record(operation string, err *error) {
	outcome := metrics.OutcomeSuccess
	if *err != nil {
		outcome = apperrors.AsAppError(*err).Code
	}
	metrics.RecordSlotOperation(operation, outcome)
}

func mergeSlotUpdates(existing *model.Slot, updates *model.SlotUpdate) *model.Slot {
	merged := *existing
	if updates.Title != "" {
		merged.Title = updates.Title
	}
	if updates.StartTime != nil {
		merged.StartTime = *updates.StartTime
	}
	if updates.EndTime != nil {
		merged.EndTime = *updates.EndTime
	}
	merged.UpdatedAt = time.Now().UTC()
	return &merged
}

func reservedError(id string) error {
	return apperrors.Wrap(slotserrors.ErrReserved, slotserrors.CodeSlotReserved,
		"Slot is reserved by a pending exchange and cannot be changed", http.StatusConflict,
	).WithDetails(map[string]any{"id": id})
}

func validationError(err error) error {
	return validation.ToAppError(err, "Invalid slot input")
}
