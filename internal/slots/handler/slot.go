package handler

import (
	"encoding/json"
	"net/http"

	"slotswapper/internal/slots/service"
	"slotswapper/internal/slots/validator"
	apperrors "slotswapper/pkg/errors"
	httputil "slotswapper/pkg/http"
	"slotswapper/pkg/identity"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"slotswapper/pkg/validation"

	"github.com/julienschmidt/httprouter"
)

type SlotHandler struct {
	service   service.SlotService
	validator *validator.SlotValidator
	log       *logger.Logger
}

func NewSlotHandler(service service.SlotService, validator *validator.SlotValidator, log *logger.Logger) *SlotHandler {
	return &SlotHandler{
		service:   service,
		validator: validator,
		log:       log,
	}
}

func (h *SlotHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	owner, ok := h.caller(w, r, "Create")
	if !ok {
		return
	}

	var slot model.Slot
	if err := json.NewDecoder(r.Body).Decode(&slot); err != nil {
		h.writeError(w, "Create", apperrors.InvalidInput("Invalid request body"))
		return
	}

	if err := h.service.Create(r.Context(), owner, &slot); err != nil {
		h.writeError(w, "Create", err)
		return
	}

	if err := httputil.WriteCreated(w, slot); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *SlotHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, ok := h.caller(w, r, "GetByID")
	if !ok {
		return
	}
	id, ok := h.id(w, ps, "GetByID")
	if !ok {
		return
	}

	slot, err := h.service.GetByID(r.Context(), owner, id)
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, slot); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

// GetAll lists the caller's slots, every one unless limit or offset is given.
func (h *SlotHandler) GetAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	owner, ok := h.caller(w, r, "GetAll")
	if !ok {
		return
	}

	page, err := httputil.ExtractPage(r)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	slots, total, err := h.service.ListMine(r.Context(), owner, page)
	if err != nil {
		h.writeError(w, "GetAll", err)
		return
	}

	if err := httputil.WritePaginated(w, slots, total, page.Limit, page.Offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "GetAll", "operation", "WritePaginated", "error", err)
	}
}

func (h *SlotHandler) Update(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, ok := h.caller(w, r, "Update")
	if !ok {
		return
	}
	id, ok := h.id(w, ps, "Update")
	if !ok {
		return
	}

	var updates model.SlotUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		h.writeError(w, "Update", apperrors.InvalidInput("Invalid request body"))
		return
	}

	slot, err := h.service.Update(r.Context(), owner, id, &updates)
	if err != nil {
		h.writeError(w, "Update", err)
		return
	}

	if err := httputil.WriteSuccess(w, slot); err != nil {
		h.log.Error("failed to write success response", "handler", "Update", "operation", "WriteSuccess", "error", err)
	}
}

func (h *SlotHandler) SetState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, ok := h.caller(w, r, "SetState")
	if !ok {
		return
	}
	id, ok := h.id(w, ps, "SetState")
	if !ok {
		return
	}

	var input model.SlotStateUpdate
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, "SetState", apperrors.InvalidInput("Invalid request body"))
		return
	}
	if err := h.validator.ValidateState(&input); err != nil {
		h.writeError(w, "SetState", validation.ToAppError(err, "Invalid state"))
		return
	}

	slot, err := h.service.SetState(r.Context(), owner, id, input.State)
	if err != nil {
		h.writeError(w, "SetState", err)
		return
	}

	if err := httputil.WriteSuccess(w, slot); err != nil {
		h.log.Error("failed to write success response", "handler", "SetState", "operation", "WriteSuccess", "error", err)
	}
}

func (h *SlotHandler) Delete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	owner, ok := h.caller(w, r, "Delete")
	if !ok {
		return
	}
	id, ok := h.id(w, ps, "Delete")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), owner, id); err != nil {
		h.writeError(w, "Delete", err)
		return
	}

	httputil.WriteNoContent(w)
}

func (h *SlotHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/slots", h.Create)
	router.GET("/api/v1/slots", h.GetAll)
	router.GET("/api/v1/slots/id/:id", h.GetByID)
	router.PATCH("/api/v1/slots/id/:id", h.Update)
	router.PUT("/api/v1/slots/id/:id/state", h.SetState)
	router.DELETE("/api/v1/slots/id/:id", h.Delete)
}

func (h *SlotHandler) caller(w http.ResponseWriter, r *http.Request, handler string) (string, bool) {
	userID, err := identity.MustFromContext(r.Context())
	if err != nil {
		h.writeError(w, handler, err)
		return "", false
	}
	return userID, true
}

func (h *SlotHandler) id(w http.ResponseWriter, ps httprouter.Params, handler string) (string, bool) {
	id := ps.ByName("id")
	if err := h.validator.ValidateID(id); err != nil {
		h.writeError(w, handler, validation.ToAppError(err, "Invalid slot ID"))
		return "", false
	}
	return id, true
}

func (h *SlotHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}
