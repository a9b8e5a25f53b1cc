package handler

import (
	"encoding/json"
	"net/http"
	"slotswapper/internal/exchanges/service"
	"slotswapper/internal/exchanges/validator"
	apperrors "slotswapper/pkg/errors"
	httputil "slotswapper/pkg/http"
	"slotswapper/pkg/identity"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"slotswapper/pkg/validation"

	"github.com/julienschmidt/httprouter"
)

type ExchangeHandler struct {
	service   service.ExchangeService
	validator *validator.ExchangeValidator
	log       *logger.Logger
}

func NewExchangeHandler(service service.ExchangeService, validator *validator.ExchangeValidator, log *logger.Logger) *ExchangeHandler {
	return &ExchangeHandler{
		service:   service,
		validator: validator,
		log:       log,
	}
}

func (h *ExchangeHandler) Open(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, ok := h.caller(w, r, "Open")
	if !ok {
		return
	}
	var input model.OpenExchangeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, "Open", apperrors.InvalidInput("Invalid request body"))
		return
	}
	if err := h.validator.ValidateOpen(&input); err != nil {
		h.writeError(w, "Open", validationError(err))
		return
	}

	req, err := h.service.OpenExchange(r.Context(), caller, input.OfferedSlotID, input.RequestedSlotID)
	if err != nil {
		h.writeError(w, "Open", err)
		return
	}

	if err := httputil.WriteCreated(w, req); err != nil {
		h.log.Error("failed to write created response", "handler", "Open", "operation", "WriteCreated", "error", err)
	}
}

func (h *ExchangeHandler) Resolve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, ok := h.caller(w, r, "Resolve")
	if !ok {
		return
	}
	id := ps.ByName("id")
	if err := h.validator.ValidateID(id); err != nil {
		h.writeError(w, "Resolve", validationError(err))
		return
	}

	var input model.ResolveExchangeInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, "Resolve", apperrors.InvalidInput("Invalid request body"))
		return
	}
	if err := h.validator.ValidateResolve(&input); err != nil {
		h.writeError(w, "Resolve", validationError(err))
		return
	}

	req, err := h.service.ResolveExchange(r.Context(), caller, id, *input.Accept)
	if err != nil {
		h.writeError(w, "Resolve", err)
		return
	}

	if err := httputil.WriteSuccess(w, req); err != nil {
		h.log.Error("failed to write success response", "handler", "Resolve", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ExchangeHandler) GetByID(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, ok := h.caller(w, r, "GetByID")
	if !ok {
		return
	}
	id := ps.ByName("id")
	if err := h.validator.ValidateID(id); err != nil {
		h.writeError(w, "GetByID", validationError(err))
		return
	}

	view, err := h.service.GetExchange(r.Context(), caller, id)
	if err != nil {
		h.writeError(w, "GetByID", err)
		return
	}

	if err := httputil.WriteSuccess(w, view); err != nil {
		h.log.Error("failed to write success response", "handler", "GetByID", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ExchangeHandler) Incoming(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, ok := h.caller(w, r, "Incoming")
	if !ok {
		return
	}
	views, err := h.service.ListIncoming(r.Context(), caller)
	if err != nil {
		h.writeError(w, "Incoming", err)
		return
	}

	if err := httputil.WriteSuccess(w, views); err != nil {
		h.log.Error("failed to write success response", "handler", "Incoming", "operation", "WriteSuccess", "error", err)
	}
}

func (h *ExchangeHandler) Outgoing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, ok := h.caller(w, r, "Outgoing")
	if !ok {
		return
	}
	views, err := h.service.ListOutgoing(r.Context(), caller)
	if err != nil {
		h.writeError(w, "Outgoing", err)
		return
	}

	if err := httputil.WriteSuccess(w, views); err != nil {
		h.log.Error("failed to write success response", "handler", "Outgoing", "operation", "WriteSuccess", "error", err)
	}
}

// Discoverable returns every match unless limit or offset is given.
func (h *ExchangeHandler) Discoverable(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	caller, ok := h.caller(w, r, "Discoverable")
	if !ok {
		return
	}
	page, err := httputil.ExtractPage(r)
	if err != nil {
		h.writeError(w, "Discoverable", err)
		return
	}

	slots, total, err := h.service.ListDiscoverable(r.Context(), caller, page)
	if err != nil {
		h.writeError(w, "Discoverable", err)
		return
	}

	if err := httputil.WritePaginated(w, slots, total, page.Limit, page.Offset); err != nil {
		h.log.Error("failed to write paginated response", "handler", "Discoverable", "operation", "WritePaginated", "error", err)
	}
}

func (h *ExchangeHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/exchanges", h.Open)
	router.GET("/api/v1/exchanges/incoming", h.Incoming)
	router.GET("/api/v1/exchanges/outgoing", h.Outgoing)
	router.GET("/api/v1/exchanges/discoverable", h.Discoverable)
	router.GET("/api/v1/exchanges/id/:id", h.GetByID)
	router.POST("/api/v1/exchanges/id/:id/resolve", h.Resolve)
}

func (h *ExchangeHandler) writeError(w http.ResponseWriter, handler string, err error) {
	if writeErr := httputil.WriteError(w, err); writeErr != nil {
		h.log.Error("failed to write error response", "handler", handler, "operation", "WriteError", "error", writeErr)
	}
}

func (h *ExchangeHandler) caller(w http.ResponseWriter, r *http.Request, handler string) (string, bool) {
	userID, err := identity.MustFromContext(r.Context())
	if err != nil {
		h.writeError(w, handler, err)
		return "", false
	}
	return userID, true
}

func validationError(err error) error {
	return validation.ToAppError(err, "Invalid input")
}
