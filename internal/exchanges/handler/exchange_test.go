package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	exchangeserrors "slotswapper/internal/exchanges/errors"
	"slotswapper/internal/exchanges/validator"
	"slotswapper/pkg/identity"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"

	"github.com/julienschmidt/httprouter"
)

type mockExchangeService struct {
	openFunc         func(ctx context.Context, initiatorID, offeredSlotID, requestedSlotID string) (*model.ExchangeRequest, error)
	resolveFunc      func(ctx context.Context, callerID, requestID string, accept bool) (*model.ExchangeRequest, error)
	getFunc          func(ctx context.Context, callerID, requestID string) (*model.ExchangeView, error)
	discoverableFunc func(ctx context.Context, callerID string, page model.Page) ([]*model.Slot, int64, error)
}

func (m *mockExchangeService) OpenExchange(ctx context.Context, initiatorID, offeredSlotID, requestedSlotID string) (*model.ExchangeRequest, error) {
	return m.openFunc(ctx, initiatorID, offeredSlotID, requestedSlotID)
}

func (m *mockExchangeService) ResolveExchange(ctx context.Context, callerID, requestID string, accept bool) (*model.ExchangeRequest, error) {
	return m.resolveFunc(ctx, callerID, requestID, accept)
}

func (m *mockExchangeService) GetExchange(ctx context.Context, callerID, requestID string) (*model.ExchangeView, error) {
	return m.getFunc(ctx, callerID, requestID)
}

func (m *mockExchangeService) ListDiscoverable(ctx context.Context, callerID string, page model.Page) ([]*model.Slot, int64, error) {
	if m.discoverableFunc != nil {
		return m.discoverableFunc(ctx, callerID, page)
	}
	return []*model.Slot{}, 0, nil
}

func (m *mockExchangeService) ListIncoming(ctx context.Context, callerID string) ([]*model.ExchangeView, error) {
	return []*model.ExchangeView{}, nil
}

func (m *mockExchangeService) ListOutgoing(ctx context.Context, callerID string) ([]*model.ExchangeView, error) {
	return []*model.ExchangeView{}, nil
}

func newTestHandler(svc *mockExchangeService) *ExchangeHandler {
	log := logger.Discard()
	return NewExchangeHandler(svc, validator.NewExchangeValidator(log), log)
}

func asUser(r *http.Request, user string) *http.Request {
	return r.WithContext(identity.WithUserID(r.Context(), user))
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body.Code
}

func TestOpen(t *testing.T) {
	var gotInitiator, gotOffered, gotRequested string
	svc := &mockExchangeService{
		openFunc: func(ctx context.Context, initiatorID, offeredSlotID, requestedSlotID string) (*model.ExchangeRequest, error) {
			gotInitiator, gotOffered, gotRequested = initiatorID, offeredSlotID, requestedSlotID
			if requestedSlotID == "busy" {
				return nil, exchangeserrors.Reject(exchangeserrors.ErrSlotBusy, nil)
			}
			return &model.ExchangeRequest{ID: "r1", Status: model.ExchangeOpen}, nil
		},
	}
	h := newTestHandler(svc)

	tests := []struct {
		name       string
		user       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"created", "alice", `{"offered_slot_id":"s1","requested_slot_id":"s2"}`, http.StatusCreated, ""},
		{"no identity", "", `{"offered_slot_id":"s1","requested_slot_id":"s2"}`, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"malformed body", "alice", `{"offered_slot_id":`, http.StatusBadRequest, "INVALID_INPUT"},
		{"missing requested slot", "alice", `{"offered_slot_id":"s1"}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"bad id characters", "alice", `{"offered_slot_id":"s/1","requested_slot_id":"s2"}`, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
		{"engine rejection", "alice", `{"offered_slot_id":"s1","requested_slot_id":"busy"}`, http.StatusConflict, "SLOT_BUSY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/exchanges", strings.NewReader(tt.body))
			if tt.user != "" {
				req = asUser(req, tt.user)
			}
			w := httptest.NewRecorder()

			h.Open(w, req, nil)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if tt.wantCode != "" {
				if code := errorCode(t, w); code != tt.wantCode {
					t.Errorf("expected code %s, got %s", tt.wantCode, code)
				}
			}
		})
	}

	if gotInitiator != "alice" || gotOffered != "s1" || gotRequested != "busy" {
		t.Errorf("service received %q %q %q", gotInitiator, gotOffered, gotRequested)
	}
}

func TestResolve(t *testing.T) {
	var gotAccept bool
	svc := &mockExchangeService{
		resolveFunc: func(ctx context.Context, callerID, requestID string, accept bool) (*model.ExchangeRequest, error) {
			if callerID != "bob" {
				return nil, exchangeserrors.Reject(exchangeserrors.ErrNotAuthorized, nil)
			}
			gotAccept = accept
			return &model.ExchangeRequest{ID: requestID, Status: model.ExchangeAccepted}, nil
		},
	}
	router := httprouter.New()
	newTestHandler(svc).RegisterRoutes(router)

	tests := []struct {
		name       string
		user       string
		body       string
		wantStatus int
	}{
		{"accept", "bob", `{"accept":true}`, http.StatusOK},
		{"accept flag required", "bob", `{}`, http.StatusUnprocessableEntity},
		{"not the counterparty", "alice", `{"accept":true}`, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := asUser(httptest.NewRequest(http.MethodPost, "/api/v1/exchanges/id/r1/resolve", strings.NewReader(tt.body)), tt.user)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}

	if !gotAccept {
		t.Error("accept flag was not passed to the service")
	}
}

func TestGetByID_NotFoundForStrangers(t *testing.T) {
	svc := &mockExchangeService{
		getFunc: func(ctx context.Context, callerID, requestID string) (*model.ExchangeView, error) {
			return nil, exchangeserrors.Reject(exchangeserrors.ErrRequestNotFound, map[string]any{"request_id": requestID})
		},
	}
	router := httprouter.New()
	newTestHandler(svc).RegisterRoutes(router)

	req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/exchanges/id/r1", nil), "mallory")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
	if code := errorCode(t, w); code != exchangeserrors.CodeRequestNotFound {
		t.Errorf("expected code %s, got %s", exchangeserrors.CodeRequestNotFound, code)
	}
}

func TestDiscoverable_Pagination(t *testing.T) {
	var gotPage model.Page
	svc := &mockExchangeService{
		discoverableFunc: func(ctx context.Context, callerID string, page model.Page) ([]*model.Slot, int64, error) {
			gotPage = page
			return []*model.Slot{{ID: "s1"}, {ID: "s2"}}, 7, nil
		},
	}
	h := newTestHandler(svc)

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantPage   model.Page
	}{
		{"unbounded", "", http.StatusOK, model.Page{}},
		{"bounded", "?limit=2&offset=4", http.StatusOK, model.Page{Limit: 2, Offset: 4}},
		{"invalid limit", "?limit=abc", http.StatusBadRequest, model.Page{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotPage = model.Page{}
			req := asUser(httptest.NewRequest(http.MethodGet, "/api/v1/exchanges/discoverable"+tt.query, nil), "alice")
			w := httptest.NewRecorder()

			h.Discoverable(w, req, nil)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, w.Code, w.Body.String())
			}
			if gotPage != tt.wantPage {
				t.Errorf("expected page %+v, got %+v", tt.wantPage, gotPage)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var response struct {
				Data       []model.Slot `json:"data"`
				TotalCount int64        `json:"total_count"`
			}
			if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if response.TotalCount != 7 || len(response.Data) != 2 {
				t.Errorf("unexpected body: total=%d items=%d", response.TotalCount, len(response.Data))
			}
		})
	}
}
