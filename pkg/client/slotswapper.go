package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slotswapper/pkg/model"
	"strconv"
)

type Metadata struct {
	TotalCount int64 `json:"total_count"`
	Limit      int   `json:"limit"`
	Offset     int64 `json:"offset"`
}

// SlotSwapperClient talks to the exchanges API on behalf of one user.
type SlotSwapperClient struct {
	httpClient *HttpClient
}

func NewSlotSwapperClient(baseURL, identityHeader, userID string) *SlotSwapperClient {
	return &SlotSwapperClient{
		httpClient: NewHttpClient(baseURL).WithHeader(identityHeader, userID),
	}
}

func (c *SlotSwapperClient) CreateSlot(ctx context.Context, body any) (*Response, error) {
	return c.httpClient.POST(ctx, "/api/v1/slots", body)
}

func (c *SlotSwapperClient) ListMySlots(ctx context.Context) (*Response, error) {
	return c.httpClient.GET(ctx, "/api/v1/slots")
}

func (c *SlotSwapperClient) GetSlot(ctx context.Context, id string) (*Response, error) {
	return c.httpClient.GET(ctx, "/api/v1/slots/id/"+url.PathEscape(id))
}

func (c *SlotSwapperClient) UpdateSlot(ctx context.Context, id string, body any) (*Response, error) {
	return c.httpClient.PATCH(ctx, "/api/v1/slots/id/"+url.PathEscape(id), body)
}

func (c *SlotSwapperClient) SetSlotState(ctx context.Context, id string, state model.SlotState) (*Response, error) {
	return c.httpClient.PUT(ctx, "/api/v1/slots/id/"+url.PathEscape(id)+"/state", model.SlotStateUpdate{State: state})
}

func (c *SlotSwapperClient) DeleteSlot(ctx context.Context, id string) (*Response, error) {
	return c.httpClient.DELETE(ctx, "/api/v1/slots/id/"+url.PathEscape(id))
}

func (c *SlotSwapperClient) OpenExchange(ctx context.Context, offeredSlotID, requestedSlotID string) (*Response, error) {
	return c.httpClient.POST(ctx, "/api/v1/exchanges", model.OpenExchangeInput{
		OfferedSlotID:   offeredSlotID,
		RequestedSlotID: requestedSlotID,
	})
}

func (c *SlotSwapperClient) ResolveExchange(ctx context.Context, requestID string, accept bool) (*Response, error) {
	path := "/api/v1/exchanges/id/" + url.PathEscape(requestID) + "/resolve"
	return c.httpClient.POST(ctx, path, model.ResolveExchangeInput{Accept: &accept})
}

func (c *SlotSwapperClient) GetExchange(ctx context.Context, requestID string) (*Response, error) {
	return c.httpClient.GET(ctx, "/api/v1/exchanges/id/"+url.PathEscape(requestID))
}

func (c *SlotSwapperClient) ListIncoming(ctx context.Context) (*Response, error) {
	return c.httpClient.GET(ctx, "/api/v1/exchanges/incoming")
}

func (c *SlotSwapperClient) ListOutgoing(ctx context.Context) (*Response, error) {
	return c.httpClient.GET(ctx, "/api/v1/exchanges/outgoing")
}

func (c *SlotSwapperClient) ListDiscoverable(ctx context.Context, limit int, offset int64) (*Response, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.FormatInt(offset, 10))
	}
	path := "/api/v1/exchanges/discoverable"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return c.httpClient.GET(ctx, path)
}

func DecodeData[T any](resp *Response) (T, error) {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
	}
	var out T

	if err := json.Unmarshal(resp.Body, &wrapper); err != nil {
		return out, fmt.Errorf("could not decode response wrapper:\n%+v\n%s", resp.ToString(), err)
	}
	if err := json.Unmarshal(wrapper.Data, &out); err != nil {
		return out, fmt.Errorf("could not decode response data:\n%+v\n%s", resp.ToString(), err)
	}
	return out, nil
}

func DecodePaginated[T any](resp *Response) ([]T, *Metadata, error) {
	var wrapper struct {
		Data json.RawMessage `json:"data"`
		Metadata
	}

	if err := json.Unmarshal(resp.Body, &wrapper); err != nil {
		return nil, nil, fmt.Errorf("could not decode paginated resp:\n%+v\n%s", resp.ToString(), err)
	}

	var items []T
	if err := json.Unmarshal(wrapper.Data, &items); err != nil {
		return nil, nil, fmt.Errorf("could not decode list:\n%+v\n%s", resp.ToString(), err)
	}

	metadata := wrapper.Metadata
	return items, &metadata, nil
}

func (c *SlotSwapperClient) DecodeSlot(resp *Response) (*model.Slot, error) {
	return DecodeData[*model.Slot](resp)
}

func (c *SlotSwapperClient) DecodeSlots(resp *Response) ([]*model.Slot, error) {
	return DecodeData[[]*model.Slot](resp)
}

func (c *SlotSwapperClient) DecodeExchange(resp *Response) (*model.ExchangeRequest, error) {
	return DecodeData[*model.ExchangeRequest](resp)
}

func (c *SlotSwapperClient) DecodeExchangeViews(resp *Response) ([]*model.ExchangeView, error) {
	return DecodeData[[]*model.ExchangeView](resp)
}
