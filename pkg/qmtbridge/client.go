// Package qmtbridge is a Go SDK for the qmt-bridge HTTP and gRPC APIs.
package qmtbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"qmtbridge/internal/api"
	"qmtbridge/internal/domain"
	"qmtbridge/internal/engine"
	"qmtbridge/internal/event"
	"qmtbridge/internal/store"
)

// Types exchanged with the gateway.
type (
	Order         = domain.Order
	OrderRequest  = domain.OrderRequest
	Trade         = domain.Trade
	BasketRequest = engine.BasketRequest
	OrderSnapshot = store.OrderSnapshot
	Event         = event.Event
)

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
	Handle     string // set when an order was registered before failing
}

func (e *APIError) Error() string {
	return fmt.Sprintf("qmt-bridge: %d %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the qmt-bridge API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new qmt-bridge API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Orders lists every order the gateway has seen. With activeOnly set,
// finished orders are left out.
func (c *Client) Orders(ctx context.Context, activeOnly bool) ([]Order, error) {
	path := "/api/orders"
	if activeOnly {
		path += "?active=true"
	}
	var out []Order
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

// Order returns one order by handle.
func (c *Client) Order(ctx context.Context, handle string) (Order, error) {
	var out Order
	return out, c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(handle), nil, &out)
}

// OrderHistory returns every recorded state of an order, oldest first.
func (c *Client) OrderHistory(ctx context.Context, handle string) ([]OrderSnapshot, error) {
	var out []OrderSnapshot
	return out, c.do(ctx, http.MethodGet, "/api/orders/"+url.PathEscape(handle)+"/history", nil, &out)
}

// SubmitOrder places an order and returns its handle. When the gateway
// registered the order but could not hand it to the backend, the returned
// *APIError carries the handle.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	var out struct {
		Handle string `json:"handle"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/orders", req, &out); err != nil {
		return "", err
	}
	return out.Handle, nil
}

// SubmitBasket splits a basket order into constituent orders and returns
// their handles. A partial failure returns both handles and an error.
func (c *Client) SubmitBasket(ctx context.Context, req BasketRequest) ([]string, error) {
	var out struct {
		Handles []string `json:"handles"`
		Error   string   `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/basket-orders", req, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return out.Handles, fmt.Errorf("qmt-bridge: basket partially sent: %s", out.Error)
	}
	return out.Handles, nil
}

// CancelOrder requests cancellation. pending reports that the gateway queued
// the cancel until the backend order id is known.
func (c *Client) CancelOrder(ctx context.Context, handle string) (pending bool, err error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/orders/"+url.PathEscape(handle), nil, &out); err != nil {
		return false, err
	}
	return out.Status == "pending", nil
}

// Trades lists fills. Empty handle or symbol match everything; limit <= 0
// means no limit.
func (c *Client) Trades(ctx context.Context, handle, symbol string, limit int) ([]Trade, error) {
	q := url.Values{}
	if handle != "" {
		q.Set("handle", handle)
	}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/trades"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []Trade
	return out, c.do(ctx, http.MethodGet, path, nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		var e struct {
			Error  string `json:"error"`
			Handle string `json:"handle"`
		}
		_ = json.Unmarshal(data, &e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error, Handle: e.Handle}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// StreamEvents connects to the gateway's gRPC event stream and calls fn for
// each event until ctx is cancelled, the stream ends or fn returns an error.
// Empty kinds receives every event kind.
func StreamEvents(ctx context.Context, addr string, kinds []string, fn func(Event) error) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()
	return streamEvents(ctx, conn, kinds, fn)
}

func streamEvents(ctx context.Context, conn grpc.ClientConnInterface, kinds []string, fn func(Event) error) error {
	fields := map[string]any{}
	if len(kinds) > 0 {
		list := make([]any, len(kinds))
		for i, k := range kinds {
			list[i] = k
		}
		fields["kinds"] = list
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return err
	}

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "Stream", ServerStreams: true}, api.StreamMethod)
	if err != nil {
		return fmt.Errorf("starting stream: %w", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		msg := new(structpb.Struct)
		if err := stream.RecvMsg(msg); err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiving event: %w", err)
		}
		evt, err := api.StructToEvent(msg)
		if err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
