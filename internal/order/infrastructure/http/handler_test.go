package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/order/application"
	"github.com/orderflow/fulfillment/internal/order/domain"
	"github.com/orderflow/fulfillment/internal/rpc"
)

type fakeOrderRepo struct {
	nextID int
	orders map[int]domain.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int]domain.Order)}
}

func (f *fakeOrderRepo) NextID(ctx context.Context) (int, error) {
	f.nextID++
	return f.nextID, nil
}

func (f *fakeOrderRepo) SaveWithOutbox(ctx context.Context, o domain.Order, eventType, topic string, payload []byte, headers map[string]string, traceparent string) error {
	f.orders[o.ID] = o
	return nil
}

func (f *fakeOrderRepo) EnqueueEvent(ctx context.Context, orderID int, eventType, topic string, payload []byte, headers map[string]string, traceparent string) error {
	return nil
}

func (f *fakeOrderRepo) Get(ctx context.Context, id int) (domain.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, application.ErrOrderNotFound
	}
	return o, nil
}

type fakeSellerGateway struct {
	profile contracts.SellerProfile
	err     error
}

func (f *fakeSellerGateway) GetSellerProfile(ctx context.Context, userID int) (contracts.SellerProfile, error) {
	return f.profile, f.err
}

func newTestHandler(repo *fakeOrderRepo, sellers *fakeSellerGateway, ready bool) *Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := application.NewService(log, repo, sellers)
	return NewHandler(log, svc, func() bool { return ready })
}

func TestCreateOrderAccepted(t *testing.T) {
	repo := newFakeOrderRepo()
	h := newTestHandler(repo, &fakeSellerGateway{}, true)

	body := `{"user_id": 42, "items": [{"product_id": 7, "quantity": 3, "unit_price_cents": 1000}]}`
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Pending", resp["status"])
	assert.NotZero(t, resp["order_id"])
	assert.Len(t, repo.orders, 1)
}

func TestCreateOrderValidation(t *testing.T) {
	h := newTestHandler(newFakeOrderRepo(), &fakeSellerGateway{}, true)

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", `{`},
		{"missing items", `{"user_id": 42, "items": []}`},
		{"missing user", `{"items": [{"product_id": 1, "quantity": 1}]}`},
		{"zero quantity", `{"user_id": 1, "items": [{"product_id": 1, "quantity": 0}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetOrderNotFound(t *testing.T) {
	h := newTestHandler(newFakeOrderRepo(), &fakeSellerGateway{}, true)

	req := httptest.NewRequest(http.MethodGet, "/orders/999", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	repo := newFakeOrderRepo()
	repo.orders[5] = domain.New(5, 42, []domain.Item{{ProductID: 1, Quantity: 1, UnitPriceCents: 100}})
	h := newTestHandler(repo, &fakeSellerGateway{}, true)

	req := httptest.NewRequest(http.MethodPost, "/orders/5/cancel", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/orders/999/cancel", nil)
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSellerStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", fmt.Errorf("lookup: %w", rpc.ErrTimeout), http.StatusGatewayTimeout},
		{"not found", application.ErrSellerNotFound, http.StatusNotFound},
		{"other failure", fmt.Errorf("broker gone"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(newFakeOrderRepo(), &fakeSellerGateway{err: tc.err}, true)
			req := httptest.NewRequest(http.MethodGet, "/sellers/42", nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestGetSellerSuccess(t *testing.T) {
	gw := &fakeSellerGateway{profile: contracts.SellerProfile{SellerID: 9, UserID: 42, StoreName: "Acme"}}
	h := newTestHandler(newFakeOrderRepo(), gw, true)

	req := httptest.NewRequest(http.MethodGet, "/sellers/42", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got contracts.SellerProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, gw.profile, got)
}

func TestHealthReflectsRPCListener(t *testing.T) {
	h := newTestHandler(newFakeOrderRepo(), &fakeSellerGateway{}, true)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	h = newTestHandler(newFakeOrderRepo(), &fakeSellerGateway{}, false)
	rec = httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
