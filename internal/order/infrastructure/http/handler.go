package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/order/application"
	"github.com/orderflow/fulfillment/internal/order/domain"
	"github.com/orderflow/fulfillment/internal/rpc"
)

type Handler struct {
	log      *slog.Logger
	service  *application.Service
	rpcReady func() bool
	tracer   trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service, rpcReady func() bool) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		rpcReady: rpcReady,
		tracer:   otel.Tracer("order-http"),
	}
}

type orderItemReq struct {
	ProductID      int   `json:"product_id"`
	Quantity       int   `json:"quantity"`
	UnitPriceCents int64 `json:"unit_price_cents"`
}

type createOrderReq struct {
	UserID int            `json:"user_id"`
	Items  []orderItemReq `json:"items"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/sellers/{userID}", h.getSeller)
	r.Get("/healthz", h.health)

	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 || len(req.Items) == 0 {
		http.Error(w, "user_id and at least one item are required", http.StatusBadRequest)
		return
	}

	items := make([]domain.Item, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			http.Error(w, "item quantity must be positive", http.StatusBadRequest)
			return
		}
		items = append(items, domain.Item{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}

	o, err := h.service.PlaceOrder(ctx, req.UserID, items, traceparent(ctx, r))
	if err != nil {
		h.log.Error("place order failed", "err", err)
		http.Error(w, "could not place order", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"order_id": o.ID, "status": o.Status})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	o, err := h.service.GetOrder(r.Context(), id)
	if errors.Is(err, application.ErrOrderNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get order failed", "order_id", id, "err", err)
		http.Error(w, "could not load order", http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(o)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	err = h.service.CancelOrder(ctx, id, traceparent(ctx, r))
	if errors.Is(err, application.ErrOrderNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("cancel order failed", "order_id", id, "err", err)
		http.Error(w, "could not request cancellation", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]any{"order_id": id, "status": "cancellation requested"})
}

func (h *Handler) getSeller(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetSeller")
	defer span.End()

	userID, err := strconv.Atoi(chi.URLParam(r, "userID"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	profile, err := h.service.GetSellerProfile(ctx, userID)
	switch {
	case errors.Is(err, rpc.ErrTimeout):
		http.Error(w, "seller lookup timed out", http.StatusGatewayTimeout)
		return
	case errors.Is(err, application.ErrSellerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case err != nil:
		h.log.Error("seller lookup failed", "user_id", userID, "err", err)
		http.Error(w, "seller lookup failed", http.StatusBadGateway)
		return
	}
	_ = json.NewEncoder(w).Encode(profile)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ready := h.rpcReady()
	status := map[string]any{"status": "healthy", "rpc_listener": ready}
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "degraded"
	}
	_ = json.NewEncoder(w).Encode(status)
}

func traceparent(ctx context.Context, r *http.Request) string {
	if tp := r.Header.Get("traceparent"); tp != "" {
		return tp
	}
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier["traceparent"]
}
