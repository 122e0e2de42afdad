package application

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/order/domain"
)

type Service struct {
	log     *slog.Logger
	repo    OrderRepository
	sellers SellerGateway
}

func NewService(log *slog.Logger, repo OrderRepository, sellers SellerGateway) *Service {
	return &Service{log: log, repo: repo, sellers: sellers}
}

// PlaceOrder registers the order as Pending and enqueues the creation
// event in the same transaction. The reservation outcome arrives later
// through the reconciler; the caller never waits for it.
func (s *Service) PlaceOrder(ctx context.Context, userID int, items []domain.Item, traceparent string) (domain.Order, error) {
	id, err := s.repo.NextID(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	o := domain.New(id, userID, items)

	ev := contracts.OrderCreationEvent{
		RequestID: uuid.NewString(),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Items:     toContractItems(items),
		CreatedAt: o.CreatedAt,
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return domain.Order{}, err
	}

	headers := map[string]string{"source": "order-service"}
	if err := s.repo.SaveWithOutbox(ctx, o, "OrderCreated", contracts.TopicOrderCreated, payload, headers, traceparent); err != nil {
		return domain.Order{}, err
	}

	s.log.Info("order placed", "order_id", o.ID, "user_id", o.UserID, "request_id", ev.RequestID)
	return o, nil
}

// CancelOrder enqueues a cancellation request carrying the order's line
// items so the inventory side knows what to restore. The status flip to
// Cancelled happens only when the compensation result comes back.
func (s *Service) CancelOrder(ctx context.Context, orderID int, traceparent string) error {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}

	ev := contracts.CancellationRequestEvent{
		RequestID: uuid.NewString(),
		OrderID:   o.ID,
		UserID:    o.UserID,
		Items:     toContractItems(o.Items),
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	headers := map[string]string{"source": "order-service"}
	if err := s.repo.EnqueueEvent(ctx, o.ID, "OrderCancellationRequested", contracts.TopicOrderCancellation, payload, headers, traceparent); err != nil {
		return err
	}

	s.log.Info("cancellation requested", "order_id", o.ID, "request_id", ev.RequestID)
	return nil
}

func (s *Service) GetOrder(ctx context.Context, id int) (domain.Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) GetSellerProfile(ctx context.Context, userID int) (contracts.SellerProfile, error) {
	return s.sellers.GetSellerProfile(ctx, userID)
}

func toContractItems(items []domain.Item) []contracts.OrderItem {
	out := make([]contracts.OrderItem, 0, len(items))
	for _, item := range items {
		out = append(out, contracts.OrderItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPriceCents: item.UnitPriceCents,
		})
	}
	return out
}
