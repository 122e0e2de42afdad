package application

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/rpc"
)

type Service struct {
	log  *slog.Logger
	repo StockRepository
}

func NewService(log *slog.Logger, repo StockRepository) *Service {
	return &Service{log: log, repo: repo}
}

// ReserveStock handles one OrderCreationEvent. A success=false result is
// a business outcome, not an error; only transport or persistence
// failures return non-nil so the consumer withholds its offset commit.
func (s *Service) ReserveStock(ctx context.Context, ev contracts.OrderCreationEvent) error {
	res, applied, err := s.repo.Reserve(ctx, ev)
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("reservation already applied, skipping", "request_id", ev.RequestID, "order_id", ev.OrderID)
		return nil
	}
	if res.Success {
		s.log.Info("stock reserved", "request_id", ev.RequestID, "order_id", ev.OrderID, "items", len(res.UpdatedItems))
	} else {
		s.log.Info("reservation rejected", "request_id", ev.RequestID, "order_id", ev.OrderID, "reason", res.ErrorMessage)
	}
	return nil
}

// RestoreStock handles one CancellationRequestEvent. Restoring an order
// that was never reserved is a successful no-op.
func (s *Service) RestoreStock(ctx context.Context, ev contracts.CancellationRequestEvent) error {
	res, applied, err := s.repo.Restore(ctx, ev)
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("restore already applied, skipping", "request_id", ev.RequestID, "order_id", ev.OrderID)
		return nil
	}
	if res.Success {
		s.log.Info("stock restored", "request_id", ev.RequestID, "order_id", ev.OrderID, "items", len(res.UpdatedItems))
	} else {
		s.log.Warn("restore failed", "request_id", ev.RequestID, "order_id", ev.OrderID, "reason", res.ErrorMessage)
	}
	return nil
}

// SellerProfileHandler answers get_seller_profile RPC requests from the
// seller directory. Lookup misses become success=false responses.
func SellerProfileHandler(log *slog.Logger, dir SellerDirectory) rpc.Handler {
	return func(ctx context.Context, req contracts.RPCRequest) contracts.RPCResponse {
		resp := contracts.RPCResponse{RequestID: req.RequestID}

		payload, err := req.DecodePayload()
		if err != nil {
			resp.ErrorMessage = err.Error()
			return resp
		}
		query, ok := payload.(contracts.SellerProfileQuery)
		if !ok {
			resp.ErrorMessage = "unexpected payload type"
			return resp
		}

		seller, err := dir.SellerByUserID(ctx, query.UserID)
		if err != nil {
			log.Info("seller lookup failed", "request_id", req.RequestID, "user_id", query.UserID, "err", err)
			resp.ErrorMessage = err.Error()
			return resp
		}

		data, err := json.Marshal(seller)
		if err != nil {
			resp.ErrorMessage = err.Error()
			return resp
		}
		resp.Success = true
		resp.Data = data
		return resp
	}
}
