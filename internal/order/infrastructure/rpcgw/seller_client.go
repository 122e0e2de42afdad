// Package rpcgw adapts the broker-backed RPC client to the order
// service's seller gateway port.
package rpcgw

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/order/application"
	"github.com/orderflow/fulfillment/internal/rpc"
)

type SellerClient struct {
	log     *slog.Logger
	client  *rpc.Client
	timeout time.Duration
}

func NewSellerClient(log *slog.Logger, client *rpc.Client, timeout time.Duration) *SellerClient {
	return &SellerClient{log: log, client: client, timeout: timeout}
}

func (c *SellerClient) GetSellerProfile(ctx context.Context, userID int) (contracts.SellerProfile, error) {
	resp, err := c.client.Call(ctx, contracts.ActionGetSellerProfile, contracts.SellerProfileQuery{UserID: userID}, c.timeout)
	if err != nil {
		return contracts.SellerProfile{}, err
	}
	if !resp.Success {
		return contracts.SellerProfile{}, fmt.Errorf("%w: %s", application.ErrSellerNotFound, resp.ErrorMessage)
	}

	var profile contracts.SellerProfile
	if err := json.Unmarshal(resp.Data, &profile); err != nil {
		return contracts.SellerProfile{}, fmt.Errorf("decode seller profile: %w", err)
	}
	return profile, nil
}
