package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Action discriminates RPC request payloads. New actions get a constant
// here and a case in DecodePayload so the switch stays exhaustive.
type Action string

const (
	ActionGetSellerProfile Action = "get_seller_profile"
)

var ErrUnknownAction = errors.New("unknown rpc action")

// RPCRequest travels on the request topic, keyed by RequestID.
type RPCRequest struct {
	Action    Action          `json:"action"`
	RequestID string          `json:"request_id"`
	Payload   json.RawMessage `json:"payload"`
}

// RPCResponse echoes the request's correlation id. Success=false carries
// a business failure; transport failures never reach this type.
type RPCResponse struct {
	RequestID    string          `json:"request_id"`
	Success      bool            `json:"success"`
	Data         json.RawMessage `json:"data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

type SellerProfileQuery struct {
	UserID int `json:"user_id"`
}

type SellerProfile struct {
	SellerID  int    `json:"seller_id"`
	UserID    int    `json:"user_id"`
	StoreName string `json:"store_name"`
	Email     string `json:"email"`
}

// DecodePayload returns the typed payload for the request's action.
func (r RPCRequest) DecodePayload() (any, error) {
	switch r.Action {
	case ActionGetSellerProfile:
		var q SellerProfileQuery
		if err := json.Unmarshal(r.Payload, &q); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", r.Action, err)
		}
		return q, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, r.Action)
	}
}
