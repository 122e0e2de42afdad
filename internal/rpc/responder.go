package rpc

import (
	"context"
	"encoding/json"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/pkg/kafkautil"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

// Handler answers one RPC request. Business failures are returned as
// success=false responses, never as dropped messages.
type Handler func(ctx context.Context, req contracts.RPCRequest) contracts.RPCResponse

// Responder consumes the request topic and publishes one response per
// request, keyed by the correlation id.
type Responder struct {
	log      *slog.Logger
	writer   Publisher
	handlers map[contracts.Action]Handler
	tracer   trace.Tracer
}

func NewResponder(log *slog.Logger, writer Publisher) *Responder {
	return &Responder{
		log:      log,
		writer:   writer,
		handlers: make(map[contracts.Action]Handler),
		tracer:   otel.Tracer("rpc-responder"),
	}
}

// Handle registers the handler for an action. Not safe to call after Run
// has started.
func (r *Responder) Handle(action contracts.Action, h Handler) {
	r.handlers[action] = h
}

func (r *Responder) Run(ctx context.Context, reader Reader) error {
	defer reader.Close()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var req contracts.RPCRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			r.log.Error("malformed rpc request, skipping", "offset", msg.Offset, "err", err)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
		msgCtx, span := r.tracer.Start(msgCtx, "HandleRPCRequest")

		var resp contracts.RPCResponse
		if h, ok := r.handlers[req.Action]; ok {
			resp = h(msgCtx, req)
		} else {
			resp = contracts.RPCResponse{
				RequestID:    req.RequestID,
				ErrorMessage: "unsupported action: " + string(req.Action),
			}
		}
		resp.RequestID = req.RequestID

		if err := r.publish(msgCtx, resp); err != nil {
			r.log.Error("publish rpc response failed", "request_id", req.RequestID, "err", err)
			span.End()
			// No commit: redeliver so the caller still gets an answer
			// before its timeout, if the broker recovers in time.
			continue
		}
		span.End()
		_ = reader.CommitMessages(ctx, msg)
	}
}

func (r *Responder) publish(ctx context.Context, resp contracts.RPCResponse) error {
	return kafkautil.WriteJSON(ctx, r.writer, contracts.TopicRPCResponse, resp.RequestID, resp)
}
