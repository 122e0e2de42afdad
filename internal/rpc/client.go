// Package rpc presents a request/response call signature over the
// publish/subscribe broker. Requests carry a generated correlation id;
// a single background listener resolves pending calls as responses
// arrive on the response topic.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/pkg/tracing"
)

var ErrTimeout = errors.New("rpc call timed out")

const maxSubscribeAttempts = 5

// Reader is the slice of kafka.Reader the listener loop needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Client correlates calls with responses. The pending map is the only
// state shared between callers and the listener; every access holds mu.
type Client struct {
	log    *slog.Logger
	writer Publisher

	mu      sync.Mutex
	pending map[string]chan contracts.RPCResponse

	ready atomic.Bool
}

func NewClient(log *slog.Logger, writer Publisher) *Client {
	return &Client{
		log:     log,
		writer:  writer,
		pending: make(map[string]chan contracts.RPCResponse),
	}
}

// Call publishes a request and waits for the matching response. On
// timeout the pending entry is removed first, so a late response is
// dropped by the listener instead of resolving a dead call.
func (c *Client) Call(ctx context.Context, action contracts.Action, payload any, timeout time.Duration) (contracts.RPCResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return contracts.RPCResponse{}, err
	}
	req := contracts.RPCRequest{
		Action:    action,
		RequestID: uuid.NewString(),
		Payload:   data,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return contracts.RPCResponse{}, err
	}

	ch := make(chan contracts.RPCResponse, 1)
	c.mu.Lock()
	c.pending[req.RequestID] = ch
	c.mu.Unlock()
	defer c.remove(req.RequestID)

	msg := kafka.Message{
		Topic:   contracts.TopicRPCRequest,
		Key:     []byte(req.RequestID),
		Value:   body,
		Headers: tracing.InjectKafkaHeaders(ctx, nil),
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return contracts.RPCResponse{}, fmt.Errorf("publish rpc request: %w", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return contracts.RPCResponse{}, fmt.Errorf("%w after %s (action=%s, request_id=%s)", ErrTimeout, timeout, action, req.RequestID)
	case <-ctx.Done():
		return contracts.RPCResponse{}, ctx.Err()
	}
}

// Ready reports whether the response listener is consuming. Surfaced on
// the health endpoint: a dead listener means every call will time out.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

func (c *Client) remove(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// resolve hands the response to the waiting caller and reports whether a
// matching call was pending. The entry is removed under the lock, so a
// duplicate delivery can never resolve the same call twice.
func (c *Client) resolve(resp contracts.RPCResponse) bool {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// Listen consumes the response topic until ctx is cancelled. newReader
// is retried with backoff while the broker comes up; once the attempts
// are exhausted the client stays not-ready for the rest of the process.
func (c *Client) Listen(ctx context.Context, newReader func() (Reader, error)) error {
	var reader Reader
	var err error

	backoff := time.Second
	for attempt := 1; attempt <= maxSubscribeAttempts; attempt++ {
		reader, err = newReader()
		if err == nil {
			break
		}
		c.log.Warn("rpc response subscribe failed", "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	if reader == nil {
		return fmt.Errorf("rpc listener: subscribe failed after %d attempts: %w", maxSubscribeAttempts, err)
	}
	defer reader.Close()

	c.ready.Store(true)
	defer c.ready.Store(false)

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		var resp contracts.RPCResponse
		if err := json.Unmarshal(msg.Value, &resp); err != nil {
			c.log.Error("malformed rpc response, skipping", "offset", msg.Offset, "err", err)
			_ = reader.CommitMessages(ctx, msg)
			continue
		}

		if !c.resolve(resp) {
			// Late or duplicate delivery, or the caller timed out.
			c.log.Debug("dropping unmatched rpc response", "request_id", resp.RequestID)
		}
		_ = reader.CommitMessages(ctx, msg)
	}
}
