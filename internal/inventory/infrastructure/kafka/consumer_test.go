package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/fulfillment/internal/contracts"
	"github.com/orderflow/fulfillment/internal/inventory/application"
)

// fakeReader serves queued messages then fails with io.EOF so the
// consumer loop returns.
type fakeReader struct {
	msgs      []segkafka.Message
	committed []int64
	closed    bool
}

func (f *fakeReader) FetchMessage(ctx context.Context) (segkafka.Message, error) {
	if len(f.msgs) == 0 {
		return segkafka.Message{}, io.EOF
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...segkafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error {
	f.closed = true
	return nil
}

type fakeStockRepo struct {
	reserveErr   error
	failOnce     bool
	reserveCalls int
}

func (f *fakeStockRepo) Reserve(ctx context.Context, ev contracts.OrderCreationEvent) (contracts.StockReservationResult, bool, error) {
	f.reserveCalls++
	err := f.reserveErr
	if f.failOnce {
		f.reserveErr = nil
	}
	return contracts.StockReservationResult{RequestID: ev.RequestID, OrderID: ev.OrderID, Success: true}, false, err
}

func (f *fakeStockRepo) Restore(ctx context.Context, ev contracts.CancellationRequestEvent) (contracts.CompensationResult, bool, error) {
	return contracts.CompensationResult{RequestID: ev.RequestID, OrderID: ev.OrderID, Success: true}, false, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDeduper struct {
	seen   map[string]bool
	marked []string
}

func (d *fakeDeduper) Key(consumer, requestID string) string {
	return consumer + ":" + requestID
}

func (d *fakeDeduper) Seen(ctx context.Context, key string) (bool, error) {
	return d.seen[key], nil
}

func (d *fakeDeduper) Mark(ctx context.Context, key string) {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	d.seen[key] = true
	d.marked = append(d.marked, key)
}

func eventMessage(t *testing.T, offset int64, ev contracts.OrderCreationEvent) segkafka.Message {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	return segkafka.Message{Offset: offset, Value: body}
}

func TestRunReservationsCommitsAfterApply(t *testing.T) {
	repo := &fakeStockRepo{}
	consumer := NewConsumer(discardLogger(), application.NewService(discardLogger(), repo), nil)

	reader := &fakeReader{msgs: []segkafka.Message{
		eventMessage(t, 0, contracts.OrderCreationEvent{RequestID: "r1", OrderID: 1}),
		eventMessage(t, 1, contracts.OrderCreationEvent{RequestID: "r2", OrderID: 2}),
	}}

	err := consumer.RunReservations(context.Background(), reader)
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, 2, repo.reserveCalls)
	assert.Equal(t, []int64{0, 1}, reader.committed)
	assert.True(t, reader.closed)
}

func TestRunReservationsSkipsPoisonMessage(t *testing.T) {
	repo := &fakeStockRepo{}
	consumer := NewConsumer(discardLogger(), application.NewService(discardLogger(), repo), nil)

	reader := &fakeReader{msgs: []segkafka.Message{
		{Offset: 0, Value: []byte("not json")},
		eventMessage(t, 1, contracts.OrderCreationEvent{RequestID: "r1", OrderID: 1}),
	}}

	err := consumer.RunReservations(context.Background(), reader)
	require.ErrorIs(t, err, io.EOF)

	// Poison offset is committed so it is not redelivered forever.
	assert.Equal(t, []int64{0, 1}, reader.committed)
	assert.Equal(t, 1, repo.reserveCalls)
}

func TestRunReservationsWithholdsCommitOnApplyFailure(t *testing.T) {
	repo := &fakeStockRepo{reserveErr: errors.New("pg down")}
	consumer := NewConsumer(discardLogger(), application.NewService(discardLogger(), repo), nil)

	reader := &fakeReader{msgs: []segkafka.Message{
		eventMessage(t, 0, contracts.OrderCreationEvent{RequestID: "r1", OrderID: 1}),
	}}

	err := consumer.RunReservations(context.Background(), reader)
	require.ErrorIs(t, err, io.EOF)

	assert.Empty(t, reader.committed, "failed apply must not advance the offset")
}

func TestRunReservationsMarksOnlyAfterApply(t *testing.T) {
	repo := &fakeStockRepo{}
	idem := &fakeDeduper{}
	consumer := NewConsumer(discardLogger(), application.NewService(discardLogger(), repo), idem)

	reader := &fakeReader{msgs: []segkafka.Message{
		eventMessage(t, 0, contracts.OrderCreationEvent{RequestID: "r1", OrderID: 1}),
	}}

	err := consumer.RunReservations(context.Background(), reader)
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []string{"stock-reservation:r1"}, idem.marked)
	assert.Equal(t, []int64{0}, reader.committed)
}

func TestRunReservationsReprocessesRedeliveryAfterFailedApply(t *testing.T) {
	// A crash or error between apply and commit leaves no marker behind,
	// so the redelivered event must run the full apply again.
	repo := &fakeStockRepo{reserveErr: errors.New("pg down"), failOnce: true}
	idem := &fakeDeduper{}
	consumer := NewConsumer(discardLogger(), application.NewService(discardLogger(), repo), idem)

	ev := contracts.OrderCreationEvent{RequestID: "r1", OrderID: 1}
	reader := &fakeReader{msgs: []segkafka.Message{
		eventMessage(t, 0, ev),
		eventMessage(t, 0, ev),
	}}

	err := consumer.RunReservations(context.Background(), reader)
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, 2, repo.reserveCalls, "redelivery must reach the repository, not be skipped")
	assert.Equal(t, []string{"stock-reservation:r1"}, idem.marked)
	assert.Equal(t, []int64{0}, reader.committed)
}

func TestRunReservationsSkipsMarkedRequest(t *testing.T) {
	repo := &fakeStockRepo{}
	idem := &fakeDeduper{seen: map[string]bool{"stock-reservation:r1": true}}
	consumer := NewConsumer(discardLogger(), application.NewService(discardLogger(), repo), idem)

	reader := &fakeReader{msgs: []segkafka.Message{
		eventMessage(t, 0, contracts.OrderCreationEvent{RequestID: "r1", OrderID: 1}),
	}}

	err := consumer.RunReservations(context.Background(), reader)
	require.ErrorIs(t, err, io.EOF)

	assert.Zero(t, repo.reserveCalls)
	assert.Equal(t, []int64{0}, reader.committed)
}
