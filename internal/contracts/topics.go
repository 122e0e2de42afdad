package contracts

// Topic names must match across both services. Every topic is provisioned
// with a single partition, so per-topic ordering is total.
const (
	TopicOrderCreated       = "order.created"
	TopicReservationResult  = "inventory.reservation.result"
	TopicOrderCancellation  = "order.cancellation.request"
	TopicCancellationResult = "inventory.cancellation.result"
	TopicRPCRequest         = "rpc.request"
	TopicRPCResponse        = "rpc.response"
	TopicOrderStatusChanged = "order.status.changed"
)

// SagaTopics lists every topic the services depend on, in the order they
// are provisioned at startup.
func SagaTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicReservationResult,
		TopicOrderCancellation,
		TopicCancellationResult,
		TopicRPCRequest,
		TopicRPCResponse,
		TopicOrderStatusChanged,
	}
}
