package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Order события
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderDelivered EventType = "order.delivered"

	// Delivery события
	EventTypeDeliveryRequested EventType = "delivery.requested"
	EventTypeDeliveryCompleted EventType = "delivery.completed"
)

// Topics для Kafka
const (
	TopicOrderEvents      = "fulfillment.order.events"
	TopicDeliveryEvents   = "fulfillment.delivery.events"
	TopicDeliveryRequests = "fulfillment.delivery.requests"
	TopicDeadLetterQueue  = "fulfillment.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// DeliveryRequest — входящая команда на delivery sweep склада.
type DeliveryRequest struct {
	WarehouseID int       `json:"warehouse_id"`
	CarrierID   int       `json:"carrier_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// DeliveryEvent — итог delivery sweep для внешних подписчиков.
type DeliveryEvent struct {
	EventType   EventType `json:"event_type"`
	WarehouseID int       `json:"warehouse_id"`
	CarrierID   int       `json:"carrier_id"`
	Delivered   int       `json:"delivered"`
	Failed      int       `json:"failed"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewDeliveryRequest создаёт команду на delivery sweep.
func NewDeliveryRequest(warehouseID, carrierID int) *DeliveryRequest {
	return &DeliveryRequest{
		WarehouseID: warehouseID,
		CarrierID:   carrierID,
		RequestedAt: time.Now().UTC(),
	}
}

// NewDeliveryEvent создаёт событие завершённого delivery sweep.
func NewDeliveryEvent(warehouseID, carrierID, delivered, failed int) *DeliveryEvent {
	return &DeliveryEvent{
		EventType:   EventTypeDeliveryCompleted,
		WarehouseID: warehouseID,
		CarrierID:   carrierID,
		Delivered:   delivered,
		Failed:      failed,
		Timestamp:   time.Now().UTC(),
	}
}
