package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ParseDeliveryRequest декодирует команду на delivery sweep из сообщения.
func ParseDeliveryRequest(message *sarama.ConsumerMessage) (*DeliveryRequest, error) {
	var request DeliveryRequest
	if err := json.Unmarshal(message.Value, &request); err != nil {
		return nil, fmt.Errorf("unmarshal delivery request: %w", err)
	}
	return &request, nil
}

// DeliveryBatcher выполняет delivery sweep склада.
type DeliveryBatcher interface {
	DeliverBatch(ctx context.Context, warehouseID, carrierID int) (domain.DeliveryReport, error)
}

// NewDeliveryRequestHandler возвращает обработчик, превращающий сообщения
// из топика delivery.requests в вызовы DeliverBatch. Итог обхода публикуется
// через producer, если он задан.
func NewDeliveryRequestHandler(batcher DeliveryBatcher, producer *Producer) MessageHandler {
	logger := log.WithField("component", "delivery-request-handler")

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		request, err := ParseDeliveryRequest(message)
		if err != nil {
			return err
		}

		report, err := batcher.DeliverBatch(ctx, request.WarehouseID, request.CarrierID)
		if err != nil {
			return fmt.Errorf("deliver batch for warehouse %d: %w", request.WarehouseID, err)
		}

		logger.WithFields(log.Fields{
			"warehouse_id": request.WarehouseID,
			"carrier_id":   request.CarrierID,
			"delivered":    report.DeliveredCount(),
			"failed":       report.FailedCount(),
		}).Info("delivery request processed")

		if producer != nil {
			event := NewDeliveryEvent(request.WarehouseID, request.CarrierID, report.DeliveredCount(), report.FailedCount())
			if err := producer.PublishDeliveryEvent(event); err != nil {
				logger.WithError(err).Warn("failed to publish delivery completed event")
			}
		}

		return nil
	}
}
