package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ErrPublisherNotReady возвращается при публикации через ненастроенный publisher.
var ErrPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// outboxEnvelope — формат outbox-события на проводе.
type outboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

func newOutboxEnvelope(event domain.OutboxMessage) outboxEnvelope {
	return outboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}
}

// OutboxTopicPublisher публикует outbox-сообщения в Kafka,
// выбирая топик по типу агрегата.
type OutboxTopicPublisher struct {
	producer *Producer
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer) domain.OutboxPublisher {
	return &OutboxTopicPublisher{producer: producer}
}

// Publish отправляет событие в топик его агрегата. Ключом служит
// aggregate_id, что сохраняет порядок событий одного агрегата
// в пределах partition.
func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return ErrPublisherNotReady
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	return p.producer.PublishEvent(TopicForAggregate(event.AggregateType), key, newOutboxEnvelope(event))
}

// TopicForAggregate возвращает топик событий для типа агрегата.
// Неизвестные типы уходят в топик заказов.
func TopicForAggregate(aggregateType string) string {
	if aggregateType == domain.AggregateTypeDelivery {
		return TopicDeliveryEvents
	}
	return TopicOrderEvents
}
