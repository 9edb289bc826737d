package domain

import (
	"context"
	"time"
)

// Типы событий, порождаемых транзакциями ядра. Постановка в outbox
// происходит в той же транзакции, что и породившая запись.
const (
	EventTypeOrderCreated      = "order.created"
	EventTypeOrderDelivered    = "order.delivered"
	EventTypeDeliveryCompleted = "delivery.completed"
)

// Типы агрегатов для маршрутизации событий.
const (
	AggregateTypeOrder    = "order"
	AggregateTypeDelivery = "delivery"
)

// StockHook вызывается внутри транзакции создания заказа до коммита.
// Ошибка хука откатывает транзакцию целиком. Ненулевой release вызывается
// хранилищем, если транзакция после успешного хука не зафиксировалась:
// хук обязан вернуть списанный сток, иначе retry спишет его дважды.
// Списание стока остаётся обязанностью внешнего inventory-слоя; здесь
// только точка встраивания.
type StockHook func(ctx context.Context, order Order) (release func(), err error)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(msg OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
// Постановка в очередь выполняется хранилищем в той же транзакции, что и
// породившая событие запись.
type OutboxRepository interface {
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	Stats(ctx context.Context) (OutboxStats, error)
}

// OutboxMessage хранит данные публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
