package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	outboxworker "github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// capturePublisher собирает опубликованные события вместо брокера.
type capturePublisher struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func (p *capturePublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *capturePublisher) published() []domain.OutboxMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.OutboxMessage(nil), p.messages...)
}

// OrderLifecycleTestSuite прогоняет полный жизненный цикл заказа:
// создание со списанием стока, постановка событий в outbox, доставка
// с расчётом клиента и публикация событий воркером.
type OrderLifecycleTestSuite struct {
	suite.Suite

	service   *fulfillment.Service
	stock     *inventory.Tracker
	outbox    *memory.OutboxRepository
	publisher *capturePublisher
	worker    *outboxworker.Worker
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	store := memory.NewStore()
	store.SeedWarehouse(1)
	store.SeedWarehouse(2)
	store.SeedCustomer(domain.Customer{WarehouseID: 1, DistrictID: 1, CustomerID: 7})
	store.SeedItem(domain.Item{ItemID: 9, Name: "item-009", PriceMinor: 250})
	store.SeedItem(domain.Item{ItemID: 12, Name: "item-012", PriceMinor: 1000})

	suite.stock = inventory.NewTracker()
	suite.stock.SetLevel(1, 9, 10)

	suite.outbox = memory.NewOutboxRepository()
	suite.publisher = &capturePublisher{}

	suite.service = fulfillment.NewService(
		memory.NewOrderRepository(store,
			memory.WithOutbox(suite.outbox),
			memory.WithStockHook(suite.stock.Hook()),
		),
		memory.NewDeliveryRepository(store, memory.WithDeliveryOutbox(suite.outbox)),
		memory.NewCustomerRepository(store),
		fulfillment.WithRegion("integration"),
		fulfillment.WithLogger(logger),
	)

	suite.worker = outboxworker.NewWorker(
		suite.outbox,
		suite.publisher,
		outboxworker.WithLogger(logger),
	)
}

func (suite *OrderLifecycleTestSuite) TestSuccessfulOrderLifecycle() {
	ctx := context.Background()

	// 1. Создаём заказ с локальной и нелокальной позициями.
	result, err := suite.service.CreateOrder(ctx, domain.NewOrderRequest{
		WarehouseID: 1,
		DistrictID:  1,
		CustomerID:  7,
		Items: []domain.NewOrderItem{
			{ItemID: 9, Qty: 2, SupplyWarehouseID: 1},
			{ItemID: 12, Qty: 1, SupplyWarehouseID: 2},
		},
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, result.OrderID)
	require.Equal(suite.T(), 2, result.ItemCount)
	require.False(suite.T(), result.AllLocal)

	// 2. Сток списан внутри той же транзакции.
	level, tracked := suite.stock.Level(1, 9)
	require.True(suite.T(), tracked)
	require.Equal(suite.T(), 8, level)

	// 3. Событие order.created ждёт публикации в outbox.
	pending, err := suite.outbox.PullPending(ctx, 10)
	require.NoError(suite.T(), err)
	require.Len(suite.T(), pending, 1)
	require.Equal(suite.T(), domain.EventTypeOrderCreated, pending[0].EventType)

	// 4. Доставляем район; клиент рассчитывается на сумму заказа.
	report, err := suite.service.DeliverBatch(ctx, 1, 3)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, report.DeliveredCount())

	order, customer, err := suite.service.LatestOrderStatus(ctx, 1, 1, 7)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusDelivered, order.Status())
	require.NotNil(suite.T(), order.CarrierID)
	require.Equal(suite.T(), 3, *order.CarrierID)
	require.Equal(suite.T(), int64(1500), customer.BalanceMinor)
	require.Equal(suite.T(), 1, customer.DeliveryCnt)
	for _, line := range order.Lines {
		require.NotNil(suite.T(), line.DeliveredAt)
	}

	// 5. Воркер публикует оба события и оставляет outbox пустым.
	sent := suite.worker.ProcessOnce(ctx)
	require.Equal(suite.T(), 2, sent)

	published := suite.publisher.published()
	require.Len(suite.T(), published, 2)
	require.Equal(suite.T(), domain.EventTypeOrderCreated, published[0].EventType)
	require.Equal(suite.T(), domain.EventTypeOrderDelivered, published[1].EventType)

	stats, err := suite.outbox.Stats(ctx)
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), stats.PendingCount)

	// 6. Опубликованные записи выметаются retention-воркером.
	retention := outboxworker.NewRetentionWorker(suite.outbox)
	deleted, err := retention.DeletePublished(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 2, deleted)
}

func (suite *OrderLifecycleTestSuite) TestInsufficientStockAbortsOrder() {
	ctx := context.Background()

	_, err := suite.service.CreateOrder(ctx, domain.NewOrderRequest{
		WarehouseID: 1,
		DistrictID:  1,
		CustomerID:  7,
		Items: []domain.NewOrderItem{
			{ItemID: 9, Qty: 11, SupplyWarehouseID: 1},
		},
	})
	require.ErrorIs(suite.T(), err, inventory.ErrInsufficientStock)

	// Откат полный: ни заказа, ни события, ни дыры в нумерации.
	orders, err := suite.service.ListOrders(ctx, domain.OrderFilter{WarehouseID: 1, DistrictID: 1})
	require.NoError(suite.T(), err)
	require.Empty(suite.T(), orders)

	stats, err := suite.outbox.Stats(ctx)
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), stats.PendingCount)

	result, err := suite.service.CreateOrder(ctx, domain.NewOrderRequest{
		WarehouseID: 1,
		DistrictID:  1,
		CustomerID:  7,
		Items: []domain.NewOrderItem{
			{ItemID: 9, Qty: 1, SupplyWarehouseID: 1},
		},
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), 1, result.OrderID)
}

func (suite *OrderLifecycleTestSuite) TestDeliveryOnEmptyWarehouse() {
	ctx := context.Background()

	report, err := suite.service.DeliverBatch(ctx, 2, 5)
	require.NoError(suite.T(), err)
	require.Zero(suite.T(), report.DeliveredCount())
	require.Len(suite.T(), report.Districts, domain.DistrictsPerWarehouse)
	for _, outcome := range report.Districts {
		require.False(suite.T(), outcome.Delivered)
		require.NoError(suite.T(), outcome.Err)
	}
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
