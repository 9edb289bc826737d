package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/inventory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

// Dependencies содержит репозитории и служебные ручки выбранного хранилища.
type Dependencies struct {
	Orders     domain.OrderRepository
	Deliveries domain.DeliveryRepository
	Customers  domain.CustomerRepository
	Items      domain.ItemRepository
	Outbox     domain.OutboxRepository

	// Stock ведёт учёт отгруженных остатков; его хук встроен в
	// транзакцию создания заказа.
	Stock *inventory.Tracker

	Logger *log.Entry

	// Ping проверяет доступность хранилища; для in-memory всегда успешен.
	Ping func(ctx context.Context) error
	// Close освобождает ресурсы хранилища.
	Close func() error
}

// NewDependencies собирает зависимости поверх postgres при заданном DSN,
// иначе поверх in-memory хранилища с демо-набором данных.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	if cfg.PostgresDSN != "" {
		return newPostgresDependencies(ctx, cfg, logger)
	}
	return newMemoryDependencies(cfg, logger), nil
}

func newPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MigrateOnStart {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("migrations applied")
	}

	stock := inventory.NewTracker()

	logger.Info("using postgres storage")
	return &Dependencies{
		Orders:     postgres.NewOrderRepository(store, postgres.WithStockHook(stock.Hook())),
		Deliveries: postgres.NewDeliveryRepository(store),
		Customers:  postgres.NewCustomerRepository(store),
		Items:      postgres.NewItemRepository(store),
		Outbox:     postgres.NewOutboxRepository(store),
		Stock:      stock,
		Logger:     logger,
		Ping:       store.Ping,
		Close:      store.Close,
	}, nil
}

func newMemoryDependencies(cfg Config, logger *log.Entry) *Dependencies {
	store := memory.NewStore()
	outbox := memory.NewOutboxRepository()
	stock := inventory.NewTracker()
	seedDemoData(store, cfg.SweepWarehouses)

	logger.Warn("postgres DSN is not configured, using in-memory storage with demo data")
	return &Dependencies{
		Orders: memory.NewOrderRepository(store,
			memory.WithOutbox(outbox),
			memory.WithStockHook(stock.Hook()),
		),
		Deliveries: memory.NewDeliveryRepository(store, memory.WithDeliveryOutbox(outbox)),
		Customers:  memory.NewCustomerRepository(store),
		Items:      memory.NewItemRepository(store),
		Outbox:     outbox,
		Stock:      stock,
		Logger:     logger,
		Ping:       func(context.Context) error { return nil },
		Close:      func() error { return nil },
	}
}

// seedDemoData наполняет in-memory хранилище складами, клиентами и товарами,
// достаточными для ручной проверки и нагрузочных прогонов.
func seedDemoData(store *memory.Store, warehouses []int) {
	if len(warehouses) == 0 {
		warehouses = []int{1}
	}

	for _, warehouseID := range warehouses {
		store.SeedWarehouse(warehouseID)
		for district := 1; district <= domain.DistrictsPerWarehouse; district++ {
			for customer := 1; customer <= 3; customer++ {
				store.SeedCustomer(domain.Customer{
					WarehouseID: warehouseID,
					DistrictID:  district,
					CustomerID:  customer,
				})
			}
		}
	}

	for itemID := 1; itemID <= 100; itemID++ {
		store.SeedItem(domain.Item{
			ItemID:     itemID,
			Name:       fmt.Sprintf("item-%03d", itemID),
			PriceMinor: int64(100 + itemID*7),
		})
	}
}
