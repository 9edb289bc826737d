package domain

import (
	"context"
	"time"
)

// OrderIDAllocator выдаёт следующий order_id для партиции (warehouse, district).
type OrderIDAllocator interface {
	// Allocate возвращает значение на единицу больше максимального выданного
	// для партиции, либо 1, если заказов ещё не было. Конкурентные вызовы для
	// одной партиции сериализуются и никогда не возвращают одно значение.
	// Возвращает ErrDistrictNotFound, если партиции не существует.
	Allocate(ctx context.Context, warehouseID, districtID int) (int, error)
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// CreateOrder атомарно выделяет order_id, сохраняет заголовок и все
	// позиции черновика. Любая ошибка после выделения id откатывает
	// транзакцию целиком, включая счётчик партиции.
	CreateOrder(ctx context.Context, draft OrderDraft) (Order, error)
	// GetOrder возвращает заказ с позициями или ErrOrderNotFound.
	GetOrder(ctx context.Context, warehouseID, districtID, orderID int) (Order, error)
	// ListOrders возвращает заказы по фильтру, новые первыми.
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
	// LatestOrder возвращает последний заказ клиента с позициями
	// или ErrOrderNotFound, если у клиента нет заказов.
	LatestOrder(ctx context.Context, warehouseID, districtID, customerID int) (Order, error)
}

// DeliveryRepository выполняет атомарную доставку в рамках одного района.
type DeliveryRepository interface {
	// DeliverDistrict находит самый старый pending-заказ района, назначает
	// перевозчика, проставляет время доставки позициям и начисляет сумму
	// заказа на баланс клиента — всё одной транзакцией. Назначение
	// carrier_id одновременно исключает повторный захват заказа
	// конкурентным вызовом. Возвращает ErrNoPendingOrders, если
	// недоставленных заказов в районе нет.
	DeliverDistrict(ctx context.Context, warehouseID, districtID, carrierID int, now time.Time) (DistrictDelivery, error)
}

// CustomerRepository даёт доступ к состоянию клиента на чтение.
type CustomerRepository interface {
	// GetCustomer возвращает клиента или ErrCustomerNotFound.
	GetCustomer(ctx context.Context, warehouseID, districtID, customerID int) (Customer, error)
}

// ItemRepository — справочник товаров, только чтение.
type ItemRepository interface {
	// GetItem возвращает товар или ErrItemNotFound.
	GetItem(ctx context.Context, itemID int) (Item, error)
}
