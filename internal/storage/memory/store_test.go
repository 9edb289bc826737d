package memory_test

import (
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// seedStore подготавливает склад 1 с клиентом 7 и двумя товарами.
func seedStore() *memory.Store {
	store := memory.NewStore()
	store.SeedWarehouse(1)
	store.SeedWarehouse(2)
	store.SeedCustomer(domain.Customer{WarehouseID: 1, DistrictID: 1, CustomerID: 7})
	store.SeedCustomer(domain.Customer{WarehouseID: 1, DistrictID: 3, CustomerID: 4})
	store.SeedItem(domain.Item{ItemID: 9, Name: "widget", PriceMinor: 250})
	store.SeedItem(domain.Item{ItemID: 12, Name: "gadget", PriceMinor: 1000})
	return store
}

func makeDraft() domain.OrderDraft {
	return domain.OrderDraft{
		WarehouseID: 1,
		DistrictID:  1,
		CustomerID:  7,
		Region:      "eu-west-1",
		EntryAt:     time.Now().UTC(),
		Items: []domain.NewOrderItem{
			{ItemID: 9, Qty: 2, SupplyWarehouseID: 1},
			{ItemID: 12, Qty: 1, SupplyWarehouseID: 2},
		},
	}
}

// pendingOrder собирает недоставленный заказ для прямой загрузки в Store.
func pendingOrder(districtID, orderID, customerID int, amountMinor int64) domain.Order {
	return domain.Order{
		WarehouseID: 1,
		DistrictID:  districtID,
		OrderID:     orderID,
		CustomerID:  customerID,
		EntryAt:     time.Now().UTC(),
		LineCount:   1,
		AllLocal:    true,
		Lines: []domain.OrderLine{
			{
				LineNumber:        1,
				ItemID:            9,
				SupplyWarehouseID: 1,
				Qty:               1,
				AmountMinor:       amountMinor,
				DistInfo:          domain.DistInfo(1, districtID),
			},
		},
	}
}
