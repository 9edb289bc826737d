package domain

// Customer хранит изменяемое состояние клиента, затрагиваемое доставкой.
// Клиент идентифицируется тройкой (WarehouseID, DistrictID, CustomerID).
type Customer struct {
	WarehouseID int
	DistrictID  int
	CustomerID  int
	// BalanceMinor меняется только завершённой доставкой одного из заказов
	// клиента, ровно на сумму позиций этого заказа.
	BalanceMinor int64
	DeliveryCnt  int
}

// Item — справочная запись товара, только для чтения при создании заказа.
type Item struct {
	ItemID int
	Name   string
	// PriceMinor — цена за единицу на текущий момент. Сумма позиции
	// фиксируется при создании заказа и позднее не пересчитывается.
	PriceMinor int64
}
