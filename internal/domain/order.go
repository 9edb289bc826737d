package domain

import (
	"fmt"
	"time"
)

// Количество районов на склад фиксировано схемой данных.
const DistrictsPerWarehouse = 10

// DistInfoLen — фиксированная ширина строки district-info в позиции заказа.
const DistInfoLen = 24

// DistInfo возвращает строку district-info фиксированной ширины DistInfoLen.
// Содержимое унаследовано от исходной схемы и несёт только информационную нагрузку.
func DistInfo(warehouseID, districtID int) string {
	s := fmt.Sprintf("%-*s", DistInfoLen, fmt.Sprintf("W%d D%d DIST INFO", warehouseID, districtID))
	return s[:DistInfoLen]
}

// OrderStatus описывает видимое состояние заказа.
type OrderStatus string

const (
	// OrderStatusNew — заказ создан, перевозчик ещё не назначен.
	OrderStatusNew OrderStatus = "new"
	// OrderStatusDelivered — заказ доставлен, carrier_id заполнен.
	OrderStatusDelivered OrderStatus = "delivered"
)

// OrderLine представляет одну позицию заказа.
type OrderLine struct {
	// LineNumber — порядковый номер позиции, непрерывный с 1.
	LineNumber int
	// ItemID — идентификатор товара из справочника item.
	ItemID int
	// SupplyWarehouseID — склад, с которого отгружается позиция.
	SupplyWarehouseID int
	// Qty — количество единиц товара.
	Qty int
	// AmountMinor — qty * цена товара на момент создания заказа,
	// в минимальных денежных единицах.
	AmountMinor int64
	// DeliveredAt заполняется ровно один раз, вместе с назначением перевозчика.
	DeliveredAt *time.Time
	// DistInfo — строка фиксированной ширины DistInfoLen.
	DistInfo string
}

// Order агрегирует заголовок заказа и его позиции.
// Заказ идентифицируется тройкой (WarehouseID, DistrictID, OrderID).
type Order struct {
	WarehouseID int
	DistrictID  int
	OrderID     int
	CustomerID  int
	EntryAt     time.Time
	// CarrierID назначается доставкой; nil, пока заказ не доставлен.
	CarrierID *int
	LineCount int
	// AllLocal истинен, если каждая позиция отгружается со склада заказа.
	AllLocal bool
	Region   string
	Lines    []OrderLine
}

// Status возвращает статус заказа по признаку назначенного перевозчика.
func (o Order) Status() OrderStatus {
	if o.CarrierID == nil {
		return OrderStatusNew
	}
	return OrderStatusDelivered
}

// TotalAmountMinor возвращает сумму всех позиций заказа.
func (o Order) TotalAmountMinor() int64 {
	var total int64
	for _, line := range o.Lines {
		total += line.AmountMinor
	}
	return total
}

// NewOrderItem — одна позиция входящего запроса на создание заказа.
type NewOrderItem struct {
	ItemID int
	Qty    int
	// SupplyWarehouseID может быть опущен (0): тогда подставляется склад заказа.
	// Умолчание унаследовано от исходной системы как бизнес-поведение,
	// а не как пробел валидации.
	SupplyWarehouseID int
}

// NewOrderRequest — входящий запрос New-Order.
type NewOrderRequest struct {
	WarehouseID int
	DistrictID  int
	CustomerID  int
	// Items — упорядоченный список позиций; порядок определяет line_number.
	Items []NewOrderItem
}

// Validate проверяет запрос до начала транзакции.
// Ошибки позиций возвращаются как ValidationError с номером строки.
func (r NewOrderRequest) Validate() error {
	if r.WarehouseID <= 0 {
		return ErrWarehouseIDInvalid
	}
	if r.DistrictID <= 0 || r.DistrictID > DistrictsPerWarehouse {
		return ErrDistrictIDInvalid
	}
	if r.CustomerID <= 0 {
		return ErrCustomerIDInvalid
	}
	if len(r.Items) == 0 {
		return ErrItemsRequired
	}
	for idx, item := range r.Items {
		line := idx + 1
		if item.ItemID <= 0 {
			return &ValidationError{Line: line, Err: ErrItemIDRequired}
		}
		if item.Qty <= 0 {
			return &ValidationError{Line: line, Err: ErrItemQtyInvalid}
		}
		if item.SupplyWarehouseID < 0 {
			return &ValidationError{Line: line, Err: ErrSupplyWarehouseInvalid}
		}
	}
	return nil
}

// EffectiveSupplyWarehouse возвращает склад отгрузки позиции с учётом умолчания.
func (r NewOrderRequest) EffectiveSupplyWarehouse(item NewOrderItem) int {
	if item.SupplyWarehouseID == 0 {
		return r.WarehouseID
	}
	return item.SupplyWarehouseID
}

// AllLocal истинен, если все позиции отгружаются со склада заказа.
func (r NewOrderRequest) AllLocal() bool {
	for _, item := range r.Items {
		if r.EffectiveSupplyWarehouse(item) != r.WarehouseID {
			return false
		}
	}
	return true
}

// OrderDraft — валидированный запрос, дополненный данными окружения.
// Хранилище превращает его в Order в рамках одной транзакции.
type OrderDraft struct {
	WarehouseID int
	DistrictID  int
	CustomerID  int
	Region      string
	EntryAt     time.Time
	Items       []NewOrderItem
}

// EffectiveSupplyWarehouse — то же умолчание, что и у NewOrderRequest.
func (d OrderDraft) EffectiveSupplyWarehouse(item NewOrderItem) int {
	if item.SupplyWarehouseID == 0 {
		return d.WarehouseID
	}
	return item.SupplyWarehouseID
}

// AllLocal истинен, если все позиции отгружаются со склада заказа.
func (d OrderDraft) AllLocal() bool {
	for _, item := range d.Items {
		if d.EffectiveSupplyWarehouse(item) != d.WarehouseID {
			return false
		}
	}
	return true
}

// NewOrderResult — итог успешной транзакции New-Order.
type NewOrderResult struct {
	WarehouseID int
	DistrictID  int
	OrderID     int
	CustomerID  int
	ItemCount   int
	AllLocal    bool
	EntryAt     time.Time
}

// OrderFilter задаёт условия выборки заказов.
// Нулевые идентификаторы означают отсутствие фильтра.
type OrderFilter struct {
	WarehouseID int
	DistrictID  int
	CustomerID  int
	Status      OrderStatus
	Limit       int
	Offset      int
}
