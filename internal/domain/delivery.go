package domain

import "time"

// DistrictDelivery описывает одну доставку, выполненную в районе.
type DistrictDelivery struct {
	WarehouseID int
	DistrictID  int
	OrderID     int
	CustomerID  int
	CarrierID   int
	LineCount   int
	// AmountMinor — сумма позиций доставленного заказа; ровно на неё
	// увеличивается баланс клиента.
	AmountMinor int64
	DeliveredAt time.Time
}

// DistrictOutcome — итог обработки одного района в рамках delivery sweep.
type DistrictOutcome struct {
	DistrictID int
	// Delivered истинен, если в районе был доставлен заказ.
	Delivered bool
	Delivery  DistrictDelivery
	// Err заполняется, если район завершился ошибкой; отсутствие
	// pending-заказов ошибкой не считается.
	Err error
}

// DeliveryReport — итог обхода всех районов склада одним вызовом.
type DeliveryReport struct {
	WarehouseID int
	CarrierID   int
	StartedAt   time.Time
	// Districts содержит ровно DistrictsPerWarehouse записей,
	// по одной на район, в порядке district_id.
	Districts []DistrictOutcome
}

// DeliveredCount возвращает количество доставленных заказов в отчёте.
func (r DeliveryReport) DeliveredCount() int {
	var n int
	for _, d := range r.Districts {
		if d.Delivered {
			n++
		}
	}
	return n
}

// FailedCount возвращает количество районов, завершившихся ошибкой.
func (r DeliveryReport) FailedCount() int {
	var n int
	for _, d := range r.Districts {
		if d.Err != nil {
			n++
		}
	}
	return n
}

// TotalAmountMinor возвращает суммарную стоимость доставленных заказов.
func (r DeliveryReport) TotalAmountMinor() int64 {
	var total int64
	for _, d := range r.Districts {
		if d.Delivered {
			total += d.Delivery.AmountMinor
		}
	}
	return total
}
