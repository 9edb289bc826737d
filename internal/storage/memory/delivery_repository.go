package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// deliveryRepositoryInMemory реализует DeliveryRepository поверх общего Store.
type deliveryRepositoryInMemory struct {
	store  *Store
	outbox *OutboxRepository
}

// DeliveryRepositoryOption настраивает in-memory репозиторий доставок.
type DeliveryRepositoryOption func(*deliveryRepositoryInMemory)

// WithDeliveryOutbox включает постановку событий order.delivered в outbox.
func WithDeliveryOutbox(outbox *OutboxRepository) DeliveryRepositoryOption {
	return func(r *deliveryRepositoryInMemory) {
		r.outbox = outbox
	}
}

// NewDeliveryRepository возвращает in-memory реализацию DeliveryRepository.
func NewDeliveryRepository(store *Store, opts ...DeliveryRepositoryOption) domain.DeliveryRepository {
	repo := &deliveryRepositoryInMemory{store: store}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeliverDistrict атомарно доставляет самый старый pending-заказ района:
// назначение перевозчика, отметка позиций и начисление на баланс клиента
// применяются под одной блокировкой, либо не применяются вовсе.
func (r *deliveryRepositoryInMemory) DeliverDistrict(_ context.Context, warehouseID, districtID, carrierID int, now time.Time) (domain.DistrictDelivery, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.districts[partitionKey{warehouseID: warehouseID, districtID: districtID}]; !ok {
		return domain.DistrictDelivery{}, domain.ErrDistrictNotFound
	}

	// Find: pending-заказ с минимальным order_id.
	var (
		oldest domain.Order
		found  bool
	)
	for _, order := range r.store.orders {
		if order.WarehouseID != warehouseID || order.DistrictID != districtID {
			continue
		}
		if order.CarrierID != nil {
			continue
		}
		if !found || order.OrderID < oldest.OrderID {
			oldest = order
			found = true
		}
	}
	if !found {
		return domain.DistrictDelivery{}, domain.ErrNoPendingOrders
	}

	ck := customerKey{
		warehouseID: warehouseID,
		districtID:  districtID,
		customerID:  oldest.CustomerID,
	}
	customer, ok := r.store.customers[ck]
	if !ok {
		return domain.DistrictDelivery{}, fmt.Errorf("settle order %d: %w", oldest.OrderID, domain.ErrCustomerNotFound)
	}

	// Assign + Stamp на копии; запись обратно только целиком.
	delivered := cloneOrder(oldest)
	carrier := carrierID
	delivered.CarrierID = &carrier
	ts := now.UTC()
	for i := range delivered.Lines {
		stamp := ts
		delivered.Lines[i].DeliveredAt = &stamp
	}

	// Settle.
	total := delivered.TotalAmountMinor()
	customer.BalanceMinor += total
	customer.DeliveryCnt++

	r.store.orders[orderKey{warehouseID: warehouseID, districtID: districtID, orderID: delivered.OrderID}] = delivered
	r.store.customers[ck] = customer

	result := domain.DistrictDelivery{
		WarehouseID: warehouseID,
		DistrictID:  districtID,
		OrderID:     delivered.OrderID,
		CustomerID:  delivered.CustomerID,
		CarrierID:   carrierID,
		LineCount:   delivered.LineCount,
		AmountMinor: total,
		DeliveredAt: ts,
	}

	if r.outbox != nil {
		payload, err := json.Marshal(map[string]any{
			"warehouse_id": result.WarehouseID,
			"district_id":  result.DistrictID,
			"order_id":     result.OrderID,
			"customer_id":  result.CustomerID,
			"carrier_id":   result.CarrierID,
			"amount_minor": result.AmountMinor,
		})
		if err != nil {
			return domain.DistrictDelivery{}, fmt.Errorf("marshal delivery event: %w", err)
		}
		if _, err := r.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: domain.AggregateTypeOrder,
			AggregateID:   orderAggregateID(result.WarehouseID, result.DistrictID, result.OrderID),
			EventType:     domain.EventTypeOrderDelivered,
			Payload:       payload,
		}); err != nil {
			return domain.DistrictDelivery{}, fmt.Errorf("enqueue delivery event: %w", err)
		}
	}

	return result, nil
}

var _ domain.DeliveryRepository = (*deliveryRepositoryInMemory)(nil)
