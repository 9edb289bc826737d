package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderRepositoryInMemory реализует OrderRepository поверх общего Store.
type orderRepositoryInMemory struct {
	store     *Store
	outbox    *OutboxRepository
	stockHook domain.StockHook
}

// OrderRepositoryOption настраивает in-memory репозиторий заказов.
type OrderRepositoryOption func(*orderRepositoryInMemory)

// WithStockHook задаёт внешний хук списания стока, вызываемый до фиксации заказа.
func WithStockHook(hook domain.StockHook) OrderRepositoryOption {
	return func(r *orderRepositoryInMemory) {
		r.stockHook = hook
	}
}

// WithOutbox включает постановку событий order.created в outbox.
func WithOutbox(outbox *OutboxRepository) OrderRepositoryOption {
	return func(r *orderRepositoryInMemory) {
		r.outbox = outbox
	}
}

// NewOrderRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewOrderRepository(store *Store, opts ...OrderRepositoryOption) domain.OrderRepository {
	repo := &orderRepositoryInMemory{store: store}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CreateOrder выполняет транзакцию New-Order: выделение order_id, заголовок
// и позиции появляются либо все вместе, либо никак. Счётчик района
// сдвигается только при успехе, поэтому дыр в нумерации не остаётся.
func (r *orderRepositoryInMemory) CreateOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	pk := partitionKey{warehouseID: draft.WarehouseID, districtID: draft.DistrictID}
	state, ok := r.store.districts[pk]
	if !ok {
		return domain.Order{}, domain.ErrDistrictNotFound
	}

	ck := customerKey{
		warehouseID: draft.WarehouseID,
		districtID:  draft.DistrictID,
		customerID:  draft.CustomerID,
	}
	if _, ok := r.store.customers[ck]; !ok {
		return domain.Order{}, domain.ErrCustomerNotFound
	}

	lines := make([]domain.OrderLine, 0, len(draft.Items))
	for idx, reqItem := range draft.Items {
		item, ok := r.store.items[reqItem.ItemID]
		if !ok {
			return domain.Order{}, fmt.Errorf("resolve item %d: %w", reqItem.ItemID, domain.ErrItemNotFound)
		}
		lines = append(lines, domain.OrderLine{
			LineNumber:        idx + 1,
			ItemID:            reqItem.ItemID,
			SupplyWarehouseID: draft.EffectiveSupplyWarehouse(reqItem),
			Qty:               reqItem.Qty,
			AmountMinor:       int64(reqItem.Qty) * item.PriceMinor,
			DistInfo:          domain.DistInfo(draft.WarehouseID, draft.DistrictID),
		})
	}

	order := domain.Order{
		WarehouseID: draft.WarehouseID,
		DistrictID:  draft.DistrictID,
		OrderID:     state.nextOrderID,
		CustomerID:  draft.CustomerID,
		EntryAt:     draft.EntryAt,
		LineCount:   len(lines),
		AllLocal:    draft.AllLocal(),
		Region:      draft.Region,
		Lines:       lines,
	}

	var releaseStock func()
	if r.stockHook != nil {
		release, err := r.stockHook(ctx, order)
		if err != nil {
			return domain.Order{}, fmt.Errorf("stock hook: %w", err)
		}
		releaseStock = release
	}

	state.nextOrderID++
	key := orderKey{
		warehouseID: order.WarehouseID,
		districtID:  order.DistrictID,
		orderID:     order.OrderID,
	}
	r.store.orders[key] = cloneOrder(order)

	if r.outbox != nil {
		payload, err := json.Marshal(map[string]any{
			"warehouse_id": order.WarehouseID,
			"district_id":  order.DistrictID,
			"order_id":     order.OrderID,
			"customer_id":  order.CustomerID,
			"line_count":   order.LineCount,
			"all_local":    order.AllLocal,
			"amount_minor": order.TotalAmountMinor(),
		})
		if err != nil {
			r.undoCreate(state, key, releaseStock)
			return domain.Order{}, fmt.Errorf("marshal order event: %w", err)
		}
		if _, err := r.outbox.Enqueue(domain.OutboxMessage{
			AggregateType: domain.AggregateTypeOrder,
			AggregateID:   orderAggregateID(order.WarehouseID, order.DistrictID, order.OrderID),
			EventType:     domain.EventTypeOrderCreated,
			Payload:       payload,
		}); err != nil {
			r.undoCreate(state, key, releaseStock)
			return domain.Order{}, fmt.Errorf("enqueue order event: %w", err)
		}
	}

	return cloneOrder(order), nil
}

// undoCreate откатывает эффекты несостоявшегося создания: запись заказа,
// счётчик района и списанный сток.
func (r *orderRepositoryInMemory) undoCreate(state *districtState, key orderKey, releaseStock func()) {
	delete(r.store.orders, key)
	state.nextOrderID--
	if releaseStock != nil {
		releaseStock()
	}
}

// GetOrder возвращает заказ с позициями или ErrOrderNotFound.
func (r *orderRepositoryInMemory) GetOrder(_ context.Context, warehouseID, districtID, orderID int) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[orderKey{warehouseID: warehouseID, districtID: districtID, orderID: orderID}]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListOrders возвращает заказы по фильтру, новые первыми.
func (r *orderRepositoryInMemory) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.store.orders {
		if filter.WarehouseID > 0 && order.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.DistrictID > 0 && order.DistrictID != filter.DistrictID {
			continue
		}
		if filter.CustomerID > 0 && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.Status != "" && order.Status() != filter.Status {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EntryAt.Equal(result[j].EntryAt) {
			return result[i].EntryAt.After(result[j].EntryAt)
		}
		return result[i].OrderID > result[j].OrderID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.Order{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// LatestOrder возвращает последний по order_id заказ клиента.
func (r *orderRepositoryInMemory) LatestOrder(_ context.Context, warehouseID, districtID, customerID int) (domain.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var (
		latest domain.Order
		found  bool
	)
	for _, order := range r.store.orders {
		if order.WarehouseID != warehouseID || order.DistrictID != districtID || order.CustomerID != customerID {
			continue
		}
		if !found || order.OrderID > latest.OrderID {
			latest = order
			found = true
		}
	}
	if !found {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(latest), nil
}

// orderAggregateID собирает составной идентификатор заказа для событий.
func orderAggregateID(warehouseID, districtID, orderID int) string {
	return strconv.Itoa(warehouseID) + "-" + strconv.Itoa(districtID) + "-" + strconv.Itoa(orderID)
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
