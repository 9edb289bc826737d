package memory

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// orderIDAllocatorInMemory выдаёт order_id из счётчиков районов Store.
type orderIDAllocatorInMemory struct {
	store *Store
}

// NewOrderIDAllocator возвращает in-memory реализацию OrderIDAllocator.
func NewOrderIDAllocator(store *Store) domain.OrderIDAllocator {
	return &orderIDAllocatorInMemory{store: store}
}

// Allocate возвращает следующий order_id партиции. Инкремент выполняется
// под общим мьютексом, поэтому конкурентные вызовы не могут получить
// одинаковое значение.
func (a *orderIDAllocatorInMemory) Allocate(_ context.Context, warehouseID, districtID int) (int, error) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	state, ok := a.store.districts[partitionKey{warehouseID: warehouseID, districtID: districtID}]
	if !ok {
		return 0, domain.ErrDistrictNotFound
	}

	id := state.nextOrderID
	state.nextOrderID++
	return id, nil
}

var _ domain.OrderIDAllocator = (*orderIDAllocatorInMemory)(nil)
