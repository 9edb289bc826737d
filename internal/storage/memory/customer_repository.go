package memory

import (
	"context"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// customerRepositoryInMemory читает состояние клиентов из общего Store.
type customerRepositoryInMemory struct {
	store *Store
}

// NewCustomerRepository возвращает in-memory реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepositoryInMemory{store: store}
}

// GetCustomer возвращает клиента или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) GetCustomer(_ context.Context, warehouseID, districtID, customerID int) (domain.Customer, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	customer, ok := r.store.customers[customerKey{
		warehouseID: warehouseID,
		districtID:  districtID,
		customerID:  customerID,
	}]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// itemRepositoryInMemory читает справочник товаров из общего Store.
type itemRepositoryInMemory struct {
	store *Store
}

// NewItemRepository возвращает in-memory реализацию ItemRepository.
func NewItemRepository(store *Store) domain.ItemRepository {
	return &itemRepositoryInMemory{store: store}
}

// GetItem возвращает товар или ErrItemNotFound.
func (r *itemRepositoryInMemory) GetItem(_ context.Context, itemID int) (domain.Item, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	item, ok := r.store.items[itemID]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return item, nil
}

var (
	_ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
	_ domain.ItemRepository     = (*itemRepositoryInMemory)(nil)
)
