package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type partitionKey struct {
	warehouseID int
	districtID  int
}

type customerKey struct {
	warehouseID int
	districtID  int
	customerID  int
}

type orderKey struct {
	warehouseID int
	districtID  int
	orderID     int
}

// districtState хранит счётчик order_id партиции.
type districtState struct {
	nextOrderID int
}

// Store — in-memory состояние всех таблиц для локальной разработки и тестов.
// Репозитории пакета разделяют один Store, поэтому кросс-агрегатная
// семантика (доставка меняет и заказ, и клиента) сохраняется.
type Store struct {
	mu        sync.RWMutex
	districts map[partitionKey]*districtState
	customers map[customerKey]domain.Customer
	items     map[int]domain.Item
	orders    map[orderKey]domain.Order
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		districts: make(map[partitionKey]*districtState),
		customers: make(map[customerKey]domain.Customer),
		items:     make(map[int]domain.Item),
		orders:    make(map[orderKey]domain.Order),
	}
}

// SeedWarehouse регистрирует склад со всеми его районами.
// Счётчики order_id каждого района начинаются с 1.
func (s *Store) SeedWarehouse(warehouseID int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for d := 1; d <= domain.DistrictsPerWarehouse; d++ {
		key := partitionKey{warehouseID: warehouseID, districtID: d}
		if _, exists := s.districts[key]; !exists {
			s.districts[key] = &districtState{nextOrderID: 1}
		}
	}
}

// SeedCustomer регистрирует клиента.
func (s *Store) SeedCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := customerKey{
		warehouseID: customer.WarehouseID,
		districtID:  customer.DistrictID,
		customerID:  customer.CustomerID,
	}
	s.customers[key] = customer
}

// SeedItem добавляет товар в справочник.
func (s *Store) SeedItem(item domain.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ItemID] = item
}

// SeedOrder кладёт готовый заказ в хранилище, минуя транзакцию создания.
// Счётчик района сдвигается за максимальный вставленный order_id.
func (s *Store) SeedOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := orderKey{
		warehouseID: order.WarehouseID,
		districtID:  order.DistrictID,
		orderID:     order.OrderID,
	}
	s.orders[key] = cloneOrder(order)

	pk := partitionKey{warehouseID: order.WarehouseID, districtID: order.DistrictID}
	state, ok := s.districts[pk]
	if !ok {
		state = &districtState{nextOrderID: 1}
		s.districts[pk] = state
	}
	if order.OrderID >= state.nextOrderID {
		state.nextOrderID = order.OrderID + 1
	}
}

// cloneOrder копирует заказ вместе с позициями, чтобы избежать
// непредсказуемых мутаций извне.
func cloneOrder(order domain.Order) domain.Order {
	cp := order
	if order.CarrierID != nil {
		carrier := *order.CarrierID
		cp.CarrierID = &carrier
	}
	cp.Lines = make([]domain.OrderLine, len(order.Lines))
	for i, line := range order.Lines {
		cp.Lines[i] = line
		if line.DeliveredAt != nil {
			ts := *line.DeliveredAt
			cp.Lines[i].DeliveredAt = &ts
		}
	}
	return cp
}
