package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка некорректного идентификатора склада.
	ErrWarehouseIDInvalid = errors.New("warehouse_id must be positive")
	// Ошибка некорректного идентификатора района.
	ErrDistrictIDInvalid = errors.New("district_id must be in range 1..10")
	// Ошибка некорректного идентификатора клиента.
	ErrCustomerIDInvalid = errors.New("customer_id must be positive")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора товара в позиции.
	ErrItemIDRequired = errors.New("item_id is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка отрицательного склада отгрузки в позиции.
	ErrSupplyWarehouseInvalid = errors.New("supply_warehouse_id must be non-negative")
	// Ошибка некорректного идентификатора перевозчика (допустим диапазон 1..10).
	ErrCarrierIDInvalid = errors.New("carrier_id must be in range 1..10")

	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrItemNotFound возвращается, если товар не удалось разрешить по item_id.
	ErrItemNotFound = errors.New("item not found")
	// ErrDistrictNotFound возвращается, если пары (warehouse, district) нет в хранилище.
	ErrDistrictNotFound = errors.New("district not found")
	// ErrCustomerNotFound возвращается, если клиент не найден в хранилище.
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrNoPendingOrders сигнализирует, что в районе нет недоставленных заказов.
	// Для delivery sweep это не ошибка, а пустой вклад района.
	ErrNoPendingOrders = errors.New("no pending orders in district")

	// ErrAllocationConflict — гонка при выдаче order_id; операция повторяема.
	ErrAllocationConflict = errors.New("order id allocation conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError указывает на некорректную позицию входящего запроса.
// Line — номер позиции, начиная с 1.
type ValidationError struct {
	Line int
	Err  error
}

// Error реализует error.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Line, e.Err)
}

// Unwrap раскрывает исходную ошибку для errors.Is.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation проверяет, является ли ошибка ошибкой валидации запроса.
func IsValidation(err error) bool {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return true
	}
	return errors.Is(err, ErrWarehouseIDInvalid) ||
		errors.Is(err, ErrDistrictIDInvalid) ||
		errors.Is(err, ErrCustomerIDInvalid) ||
		errors.Is(err, ErrItemsRequired) ||
		errors.Is(err, ErrCarrierIDInvalid)
}

// IsNotFound проверяет, является ли ошибка отсутствием записи.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrDistrictNotFound) ||
		errors.Is(err, ErrCustomerNotFound)
}

// IsRetryable проверяет, имеет ли смысл повторить операцию.
// Ошибки валидации и отсутствия данных повторением не лечатся.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsValidation(err) || IsNotFound(err) {
		return false
	}
	return errors.Is(err, ErrAllocationConflict)
}
