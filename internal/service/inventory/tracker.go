// Пакет inventory ведёт учёт остатков по парам (склад, товар) и отдаёт
// хук списания, встраиваемый в транзакцию создания заказа.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// ErrInsufficientStock возвращается хуком, когда на складе не хватает
// остатка; ошибка откатывает транзакцию создания заказа целиком.
var ErrInsufficientStock = errors.New("insufficient stock")

type stockKey struct {
	warehouseID int
	itemID      int
}

// Tracker — потокобезопасный in-memory учёт остатков. Товары без
// заданного остатка считаются неограниченными: по ним трекер только
// накапливает счётчик отгруженных единиц.
type Tracker struct {
	mu      sync.Mutex
	levels  map[stockKey]int
	shipped map[stockKey]int
}

// NewTracker создаёт пустой трекер без заданных остатков.
func NewTracker() *Tracker {
	return &Tracker{
		levels:  make(map[stockKey]int),
		shipped: make(map[stockKey]int),
	}
}

// SetLevel задаёт остаток товара на складе; с этого момента хук
// контролирует его при списании.
func (t *Tracker) SetLevel(warehouseID, itemID, qty int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.levels[stockKey{warehouseID, itemID}] = qty
}

// Level возвращает текущий остаток и признак того, что он отслеживается.
func (t *Tracker) Level(warehouseID, itemID int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	level, ok := t.levels[stockKey{warehouseID, itemID}]
	return level, ok
}

// Shipped возвращает суммарно отгруженное количество товара со склада.
func (t *Tracker) Shipped(warehouseID, itemID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shipped[stockKey{warehouseID, itemID}]
}

// appliedDelta фиксирует состоявшееся списание по одной позиции, чтобы
// release вернул ровно его.
type appliedDelta struct {
	key     stockKey
	qty     int
	tracked bool
}

// Hook возвращает domain.StockHook, списывающий остатки по позициям
// заказа. Списание атомарно: при нехватке хотя бы по одной позиции
// остатки не меняются и возвращается ErrInsufficientStock. Release
// возвращает списанное, если транзакция заказа не зафиксировалась.
func (t *Tracker) Hook() domain.StockHook {
	return func(_ context.Context, order domain.Order) (func(), error) {
		t.mu.Lock()
		defer t.mu.Unlock()

		for _, line := range order.Lines {
			key := stockKey{line.SupplyWarehouseID, line.ItemID}
			level, tracked := t.levels[key]
			if !tracked {
				continue
			}
			if level < line.Qty {
				return nil, fmt.Errorf(
					"item %d at warehouse %d: need %d, have %d: %w",
					line.ItemID, line.SupplyWarehouseID, line.Qty, level,
					ErrInsufficientStock,
				)
			}
		}

		applied := make([]appliedDelta, 0, len(order.Lines))
		for _, line := range order.Lines {
			key := stockKey{line.SupplyWarehouseID, line.ItemID}
			_, tracked := t.levels[key]
			if tracked {
				t.levels[key] -= line.Qty
			}
			t.shipped[key] += line.Qty
			applied = append(applied, appliedDelta{key: key, qty: line.Qty, tracked: tracked})
		}

		return func() { t.release(applied) }, nil
	}
}

func (t *Tracker) release(applied []appliedDelta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, delta := range applied {
		if delta.tracked {
			t.levels[delta.key] += delta.qty
		}
		t.shipped[delta.key] -= delta.qty
	}
}
