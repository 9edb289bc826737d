package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type orderIDAllocator struct {
	db *sql.DB
}

// NewOrderIDAllocator создаёт PostgreSQL-реализацию OrderIDAllocator.
// Счётчик района инкрементируется одним UPDATE ... RETURNING, поэтому
// конкурентные вызовы для одной партиции сериализуются блокировкой строки,
// а разные партиции друг друга не задерживают.
func NewOrderIDAllocator(store *Store) domain.OrderIDAllocator {
	return &orderIDAllocator{db: store.DB()}
}

func (a *orderIDAllocator) Allocate(ctx context.Context, warehouseID, districtID int) (int, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	id, err := allocateOrderID(opCtx, a.db, warehouseID, districtID)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// queryRower покрывает *sql.DB и *sql.Tx, чтобы выделение id работало
// и как самостоятельная операция, и внутри транзакции создания заказа.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func allocateOrderID(ctx context.Context, q queryRower, warehouseID, districtID int) (int, error) {
	var id int
	err := q.QueryRowContext(ctx, `
		UPDATE district
		SET d_next_o_id = d_next_o_id + 1
		WHERE d_w_id = $1 AND d_id = $2
		RETURNING d_next_o_id - 1
	`, warehouseID, districtID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrDistrictNotFound
		}
		if isSerializationFailure(err) {
			return 0, fmt.Errorf("allocate order id: %w", domain.ErrAllocationConflict)
		}
		return 0, fmt.Errorf("allocate order id: %w", err)
	}
	return id, nil
}

var _ domain.OrderIDAllocator = (*orderIDAllocator)(nil)
