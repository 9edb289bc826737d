package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type itemRepository struct {
	db *sql.DB
}

// NewItemRepository создаёт PostgreSQL-реализацию ItemRepository.
func NewItemRepository(store *Store) domain.ItemRepository {
	return &itemRepository{db: store.DB()}
}

// GetItem возвращает товар или ErrItemNotFound.
func (r *itemRepository) GetItem(ctx context.Context, itemID int) (domain.Item, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	item := domain.Item{ItemID: itemID}
	err := r.db.QueryRowContext(opCtx, `
		SELECT i_name, i_price_minor
		FROM item
		WHERE i_id = $1
	`, itemID).Scan(&item.Name, &item.PriceMinor)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Item{}, domain.ErrItemNotFound
		}
		return domain.Item{}, fmt.Errorf("select item: %w", err)
	}

	return item, nil
}

var _ domain.ItemRepository = (*itemRepository)(nil)
