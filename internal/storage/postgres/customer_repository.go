package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

// GetCustomer возвращает клиента или ErrCustomerNotFound.
func (r *customerRepository) GetCustomer(ctx context.Context, warehouseID, districtID, customerID int) (domain.Customer, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	customer := domain.Customer{
		WarehouseID: warehouseID,
		DistrictID:  districtID,
		CustomerID:  customerID,
	}
	err := r.db.QueryRowContext(opCtx, `
		SELECT c_balance_minor, c_delivery_cnt
		FROM customer
		WHERE c_w_id = $1 AND c_d_id = $2 AND c_id = $3
	`, warehouseID, districtID, customerID).Scan(&customer.BalanceMinor, &customer.DeliveryCnt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}

	return customer, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
