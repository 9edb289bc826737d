package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

type deliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository создаёт PostgreSQL-реализацию DeliveryRepository.
func NewDeliveryRepository(store *Store) domain.DeliveryRepository {
	return &deliveryRepository{db: store.DB()}
}

// DeliverDistrict выполняет четыре шага района (find, assign, stamp, settle)
// одной транзакцией. Захват заказа — условный UPDATE по результату
// SELECT ... FOR UPDATE SKIP LOCKED: конкурентный перевозчик либо видит
// заказ уже с carrier_id, либо пропускает заблокированную строку, поэтому
// один заказ не может быть доставлен дважды.
func (r *deliveryRepository) DeliverDistrict(ctx context.Context, warehouseID, districtID, carrierID int, now time.Time) (domain.DistrictDelivery, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(opCtx, nil)
	if err != nil {
		return domain.DistrictDelivery{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// Find + Assign.
	var (
		orderID    int
		customerID int
		lineCount  int
	)
	err = tx.QueryRowContext(opCtx, `
		UPDATE orders
		SET o_carrier_id = $3
		WHERE o_w_id = $1 AND o_d_id = $2
		  AND o_id = (
			SELECT o_id
			FROM orders
			WHERE o_w_id = $1 AND o_d_id = $2 AND o_carrier_id IS NULL
			ORDER BY o_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		  )
		  AND o_carrier_id IS NULL
		RETURNING o_id, o_c_id, o_ol_cnt
	`, warehouseID, districtID, carrierID).Scan(&orderID, &customerID, &lineCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = r.classifyEmptyDistrict(opCtx, tx, warehouseID, districtID)
			return domain.DistrictDelivery{}, err
		}
		err = fmt.Errorf("claim pending order: %w", err)
		return domain.DistrictDelivery{}, err
	}

	deliveredAt := now.UTC()

	// Stamp.
	res, err := tx.ExecContext(opCtx, `
		UPDATE order_line
		SET ol_delivery_d = $4
		WHERE ol_w_id = $1 AND ol_d_id = $2 AND ol_o_id = $3
	`, warehouseID, districtID, orderID, deliveredAt)
	if err != nil {
		err = fmt.Errorf("stamp order lines: %w", err)
		return domain.DistrictDelivery{}, err
	}
	stamped, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("stamped rows affected: %w", err)
		return domain.DistrictDelivery{}, err
	}
	if int(stamped) != lineCount {
		err = fmt.Errorf("order %d line count mismatch: header %d, stamped %d", orderID, lineCount, stamped)
		return domain.DistrictDelivery{}, err
	}

	// Settle.
	var totalMinor int64
	err = tx.QueryRowContext(opCtx, `
		SELECT COALESCE(SUM(ol_amount_minor), 0)
		FROM order_line
		WHERE ol_w_id = $1 AND ol_d_id = $2 AND ol_o_id = $3
	`, warehouseID, districtID, orderID).Scan(&totalMinor)
	if err != nil {
		err = fmt.Errorf("sum order amount: %w", err)
		return domain.DistrictDelivery{}, err
	}

	res, err = tx.ExecContext(opCtx, `
		UPDATE customer
		SET c_balance_minor = c_balance_minor + $4,
		    c_delivery_cnt = c_delivery_cnt + 1
		WHERE c_w_id = $1 AND c_d_id = $2 AND c_id = $3
	`, warehouseID, districtID, customerID, totalMinor)
	if err != nil {
		err = fmt.Errorf("settle customer: %w", err)
		return domain.DistrictDelivery{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		err = fmt.Errorf("settle rows affected: %w", err)
		return domain.DistrictDelivery{}, err
	}
	if affected == 0 {
		err = fmt.Errorf("settle order %d: %w", orderID, domain.ErrCustomerNotFound)
		return domain.DistrictDelivery{}, err
	}

	delivery := domain.DistrictDelivery{
		WarehouseID: warehouseID,
		DistrictID:  districtID,
		OrderID:     orderID,
		CustomerID:  customerID,
		CarrierID:   carrierID,
		LineCount:   lineCount,
		AmountMinor: totalMinor,
		DeliveredAt: deliveredAt,
	}

	if err = enqueueOutboxTx(opCtx, tx, orderDeliveredMessage(delivery)); err != nil {
		return domain.DistrictDelivery{}, err
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("commit district delivery: %w", err)
		return domain.DistrictDelivery{}, err
	}

	return delivery, nil
}

// classifyEmptyDistrict отличает "нет pending-заказов" от "района не существует".
func (r *deliveryRepository) classifyEmptyDistrict(ctx context.Context, tx *sql.Tx, warehouseID, districtID int) error {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM district WHERE d_w_id = $1 AND d_id = $2
	`, warehouseID, districtID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrDistrictNotFound
		}
		return fmt.Errorf("check district: %w", err)
	}
	return domain.ErrNoPendingOrders
}

var _ domain.DeliveryRepository = (*deliveryRepository)(nil)
