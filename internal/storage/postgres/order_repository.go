package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type orderRepository struct {
	db        *sql.DB
	stockHook domain.StockHook
}

// OrderRepositoryOption настраивает PostgreSQL-репозиторий заказов.
type OrderRepositoryOption func(*orderRepository)

// WithStockHook задаёт внешний хук списания стока, вызываемый внутри
// транзакции создания заказа до коммита. Ошибка хука откатывает всё.
func WithStockHook(hook domain.StockHook) OrderRepositoryOption {
	return func(r *orderRepository) {
		r.stockHook = hook
	}
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store, opts ...OrderRepositoryOption) domain.OrderRepository {
	repo := &orderRepository{db: store.DB()}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// CreateOrder выполняет транзакцию New-Order одной единицей: блокирующий
// инкремент счётчика района, заголовок, позиции, хук стока и outbox-событие
// коммитятся вместе либо откатываются вместе — включая выданный order_id,
// поэтому дыр в нумерации после отката не остаётся.
func (r *orderRepository) CreateOrder(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(opCtx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var customerID int
	err = tx.QueryRowContext(opCtx, `
		SELECT c_id
		FROM customer
		WHERE c_w_id = $1 AND c_d_id = $2 AND c_id = $3
	`, draft.WarehouseID, draft.DistrictID, draft.CustomerID).Scan(&customerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			err = domain.ErrCustomerNotFound
			return domain.Order{}, err
		}
		err = fmt.Errorf("check customer: %w", err)
		return domain.Order{}, err
	}

	orderID, err := allocateOrderID(opCtx, tx, draft.WarehouseID, draft.DistrictID)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		WarehouseID: draft.WarehouseID,
		DistrictID:  draft.DistrictID,
		OrderID:     orderID,
		CustomerID:  draft.CustomerID,
		EntryAt:     draft.EntryAt,
		LineCount:   len(draft.Items),
		AllLocal:    draft.AllLocal(),
		Region:      draft.Region,
	}

	_, err = tx.ExecContext(opCtx, `
		INSERT INTO orders (
			o_w_id, o_d_id, o_id, o_c_id,
			o_entry_d, o_carrier_id, o_ol_cnt, o_all_local, o_region
		) VALUES ($1,$2,$3,$4,$5,NULL,$6,$7,$8)
	`,
		order.WarehouseID, order.DistrictID, order.OrderID, order.CustomerID,
		order.EntryAt, order.LineCount, order.AllLocal, order.Region,
	)
	if err != nil {
		if isUniqueViolation(err) {
			err = fmt.Errorf("insert order header: %w", domain.ErrAllocationConflict)
			return domain.Order{}, err
		}
		err = fmt.Errorf("insert order header: %w", err)
		return domain.Order{}, err
	}

	order.Lines = make([]domain.OrderLine, 0, len(draft.Items))
	for idx, reqItem := range draft.Items {
		// Цена фиксируется на момент создания заказа.
		var priceMinor int64
		err = tx.QueryRowContext(opCtx, `
			SELECT i_price_minor FROM item WHERE i_id = $1
		`, reqItem.ItemID).Scan(&priceMinor)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				err = fmt.Errorf("resolve item %d: %w", reqItem.ItemID, domain.ErrItemNotFound)
				return domain.Order{}, err
			}
			err = fmt.Errorf("lookup item %d price: %w", reqItem.ItemID, err)
			return domain.Order{}, err
		}

		line := domain.OrderLine{
			LineNumber:        idx + 1,
			ItemID:            reqItem.ItemID,
			SupplyWarehouseID: draft.EffectiveSupplyWarehouse(reqItem),
			Qty:               reqItem.Qty,
			AmountMinor:       int64(reqItem.Qty) * priceMinor,
			DistInfo:          domain.DistInfo(draft.WarehouseID, draft.DistrictID),
		}

		if _, err = tx.ExecContext(opCtx, `
			INSERT INTO order_line (
				ol_w_id, ol_d_id, ol_o_id, ol_number,
				ol_i_id, ol_supply_w_id, ol_quantity, ol_amount_minor,
				ol_delivery_d, ol_dist_info
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULL,$9)
		`,
			order.WarehouseID, order.DistrictID, order.OrderID, line.LineNumber,
			line.ItemID, line.SupplyWarehouseID, line.Qty, line.AmountMinor,
			line.DistInfo,
		); err != nil {
			err = fmt.Errorf("insert order line %d: %w", line.LineNumber, err)
			return domain.Order{}, err
		}
		order.Lines = append(order.Lines, line)
	}

	if r.stockHook != nil {
		release, hookErr := r.stockHook(opCtx, order)
		if hookErr != nil {
			err = fmt.Errorf("stock hook: %w", hookErr)
			return domain.Order{}, err
		}
		if release != nil {
			// Списание стока живёт вне транзакции: если она не
			// зафиксируется, его нужно вернуть перед retry.
			defer func() {
				if err != nil {
					release()
				}
			}()
		}
	}

	if err = enqueueOutboxTx(opCtx, tx, orderCreatedMessage(order)); err != nil {
		return domain.Order{}, err
	}

	if err = tx.Commit(); err != nil {
		if isSerializationFailure(err) {
			err = fmt.Errorf("commit create order: %w", domain.ErrAllocationConflict)
			return domain.Order{}, err
		}
		err = fmt.Errorf("commit create order: %w", err)
		return domain.Order{}, err
	}

	return order, nil
}

// GetOrder возвращает заказ с позициями или ErrOrderNotFound.
func (r *orderRepository) GetOrder(ctx context.Context, warehouseID, districtID, orderID int) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := r.scanOrder(opCtx, r.db.QueryRowContext(opCtx, `
		SELECT o_w_id, o_d_id, o_id, o_c_id, o_entry_d, o_carrier_id, o_ol_cnt, o_all_local, o_region
		FROM orders
		WHERE o_w_id = $1 AND o_d_id = $2 AND o_id = $3
	`, warehouseID, districtID, orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListOrders возвращает заказы по фильтру, новые первыми.
// Позиции в списочной выборке не загружаются.
func (r *orderRepository) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `
		SELECT o_w_id, o_d_id, o_id, o_c_id, o_entry_d, o_carrier_id, o_ol_cnt, o_all_local, o_region
		FROM orders
		WHERE ($1 = 0 OR o_w_id = $1)
		  AND ($2 = 0 OR o_d_id = $2)
		  AND ($3 = 0 OR o_c_id = $3)
		  AND ($4 = ''
		       OR ($4 = 'new' AND o_carrier_id IS NULL)
		       OR ($4 = 'delivered' AND o_carrier_id IS NOT NULL))
		ORDER BY o_entry_d DESC, o_id DESC
		LIMIT $5 OFFSET $6
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(opCtx, query,
		filter.WarehouseID, filter.DistrictID, filter.CustomerID,
		string(filter.Status), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		var (
			order     domain.Order
			carrierID sql.NullInt64
		)
		if err := rows.Scan(
			&order.WarehouseID, &order.DistrictID, &order.OrderID, &order.CustomerID,
			&order.EntryAt, &carrierID, &order.LineCount, &order.AllLocal, &order.Region,
		); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		if carrierID.Valid {
			carrier := int(carrierID.Int64)
			order.CarrierID = &carrier
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

// LatestOrder возвращает последний по order_id заказ клиента.
func (r *orderRepository) LatestOrder(ctx context.Context, warehouseID, districtID, customerID int) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order, err := r.scanOrder(opCtx, r.db.QueryRowContext(opCtx, `
		SELECT o_w_id, o_d_id, o_id, o_c_id, o_entry_d, o_carrier_id, o_ol_cnt, o_all_local, o_region
		FROM orders
		WHERE o_w_id = $1 AND o_d_id = $2 AND o_c_id = $3
		ORDER BY o_id DESC
		LIMIT 1
	`, warehouseID, districtID, customerID))
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// scanOrder читает заголовок из row и дозагружает позиции заказа.
func (r *orderRepository) scanOrder(ctx context.Context, row *sql.Row) (domain.Order, error) {
	var (
		order     domain.Order
		carrierID sql.NullInt64
	)
	err := row.Scan(
		&order.WarehouseID, &order.DistrictID, &order.OrderID, &order.CustomerID,
		&order.EntryAt, &carrierID, &order.LineCount, &order.AllLocal, &order.Region,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	if carrierID.Valid {
		carrier := int(carrierID.Int64)
		order.CarrierID = &carrier
	}

	lines, err := r.loadLines(ctx, order.WarehouseID, order.DistrictID, order.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Lines = lines

	return order, nil
}

func (r *orderRepository) loadLines(ctx context.Context, warehouseID, districtID, orderID int) ([]domain.OrderLine, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ol_number, ol_i_id, ol_supply_w_id, ol_quantity, ol_amount_minor, ol_delivery_d, ol_dist_info
		FROM order_line
		WHERE ol_w_id = $1 AND ol_d_id = $2 AND ol_o_id = $3
		ORDER BY ol_number ASC
	`, warehouseID, districtID, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0)
	for rows.Next() {
		var (
			line      domain.OrderLine
			delivered sql.NullTime
		)
		if err := rows.Scan(
			&line.LineNumber, &line.ItemID, &line.SupplyWarehouseID,
			&line.Qty, &line.AmountMinor, &delivered, &line.DistInfo,
		); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		if delivered.Valid {
			ts := delivered.Time.UTC()
			line.DeliveredAt = &ts
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return lines, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isSerializationFailure распознаёт конфликты, при которых операцию
// безопасно повторить: serialization_failure и deadlock_detected.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
