// Package fulfillment реализует прикладные операции над складом:
// создание заказов, delivery sweep и чтение статусов.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
)

const (
	// MinCarrierID и MaxCarrierID ограничивают допустимые идентификаторы перевозчиков.
	MinCarrierID = 1
	MaxCarrierID = 10
)

// RetryConfig управляет повтором new-order транзакции при конфликте аллокации.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Service связывает хранилище с валидацией, retry-логикой и метриками.
type Service struct {
	orders     domain.OrderRepository
	deliveries domain.DeliveryRepository
	customers  domain.CustomerRepository

	region  string
	retry   RetryConfig
	metrics *metrics.FulfillmentMetrics
	logger  *log.Entry
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// waitRetryDelay ждёт delay или отмену ctx, смотря что случится раньше.
func waitRetryDelay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт логгер сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics задаёт метрики сервиса.
func WithMetrics(m *metrics.FulfillmentMetrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRegion помечает создаваемые заказы регионом склада.
func WithRegion(region string) Option {
	return func(s *Service) {
		s.region = region
	}
}

// WithRetryConfig переопределяет retry-политику new-order транзакции.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Service) {
		if cfg.MaxAttempts > 0 {
			s.retry = cfg
		}
	}
}

// WithClock подменяет источник времени. Используется в тестах.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService создаёт сервис поверх репозиториев хранилища.
func NewService(
	orders domain.OrderRepository,
	deliveries domain.DeliveryRepository,
	customers domain.CustomerRepository,
	opts ...Option,
) *Service {
	s := &Service{
		orders:     orders,
		deliveries: deliveries,
		customers:  customers,
		retry:      DefaultRetryConfig(),
		logger:     log.New().WithField("component", "fulfillment-service"),
		now:        time.Now,
		sleep:      waitRetryDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder выполняет New-Order транзакцию: валидация запроса, атомарное
// создание заказа и bounded retry при конфликте аллокации идентификатора.
func (s *Service) CreateOrder(ctx context.Context, req domain.NewOrderRequest) (domain.NewOrderResult, error) {
	if err := req.Validate(); err != nil {
		s.logger.WithFields(log.Fields{
			"warehouse_id": req.WarehouseID,
			"district_id":  req.DistrictID,
			"error":        err,
		}).Warn("New-order request rejected by validation")
		return domain.NewOrderResult{}, err
	}

	draft := domain.OrderDraft{
		WarehouseID: req.WarehouseID,
		DistrictID:  req.DistrictID,
		CustomerID:  req.CustomerID,
		Region:      s.region,
		EntryAt:     s.now().UTC(),
		Items:       req.Items,
	}

	started := s.now()
	order, err := s.createWithRetry(ctx, draft)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordOrderCreateFailed()
		}
		return domain.NewOrderResult{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordOrderCreated(s.now().Sub(started))
	}
	s.logger.WithFields(log.Fields{
		"warehouse_id": order.WarehouseID,
		"district_id":  order.DistrictID,
		"order_id":     order.OrderID,
		"customer_id":  order.CustomerID,
		"lines":        order.LineCount,
		"all_local":    order.AllLocal,
	}).Info("Order created")

	return domain.NewOrderResult{
		WarehouseID: order.WarehouseID,
		DistrictID:  order.DistrictID,
		OrderID:     order.OrderID,
		CustomerID:  order.CustomerID,
		ItemCount:   order.LineCount,
		AllLocal:    order.AllLocal,
		EntryAt:     order.EntryAt,
	}, nil
}

func (s *Service) createWithRetry(ctx context.Context, draft domain.OrderDraft) (domain.Order, error) {
	var lastErr error
	delay := s.retry.InitialDelay

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		order, err := s.orders.CreateOrder(ctx, draft)
		if err == nil {
			if attempt > 1 {
				s.logger.WithFields(log.Fields{
					"warehouse_id": draft.WarehouseID,
					"district_id":  draft.DistrictID,
					"attempt":      attempt,
				}).Info("Order created after retry")
			}
			return order, nil
		}

		lastErr = err
		if !domain.IsRetryable(err) {
			return domain.Order{}, err
		}
		if s.metrics != nil {
			s.metrics.RecordAllocationConflict()
		}

		if attempt < s.retry.MaxAttempts {
			s.logger.WithFields(log.Fields{
				"warehouse_id": draft.WarehouseID,
				"district_id":  draft.DistrictID,
				"attempt":      attempt,
				"delay":        delay,
				"error":        err,
			}).Warn("Order creation hit allocation conflict, retrying")

			if err := s.sleep(ctx, delay); err != nil {
				return domain.Order{}, err
			}

			delay = time.Duration(float64(delay) * s.retry.BackoffFactor)
			if delay > s.retry.MaxDelay {
				delay = s.retry.MaxDelay
			}
		}
	}

	return domain.Order{}, fmt.Errorf("create order after %d attempts: %w", s.retry.MaxAttempts, lastErr)
}

// DeliverBatch выполняет delivery sweep: обходит все районы склада и в каждом
// доставляет старейший ожидающий заказ. Неудача одного района не прерывает обход.
func (s *Service) DeliverBatch(ctx context.Context, warehouseID, carrierID int) (domain.DeliveryReport, error) {
	if warehouseID <= 0 {
		return domain.DeliveryReport{}, domain.ErrWarehouseIDInvalid
	}
	if carrierID < MinCarrierID || carrierID > MaxCarrierID {
		return domain.DeliveryReport{}, domain.ErrCarrierIDInvalid
	}

	started := s.now().UTC()
	report := domain.DeliveryReport{
		WarehouseID: warehouseID,
		CarrierID:   carrierID,
		StartedAt:   started,
		Districts:   make([]domain.DistrictOutcome, 0, domain.DistrictsPerWarehouse),
	}
	if s.metrics != nil {
		s.metrics.RecordSweepStarted()
	}

	for districtID := 1; districtID <= domain.DistrictsPerWarehouse; districtID++ {
		outcome := domain.DistrictOutcome{DistrictID: districtID}

		districtStart := s.now()
		delivery, err := s.deliveries.DeliverDistrict(ctx, warehouseID, districtID, carrierID, started)
		switch {
		case err == nil:
			outcome.Delivered = true
			outcome.Delivery = delivery
			if s.metrics != nil {
				s.metrics.RecordOrderDelivered(strconv.Itoa(districtID), s.now().Sub(districtStart))
			}
		case errors.Is(err, domain.ErrNoPendingOrders):
			if s.metrics != nil {
				s.metrics.RecordEmptyDistrict()
			}
		default:
			outcome.Err = err
			if s.metrics != nil {
				s.metrics.RecordDeliveryFailed()
			}
			s.logger.WithFields(log.Fields{
				"warehouse_id": warehouseID,
				"district_id":  districtID,
				"carrier_id":   carrierID,
				"error":        err,
			}).Error("District delivery failed")
		}

		report.Districts = append(report.Districts, outcome)
	}

	if s.metrics != nil {
		s.metrics.RecordSweepDuration(s.now().Sub(started))
	}
	s.logger.WithFields(log.Fields{
		"warehouse_id": warehouseID,
		"carrier_id":   carrierID,
		"delivered":    report.DeliveredCount(),
		"failed":       report.FailedCount(),
	}).Info("Delivery sweep finished")

	return report, nil
}

// GetOrder возвращает заказ со всеми позициями.
func (s *Service) GetOrder(ctx context.Context, warehouseID, districtID, orderID int) (domain.Order, error) {
	if warehouseID <= 0 {
		return domain.Order{}, domain.ErrWarehouseIDInvalid
	}
	if districtID <= 0 || districtID > domain.DistrictsPerWarehouse {
		return domain.Order{}, domain.ErrDistrictIDInvalid
	}
	return s.orders.GetOrder(ctx, warehouseID, districtID, orderID)
}

// ListOrders возвращает заказы по фильтру, свежие первыми.
func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	return s.orders.ListOrders(ctx, filter)
}

// LatestOrderStatus возвращает последний заказ клиента и его баланс.
func (s *Service) LatestOrderStatus(ctx context.Context, warehouseID, districtID, customerID int) (domain.Order, domain.Customer, error) {
	customer, err := s.customers.GetCustomer(ctx, warehouseID, districtID, customerID)
	if err != nil {
		return domain.Order{}, domain.Customer{}, err
	}
	order, err := s.orders.LatestOrder(ctx, warehouseID, districtID, customerID)
	if err != nil {
		return domain.Order{}, domain.Customer{}, err
	}
	return order, customer, nil
}
