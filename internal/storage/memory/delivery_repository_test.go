package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestDeliveryRepository_OldestFirst(t *testing.T) {
	store := seedStore()
	// Район 3: заказы 101 (50.00) и 102 (30.00) клиента 4.
	store.SeedOrder(pendingOrder(3, 101, 4, 5000))
	store.SeedOrder(pendingOrder(3, 102, 4, 3000))

	repo := memory.NewDeliveryRepository(store)
	customers := memory.NewCustomerRepository(store)
	orders := memory.NewOrderRepository(store)
	ctx := context.Background()
	now := time.Now().UTC()

	delivery, err := repo.DeliverDistrict(ctx, 1, 3, 5, now)
	if err != nil {
		t.Fatalf("deliver failed: %v", err)
	}
	if delivery.OrderID != 101 {
		t.Fatalf("expected oldest order 101, got %d", delivery.OrderID)
	}
	if delivery.AmountMinor != 5000 {
		t.Fatalf("expected amount 5000, got %d", delivery.AmountMinor)
	}
	if delivery.CarrierID != 5 {
		t.Fatalf("expected carrier 5, got %d", delivery.CarrierID)
	}

	customer, err := customers.GetCustomer(ctx, 1, 3, 4)
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.BalanceMinor != 5000 {
		t.Fatalf("expected balance 5000, got %d", customer.BalanceMinor)
	}
	if customer.DeliveryCnt != 1 {
		t.Fatalf("expected delivery_cnt 1, got %d", customer.DeliveryCnt)
	}

	// Заказ 102 остаётся pending.
	remaining, err := orders.GetOrder(ctx, 1, 3, 102)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if remaining.Status() != domain.OrderStatusNew {
		t.Fatalf("expected order 102 still pending, got %s", remaining.Status())
	}

	// Доставленный заказ получил отметки на всех позициях.
	delivered, err := orders.GetOrder(ctx, 1, 3, 101)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if delivered.CarrierID == nil || *delivered.CarrierID != 5 {
		t.Fatal("expected carrier assigned on delivered order")
	}
	for _, line := range delivered.Lines {
		if line.DeliveredAt == nil {
			t.Fatal("expected delivery timestamp on every line")
		}
	}
}

func TestDeliveryRepository_NoPending(t *testing.T) {
	store := seedStore()
	repo := memory.NewDeliveryRepository(store)

	_, err := repo.DeliverDistrict(context.Background(), 1, 1, 5, time.Now().UTC())
	if !errors.Is(err, domain.ErrNoPendingOrders) {
		t.Fatalf("expected ErrNoPendingOrders, got %v", err)
	}
}

func TestDeliveryRepository_DistrictNotFound(t *testing.T) {
	store := seedStore()
	repo := memory.NewDeliveryRepository(store)

	_, err := repo.DeliverDistrict(context.Background(), 42, 1, 5, time.Now().UTC())
	if !errors.Is(err, domain.ErrDistrictNotFound) {
		t.Fatalf("expected ErrDistrictNotFound, got %v", err)
	}
}

func TestDeliveryRepository_NeverRedelivers(t *testing.T) {
	store := seedStore()
	store.SeedOrder(pendingOrder(3, 101, 4, 5000))
	repo := memory.NewDeliveryRepository(store)
	customers := memory.NewCustomerRepository(store)
	ctx := context.Background()

	if _, err := repo.DeliverDistrict(ctx, 1, 3, 5, time.Now().UTC()); err != nil {
		t.Fatalf("first deliver failed: %v", err)
	}

	// Повторный вызов не находит работы и не трогает баланс.
	if _, err := repo.DeliverDistrict(ctx, 1, 3, 6, time.Now().UTC()); !errors.Is(err, domain.ErrNoPendingOrders) {
		t.Fatalf("expected ErrNoPendingOrders on repeat, got %v", err)
	}

	customer, err := customers.GetCustomer(ctx, 1, 3, 4)
	if err != nil {
		t.Fatalf("get customer failed: %v", err)
	}
	if customer.BalanceMinor != 5000 || customer.DeliveryCnt != 1 {
		t.Fatalf("expected settlement applied once, got balance=%d cnt=%d", customer.BalanceMinor, customer.DeliveryCnt)
	}
}

func TestDeliveryRepository_MissingCustomerRollsBack(t *testing.T) {
	store := seedStore()
	// Клиент 555 намеренно не зарегистрирован.
	store.SeedOrder(pendingOrder(3, 7, 555, 1000))
	repo := memory.NewDeliveryRepository(store)
	orders := memory.NewOrderRepository(store)
	ctx := context.Background()

	_, err := repo.DeliverDistrict(ctx, 1, 3, 5, time.Now().UTC())
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}

	// Заказ не должен остаться помеченным доставленным без начисления.
	order, err := orders.GetOrder(ctx, 1, 3, 7)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.Status() != domain.OrderStatusNew {
		t.Fatalf("expected order to stay pending after failed settle, got %s", order.Status())
	}
}

func TestDeliveryRepository_EnqueuesEvent(t *testing.T) {
	store := seedStore()
	store.SeedOrder(pendingOrder(3, 101, 4, 5000))
	outbox := memory.NewOutboxRepository()
	repo := memory.NewDeliveryRepository(store, memory.WithDeliveryOutbox(outbox))

	if _, err := repo.DeliverDistrict(context.Background(), 1, 3, 5, time.Now().UTC()); err != nil {
		t.Fatalf("deliver failed: %v", err)
	}

	pending, err := outbox.PullPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("pull pending failed: %v", err)
	}
	if len(pending) != 1 || pending[0].EventType != domain.EventTypeOrderDelivered {
		t.Fatalf("expected one order.delivered event, got %+v", pending)
	}
}
