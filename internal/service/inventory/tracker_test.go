package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func testOrder(lines ...domain.OrderLine) domain.Order {
	return domain.Order{
		WarehouseID: 1,
		DistrictID:  1,
		OrderID:     1,
		CustomerID:  7,
		LineCount:   len(lines),
		Lines:       lines,
	}
}

func TestTrackerHookDecrementsTrackedLevels(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	tracker.SetLevel(1, 9, 10)

	hook := tracker.Hook()
	_, err := hook(context.Background(), testOrder(
		domain.OrderLine{LineNumber: 1, ItemID: 9, SupplyWarehouseID: 1, Qty: 3},
		domain.OrderLine{LineNumber: 2, ItemID: 12, SupplyWarehouseID: 2, Qty: 1},
	))
	if err != nil {
		t.Fatalf("hook failed: %v", err)
	}

	if level, ok := tracker.Level(1, 9); !ok || level != 7 {
		t.Fatalf("unexpected level for tracked item: got=%d tracked=%v", level, ok)
	}
	if _, ok := tracker.Level(2, 12); ok {
		t.Fatal("untracked item must stay untracked")
	}
	if shipped := tracker.Shipped(2, 12); shipped != 1 {
		t.Fatalf("unexpected shipped count for untracked item: %d", shipped)
	}
}

func TestTrackerHookRejectsInsufficientStock(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	tracker.SetLevel(1, 9, 5)
	tracker.SetLevel(1, 12, 1)

	hook := tracker.Hook()
	_, err := hook(context.Background(), testOrder(
		domain.OrderLine{LineNumber: 1, ItemID: 9, SupplyWarehouseID: 1, Qty: 2},
		domain.OrderLine{LineNumber: 2, ItemID: 12, SupplyWarehouseID: 1, Qty: 4},
	))
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	// Нехватка по одной позиции не должна трогать остатки других.
	if level, _ := tracker.Level(1, 9); level != 5 {
		t.Fatalf("level must be unchanged after rejected order: %d", level)
	}
	if shipped := tracker.Shipped(1, 9); shipped != 0 {
		t.Fatalf("shipped must be unchanged after rejected order: %d", shipped)
	}
}

func TestTrackerHookUntrackedItemsAreUnlimited(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()

	hook := tracker.Hook()
	for i := 0; i < 3; i++ {
		_, err := hook(context.Background(), testOrder(
			domain.OrderLine{LineNumber: 1, ItemID: 42, SupplyWarehouseID: 1, Qty: 100},
		))
		if err != nil {
			t.Fatalf("hook failed on untracked item: %v", err)
		}
	}

	if shipped := tracker.Shipped(1, 42); shipped != 300 {
		t.Fatalf("unexpected shipped total: %d", shipped)
	}
}

func TestTrackerHookReleaseRestoresState(t *testing.T) {
	t.Parallel()

	tracker := NewTracker()
	tracker.SetLevel(1, 9, 10)

	hook := tracker.Hook()
	release, err := hook(context.Background(), testOrder(
		domain.OrderLine{LineNumber: 1, ItemID: 9, SupplyWarehouseID: 1, Qty: 4},
		domain.OrderLine{LineNumber: 2, ItemID: 12, SupplyWarehouseID: 2, Qty: 2},
	))
	if err != nil {
		t.Fatalf("hook failed: %v", err)
	}
	if release == nil {
		t.Fatal("expected release func for successful hook")
	}
	if level, _ := tracker.Level(1, 9); level != 6 {
		t.Fatalf("level before release = %d, want 6", level)
	}

	// Транзакция заказа не зафиксировалась: списание возвращается.
	release()

	if level, _ := tracker.Level(1, 9); level != 10 {
		t.Fatalf("level after release = %d, want 10", level)
	}
	if shipped := tracker.Shipped(1, 9); shipped != 0 {
		t.Fatalf("shipped after release = %d, want 0", shipped)
	}
	if shipped := tracker.Shipped(2, 12); shipped != 0 {
		t.Fatalf("untracked shipped after release = %d, want 0", shipped)
	}

	// Повторная попытка после release видит исходный остаток.
	if _, err := hook(context.Background(), testOrder(
		domain.OrderLine{LineNumber: 1, ItemID: 9, SupplyWarehouseID: 1, Qty: 10},
	)); err != nil {
		t.Fatalf("retry after release failed: %v", err)
	}
}
