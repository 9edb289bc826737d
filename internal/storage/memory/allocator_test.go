package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestAllocator_Sequential(t *testing.T) {
	store := seedStore()
	alloc := memory.NewOrderIDAllocator(store)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := alloc.Allocate(ctx, 1, 1)
		if err != nil {
			t.Fatalf("allocate failed: %v", err)
		}
		if got != want {
			t.Fatalf("expected id %d, got %d", want, got)
		}
	}

	// Другая партиция ведёт независимый счётчик.
	got, err := alloc.Allocate(ctx, 1, 2)
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if got != 1 {
		t.Fatalf("expected independent partition to start at 1, got %d", got)
	}
}

func TestAllocator_DistrictNotFound(t *testing.T) {
	store := seedStore()
	alloc := memory.NewOrderIDAllocator(store)

	if _, err := alloc.Allocate(context.Background(), 99, 1); !errors.Is(err, domain.ErrDistrictNotFound) {
		t.Fatalf("expected ErrDistrictNotFound, got %v", err)
	}
}

func TestAllocator_ConcurrentUniqueness(t *testing.T) {
	store := seedStore()
	alloc := memory.NewOrderIDAllocator(store)

	const (
		workers       = 16
		allocsPerGoro = 50
	)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[int]struct{}, workers*allocsPerGoro)
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < allocsPerGoro; i++ {
				id, err := alloc.Allocate(context.Background(), 1, 1)
				if err != nil {
					t.Errorf("allocate failed: %v", err)
					return
				}
				mu.Lock()
				if _, dup := ids[id]; dup {
					t.Errorf("duplicate order id %d", id)
				}
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(ids) != workers*allocsPerGoro {
		t.Fatalf("expected %d distinct ids, got %d", workers*allocsPerGoro, len(ids))
	}
	// Идентификаторы плотные: ни один не пропущен и не переиспользован.
	for id := 1; id <= workers*allocsPerGoro; id++ {
		if _, ok := ids[id]; !ok {
			t.Fatalf("missing id %d in allocated set", id)
		}
	}
}
