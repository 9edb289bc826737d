package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

func TestOutboxRepository_EnqueuePull(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	ctx := context.Background()

	msg, err := outbox.Enqueue(domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   "1-1-1",
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(`{"order_id":1}`),
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected generated message id")
	}

	pending, err := outbox.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != msg.ID {
		t.Fatalf("expected the enqueued message, got %+v", pending)
	}
}

func TestOutboxRepository_MarkSent(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	ctx := context.Background()

	msg, err := outbox.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderCreated})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if err := outbox.MarkSent(ctx, msg.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	pending, err := outbox.PullPending(ctx, 10)
	if err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d", len(pending))
	}
}

func TestOutboxRepository_MarkUnknown(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	if err := outbox.MarkSent(context.Background(), "missing"); !errors.Is(err, domain.ErrOutboxPublish) {
		t.Fatalf("expected ErrOutboxPublish, got %v", err)
	}
}

func TestOutboxRepository_Stats(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	ctx := context.Background()

	stats, err := outbox.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty outbox, got %d", stats.PendingCount)
	}

	if _, err := outbox.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderCreated}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := outbox.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderDelivered}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	stats, err = outbox.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 2 {
		t.Fatalf("expected 2 pending, got %d", stats.PendingCount)
	}
	if stats.OldestPendingAt.IsZero() {
		t.Fatal("expected oldest pending timestamp")
	}
}

func TestOutboxRepository_DeleteSentBefore(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	ctx := context.Background()

	sent, err := outbox.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderCreated})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := outbox.MarkSent(ctx, sent.ID); err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}

	failed, err := outbox.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderDelivered})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := outbox.MarkFailed(ctx, failed.ID); err != nil {
		t.Fatalf("mark failed failed: %v", err)
	}

	if _, err := outbox.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderCreated}); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	deleted, err := outbox.DeleteSentBefore(ctx, time.Now().UTC().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("delete sent failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted record, got %d", deleted)
	}

	// Повторное удаление ничего не находит: failed и pending не трогаем.
	deleted, err = outbox.DeleteSentBefore(ctx, time.Now().UTC().Add(time.Minute), 100)
	if err != nil {
		t.Fatalf("delete sent failed: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected no deletions, got %d", deleted)
	}

	stats, err := outbox.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("pending record must survive cleanup, got %d", stats.PendingCount)
	}
}
