package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

func pendingMessage(id string, orderID int) domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            id,
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   fmt.Sprintf("1-1-%d", orderID),
		EventType:     domain.EventTypeOrderCreated,
		Payload:       []byte(fmt.Sprintf(`{"order_id":%d}`, orderID)),
	}
}

func TestWorkerProcessOnceMarksSent(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{pending: []domain.OutboxMessage{pendingMessage("msg-1", 1)}}
	publisher := &scriptedPublisher{}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	if sent := worker.ProcessOnce(context.Background()); sent != 1 {
		t.Fatalf("expected 1 sent, got %d", sent)
	}
	if got := repo.sentIDs; len(got) != 1 || got[0] != "msg-1" {
		t.Fatalf("expected sent mark for msg-1, got %v", got)
	}
	if len(repo.failedIDs) != 0 {
		t.Fatalf("expected no failed marks, got %v", repo.failedIDs)
	}
	if calls := publisher.calls(); calls != 1 {
		t.Fatalf("expected 1 publish call, got %d", calls)
	}
}

func TestWorkerProcessOnceFailedGoesToDLQ(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{pending: []domain.OutboxMessage{pendingMessage("msg-2", 2)}}
	publisher := &scriptedPublisher{defaultErr: errors.New("broker down")}
	dlq := &scriptedPublisher{}

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlq),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
	)

	if sent := worker.ProcessOnce(context.Background()); sent != 0 {
		t.Fatalf("expected 0 sent, got %d", sent)
	}
	if calls := publisher.calls(); calls != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", calls)
	}
	if len(repo.sentIDs) != 0 {
		t.Fatalf("expected no sent marks, got %v", repo.sentIDs)
	}
	if got := repo.failedIDs; len(got) != 1 || got[0] != "msg-2" {
		t.Fatalf("expected failed mark for msg-2, got %v", got)
	}
	if calls := dlq.calls(); calls != 1 {
		t.Fatalf("expected 1 DLQ publish, got %d", calls)
	}
}

func TestWorkerProcessOnceRecoversWithinRetryBudget(t *testing.T) {
	t.Parallel()

	repo := &recordingRepo{pending: []domain.OutboxMessage{pendingMessage("msg-3", 3)}}
	publisher := &scriptedPublisher{
		script: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3))

	if sent := worker.ProcessOnce(context.Background()); sent != 1 {
		t.Fatalf("expected 1 sent, got %d", sent)
	}
	if calls := publisher.calls(); calls != 3 {
		t.Fatalf("expected 3 publish attempts, got %d", calls)
	}
	if len(repo.failedIDs) != 0 {
		t.Fatalf("expected no failed marks, got %v", repo.failedIDs)
	}
}

func TestWorkerBackoffDoubles(t *testing.T) {
	t.Parallel()

	worker := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 10 * time.Millisecond},
		{attempt: 2, want: 20 * time.Millisecond},
		{attempt: 3, want: 40 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := worker.backoffFor(tc.attempt); got != tc.want {
			t.Fatalf("attempt %d: expected %v, got %v", tc.attempt, tc.want, got)
		}
	}

	zero := NewWorker(nil, nil, WithRetryBaseDelay(0))
	if got := zero.backoffFor(5); got != 0 {
		t.Fatalf("expected zero backoff, got %v", got)
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(
		&recordingRepo{},
		&scriptedPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}

// recordingRepo отдаёт заранее заданный pending-список и записывает
// изменения статусов.
type recordingRepo struct {
	pending   []domain.OutboxMessage
	sentIDs   []string
	failedIDs []string
}

var _ domain.OutboxRepository = (*recordingRepo)(nil)

func (r *recordingRepo) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 || limit >= len(r.pending) {
		return append([]domain.OutboxMessage(nil), r.pending...), nil
	}
	return append([]domain.OutboxMessage(nil), r.pending[:limit]...), nil
}

func (r *recordingRepo) MarkSent(_ context.Context, id string) error {
	r.sentIDs = append(r.sentIDs, id)
	return nil
}

func (r *recordingRepo) MarkFailed(_ context.Context, id string) error {
	r.failedIDs = append(r.failedIDs, id)
	return nil
}

func (r *recordingRepo) Stats(_ context.Context) (domain.OutboxStats, error) {
	stats := domain.OutboxStats{PendingCount: len(r.pending)}
	if len(r.pending) > 0 {
		stats.OldestPendingAt = time.Now().UTC().Add(-time.Second)
	}
	return stats, nil
}

// scriptedPublisher возвращает ошибки из script по порядку, затем defaultErr.
type scriptedPublisher struct {
	mu         sync.Mutex
	script     []error
	defaultErr error
	callCount  int
}

var _ domain.OutboxPublisher = (*scriptedPublisher)(nil)

func (p *scriptedPublisher) Publish(_ domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.callCount++
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		return err
	}
	return p.defaultErr
}

func (p *scriptedPublisher) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callCount
}
