package health

import (
	"context"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// PingChecker проверяет доступность хранилища через ping с таймаутом.
type PingChecker struct {
	name    string
	ping    func(ctx context.Context) error
	timeout time.Duration
}

// NewPingChecker создаёт проверку для компонента с context-aware ping.
func NewPingChecker(name string, ping func(ctx context.Context) error, timeout time.Duration) *PingChecker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &PingChecker{
		name:    name,
		ping:    ping,
		timeout: timeout,
	}
}

// Check выполняет ping.
func (c *PingChecker) Check() Check {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	err := c.ping(ctx)
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
	}
}

// OutboxBacklogChecker деградирует статус при разрастании очереди outbox.
type OutboxBacklogChecker struct {
	repo             domain.OutboxRepository
	degradedBacklog  int
	unhealthyBacklog int
	timeout          time.Duration
}

// NewOutboxBacklogChecker создаёт проверку размера очереди outbox.
func NewOutboxBacklogChecker(repo domain.OutboxRepository, degradedBacklog, unhealthyBacklog int) *OutboxBacklogChecker {
	if degradedBacklog <= 0 {
		degradedBacklog = 1000
	}
	if unhealthyBacklog <= degradedBacklog {
		unhealthyBacklog = degradedBacklog * 10
	}
	return &OutboxBacklogChecker{
		repo:             repo,
		degradedBacklog:  degradedBacklog,
		unhealthyBacklog: unhealthyBacklog,
		timeout:          2 * time.Second,
	}
}

// Check сравнивает количество pending-сообщений с порогами.
func (c *OutboxBacklogChecker) Check() Check {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	stats, err := c.repo.Stats(ctx)
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       "outbox",
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	status := StatusHealthy
	message := ""
	switch {
	case stats.PendingCount >= c.unhealthyBacklog:
		status = StatusUnhealthy
		message = fmt.Sprintf("outbox backlog %d exceeds limit %d", stats.PendingCount, c.unhealthyBacklog)
	case stats.PendingCount >= c.degradedBacklog:
		status = StatusDegraded
		message = fmt.Sprintf("outbox backlog %d exceeds threshold %d", stats.PendingCount, c.degradedBacklog)
	}

	return Check{
		Name:       "outbox",
		Status:     status,
		Message:    message,
		DurationMs: duration.Milliseconds(),
	}
}

var (
	_ Checker = (*PingChecker)(nil)
	_ Checker = (*OutboxBacklogChecker)(nil)
)
