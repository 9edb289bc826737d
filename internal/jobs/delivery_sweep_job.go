// Package jobs содержит периодические задания сервиса.
package jobs

import (
	"context"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
)

// DeliveryBatcher выполняет delivery sweep склада.
type DeliveryBatcher interface {
	DeliverBatch(ctx context.Context, warehouseID, carrierID int) (domain.DeliveryReport, error)
}

// DeliverySweepJob по расписанию обходит настроенные склады и доставляет
// старейшие ожидающие заказы каждого района.
type DeliverySweepJob struct {
	batcher    DeliveryBatcher
	warehouses []int
	carrierID  int
	schedule   string
	cron       *cron.Cron
	logger     *log.Entry
}

// NewDeliverySweepJob создаёт периодический delivery sweep.
// schedule — cron-выражение с секундами, например "*/30 * * * * *".
func NewDeliverySweepJob(batcher DeliveryBatcher, warehouses []int, carrierID int, schedule string) *DeliverySweepJob {
	if schedule == "" {
		schedule = "*/30 * * * * *"
	}
	return &DeliverySweepJob{
		batcher:    batcher,
		warehouses: warehouses,
		carrierID:  carrierID,
		schedule:   schedule,
		cron:       cron.New(cron.WithSeconds()),
		logger:     log.WithField("component", "delivery-sweep-job"),
	}
}

// Start запускает job по расписанию.
func (j *DeliverySweepJob) Start() error {
	_, err := j.cron.AddFunc(j.schedule, func() {
		j.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.logger.WithFields(log.Fields{
		"schedule":   j.schedule,
		"warehouses": j.warehouses,
	}).Info("delivery sweep job started")
	return nil
}

// RunOnce выполняет один обход всех настроенных складов.
func (j *DeliverySweepJob) RunOnce(ctx context.Context) {
	for _, warehouseID := range j.warehouses {
		report, err := j.batcher.DeliverBatch(ctx, warehouseID, j.carrierID)
		if err != nil {
			j.logger.WithError(err).WithField("warehouse_id", warehouseID).Error("delivery sweep failed")
			continue
		}
		if report.DeliveredCount() == 0 && report.FailedCount() == 0 {
			continue
		}
		j.logger.WithFields(log.Fields{
			"warehouse_id": warehouseID,
			"delivered":    report.DeliveredCount(),
			"failed":       report.FailedCount(),
		}).Info("delivery sweep completed")
	}
}

// Stop останавливает job.
func (j *DeliverySweepJob) Stop() {
	j.cron.Stop()
	j.logger.Info("delivery sweep job stopped")
}
