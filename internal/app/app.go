package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/fulfillment/internal/health"
	"github.com/vladislavdragonenkov/fulfillment/internal/jobs"
	"github.com/vladislavdragonenkov/fulfillment/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/fulfillment/internal/metrics"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/outbox"
	"github.com/vladislavdragonenkov/fulfillment/internal/version"
)

// Run запускает сервис и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.WithField("version", version.Current().String()).Info("starting fulfillment service")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}()

	svcMetrics := metrics.NewFulfillmentMetrics()
	svc := fulfillment.NewService(
		deps.Orders,
		deps.Deliveries,
		deps.Customers,
		fulfillment.WithRegion(cfg.Region),
		fulfillment.WithMetrics(svcMetrics),
		fulfillment.WithLogger(logger.WithField("layer", "service")),
	)

	// Kafka опционален: без брокеров сервис работает автономно,
	// а события копятся в outbox.
	kafkaProducer, err := initKafkaProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.WithError(err).Warn("continuing without kafka")
	}
	defer closeKafkaProducer(kafkaProducer, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	if kafkaProducer != nil {
		worker := outbox.NewWorker(
			deps.Outbox,
			kafka.NewOutboxPublisher(kafkaProducer),
			outbox.WithLogger(logger.WithField("layer", "outbox")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
		)
		go worker.Run(workerCtx)

		consumer, err := kafka.NewConsumerWithDLQ(
			strings.Split(cfg.KafkaBrokers, ","),
			cfg.KafkaGroupID,
			[]string{kafka.TopicDeliveryRequests},
			kafka.NewDeliveryRequestHandler(svc, kafkaProducer),
			kafkaProducer,
			3,
		)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka consumer, delivery requests disabled")
		} else {
			if err := consumer.Start(workerCtx); err != nil {
				logger.WithError(err).Warn("failed to start kafka consumer")
			} else {
				defer func() {
					if err := consumer.Stop(); err != nil {
						logger.WithError(err).Warn("failed to stop kafka consumer")
					}
				}()
			}
		}
	}

	// Опубликованные записи outbox подчищаются в фоне, иначе таблица
	// растёт безгранично.
	if pruner, ok := deps.Outbox.(outbox.SentPruner); ok {
		retention := outbox.NewRetentionWorker(
			pruner,
			outbox.WithRetentionLogger(logger.WithField("layer", "outbox")),
		)
		go retention.Run(workerCtx)
	}

	sweepJob := jobs.NewDeliverySweepJob(svc, cfg.SweepWarehouses, cfg.SweepCarrierID, cfg.SweepSchedule)
	if err := sweepJob.Start(); err != nil {
		return err
	}
	defer sweepJob.Stop()

	healthHandler := healthcheck.NewHandler(version.Current().Version)
	healthHandler.RegisterChecker("storage", healthcheck.NewPingChecker("storage", deps.Ping, 2*time.Second))
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxBacklogChecker(deps.Outbox, 1000, 10000))

	httpSrv := startHTTPServer(cfg.HTTPAddr, logger, healthHandler)

	<-ctx.Done()
	logger.Info("shutdown signal received")
	cancelWorkers()
	shutdownHTTP(httpSrv, logger)
	return ctx.Err()
}

func initKafkaProducer(brokers string, logger *log.Entry) (*kafka.Producer, error) {
	if brokers == "" {
		return nil, nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// startHTTPServer поднимает обработчики метрик и health-проверок.
func startHTTPServer(addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("http server failed")
		}
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
