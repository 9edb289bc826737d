// Package app собирает сервис из хранилища, воркеров и внешних интерфейсов.
package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Config описывает настройки запуска приложения.
// Все значения читаются из переменных окружения FULFILLMENT_*.
type Config struct {
	// HTTPAddr — адрес HTTP-сервера метрик и health-проверок.
	HTTPAddr string
	// PostgresDSN — строка подключения. Пустое значение включает
	// in-memory хранилище с демо-набором данных.
	PostgresDSN string
	// MigrateOnStart выполняет миграции при запуске.
	MigrateOnStart bool

	// Region помечает создаваемые заказы регионом склада.
	Region string

	// KafkaBrokers — список брокеров через запятую; пусто — Kafka выключен.
	KafkaBrokers string
	// KafkaGroupID — consumer group для топика delivery.requests.
	KafkaGroupID string

	// SweepSchedule — cron-выражение периодического delivery sweep.
	SweepSchedule string
	// SweepWarehouses — склады, которые обходит периодический sweep.
	SweepWarehouses []int
	// SweepCarrierID — перевозчик, назначаемый периодическим sweep.
	SweepCarrierID int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:           ":9090",
		MigrateOnStart:     true,
		Region:             "local",
		KafkaGroupID:       "fulfillment-service",
		SweepSchedule:      "*/30 * * * * *",
		SweepWarehouses:    []int{1},
		SweepCarrierID:     1,
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
// Файл .env подхватывается, если присутствует.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Debug("no .env file loaded")
	}

	cfg := DefaultConfig()
	cfg.HTTPAddr = envString("FULFILLMENT_HTTP_ADDR", cfg.HTTPAddr)
	cfg.PostgresDSN = envString("FULFILLMENT_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.MigrateOnStart = envBool("FULFILLMENT_MIGRATE_ON_START", cfg.MigrateOnStart)
	cfg.Region = envString("FULFILLMENT_REGION", cfg.Region)
	cfg.KafkaBrokers = envString("FULFILLMENT_KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = envString("FULFILLMENT_KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.SweepSchedule = envString("FULFILLMENT_SWEEP_SCHEDULE", cfg.SweepSchedule)
	cfg.SweepWarehouses = envInts("FULFILLMENT_SWEEP_WAREHOUSES", cfg.SweepWarehouses)
	cfg.SweepCarrierID = envInt("FULFILLMENT_SWEEP_CARRIER_ID", cfg.SweepCarrierID)
	cfg.OutboxPollInterval = envDuration("FULFILLMENT_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = envInt("FULFILLMENT_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	return cfg
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid integer in environment, using default")
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid boolean in environment, using default")
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("invalid duration in environment, using default")
		return fallback
	}
	return d
}

func envInts(key string, fallback []int) []int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			log.WithField("key", key).WithError(err).Warn("invalid integer list in environment, using default")
			return fallback
		}
		result = append(result, n)
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
