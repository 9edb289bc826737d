package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// FulfillmentMetrics содержит метрики транзакций new-order и delivery.
type FulfillmentMetrics struct {
	// Счётчики операций
	ordersCreated       prometheus.Counter
	orderCreateFailed   prometheus.Counter
	allocationConflicts prometheus.Counter
	ordersDelivered     prometheus.Counter
	deliveryFailed      prometheus.Counter
	emptyDistricts      prometheus.Counter
	sweepsStarted       prometheus.Counter

	// Гистограммы времени выполнения
	orderCreateDuration prometheus.Histogram
	sweepDuration       prometheus.Histogram
	districtDuration    *prometheus.HistogramVec

	// Счётчики и gauge для outbox
	outboxPublished     prometheus.Counter
	outboxPublishFailed prometheus.Counter
	outboxPending       prometheus.Gauge
}

// NewFulfillmentMetrics создаёт метрики в default-реестре Prometheus.
func NewFulfillmentMetrics() *FulfillmentMetrics {
	return newFulfillmentMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newFulfillmentMetricsWithRegisterer(registerer prometheus.Registerer) *FulfillmentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &FulfillmentMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Total number of orders created",
		}),
		orderCreateFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_order_create_failed_total",
			Help: "Total number of failed order creation attempts",
		}),
		allocationConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_allocation_conflicts_total",
			Help: "Total number of order id allocation conflicts that triggered a retry",
		}),
		ordersDelivered: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_orders_delivered_total",
			Help: "Total number of orders delivered",
		}),
		deliveryFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_failed_total",
			Help: "Total number of failed district deliveries",
		}),
		emptyDistricts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_empty_districts_total",
			Help: "Total number of districts visited with no pending orders",
		}),
		sweepsStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_delivery_sweeps_total",
			Help: "Total number of delivery sweeps started",
		}),
		orderCreateDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_order_create_duration_seconds",
			Help:    "Duration of new-order transactions in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		sweepDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_delivery_sweep_duration_seconds",
			Help:    "Duration of full warehouse delivery sweeps in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		districtDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "fulfillment_delivery_district_duration_seconds",
			Help:    "Duration of per-district delivery steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"district"}),
		outboxPublished: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_published_total",
			Help: "Total number of outbox messages published to the broker",
		}),
		outboxPublishFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "fulfillment_outbox_publish_failed_total",
			Help: "Total number of outbox messages that failed to publish",
		}),
		outboxPending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "fulfillment_outbox_pending",
			Help: "Number of outbox messages waiting to be published",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderCreated фиксирует успешную new-order транзакцию.
func (m *FulfillmentMetrics) RecordOrderCreated(duration time.Duration) {
	m.ordersCreated.Inc()
	m.orderCreateDuration.Observe(duration.Seconds())
}

// RecordOrderCreateFailed увеличивает счётчик неудачных попыток создания заказа.
func (m *FulfillmentMetrics) RecordOrderCreateFailed() {
	m.orderCreateFailed.Inc()
}

// RecordAllocationConflict увеличивает счётчик конфликтов аллокации.
func (m *FulfillmentMetrics) RecordAllocationConflict() {
	m.allocationConflicts.Inc()
}

// RecordSweepStarted увеличивает счётчик запущенных delivery sweep.
func (m *FulfillmentMetrics) RecordSweepStarted() {
	m.sweepsStarted.Inc()
}

// RecordSweepDuration записывает длительность полного обхода склада.
func (m *FulfillmentMetrics) RecordSweepDuration(duration time.Duration) {
	m.sweepDuration.Observe(duration.Seconds())
}

// RecordOrderDelivered фиксирует доставку заказа в районе district.
func (m *FulfillmentMetrics) RecordOrderDelivered(district string, duration time.Duration) {
	m.ordersDelivered.Inc()
	m.districtDuration.WithLabelValues(district).Observe(duration.Seconds())
}

// RecordDeliveryFailed увеличивает счётчик неудачных доставок по районам.
func (m *FulfillmentMetrics) RecordDeliveryFailed() {
	m.deliveryFailed.Inc()
}

// RecordEmptyDistrict увеличивает счётчик районов без ожидающих заказов.
func (m *FulfillmentMetrics) RecordEmptyDistrict() {
	m.emptyDistricts.Inc()
}

// RecordOutboxPublished увеличивает счётчик опубликованных событий outbox.
func (m *FulfillmentMetrics) RecordOutboxPublished() {
	m.outboxPublished.Inc()
}

// RecordOutboxPublishFailed увеличивает счётчик ошибок публикации outbox.
func (m *FulfillmentMetrics) RecordOutboxPublishFailed() {
	m.outboxPublishFailed.Inc()
}

// SetOutboxPending выставляет текущий размер очереди outbox.
func (m *FulfillmentMetrics) SetOutboxPending(count int) {
	m.outboxPending.Set(float64(count))
}
