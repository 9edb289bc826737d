// Команда loadtest гоняет new-order и delivery транзакции поверх in-memory
// хранилища и проверяет инварианты нумерации и балансов под конкуренцией.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/domain"
	"github.com/vladislavdragonenkov/fulfillment/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/fulfillment/internal/storage/memory"
)

// maxItemsPerOrder ограничивает размер генерируемого заказа, чтобы прогон
// не выродился в тест сериализации гигантских корзин.
const maxItemsPerOrder = 15

type config struct {
	warehouses  int
	workers     int
	orders      int
	maxItems    int
	carrierID   int
	sweepPeriod time.Duration
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type report struct {
	StartedAt        time.Time      `json:"started_at"`
	DurationSeconds  float64        `json:"duration_seconds"`
	OrdersCreated    int64          `json:"orders_created"`
	OrdersFailed     int64          `json:"orders_failed"`
	OrdersDelivered  int64          `json:"orders_delivered"`
	Sweeps           int64          `json:"sweeps"`
	CreateRPS        float64        `json:"create_rps"`
	CreateLatencyMs  latencySummary `json:"create_latency_ms"`
	UniqueIDs        bool           `json:"unique_ids"`
	DenseIDs         bool           `json:"dense_ids"`
	BalancesSettled  bool           `json:"balances_settled"`
	PendingLeftovers int            `json:"pending_leftovers"`
}

func main() {
	log.SetLevel(log.WarnLevel)

	cfg := readConfig()
	rep, err := run(context.Background(), cfg)
	if err != nil {
		fail("loadtest failed: %v", err)
	}

	encoded, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		fail("encode report: %v", err)
	}

	if cfg.outputPath != "" {
		if err := os.WriteFile(cfg.outputPath, append(encoded, '\n'), 0o644); err != nil {
			fail("write report: %v", err)
		}
	}
	fmt.Println(string(encoded))

	if !rep.UniqueIDs || !rep.DenseIDs || !rep.BalancesSettled || rep.PendingLeftovers != 0 {
		fail("consistency check failed")
	}
}

func readConfig() config {
	var cfg config

	flag.IntVar(&cfg.warehouses, "warehouses", 2, "number of seeded warehouses")
	flag.IntVar(&cfg.workers, "workers", 8, "number of concurrent order creators")
	flag.IntVar(&cfg.orders, "orders", 200, "orders created by each worker")
	flag.IntVar(&cfg.maxItems, "max-items", 5, "max order lines per order")
	flag.IntVar(&cfg.carrierID, "carrier", 1, "carrier id used by delivery sweeps")
	flag.DurationVar(&cfg.sweepPeriod, "sweep-period", 20*time.Millisecond, "delay between delivery sweeps")
	flag.StringVar(&cfg.outputPath, "output", "", "optional path for the JSON report")
	flag.Parse()

	if cfg.warehouses <= 0 {
		cfg.warehouses = 1
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}
	if cfg.orders <= 0 {
		cfg.orders = 1
	}
	if cfg.maxItems <= 0 || cfg.maxItems > maxItemsPerOrder {
		cfg.maxItems = 5
	}
	return cfg
}

func run(ctx context.Context, cfg config) (report, error) {
	store := memory.NewStore()
	seed(store, cfg.warehouses)

	svc := fulfillment.NewService(
		memory.NewOrderRepository(store),
		memory.NewDeliveryRepository(store),
		memory.NewCustomerRepository(store),
		fulfillment.WithRegion("loadtest"),
	)

	var (
		created   atomic.Int64
		failed    atomic.Int64
		delivered atomic.Int64
		sweeps    atomic.Int64

		latencyMu sync.Mutex
		latencies []float64
	)

	started := time.Now()

	// Sweeper работает параллельно с созданием заказов.
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	var sweepWG sync.WaitGroup
	sweepWG.Add(1)
	go func() {
		defer sweepWG.Done()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-time.After(cfg.sweepPeriod):
				for w := 1; w <= cfg.warehouses; w++ {
					rep, err := svc.DeliverBatch(sweepCtx, w, cfg.carrierID)
					if err != nil {
						continue
					}
					sweeps.Add(1)
					delivered.Add(int64(rep.DeliveredCount()))
				}
			}
		}
	}()

	var workerWG sync.WaitGroup
	for worker := 0; worker < cfg.workers; worker++ {
		workerWG.Add(1)
		go func(seed int64) {
			defer workerWG.Done()
			rng := rand.New(rand.NewSource(seed))

			for i := 0; i < cfg.orders; i++ {
				req := randomRequest(rng, cfg)

				begin := time.Now()
				_, err := svc.CreateOrder(ctx, req)
				elapsed := time.Since(begin)

				if err != nil {
					failed.Add(1)
					continue
				}
				created.Add(1)
				latencyMu.Lock()
				latencies = append(latencies, float64(elapsed.Microseconds())/1000.0)
				latencyMu.Unlock()
			}
		}(int64(worker) + 1)
	}
	workerWG.Wait()
	stopSweeps()
	sweepWG.Wait()

	// Добиваем хвост: обходим склады, пока остаются ожидающие заказы.
	for {
		var sweptAny bool
		for w := 1; w <= cfg.warehouses; w++ {
			rep, err := svc.DeliverBatch(ctx, w, cfg.carrierID)
			if err != nil {
				return report{}, err
			}
			sweeps.Add(1)
			if n := rep.DeliveredCount(); n > 0 {
				delivered.Add(int64(n))
				sweptAny = true
			}
		}
		if !sweptAny {
			break
		}
	}

	duration := time.Since(started)

	uniqueIDs, denseIDs, pendingLeft, err := verifyOrders(ctx, svc, cfg)
	if err != nil {
		return report{}, err
	}
	balancesOK, err := verifyBalances(ctx, svc, store, cfg)
	if err != nil {
		return report{}, err
	}

	return report{
		StartedAt:        started.UTC(),
		DurationSeconds:  duration.Seconds(),
		OrdersCreated:    created.Load(),
		OrdersFailed:     failed.Load(),
		OrdersDelivered:  delivered.Load(),
		Sweeps:           sweeps.Load(),
		CreateRPS:        float64(created.Load()) / duration.Seconds(),
		CreateLatencyMs:  buildLatencySummary(latencies),
		UniqueIDs:        uniqueIDs,
		DenseIDs:         denseIDs,
		BalancesSettled:  balancesOK,
		PendingLeftovers: pendingLeft,
	}, nil
}

func seed(store *memory.Store, warehouses int) {
	for w := 1; w <= warehouses; w++ {
		store.SeedWarehouse(w)
		for d := 1; d <= domain.DistrictsPerWarehouse; d++ {
			for c := 1; c <= 3; c++ {
				store.SeedCustomer(domain.Customer{WarehouseID: w, DistrictID: d, CustomerID: c})
			}
		}
	}
	for itemID := 1; itemID <= 100; itemID++ {
		store.SeedItem(domain.Item{
			ItemID:     itemID,
			Name:       fmt.Sprintf("item-%03d", itemID),
			PriceMinor: int64(100 + itemID*7),
		})
	}
}

func randomRequest(rng *rand.Rand, cfg config) domain.NewOrderRequest {
	warehouseID := rng.Intn(cfg.warehouses) + 1
	lineCount := rng.Intn(cfg.maxItems) + 1

	items := make([]domain.NewOrderItem, 0, lineCount)
	for i := 0; i < lineCount; i++ {
		supply := warehouseID
		if cfg.warehouses > 1 && rng.Intn(100) == 0 {
			supply = rng.Intn(cfg.warehouses) + 1
		}
		items = append(items, domain.NewOrderItem{
			ItemID:            rng.Intn(100) + 1,
			Qty:               rng.Intn(10) + 1,
			SupplyWarehouseID: supply,
		})
	}

	return domain.NewOrderRequest{
		WarehouseID: warehouseID,
		DistrictID:  rng.Intn(domain.DistrictsPerWarehouse) + 1,
		CustomerID:  rng.Intn(3) + 1,
		Items:       items,
	}
}

// verifyOrders проверяет уникальность и плотность номеров по каждому разделу
// и отсутствие недоставленных заказов после финальных sweep.
func verifyOrders(ctx context.Context, svc *fulfillment.Service, cfg config) (unique, dense bool, pendingLeft int, err error) {
	unique, dense = true, true

	for w := 1; w <= cfg.warehouses; w++ {
		for d := 1; d <= domain.DistrictsPerWarehouse; d++ {
			orders, err := svc.ListOrders(ctx, domain.OrderFilter{
				WarehouseID: w,
				DistrictID:  d,
				Limit:       1 << 20,
			})
			if err != nil {
				return false, false, 0, err
			}

			seen := make(map[int]struct{}, len(orders))
			maxID := 0
			for _, order := range orders {
				if _, dup := seen[order.OrderID]; dup {
					unique = false
				}
				seen[order.OrderID] = struct{}{}
				if order.OrderID > maxID {
					maxID = order.OrderID
				}
				if order.Status() != domain.OrderStatusDelivered {
					pendingLeft++
				}
			}
			if maxID != len(orders) {
				dense = false
			}
		}
	}
	return unique, dense, pendingLeft, nil
}

// verifyBalances сверяет баланс каждого клиента с суммой его доставленных заказов.
func verifyBalances(ctx context.Context, svc *fulfillment.Service, store *memory.Store, cfg config) (bool, error) {
	for w := 1; w <= cfg.warehouses; w++ {
		for d := 1; d <= domain.DistrictsPerWarehouse; d++ {
			for c := 1; c <= 3; c++ {
				orders, err := svc.ListOrders(ctx, domain.OrderFilter{
					WarehouseID: w,
					DistrictID:  d,
					CustomerID:  c,
					Limit:       1 << 20,
				})
				if err != nil {
					return false, err
				}

				var want int64
				for _, order := range orders {
					if order.Status() == domain.OrderStatusDelivered {
						want += order.TotalAmountMinor()
					}
				}

				customer, err := memory.NewCustomerRepository(store).GetCustomer(ctx, w, d, c)
				if err != nil {
					return false, err
				}
				if customer.BalanceMinor != want {
					return false, nil
				}
			}
		}
	}
	return true, nil
}

func buildLatencySummary(latencies []float64) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), latencies...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
		P99: percentile(sorted, 0.99),
	}
}

func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(q * float64(len(sorted)-1))
	return sorted[idx]
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
