// Package main runs the engine with the admin console attached. With
// no flags it runs fully in memory against a simulated spreadsheet
// backend, which is enough to poke at the API; point it at MySQL and
// Redis to exercise the persistent snapshot store and the distributed
// locker.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"sheetbatch"
	"sheetbatch/admin"
	"sheetbatch/circuit"
	breakermem "sheetbatch/circuit/memory"
	"sheetbatch/event"
	"sheetbatch/lock"
	lockmem "sheetbatch/lock/memory"
	lockredis "sheetbatch/lock/redis"
	prommetrics "sheetbatch/metrics/prometheus"
	"sheetbatch/snapstore"
	snapmysql "sheetbatch/snapstore/mysql"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "admin console listen address")
		metricsAddr = flag.String("metrics-addr", ":9090", "prometheus metrics listen address")
		mysqlDSN    = flag.String("mysql-dsn", "", "MySQL DSN for the snapshot store (empty: in-memory)")
		redisAddr   = flag.String("redis-addr", "", "Redis address for the commit locker (empty: in-process)")
	)
	flag.Parse()

	store, cleanup, err := buildStore(*mysqlDSN)
	if err != nil {
		log.Fatalf("snapshot store: %v", err)
	}
	defer cleanup()

	locker := buildLocker(*redisAddr)

	bus := event.NewMemoryEventBus()
	eventStore := admin.NewEventStore(1000)
	bus.SubscribeAll(eventStore.EventHandler())

	// The simulated backend sits behind a circuit breaker, same as a
	// real client would.
	client := circuit.NewGuardedClient(newSimulatedClient(), breakermem.NewMemoryBreaker())

	engine, err := sheetbatch.NewEngine(
		sheetbatch.WithEngineClient(client),
		sheetbatch.WithEngineSnapshotStore(store),
		sheetbatch.WithEngineLocker(locker),
		sheetbatch.WithEngineEventBus(bus),
		sheetbatch.WithEngineMetrics(prommetrics.New(prommetrics.DefaultConfig())),
	)
	if err != nil {
		log.Fatalf("engine: %v", err)
	}

	ctx := context.Background()
	if err := engine.Start(ctx); err != nil {
		log.Fatalf("engine start: %v", err)
	}

	server := admin.NewServer(
		admin.WithAddr(*addr),
		admin.WithEngine(engine),
		admin.WithEventStore(eventStore),
	)

	go func() {
		fmt.Printf("admin console on http://localhost%s\n", *addr)
		if err := server.Start(); err != nil {
			log.Printf("admin server error: %v", err)
		}
	}()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
			log.Printf("metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Stop(shutdownCtx)
	if err := engine.Stop(shutdownCtx); err != nil {
		log.Printf("engine stop: %v", err)
	}
}

func buildStore(dsn string) (sheetbatch.SnapshotStore, func(), error) {
	if dsn == "" {
		return snapstore.NewMemoryStore(), func() {}, nil
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, err
	}
	return snapmysql.New(db), func() { db.Close() }, nil
}

func buildLocker(redisAddr string) lock.Locker {
	if redisAddr == "" {
		return lockmem.NewMemoryLocker()
	}
	client := goredis.NewClient(&goredis.Options{Addr: redisAddr})
	return lockredis.NewRedisLocker(client)
}

// simulatedClient is an in-memory spreadsheet backend so the console
// can be exercised without remote credentials.
type simulatedClient struct {
	mu     sync.Mutex
	sheets map[string]int64
	nextID int64
}

func newSimulatedClient() *simulatedClient {
	return &simulatedClient{
		sheets: map[string]int64{"Sheet1": 0},
		nextID: 1,
	}
}

func (c *simulatedClient) WriteValues(ctx context.Context, target string, items []sheetbatch.ValueWrite) ([]sheetbatch.WriteResult, error) {
	results := make([]sheetbatch.WriteResult, len(items))
	for i, item := range items {
		cells := 0
		for _, row := range item.Values {
			cells += len(row)
		}
		results[i] = sheetbatch.WriteResult{
			UpdatedRange: item.Range,
			UpdatedRows:  len(item.Values),
			UpdatedCells: cells,
		}
	}
	return results, nil
}

func (c *simulatedClient) ClearRanges(ctx context.Context, target string, ranges []string) (*sheetbatch.ClearResult, error) {
	return &sheetbatch.ClearResult{ClearedRanges: ranges}, nil
}

func (c *simulatedClient) ApplyStructural(ctx context.Context, target string, requests []map[string]any) ([]map[string]any, error) {
	replies := make([]map[string]any, len(requests))
	for i := range requests {
		replies[i] = map[string]any{}
	}
	return replies, nil
}

func (c *simulatedClient) GetMetadata(ctx context.Context, target string, structureOnly bool) (*sheetbatch.TargetMetadata, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sheets := make([]sheetbatch.SheetMetadata, 0, len(c.sheets))
	for title, id := range c.sheets {
		sheets = append(sheets, sheetbatch.SheetMetadata{SheetID: id, Title: title})
	}
	return &sheetbatch.TargetMetadata{
		Target: target,
		Title:  "Simulated Spreadsheet",
		Sheets: sheets,
	}, nil
}

func (c *simulatedClient) ResolveSheetID(ctx context.Context, target string, sheet string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.sheets[sheet]; ok {
		return id, nil
	}
	id := c.nextID
	c.nextID++
	c.sheets[sheet] = id
	return id, nil
}
