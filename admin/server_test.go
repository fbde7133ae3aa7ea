package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sheetbatch"
	"sheetbatch/event"
)

// ============================================================================
// Unit Tests for event_store.go and server.go
// ============================================================================

type stubClient struct{}

func (c *stubClient) WriteValues(ctx context.Context, target string, items []sheetbatch.ValueWrite) ([]sheetbatch.WriteResult, error) {
	results := make([]sheetbatch.WriteResult, len(items))
	for i, item := range items {
		results[i] = sheetbatch.WriteResult{UpdatedRange: item.Range, UpdatedCells: 1}
	}
	return results, nil
}

func (c *stubClient) ClearRanges(ctx context.Context, target string, ranges []string) (*sheetbatch.ClearResult, error) {
	return &sheetbatch.ClearResult{ClearedRanges: ranges}, nil
}

func (c *stubClient) ApplyStructural(ctx context.Context, target string, requests []map[string]any) ([]map[string]any, error) {
	return make([]map[string]any, len(requests)), nil
}

func (c *stubClient) GetMetadata(ctx context.Context, target string, structureOnly bool) (*sheetbatch.TargetMetadata, error) {
	return &sheetbatch.TargetMetadata{Target: target, Title: "Console Test"}, nil
}

func (c *stubClient) ResolveSheetID(ctx context.Context, target string, sheet string) (int64, error) {
	return 0, nil
}

func newTestServer(t *testing.T) (*Server, *sheetbatch.Engine, *EventStore) {
	t.Helper()
	bus := event.NewMemoryEventBus()
	events := NewEventStore(100)
	bus.SubscribeAll(events.EventHandler())

	engine, err := sheetbatch.NewEngine(
		sheetbatch.WithEngineClient(&stubClient{}),
		sheetbatch.WithEngineEventBus(bus),
	)
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	t.Cleanup(func() { engine.Stop(context.Background()) })

	server := NewServer(
		WithEngine(engine),
		WithEventStore(events),
		WithServerLogger(&quietLogger{}),
	)
	return server, engine, events
}

type quietLogger struct{}

func (l *quietLogger) Printf(format string, v ...any) {}

func getJSON(t *testing.T, handler http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("bad JSON from %s: %v", path, err)
		}
	}
	return rec
}

func TestEventStore_StoreAndList(t *testing.T) {
	store := NewEventStore(10)

	store.Store(event.NewEvent(event.EventTxBegun).WithTxID("tx-1").WithTarget("sheet-1"))
	store.Store(event.NewEvent(event.EventTxCommitted).WithTxID("tx-1").WithTarget("sheet-1"))
	store.Store(event.NewEvent(event.EventTxBegun).WithTxID("tx-2").WithTarget("sheet-2"))

	if store.Len() != 3 {
		t.Fatalf("Len = %d, want 3", store.Len())
	}

	// Newest first.
	all := store.List(EventFilter{})
	if all[0].TxID != "tx-2" {
		t.Errorf("first listed event = %+v, want the newest", all[0])
	}

	byTx := store.List(EventFilter{TxID: "tx-1"})
	if len(byTx) != 2 {
		t.Errorf("tx filter returned %d events, want 2", len(byTx))
	}

	byType := store.List(EventFilter{Type: string(event.EventTxCommitted)})
	if len(byType) != 1 || byType[0].TxID != "tx-1" {
		t.Errorf("type filter returned %+v", byType)
	}

	if got := store.Count(EventFilter{Target: "sheet-2"}); got != 1 {
		t.Errorf("Count by target = %d, want 1", got)
	}
}

func TestEventStore_EvictsOldest(t *testing.T) {
	store := NewEventStore(2)

	store.Store(event.NewEvent(event.EventTxBegun).WithTxID("tx-1"))
	store.Store(event.NewEvent(event.EventTxBegun).WithTxID("tx-2"))
	store.Store(event.NewEvent(event.EventTxBegun).WithTxID("tx-3"))

	if store.Len() != 2 {
		t.Fatalf("Len = %d, want 2", store.Len())
	}
	for _, e := range store.List(EventFilter{}) {
		if e.TxID == "tx-1" {
			t.Error("oldest event should have been evicted")
		}
	}
}

func TestEventStore_RecordsError(t *testing.T) {
	store := NewEventStore(10)
	store.Store(event.NewEvent(event.EventTxFailed).WithError(errors.New("quota exceeded")))

	got := store.List(EventFilter{})
	if got[0].Error != "quota exceeded" {
		t.Errorf("Error = %q", got[0].Error)
	}
}

func TestServer_Health(t *testing.T) {
	server, _, _ := newTestServer(t)

	var body map[string]any
	rec := getJSON(t, server.Handler(), "/api/health", &body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestServer_StatsReflectEngineActivity(t *testing.T) {
	server, engine, _ := newTestServer(t)

	p, err := engine.Submit(context.Background(), sheetbatch.Operation{
		Target: "sheet-1", Kind: sheetbatch.OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	engine.FlushAll(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p.Wait(ctx)

	var stats statsResponse
	rec := getJSON(t, server.Handler(), "/api/stats", &stats)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if stats.Batcher.TotalOperations != 1 {
		t.Errorf("TotalOperations = %d, want 1", stats.Batcher.TotalOperations)
	}
	if stats.Window.Current == "" {
		t.Error("window stats missing")
	}
}

func TestServer_Transactions(t *testing.T) {
	server, engine, _ := newTestServer(t)

	tx, err := engine.Begin(context.Background(), "sheet-1")
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}

	var body struct {
		Total        int                  `json:"total"`
		Transactions []transactionSummary `json:"transactions"`
	}
	getJSON(t, server.Handler(), "/api/transactions", &body)
	if body.Total != 1 {
		t.Fatalf("total = %d, want 1", body.Total)
	}
	got := body.Transactions[0]
	if got.ID != tx.ID() || got.Target != "sheet-1" || got.Status != "PENDING" {
		t.Errorf("summary = %+v", got)
	}
}

func TestServer_EventsEndpointFilters(t *testing.T) {
	server, engine, _ := newTestServer(t)

	tx, _ := engine.Begin(context.Background(), "sheet-1")
	engine.Cancel(context.Background(), tx.ID())

	var body struct {
		Total  int           `json:"total"`
		Events []StoredEvent `json:"events"`
	}
	getJSON(t, server.Handler(), "/api/events?type=tx.begun", &body)
	if body.Total != 1 {
		t.Fatalf("total = %d, want 1 tx.begun event", body.Total)
	}
	if body.Events[0].TxID != tx.ID() {
		t.Errorf("event = %+v", body.Events[0])
	}
}

func TestServer_FlushRequiresPost(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := getJSON(t, server.Handler(), "/api/flush", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/flush status = %d, want 405", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/flush", nil)
	post := httptest.NewRecorder()
	server.Handler().ServeHTTP(post, req)
	if post.Code != http.StatusOK {
		t.Errorf("POST /api/flush status = %d, want 200", post.Code)
	}
}
