package sheetbatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================================
// Unit Tests for queue.go
// Tests batching triggers, fan-out, failure handling and statistics
// ============================================================================

func batcherTestConfig() Config {
	cfg := DefaultConfig()
	cfg.AdaptiveWindow = false
	cfg.FixedWindow = time.Hour // tests drive drains explicitly unless stated
	cfg.MaxBatchSize = 3
	return cfg
}

func waitPromise(t *testing.T, p *Promise) (*OperationResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := p.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("promise never resolved")
	}
	return res, err
}

func TestBatcher_SizeTriggerMergesIntoOneCall(t *testing.T) {
	client := newFakeClient()
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(batcherTestConfig()),
	)
	defer b.Shutdown()

	var promises []*Promise
	for i, rng := range []string{"Sheet1!A1", "Sheet1!B1", "Sheet1!C1"} {
		p, err := b.Submit(context.Background(), Operation{
			Target: "sheet-1",
			Kind:   OpWriteValues,
			Range:  rng,
			Values: [][]any{{i}},
		})
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
		promises = append(promises, p)
	}

	for i, p := range promises {
		res, err := waitPromise(t, p)
		if err != nil {
			t.Fatalf("operation %d failed: %v", i, err)
		}
		if res == nil {
			t.Fatalf("operation %d resolved with nil result", i)
		}
	}

	if got := client.writeCallCount(); got != 1 {
		t.Errorf("expected one physical call for three operations, got %d", got)
	}
}

func TestBatcher_ResultsFanOutPositionally(t *testing.T) {
	client := newFakeClient()
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(batcherTestConfig()),
	)
	defer b.Shutdown()

	ranges := []string{"Sheet1!A1", "Sheet1!B2", "Sheet1!C3"}
	var promises []*Promise
	for _, rng := range ranges {
		p, _ := b.Submit(context.Background(), Operation{
			Target: "sheet-1",
			Kind:   OpWriteValues,
			Range:  rng,
			Values: [][]any{{"x"}},
		})
		promises = append(promises, p)
	}

	for i, p := range promises {
		res, err := waitPromise(t, p)
		if err != nil {
			t.Fatalf("operation %d failed: %v", i, err)
		}
		if res.UpdatedRange != ranges[i] {
			t.Errorf("operation %d got result for range %q, want %q", i, res.UpdatedRange, ranges[i])
		}
	}
}

func TestBatcher_TimerDrainsPartialBatch(t *testing.T) {
	client := newFakeClient()
	cfg := batcherTestConfig()
	cfg.FixedWindow = 20 * time.Millisecond
	cfg.MaxBatchSize = 100
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(cfg),
	)
	defer b.Shutdown()

	p1, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}},
	})
	p2, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!B1", Values: [][]any{{2}},
	})

	if _, err := waitPromise(t, p1); err != nil {
		t.Fatalf("first operation failed: %v", err)
	}
	if _, err := waitPromise(t, p2); err != nil {
		t.Fatalf("second operation failed: %v", err)
	}

	if got := client.writeCallCount(); got != 1 {
		t.Errorf("expected one physical call, got %d", got)
	}
}

func TestBatcher_DistinctKeysDrainSeparately(t *testing.T) {
	client := newFakeClient()
	cfg := batcherTestConfig()
	cfg.MaxBatchSize = 1
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(cfg),
	)
	defer b.Shutdown()

	p1, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}},
	})
	p2, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-2", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{2}},
	})

	waitPromise(t, p1)
	waitPromise(t, p2)

	if got := client.writeCallCount(); got != 2 {
		t.Errorf("expected two physical calls for two targets, got %d", got)
	}
}

func TestBatcher_FailureRejectsEveryOperation(t *testing.T) {
	client := newFakeClient()
	client.writeErr = errors.New("quota exceeded")
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(batcherTestConfig()),
	)
	defer b.Shutdown()

	var promises []*Promise
	for i := 0; i < 3; i++ {
		p, _ := b.Submit(context.Background(), Operation{
			Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{i}},
		})
		promises = append(promises, p)
	}

	for i, p := range promises {
		_, err := waitPromise(t, p)
		if err == nil {
			t.Fatalf("operation %d should have failed", i)
		}
		if !errors.Is(err, ErrBatchFailed) {
			t.Errorf("operation %d: expected ErrBatchFailed, got %v", i, err)
		}
	}
}

func TestBatcher_UnsupportedKindRejectsBatch(t *testing.T) {
	client := newFakeClient()
	cfg := batcherTestConfig()
	cfg.MaxBatchSize = 1
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(cfg),
	)
	defer b.Shutdown()

	p, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpKind("bogus"),
	})
	_, err := waitPromise(t, p)
	if !errors.Is(err, ErrUnsupportedBatchType) {
		t.Errorf("expected ErrUnsupportedBatchType, got %v", err)
	}
}

func TestBatcher_FlushAllDrainsWithoutWaitingForTimer(t *testing.T) {
	client := newFakeClient()
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(batcherTestConfig()),
	)
	defer b.Shutdown()

	p1, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}},
	})
	p2, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!B1", Values: [][]any{{2}},
	})

	if err := b.FlushAll(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if !p1.Done() || !p2.Done() {
		t.Error("flush should resolve all pending promises")
	}
	if got := client.writeCallCount(); got != 1 {
		t.Errorf("expected one physical call, got %d", got)
	}
}

func TestBatcher_SubmitAfterShutdown(t *testing.T) {
	b := NewBatcher(
		WithBatcherClient(newFakeClient()),
		WithBatcherConfig(batcherTestConfig()),
	)
	b.Shutdown()

	_, err := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1",
	})
	if !errors.Is(err, ErrBatcherClosed) {
		t.Errorf("expected ErrBatcherClosed, got %v", err)
	}
}

func TestBatcher_DisabledModeRejectsAfterShutdown(t *testing.T) {
	client := newFakeClient()
	cfg := batcherTestConfig()
	cfg.BatchingEnabled = false
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(cfg),
	)
	b.Shutdown()

	_, err := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}},
	})
	if !errors.Is(err, ErrBatcherClosed) {
		t.Errorf("expected ErrBatcherClosed, got %v", err)
	}
	if got := client.physicalCalls(); got != 0 {
		t.Errorf("no physical call may happen after shutdown, got %d", got)
	}
}

func TestBatcher_DisabledModeExecutesImmediately(t *testing.T) {
	client := newFakeClient()
	cfg := batcherTestConfig()
	cfg.BatchingEnabled = false
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(cfg),
	)

	p, err := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}},
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !p.Done() {
		t.Error("disabled mode should resolve the promise before Submit returns")
	}
	if got := client.writeCallCount(); got != 1 {
		t.Errorf("expected one physical call, got %d", got)
	}
}

func TestBatcher_Stats(t *testing.T) {
	client := newFakeClient()
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(batcherTestConfig()),
	)
	defer b.Shutdown()

	var promises []*Promise
	for i := 0; i < 3; i++ {
		p, _ := b.Submit(context.Background(), Operation{
			Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{i}},
		})
		promises = append(promises, p)
	}
	for _, p := range promises {
		waitPromise(t, p)
	}

	s := b.Stats()
	if s.TotalOperations != 3 {
		t.Errorf("TotalOperations = %d, want 3", s.TotalOperations)
	}
	if s.TotalBatches != 1 || s.TotalCalls != 1 {
		t.Errorf("TotalBatches = %d, TotalCalls = %d, want 1 and 1", s.TotalBatches, s.TotalCalls)
	}
	if s.CallsSaved != 2 {
		t.Errorf("CallsSaved = %d, want 2", s.CallsSaved)
	}
	if s.AvgBatchSize != 3 || s.MinBatchSize != 3 || s.MaxBatchSize != 3 {
		t.Errorf("batch size stats = avg %v min %d max %d, want 3/3/3", s.AvgBatchSize, s.MinBatchSize, s.MaxBatchSize)
	}

	b.ResetStats()
	s = b.Stats()
	if s.TotalOperations != 0 || s.TotalBatches != 0 {
		t.Errorf("stats should be zero after reset, got %+v", s)
	}
}

func TestBatcher_AdaptiveWindowGrowsAfterSmallDrain(t *testing.T) {
	client := newFakeClient()
	cfg := batcherTestConfig()
	cfg.AdaptiveWindow = true
	cfg.MaxBatchSize = 1
	b := NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(cfg),
	)
	defer b.Shutdown()

	before := b.Window().Current()
	p, _ := b.Submit(context.Background(), Operation{
		Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}},
	})
	waitPromise(t, p)

	if after := b.Window().Current(); after <= before {
		t.Errorf("window should grow after a drain below the low threshold: %v -> %v", before, after)
	}
}
