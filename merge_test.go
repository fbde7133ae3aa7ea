package sheetbatch

import (
	"context"
	"errors"
	"testing"
)

// ============================================================================
// Unit Tests for merge.go
// Tests the per-kind merge strategies
// ============================================================================

func mergeTestBatcher(client RemoteClient) *Batcher {
	return NewBatcher(
		WithBatcherClient(client),
		WithBatcherConfig(batcherTestConfig()),
	)
}

func pending(op Operation) *pendingOp {
	return newPendingOp(op)
}

func TestMergeWrites_LengthMismatchFailsBatch(t *testing.T) {
	// shortWriteClient drops the last write result, simulating a remote
	// answer that does not line up with the submitted writes.
	client := &shortWriteClient{fakeClient: newFakeClient()}
	b := mergeTestBatcher(client)
	defer b.Shutdown()

	ops := []*pendingOp{
		pending(Operation{Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!A1", Values: [][]any{{1}}}),
		pending(Operation{Target: "sheet-1", Kind: OpWriteValues, Range: "Sheet1!B1", Values: [][]any{{2}}}),
	}

	_, err := b.executeBatch(context.Background(), BatchKey{Target: "sheet-1", Kind: OpWriteValues}, ops)
	if !errors.Is(err, ErrBatchFailed) {
		t.Errorf("expected ErrBatchFailed on result count mismatch, got %v", err)
	}
}

type shortWriteClient struct {
	*fakeClient
}

func (c *shortWriteClient) WriteValues(ctx context.Context, target string, items []ValueWrite) ([]WriteResult, error) {
	results, err := c.fakeClient.WriteValues(ctx, target, items)
	if err != nil || len(results) == 0 {
		return results, err
	}
	return results[:len(results)-1], nil
}

func TestMergeAppends_ResolvesEachSheetOnce(t *testing.T) {
	client := newFakeClient()
	client.sheetIDs["Log"] = 11
	client.sheetIDs["Audit"] = 12
	b := mergeTestBatcher(client)
	defer b.Shutdown()

	ops := []*pendingOp{
		pending(Operation{Target: "sheet-1", Kind: OpAppendValues, Sheet: "Log", Values: [][]any{{"a", "b"}}}),
		pending(Operation{Target: "sheet-1", Kind: OpAppendValues, Sheet: "Log", Values: [][]any{{"c"}}}),
		pending(Operation{Target: "sheet-1", Kind: OpAppendValues, Sheet: "Audit", Values: [][]any{{"d"}, {"e", "f", "g"}}}),
	}

	results, err := b.executeBatch(context.Background(), BatchKey{Target: "sheet-1", Kind: OpAppendValues}, ops)
	if err != nil {
		t.Fatalf("executeBatch failed: %v", err)
	}

	if got := len(client.resolveCalls); got != 2 {
		t.Errorf("expected 2 sheet resolutions for 2 distinct sheets, got %d (%v)", got, client.resolveCalls)
	}
	if got := client.structuralCallCount(); got != 1 {
		t.Errorf("expected one structural call, got %d", got)
	}

	// Synthesized acks reflect the submitted values.
	if results[0].UpdatedRows != 1 || results[0].UpdatedColumns != 2 || results[0].UpdatedCells != 2 {
		t.Errorf("op 0 ack = %+v", results[0])
	}
	if results[2].UpdatedRows != 2 || results[2].UpdatedColumns != 3 || results[2].UpdatedCells != 4 {
		t.Errorf("op 2 ack = %+v", results[2])
	}
	if results[2].UpdatedRange != "Audit" {
		t.Errorf("op 2 range = %q, want sheet name", results[2].UpdatedRange)
	}
}

func TestMergeClears_OneCallManyRanges(t *testing.T) {
	client := newFakeClient()
	b := mergeTestBatcher(client)
	defer b.Shutdown()

	ops := []*pendingOp{
		pending(Operation{Target: "sheet-1", Kind: OpClearRange, Range: "Sheet1!A1:B2"}),
		pending(Operation{Target: "sheet-1", Kind: OpClearRange, Range: "Sheet1!C1:D2"}),
	}

	results, err := b.executeBatch(context.Background(), BatchKey{Target: "sheet-1", Kind: OpClearRange}, ops)
	if err != nil {
		t.Fatalf("executeBatch failed: %v", err)
	}

	if got := len(client.clearCalls); got != 1 {
		t.Fatalf("expected one clear call, got %d", got)
	}
	if got := client.clearCalls[0]; len(got) != 2 {
		t.Errorf("expected both ranges in one call, got %v", got)
	}
	if results[0].UpdatedRange != "Sheet1!A1:B2" || results[1].UpdatedRange != "Sheet1!C1:D2" {
		t.Errorf("each operation should get its own range back: %+v, %+v", results[0], results[1])
	}
}

func TestMergeClears_EchoesRemoteRanges(t *testing.T) {
	client := newFakeClient()
	// The remote may normalize ranges; the ack must carry its version.
	client.clearReply = &ClearResult{ClearedRanges: []string{"Sheet1!A1:B2"}}
	b := mergeTestBatcher(client)
	defer b.Shutdown()

	ops := []*pendingOp{
		pending(Operation{Target: "sheet-1", Kind: OpClearRange, Range: "Sheet1!A:B"}),
		pending(Operation{Target: "sheet-1", Kind: OpClearRange, Range: "Sheet1!C1:D2"}),
	}

	results, err := b.executeBatch(context.Background(), BatchKey{Target: "sheet-1", Kind: OpClearRange}, ops)
	if err != nil {
		t.Fatalf("executeBatch failed: %v", err)
	}

	if results[0].UpdatedRange != "Sheet1!A1:B2" {
		t.Errorf("op 0 range = %q, want the remote's normalized range", results[0].UpdatedRange)
	}
	// A short reply falls back to the requested range.
	if results[1].UpdatedRange != "Sheet1!C1:D2" {
		t.Errorf("op 1 range = %q, want the requested range", results[1].UpdatedRange)
	}
}

func TestMergeStructural_RepliesFanOutByContribution(t *testing.T) {
	client := newFakeClient()
	b := mergeTestBatcher(client)
	defer b.Shutdown()

	ops := []*pendingOp{
		pending(Operation{Target: "sheet-1", Kind: OpStructural, Requests: []map[string]any{
			{"addSheet": map[string]any{}},
			{"updateSheetProperties": map[string]any{}},
		}}),
		pending(Operation{Target: "sheet-1", Kind: OpStructural, Requests: []map[string]any{
			{"deleteDimension": map[string]any{}},
		}}),
	}

	results, err := b.executeBatch(context.Background(), BatchKey{Target: "sheet-1", Kind: OpStructural}, ops)
	if err != nil {
		t.Fatalf("executeBatch failed: %v", err)
	}

	if got := client.structuralCallCount(); got != 1 {
		t.Fatalf("expected one structural call, got %d", got)
	}
	if len(results[0].Replies) != 2 {
		t.Errorf("op 0 should own 2 replies, got %d", len(results[0].Replies))
	}
	if len(results[1].Replies) != 1 {
		t.Errorf("op 1 should own 1 reply, got %d", len(results[1].Replies))
	}
	// The fake tags replies with their index; op 1's single reply is the
	// third sub-request overall.
	if results[1].Replies[0]["index"] != 2 {
		t.Errorf("op 1 got reply %v, want index 2", results[1].Replies[0])
	}
}

func TestInferCellValue(t *testing.T) {
	tests := []struct {
		in   any
		key  string
		want any
	}{
		{"hello", "stringValue", "hello"},
		{"=SUM(A1:A3)", "formulaValue", "=SUM(A1:A3)"},
		{"42.5", "numberValue", 42.5},
		{"TRUE", "boolValue", true},
		{"false", "boolValue", false},
		{42, "numberValue", float64(42)},
		{3.14, "numberValue", 3.14},
		{true, "boolValue", true},
		{nil, "stringValue", ""},
	}

	for _, tt := range tests {
		cell := inferCellValue(tt.in)
		uev, ok := cell["userEnteredValue"].(map[string]any)
		if !ok {
			t.Errorf("inferCellValue(%v) missing userEnteredValue", tt.in)
			continue
		}
		if got := uev[tt.key]; got != tt.want {
			t.Errorf("inferCellValue(%v) = %v under %q, want %v", tt.in, got, tt.key, tt.want)
		}
	}
}
