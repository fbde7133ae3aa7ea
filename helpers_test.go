package sheetbatch

import (
	"context"
	"fmt"
	"sync"
)

// ============================================================================
// Shared Test Helpers
// fakeClient is an in-memory RemoteClient that records every physical
// call and can be told to fail selectively.
// ============================================================================

type fakeClient struct {
	mu sync.Mutex

	writeCalls      [][]ValueWrite
	clearCalls      [][]string
	structuralCalls [][]map[string]any
	resolveCalls    []string
	metadataCalls   int

	writeErr      error
	clearErr      error
	structuralErr error
	metadataErr   error
	resolveErr    error

	// structuralReply and clearReply override the echoed replies when set.
	structuralReply []map[string]any
	clearReply      *ClearResult

	sheetIDs map[string]int64
	metadata *TargetMetadata
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		sheetIDs: make(map[string]int64),
		metadata: &TargetMetadata{
			Target: "sheet-1",
			Title:  "Test Spreadsheet",
			Sheets: []SheetMetadata{
				{SheetID: 0, Title: "Sheet1", RowCount: 1000, ColumnCount: 26},
			},
		},
	}
}

func (f *fakeClient) WriteValues(ctx context.Context, target string, items []ValueWrite) ([]WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.writeCalls = append(f.writeCalls, items)

	results := make([]WriteResult, len(items))
	for i, item := range items {
		cells := 0
		cols := 0
		for _, row := range item.Values {
			cells += len(row)
			if len(row) > cols {
				cols = len(row)
			}
		}
		results[i] = WriteResult{
			UpdatedRange:   item.Range,
			UpdatedRows:    len(item.Values),
			UpdatedColumns: cols,
			UpdatedCells:   cells,
		}
	}
	return results, nil
}

func (f *fakeClient) ClearRanges(ctx context.Context, target string, ranges []string) (*ClearResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return nil, f.clearErr
	}
	f.clearCalls = append(f.clearCalls, ranges)
	if f.clearReply != nil {
		return f.clearReply, nil
	}
	return &ClearResult{ClearedRanges: ranges}, nil
}

func (f *fakeClient) ApplyStructural(ctx context.Context, target string, requests []map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.structuralErr != nil {
		return nil, f.structuralErr
	}
	f.structuralCalls = append(f.structuralCalls, requests)
	if f.structuralReply != nil {
		return f.structuralReply, nil
	}

	replies := make([]map[string]any, len(requests))
	for i := range requests {
		replies[i] = map[string]any{"index": i}
	}
	return replies, nil
}

func (f *fakeClient) GetMetadata(ctx context.Context, target string, structureOnly bool) (*TargetMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadataCalls++
	if f.metadataErr != nil {
		return nil, f.metadataErr
	}
	return f.metadata, nil
}

func (f *fakeClient) ResolveSheetID(ctx context.Context, target, sheet string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return 0, f.resolveErr
	}
	f.resolveCalls = append(f.resolveCalls, sheet)
	if id, ok := f.sheetIDs[sheet]; ok {
		return id, nil
	}
	for _, sm := range f.metadata.Sheets {
		if sm.Title == sheet {
			return sm.SheetID, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", sheet)
}

// physicalCalls returns the total number of remote calls the client saw.
func (f *fakeClient) physicalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writeCalls) + len(f.clearCalls) + len(f.structuralCalls) + f.metadataCalls + len(f.resolveCalls)
}

func (f *fakeClient) writeCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writeCalls)
}

func (f *fakeClient) structuralCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.structuralCalls)
}

var _ RemoteClient = (*fakeClient)(nil)
