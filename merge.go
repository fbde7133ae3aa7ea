package sheetbatch

import (
	"context"
	"fmt"
)

// executeBatch dispatches a drained batch to the merge strategy for its
// kind. Every operation in a batch shares the kind because kind is part
// of the BatchKey.
func (b *Batcher) executeBatch(ctx context.Context, key BatchKey, ops []*pendingOp) ([]*OperationResult, error) {
	switch key.Kind {
	case OpWriteValues:
		return b.mergeWrites(ctx, key.Target, ops)
	case OpAppendValues:
		return b.mergeAppends(ctx, key.Target, ops)
	case OpClearRange:
		return b.mergeClears(ctx, key.Target, ops)
	case OpStructural:
		return b.mergeStructural(ctx, key.Target, ops)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBatchType, key.Kind)
	}
}

// mergeWrites merges value writes into one batch write call. The remote
// response carries one item per write, fanned out positionally.
func (b *Batcher) mergeWrites(ctx context.Context, target string, ops []*pendingOp) ([]*OperationResult, error) {
	items := make([]ValueWrite, len(ops))
	for i, po := range ops {
		items[i] = ValueWrite{Range: po.op.Range, Values: po.op.Values}
	}

	replies, err := b.client.WriteValues(ctx, target, items)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}
	if len(replies) != len(ops) {
		return nil, fmt.Errorf("%w: got %d results for %d operations", ErrBatchFailed, len(replies), len(ops))
	}

	results := make([]*OperationResult, len(ops))
	for i, r := range replies {
		results[i] = &OperationResult{
			UpdatedRange:   r.UpdatedRange,
			UpdatedRows:    r.UpdatedRows,
			UpdatedColumns: r.UpdatedColumns,
			UpdatedCells:   r.UpdatedCells,
		}
	}
	return results, nil
}

// mergeAppends merges appends into one structural call. The remote
// API's native append primitive cannot be batched without races (each
// append's insertion point depends on the ones before it), so every
// operation becomes an appendCells sub-request against its sheet's
// numeric id, resolved once per physical call rather than once per
// operation. The structural primitive returns no per-append
// acknowledgement, so per-operation results are synthesized from the
// submitted values.
func (b *Batcher) mergeAppends(ctx context.Context, target string, ops []*pendingOp) ([]*OperationResult, error) {
	sheetIDs := make(map[string]int64)
	for _, po := range ops {
		if _, ok := sheetIDs[po.op.Sheet]; ok {
			continue
		}
		id, err := b.client.ResolveSheetID(ctx, target, po.op.Sheet)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve sheet %q: %v", ErrBatchFailed, po.op.Sheet, err)
		}
		sheetIDs[po.op.Sheet] = id
	}

	requests := make([]map[string]any, len(ops))
	for i, po := range ops {
		rows := make([]map[string]any, len(po.op.Values))
		for ri, row := range po.op.Values {
			cells := make([]map[string]any, len(row))
			for ci, v := range row {
				cells[ci] = inferCellValue(v)
			}
			rows[ri] = map[string]any{"values": cells}
		}
		requests[i] = map[string]any{
			"appendCells": map[string]any{
				"sheetId": sheetIDs[po.op.Sheet],
				"rows":    rows,
				"fields":  "userEnteredValue",
			},
		}
	}

	if _, err := b.client.ApplyStructural(ctx, target, requests); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}

	results := make([]*OperationResult, len(ops))
	for i, po := range ops {
		rows := len(po.op.Values)
		cols := 0
		cells := 0
		for _, row := range po.op.Values {
			if len(row) > cols {
				cols = len(row)
			}
			cells += len(row)
		}
		results[i] = &OperationResult{
			UpdatedRange:   po.op.Sheet,
			UpdatedRows:    rows,
			UpdatedColumns: cols,
			UpdatedCells:   cells,
		}
	}
	return results, nil
}

// mergeClears merges range clears into one batch clear call. Each
// operation resolves with the cleared range the remote reported for
// its position, falling back to the requested range.
func (b *Batcher) mergeClears(ctx context.Context, target string, ops []*pendingOp) ([]*OperationResult, error) {
	ranges := make([]string, len(ops))
	for i, po := range ops {
		ranges[i] = po.op.Range
	}

	reply, err := b.client.ClearRanges(ctx, target, ranges)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}

	results := make([]*OperationResult, len(ops))
	for i, po := range ops {
		cleared := po.op.Range
		if i < len(reply.ClearedRanges) {
			cleared = reply.ClearedRanges[i]
		}
		results[i] = &OperationResult{UpdatedRange: cleared}
	}
	return results, nil
}

// mergeStructural concatenates every operation's structural
// sub-requests into one physical call and fans the replies back out by
// position: operation i receives the replies for the sub-requests it
// contributed.
func (b *Batcher) mergeStructural(ctx context.Context, target string, ops []*pendingOp) ([]*OperationResult, error) {
	var requests []map[string]any
	offsets := make([]int, len(ops))
	for i, po := range ops {
		offsets[i] = len(requests)
		requests = append(requests, po.op.Requests...)
	}

	replies, err := b.client.ApplyStructural(ctx, target, requests)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchFailed, err)
	}

	results := make([]*OperationResult, len(ops))
	for i, po := range ops {
		start := offsets[i]
		end := start + len(po.op.Requests)
		res := &OperationResult{}
		if start < len(replies) {
			if end > len(replies) {
				end = len(replies)
			}
			res.Replies = replies[start:end]
		}
		results[i] = res
	}
	return results, nil
}
