package sheetbatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OpKind identifies the mutation type of an operation. Operations are
// coalesced only with others of the same kind against the same target.
type OpKind string

const (
	// OpWriteValues writes values into an explicit range.
	OpWriteValues OpKind = "write_values"
	// OpAppendValues appends rows after the last populated row of a sheet.
	OpAppendValues OpKind = "append_values"
	// OpClearRange clears one range.
	OpClearRange OpKind = "clear_range"
	// OpStructural applies raw structural sub-requests (formatting,
	// sheet management, dimension changes).
	OpStructural OpKind = "structural"
)

// Operation is one logical mutation submitted by a caller. Exactly the
// fields for its kind are consulted: Range+Values for writes, Sheet+
// Values for appends, Range for clears, Requests for structural ops.
type Operation struct {
	// Target is the spreadsheet the operation mutates.
	Target string
	// Kind selects the merge strategy.
	Kind OpKind
	// Range in A1 notation, for writes and clears.
	Range string
	// Values for writes and appends, row-major.
	Values [][]any
	// Sheet name for appends.
	Sheet string
	// Requests for structural operations, in remote API request shape.
	Requests []map[string]any
}

// BatchKey routes operations to the same coalescing queue. Target and
// kind together guarantee every operation in a queue merges the same way.
type BatchKey struct {
	Target string
	Kind   OpKind
}

// OperationResult is the per-operation outcome fanned out from one
// physical call.
type OperationResult struct {
	// UpdatedRange is the range the remote API reports as mutated.
	UpdatedRange string
	// UpdatedRows, UpdatedColumns and UpdatedCells are counts reported
	// by the remote API, or synthesized for appends.
	UpdatedRows    int
	UpdatedColumns int
	UpdatedCells   int
	// Replies holds the raw structural replies for this operation's
	// sub-requests, for structural operations.
	Replies []map[string]any
	// Err records a per-operation failure when the physical call
	// succeeded but did not acknowledge this operation. Nil means the
	// operation was applied.
	Err error
}

// pendingOp is an operation waiting in a queue, owned exclusively by
// that queue until drained.
type pendingOp struct {
	id       string
	op       Operation
	promise  *Promise
	queuedAt time.Time
}

func newPendingOp(op Operation) *pendingOp {
	return &pendingOp{
		id:       uuid.New().String(),
		op:       op,
		promise:  newPromise(),
		queuedAt: time.Now(),
	}
}

// Promise is the completion handle returned by Submit. It resolves at
// most once; Wait can be called by any number of goroutines.
type Promise struct {
	done   chan struct{}
	result *OperationResult
	err    error
}

func newPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// resolve completes the promise successfully. Later calls are ignored.
func (p *Promise) resolve(res *OperationResult) {
	select {
	case <-p.done:
	default:
		p.result = res
		close(p.done)
	}
}

// reject completes the promise with an error. Later calls are ignored.
func (p *Promise) reject(err error) {
	select {
	case <-p.done:
	default:
		p.err = err
		close(p.done)
	}
}

// Wait blocks until the promise resolves or the caller's context is
// done. A shutdown batcher discards its queues, so callers needing a
// bounded wait must pass a context with a deadline.
func (p *Promise) Wait(ctx context.Context) (*OperationResult, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the promise has resolved.
func (p *Promise) Done() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// inferCellValue converts a literal into the typed cell value shape the
// structural API expects. Strings starting with "=" are formulas,
// numeric strings become numbers, everything else stays a string.
func inferCellValue(v any) map[string]any {
	switch val := v.(type) {
	case nil:
		return map[string]any{"userEnteredValue": map[string]any{"stringValue": ""}}
	case bool:
		return map[string]any{"userEnteredValue": map[string]any{"boolValue": val}}
	case int:
		return map[string]any{"userEnteredValue": map[string]any{"numberValue": float64(val)}}
	case int64:
		return map[string]any{"userEnteredValue": map[string]any{"numberValue": float64(val)}}
	case float64:
		return map[string]any{"userEnteredValue": map[string]any{"numberValue": val}}
	case string:
		if strings.HasPrefix(val, "=") {
			return map[string]any{"userEnteredValue": map[string]any{"formulaValue": val}}
		}
		if n, err := strconv.ParseFloat(val, 64); err == nil && val != "" {
			return map[string]any{"userEnteredValue": map[string]any{"numberValue": n}}
		}
		if b, err := strconv.ParseBool(val); err == nil && (val == "TRUE" || val == "FALSE" || val == "true" || val == "false") {
			return map[string]any{"userEnteredValue": map[string]any{"boolValue": b}}
		}
		return map[string]any{"userEnteredValue": map[string]any{"stringValue": val}}
	default:
		return map[string]any{"userEnteredValue": map[string]any{"stringValue": fmt.Sprint(val)}}
	}
}
