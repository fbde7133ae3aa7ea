package sheetbatch

import (
	"context"
)

// RemoteClient is the collaborator that executes physical calls against
// the remote spreadsheet API. Implementations own authentication and
// retry policy; this package never retries a failed call. All methods
// are assumed idempotent-unsafe.
type RemoteClient interface {
	// WriteValues writes each item's values into its range in one
	// physical call and returns one result per item, in order.
	WriteValues(ctx context.Context, target string, items []ValueWrite) ([]WriteResult, error)

	// ClearRanges clears all the given ranges in one physical call.
	ClearRanges(ctx context.Context, target string, ranges []string) (*ClearResult, error)

	// ApplyStructural applies the structural sub-requests in one
	// physical call and returns the replies indexed like the requests.
	// A reply may be nil when the remote API acknowledges a request
	// without a body.
	ApplyStructural(ctx context.Context, target string, requests []map[string]any) ([]map[string]any, error)

	// GetMetadata fetches target metadata. structureOnly restricts the
	// response to sheet structure and properties, never cell content.
	GetMetadata(ctx context.Context, target string, structureOnly bool) (*TargetMetadata, error)

	// ResolveSheetID resolves a sheet name to its numeric id.
	ResolveSheetID(ctx context.Context, target, sheet string) (int64, error)
}

// ValueWrite is one range/values pair inside a batched write call.
type ValueWrite struct {
	Range  string
	Values [][]any
}

// WriteResult is the remote API's per-range acknowledgement of a write.
type WriteResult struct {
	UpdatedRange   string
	UpdatedRows    int
	UpdatedColumns int
	UpdatedCells   int
}

// ClearResult is the remote API's acknowledgement of a batch clear.
type ClearResult struct {
	ClearedRanges []string
}

// TargetMetadata is the structure-only description of a target used for
// snapshot capture. It deliberately excludes cell content so snapshots
// stay within the size cap.
type TargetMetadata struct {
	Target     string          `json:"target"`
	Title      string          `json:"title"`
	Locale     string          `json:"locale,omitempty"`
	TimeZone   string          `json:"timeZone,omitempty"`
	Sheets     []SheetMetadata `json:"sheets"`
	Properties map[string]any  `json:"properties,omitempty"`
}

// SheetMetadata describes one sheet within a target.
type SheetMetadata struct {
	SheetID     int64  `json:"sheetId"`
	Title       string `json:"title"`
	Index       int    `json:"index"`
	RowCount    int    `json:"rowCount"`
	ColumnCount int    `json:"columnCount"`
	Hidden      bool   `json:"hidden,omitempty"`
}
