package sheetbatch

import (
	"fmt"
	"strconv"
	"strings"
)

// a1Range is a parsed A1-notation reference. Row and column bounds are
// zero-based half-open; -1 marks an unbounded side.
type a1Range struct {
	Sheet    string
	StartRow int
	EndRow   int
	StartCol int
	EndCol   int
}

// parseA1Range parses references like "Sheet1!A1:B2", "'My Sheet'!A1",
// "A1:C10", "A:C", "1:5" or a bare sheet name.
func parseA1Range(ref string) (a1Range, error) {
	r := a1Range{StartRow: -1, EndRow: -1, StartCol: -1, EndCol: -1}
	if ref == "" {
		return r, fmt.Errorf("empty range reference")
	}

	rest := ref
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		r.Sheet = strings.Trim(ref[:i], "'")
		rest = ref[i+1:]
	}
	if rest == "" {
		// Only a trailing "!" lands here; a bare sheet name carries no
		// separator and parses below.
		return r, fmt.Errorf("invalid range reference %q", ref)
	}

	parts := strings.SplitN(rest, ":", 2)
	startCol, startRow, err := parseA1Cell(parts[0])
	if err != nil {
		if r.Sheet == "" && len(parts) == 1 {
			// A bare token that is not a cell reference is a sheet name.
			r.Sheet = strings.Trim(rest, "'")
			return r, nil
		}
		return r, fmt.Errorf("invalid range reference %q: %w", ref, err)
	}
	r.StartCol = startCol
	r.StartRow = startRow

	if len(parts) == 1 {
		if startCol >= 0 {
			r.EndCol = startCol + 1
		}
		if startRow >= 0 {
			r.EndRow = startRow + 1
		}
		return r, nil
	}

	endCol, endRow, err := parseA1Cell(parts[1])
	if err != nil {
		return r, fmt.Errorf("invalid range reference %q: %w", ref, err)
	}
	if endCol >= 0 {
		r.EndCol = endCol + 1
	}
	if endRow >= 0 {
		r.EndRow = endRow + 1
	}
	return r, nil
}

// parseA1Cell parses one side of an A1 reference into zero-based column
// and row indexes. Either side may be absent ("A" or "1"); absent sides
// come back as -1.
func parseA1Cell(cell string) (col, row int, err error) {
	cell = strings.ReplaceAll(cell, "$", "")
	if cell == "" {
		return -1, -1, fmt.Errorf("empty cell reference")
	}

	i := 0
	for i < len(cell) && cell[i] >= 'A' && cell[i] <= 'Z' {
		i++
	}
	letters, digits := cell[:i], cell[i:]

	col = -1
	if letters != "" {
		for _, c := range letters {
			col = (col+1)*26 + int(c-'A')
		}
	}

	row = -1
	if digits != "" {
		n, convErr := strconv.Atoi(digits)
		if convErr != nil || n < 1 {
			return -1, -1, fmt.Errorf("bad cell reference %q", cell)
		}
		row = n - 1
	}

	if letters == "" && digits == "" {
		return -1, -1, fmt.Errorf("bad cell reference %q", cell)
	}
	return col, row, nil
}

// GridRange renders the range in the structural request shape against a
// resolved sheet id. Unbounded sides are omitted.
func (r a1Range) GridRange(sheetID int64) map[string]any {
	gr := map[string]any{"sheetId": sheetID}
	if r.StartRow >= 0 {
		gr["startRowIndex"] = r.StartRow
	}
	if r.EndRow >= 0 {
		gr["endRowIndex"] = r.EndRow
	}
	if r.StartCol >= 0 {
		gr["startColumnIndex"] = r.StartCol
	}
	if r.EndCol >= 0 {
		gr["endColumnIndex"] = r.EndCol
	}
	return gr
}
