package indexer

import (
	"fmt"
	"sort"

	"tokenScope/internal/model"
)

// BlockRange is an inclusive block interval.
type BlockRange = model.BlockRange

// SplitRange cuts [from, to] into consecutive windows of at most size blocks.
func SplitRange(from, to, size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block %d is before from block %d", to, from)
	}

	ranges := make([]BlockRange, 0, (to-from)/size+1)
	for cursor := from; ; {
		w := window(cursor, to, size)
		ranges = append(ranges, w)
		if w.To == to {
			return ranges, nil
		}
		cursor = w.To + 1
	}
}

// window returns the range starting at cursor that holds at most size
// blocks and never passes last.
func window(cursor, last, size uint64) BlockRange {
	if size == 0 || last-cursor < size {
		return BlockRange{From: cursor, To: last}
	}
	return BlockRange{From: cursor, To: cursor + size - 1}
}

// MergeRanges sorts ranges and coalesces the ones that overlap or touch.
func MergeRanges(ranges []BlockRange) []BlockRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := append([]BlockRange(nil), ranges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].From < sorted[j].From })

	out := []BlockRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.From <= last.To+1 {
			if r.To > last.To {
				last.To = r.To
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
