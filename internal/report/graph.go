package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/wesleyorama2/volley/internal/histogram"
)

const (
	barChar   = "#"
	emptyChar = " "
)

// Graph draws the latency distribution between the smallest and largest
// recorded value as width columns of up to height rows, followed by an axis
// line. Each column counts the values in its share of the range.
func Graph(h *histogram.Histogram, width, height int) []string {
	if width < 1 || height < 1 || h.Count() == 0 {
		return nil
	}

	lo, hi := h.Min(), h.Max()+1
	step := (hi - lo) / uint64(width)
	if step == 0 {
		step = 1
	}

	counts := make([]uint64, width)
	var peak uint64
	for i := range counts {
		from := lo + uint64(i)*step
		to := from + step
		if i == width-1 {
			to = hi
		}
		if from >= hi {
			continue
		}
		counts[i] = h.RangeCount(from, to)
		if counts[i] > peak {
			peak = counts[i]
		}
	}

	rows := make([]string, 0, height+2)
	for row := height; row > 0; row-- {
		var sb strings.Builder
		for _, n := range counts {
			// round up so any non-empty column shows at least one row
			bar := int((n*uint64(height) + peak - 1) / peak)
			if bar >= row {
				sb.WriteString(barChar)
			} else {
				sb.WriteString(emptyChar)
			}
		}
		rows = append(rows, "|"+sb.String())
	}
	rows = append(rows, "+"+strings.Repeat("-", width))
	rows = append(rows, axisLabels(time.Duration(lo), time.Duration(hi-1), width+1))
	return rows
}

// axisLabels puts min at the left and max at the right of a width wide line.
func axisLabels(min, max time.Duration, width int) string {
	left := fmt.Sprintf("%.3fms", millis(min))
	right := fmt.Sprintf("%.3fms", millis(max))
	gap := width - len(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return left + strings.Repeat(" ", gap) + right
}
