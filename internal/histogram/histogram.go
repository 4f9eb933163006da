// Package histogram provides a fixed-memory latency histogram that is safe
// for concurrent writers.
//
// Values are stored in a stack of levels. Level 0 counts every value below
// 256 exactly. Each following level covers a range 16 times wider than the
// previous one using the same 256 slots, so a slot on level k is 16^k units
// wide. Recording a value is a single atomic add; no sample is ever stored.
//
// # Thread Safety
//
// Add may be called from any number of goroutines. Readers walk the slots
// with atomic loads and see a consistent-enough view for reporting; they
// never block writers.
package histogram

import (
	"math"
	"sync/atomic"
	"time"
)

const (
	// SlotCount is the number of slots in each level.
	SlotCount = 256

	// LevelCount is the number of levels. The top level ends at 2^60.
	LevelCount = 14
)

type level struct {
	top   uint64 // exclusive upper bound of the level
	width uint64 // width of one slot
	slots [SlotCount]atomic.Uint64
}

// Histogram counts values (typically nanoseconds) in logarithmically scaled
// levels of linear slots.
type Histogram struct {
	levels [LevelCount]level
}

// New creates an empty histogram.
func New() *Histogram {
	h := &Histogram{}
	width := uint64(1)
	for i := range h.levels {
		h.levels[i].width = width
		h.levels[i].top = width * SlotCount
		width *= 16
	}
	return h
}

// Add records a value. Values beyond the top level are counted in the
// largest slot.
func (h *Histogram) Add(v uint64) {
	for i := range h.levels {
		lv := &h.levels[i]
		if v < lv.top {
			lv.slots[v/lv.width].Add(1)
			return
		}
	}
	h.levels[LevelCount-1].slots[SlotCount-1].Add(1)
}

// AddDuration records a duration in nanoseconds. Negative durations are
// recorded as zero.
func (h *Histogram) AddDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	h.Add(uint64(d))
}

// Count returns the number of recorded values.
func (h *Histogram) Count() uint64 {
	var cnt uint64
	h.walk(func(_, _, n uint64) bool {
		cnt += n
		return true
	})
	return cnt
}

// Quantile returns an estimate of the value below which the fraction p of
// recorded values fall. p is clamped to [0, 1]. The estimate is interpolated
// linearly inside the slot where the running count crosses p*Count().
func (h *Histogram) Quantile(p float64) uint64 {
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	total := h.Count()
	if total == 0 {
		return 0
	}
	target := p * float64(total)

	var (
		cum    uint64
		result uint64
	)
	h.walk(func(low, width, n uint64) bool {
		if float64(cum+n) >= target {
			frac := (target - float64(cum)) / float64(n)
			if frac < 0 {
				frac = 0
			}
			result = low + uint64(frac*float64(width))
			return false
		}
		cum += n
		result = low + width
		return true
	})
	return result
}

// RangeCount returns the number of values recorded in slots whose lower
// bound lies in [min, max).
func (h *Histogram) RangeCount(min, max uint64) uint64 {
	var cnt uint64
	h.walk(func(low, _, n uint64) bool {
		if low >= max {
			return false
		}
		if low >= min {
			cnt += n
		}
		return true
	})
	return cnt
}

// Average returns the mean of the recorded values using slot midpoints.
func (h *Histogram) Average() uint64 {
	var (
		cnt uint64
		sum float64
	)
	h.walk(func(low, width, n uint64) bool {
		cnt += n
		sum += (float64(low) + float64(width-1)/2) * float64(n)
		return true
	})
	if cnt == 0 {
		return 0
	}
	return uint64(sum / float64(cnt))
}

// StdDev returns the standard deviation of the recorded values using slot
// midpoints.
func (h *Histogram) StdDev() float64 {
	mean := float64(h.Average())
	var (
		cnt uint64
		sq  float64
	)
	h.walk(func(low, width, n uint64) bool {
		d := float64(low) + float64(width-1)/2 - mean
		sq += d * d * float64(n)
		cnt += n
		return true
	})
	if cnt == 0 {
		return 0
	}
	return math.Sqrt(sq / float64(cnt))
}

// Min returns the lower bound of the lowest non-empty slot.
func (h *Histogram) Min() uint64 {
	var lo uint64
	h.walk(func(low, _, _ uint64) bool {
		lo = low
		return false
	})
	return lo
}

// Max returns the lower bound of the highest non-empty slot.
func (h *Histogram) Max() uint64 {
	var hi uint64
	h.walk(func(low, _, _ uint64) bool {
		hi = low
		return true
	})
	return hi
}

// Reset zeroes every slot. It must not race with Add if exact zeroing
// matters to the caller.
func (h *Histogram) Reset() {
	for i := range h.levels {
		for j := range h.levels[i].slots {
			h.levels[i].slots[j].Store(0)
		}
	}
}

// Bucket is one non-empty slot as seen by a reader.
type Bucket struct {
	Low   uint64 `json:"low"`
	Width uint64 `json:"width"`
	Count uint64 `json:"count"`
}

// Snapshot returns the non-empty slots in ascending value order.
func (h *Histogram) Snapshot() []Bucket {
	var out []Bucket
	h.walk(func(low, width, n uint64) bool {
		out = append(out, Bucket{Low: low, Width: width, Count: n})
		return true
	})
	return out
}

// walk visits every non-empty slot in ascending value order. The first 16
// slots of a level overlap the level below and are never written, so
// level order is value order. fn returns false to stop the walk.
func (h *Histogram) walk(fn func(low, width, n uint64) bool) {
	for i := range h.levels {
		lv := &h.levels[i]
		for j := range lv.slots {
			n := lv.slots[j].Load()
			if n == 0 {
				continue
			}
			if !fn(uint64(j)*lv.width, lv.width, n) {
				return
			}
		}
	}
}
