// Package rate schedules open-loop sends at a fixed rate.
package rate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// spinWindow is how close to a deadline Wait stops sleeping and starts
// watching the clock.
const spinWindow = time.Millisecond

// Meter hands out tick times on a strict schedule: each tick is exactly
// 1/rate after the previous one. A consumer that falls behind gets the
// overdue ticks back to back; ticks are never skipped and the schedule is
// never pulled forward.
//
// Meter is safe for concurrent use.
type Meter struct {
	interval time.Duration
	next     time.Time
	mu       sync.Mutex

	ticks    atomic.Int64
	late     atomic.Int64
	waitTime atomic.Int64
}

// NewMeter creates a meter for rate ticks per second. The first tick is due
// immediately. A non-positive rate defaults to 1/s.
func NewMeter(rate float64) *Meter {
	return NewMeterAt(rate, time.Now())
}

// NewMeterAt is NewMeter with an explicit first tick.
func NewMeterAt(rate float64, start time.Time) *Meter {
	if rate <= 0 {
		rate = 1.0
	}
	interval := time.Duration(float64(time.Second) / rate)
	if interval <= 0 {
		interval = 1
	}
	return &Meter{interval: interval, next: start}
}

// Interval returns the time between ticks.
func (m *Meter) Interval() time.Duration { return m.interval }

// Next reserves the next tick and returns when it is due. The returned time
// may be in the past if the consumer is behind.
func (m *Meter) Next() time.Time {
	m.mu.Lock()
	at := m.next
	m.next = m.next.Add(m.interval)
	m.mu.Unlock()

	m.ticks.Add(1)
	return at
}

// Wait reserves the next tick and blocks until it is due. It sleeps until
// shortly before the deadline and spins for the remainder, so ticks land
// closer to the schedule than timer resolution allows.
func (m *Meter) Wait(ctx context.Context) error {
	at := m.Next()
	return m.waitUntil(ctx, at)
}

func (m *Meter) waitUntil(ctx context.Context, at time.Time) error {
	d := time.Until(at)
	if d <= 0 {
		if d < -m.interval {
			m.late.Add(1)
		}
		return ctx.Err()
	}
	m.waitTime.Add(int64(d))

	if d > spinWindow {
		timer := time.NewTimer(d - spinWindow)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	for time.Now().Before(at) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// Stats returns counters describing how the schedule was followed.
func (m *Meter) Stats() MeterStats {
	return MeterStats{
		Interval: m.interval,
		Ticks:    m.ticks.Load(),
		Late:     m.late.Load(),
		WaitTime: time.Duration(m.waitTime.Load()),
	}
}

// MeterStats contains statistics about a meter.
type MeterStats struct {
	Interval time.Duration `json:"interval"` // Time between ticks
	Ticks    int64         `json:"ticks"`    // Ticks handed out
	Late     int64         `json:"late"`     // Ticks that were over a full interval overdue
	WaitTime time.Duration `json:"waitTime"` // Total time spent waiting
}
