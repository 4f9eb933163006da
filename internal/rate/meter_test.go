package rate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNewMeter(t *testing.T) {
	tests := []struct {
		name     string
		rate     float64
		expected time.Duration
	}{
		{"positive rate", 100.0, 10 * time.Millisecond},
		{"fractional rate", 0.5, 2 * time.Second},
		{"zero rate defaults to 1", 0.0, time.Second},
		{"negative rate defaults to 1", -10.0, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMeter(tt.rate)
			if m.Interval() != tt.expected {
				t.Errorf("Interval() = %v, want %v", m.Interval(), tt.expected)
			}
		})
	}
}

func TestMeter_Next_StrictSchedule(t *testing.T) {
	start := time.Now()
	m := NewMeterAt(1000, start)

	for i := 0; i < 10; i++ {
		got := m.Next()
		want := start.Add(time.Duration(i) * time.Millisecond)
		if !got.Equal(want) {
			t.Fatalf("tick %d at %v, want %v", i, got.Sub(start), want.Sub(start))
		}
	}
}

func TestMeter_Next_NoCatchUpSkipping(t *testing.T) {
	// a meter whose schedule started in the past hands out every missed tick
	start := time.Now().Add(-50 * time.Millisecond)
	m := NewMeterAt(1000, start)

	overdue := 0
	for time.Until(m.Next()) <= 0 {
		overdue++
	}
	if overdue < 45 {
		t.Errorf("overdue ticks = %d, want ~50", overdue)
	}
}

func TestMeter_Wait_Rate(t *testing.T) {
	m := NewMeter(100)
	ctx := context.Background()

	start := time.Now()
	ticks := 0
	for time.Since(start) < time.Second {
		if err := m.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
		ticks++
	}

	if ticks < 95 || ticks > 102 {
		t.Errorf("ticks in 1s = %d, want ~100", ticks)
	}
}

func TestMeter_Wait_Precision(t *testing.T) {
	m := NewMeter(200)
	ctx := context.Background()

	_ = m.Wait(ctx)
	at := m.Next()
	if err := m.waitUntil(ctx, at); err != nil {
		t.Fatalf("waitUntil() error = %v", err)
	}
	if late := time.Since(at); late > 2*time.Millisecond {
		t.Errorf("woke %v after the deadline", late)
	}
}

func TestMeter_Wait_RespectsContext(t *testing.T) {
	m := NewMeter(1.0)
	_ = m.Next()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := m.Wait(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want DeadlineExceeded", err)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("Wait() took %v, should return promptly on cancel", elapsed)
	}
}

func TestMeter_Concurrent(t *testing.T) {
	start := time.Now()
	m := NewMeterAt(1e6, start)

	var wg sync.WaitGroup
	seen := sync.Map{}
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				at := m.Next()
				if _, dup := seen.LoadOrStore(at.Sub(start), true); dup {
					t.Errorf("tick %v handed out twice", at.Sub(start))
				}
			}
		}()
	}
	wg.Wait()

	if got := m.Stats().Ticks; got != 800 {
		t.Errorf("Stats().Ticks = %d, want 800", got)
	}
}

func TestMeter_Stats(t *testing.T) {
	m := NewMeterAt(1000, time.Now().Add(-time.Second))
	_ = m.Wait(context.Background())

	s := m.Stats()
	if s.Ticks != 1 {
		t.Errorf("Ticks = %d, want 1", s.Ticks)
	}
	if s.Late != 1 {
		t.Errorf("Late = %d, want 1", s.Late)
	}
	if s.Interval != time.Millisecond {
		t.Errorf("Interval = %v, want 1ms", s.Interval)
	}
}
