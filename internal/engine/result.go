package engine

import (
	"time"

	"github.com/wesleyorama2/volley/internal/conn"
	"github.com/wesleyorama2/volley/internal/histogram"
	"github.com/wesleyorama2/volley/internal/rate"
)

// Result is the outcome of a run.
type Result struct {
	URL         string        `json:"url"`
	Threads     int           `json:"threads"`
	Connections int           `json:"connections"`
	Backlog     int           `json:"backlog"`
	KeepAlive   bool          `json:"keepAlive"`
	Duration    time.Duration `json:"duration"` // configured, zero for an untimed run

	Connects   int64    `json:"connects"`
	Sent       int64    `json:"sent"`
	OK         int64    `json:"ok"`
	Errors     int64    `json:"errors"`
	NoResponse int64    `json:"noResponse"`
	Dropped    int64    `json:"dropped"`
	Bytes      int64    `json:"bytes"`
	Status     [6]int64 `json:"status"` // by code/100, 0 for unreadable

	Start time.Time `json:"start"`

	// Elapsed is the wall time of the run, drain included.
	Elapsed time.Duration `json:"elapsed"`

	// Active is the span from the first send to the last response.
	Active time.Duration `json:"active"`

	// Rate is responses per second over Active.
	Rate float64 `json:"rate"`

	// Mean and StdDev are exact, from the per-connection accumulators.
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`

	Percentiles []Percentile `json:"percentiles"`

	Histogram *histogram.Histogram `json:"-"`
	Probe     []byte               `json:"-"`
	Meter     *rate.MeterStats     `json:"meter,omitempty"`
}

// Percentile is one requested latency percentile.
type Percentile struct {
	P     float64       `json:"p"` // 0-100
	Value time.Duration `json:"value"`
}

// Unanswered reports whether some requests got neither a response nor an
// error.
func (r *Result) Unanswered() bool { return r.NoResponse > 0 }

// Percentile returns the latency at percentile p (0-100). Percentiles not
// computed with the result are read from the histogram.
func (r *Result) Percentile(p float64) time.Duration {
	for _, pc := range r.Percentiles {
		if pc.P == p {
			return pc.Value
		}
	}
	if r.Histogram == nil {
		return 0
	}
	return time.Duration(r.Histogram.Quantile(p / 100))
}

func (e *Engine) result(elapsed time.Duration) *Result {
	live := e.Stats()
	s := live.Stats

	r := &Result{
		URL:         e.target.String(),
		Threads:     e.cfg.Threads,
		Connections: e.cfg.Connections,
		Backlog:     e.cfg.Backlog,
		KeepAlive:   e.cfg.KeepAlive,
		Duration:    time.Duration(e.cfg.Duration),
		Connects:    s.Connects,
		Sent:        s.Sent,
		OK:          s.OK,
		Errors:      s.Errors,
		Dropped:     live.Dropped,
		Bytes:       s.Bytes,
		Status:      s.Status,
		Start:       e.startTime,
		Elapsed:     elapsed,
		Mean:        time.Duration(s.Latency.Mean),
		StdDev:      time.Duration(s.Latency.StdDev()),
		Histogram:   e.hist,
	}
	r.NoResponse = noResponse(s)

	if s.Start > 0 && s.End > s.Start {
		r.Active = time.Duration(s.End - s.Start)
	}
	span := r.Active
	if span <= 0 {
		span = elapsed
	}
	if span > 0 {
		r.Rate = float64(s.OK) / span.Seconds()
	}

	for _, p := range e.cfg.Percentiles {
		r.Percentiles = append(r.Percentiles, Percentile{
			P:     p,
			Value: time.Duration(e.hist.Quantile(p / 100)),
		})
	}
	return r
}

// noResponse counts requests that were sent but never answered. Errors
// that are not tied to a request, such as failed connects, can make the
// difference negative.
func noResponse(s conn.Stats) int64 {
	n := s.Sent - s.OK - s.Errors
	if n < 0 {
		return 0
	}
	return n
}
