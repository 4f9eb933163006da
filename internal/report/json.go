package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/wesleyorama2/volley/internal/engine"
)

// Document is the JSON report.
type Document struct {
	Options DocumentOptions `json:"options"`
	Results DocumentResults `json:"results"`
}

// DocumentOptions echoes the run settings.
type DocumentOptions struct {
	URL                  string  `json:"url"`
	Threads              int     `json:"threads"`
	ConnectionsPerThread int     `json:"connectionsPerThread"`
	Duration             float64 `json:"duration"` // seconds
	KeepAlive            bool    `json:"keepAlive"`
	Backlog              int     `json:"backlog"`
}

// DocumentResults holds the measurements. Failures, errors and noResponse
// only appear when non-zero.
type DocumentResults struct {
	Failures            int64              `json:"failures,omitempty"`
	Errors              int64              `json:"errors,omitempty"`
	NoResponse          int64              `json:"noResponse,omitempty"`
	Connections         int64              `json:"connections"`
	RequestsPerSecond   int64              `json:"requestsPerSecond"`
	LatencyMilliseconds float64            `json:"latencyMilliseconds"`
	LatencyStdev        float64            `json:"latencyStdev"`
	Sent                int64              `json:"sent"`
	OK                  int64              `json:"ok"`
	Bytes               int64              `json:"bytes"`
	Dropped             int64              `json:"dropped,omitempty"`
	Status              map[string]int64   `json:"status,omitempty"`
	Percentiles         map[string]float64 `json:"percentiles,omitempty"`
	HDRHistogram        string             `json:"hdrHistogram,omitempty"`
}

// NewDocument builds the JSON report for r.
func NewDocument(r *engine.Result, opts Options) (*Document, error) {
	perThread := r.Connections
	if r.Threads > 0 {
		perThread = r.Connections / r.Threads
	}

	doc := &Document{
		Options: DocumentOptions{
			URL:                  r.URL,
			Threads:              r.Threads,
			ConnectionsPerThread: perThread,
			Duration:             round(span(r).Seconds(), 1),
			KeepAlive:            r.KeepAlive,
			Backlog:              r.Backlog,
		},
		Results: DocumentResults{
			Failures:            r.Errors,
			Errors:              r.Errors,
			NoResponse:          r.NoResponse,
			Connections:         r.Connects,
			RequestsPerSecond:   int64(r.Rate),
			LatencyMilliseconds: round(millis(r.Mean), 3),
			LatencyStdev:        round(millis(r.StdDev), 3),
			Sent:                r.Sent,
			OK:                  r.OK,
			Bytes:               r.Bytes,
			Dropped:             r.Dropped,
		},
	}

	for class, n := range r.Status {
		if n == 0 {
			continue
		}
		if doc.Results.Status == nil {
			doc.Results.Status = map[string]int64{}
		}
		key := "unknown"
		if class > 0 {
			key = fmt.Sprintf("%dxx", class)
		}
		doc.Results.Status[key] = n
	}

	if len(r.Percentiles) > 0 {
		doc.Results.Percentiles = make(map[string]float64, len(r.Percentiles))
		for _, p := range r.Percentiles {
			doc.Results.Percentiles[formatPercent(p.P)] = round(millis(p.Value), 3)
		}
	}

	if opts.HDR && r.Histogram != nil {
		enc, err := r.Histogram.EncodeHDR()
		if err != nil {
			return nil, err
		}
		doc.Results.HDRHistogram = enc
	}
	return doc, nil
}

// WriteJSON writes the JSON report, indented.
func WriteJSON(w io.Writer, r *engine.Result, opts Options) error {
	doc, err := NewDocument(r, opts)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
