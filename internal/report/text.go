// Package report renders a run result as a text summary, a JSON document
// and an ASCII latency graph.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
)

// Options controls what a report contains.
type Options struct {
	// Colors defaults to SchemeFor the writer.
	Colors *ColorScheme

	NoColor bool
	Graph   config.Graph

	// HDR adds the encoded HdrHistogram to the JSON document.
	HDR bool
}

// WriteText writes the human readable summary.
func WriteText(w io.Writer, r *engine.Result, opts Options) error {
	cs := opts.Colors
	if cs == nil {
		cs = SchemeFor(w, opts.NoColor)
	}

	var b strings.Builder
	line := func(format string, args ...interface{}) {
		fmt.Fprintf(&b, format+"\n", args...)
	}
	field := func(label, value string) {
		line("  %s %s", cs.Label.Sprintf("%-13s", label+":"), value)
	}

	if r.Errors > 0 {
		line("%s encountered %s errors.", r.URL, cs.Error.Sprint(r.Errors))
	}
	if r.NoResponse > 0 {
		line("%s did not respond to %s requests.", r.URL, cs.Warn.Sprint(r.NoResponse))
	}

	line("%s", cs.Heading.Sprint("Benchmarks for:"))
	field("URL", cs.URL.Sprint(r.URL))
	field("Threads", strconv.Itoa(r.Threads))
	field("Connections", strconv.Itoa(r.Connections))
	field("Duration", fmt.Sprintf("%0.1f seconds", span(r).Seconds()))
	field("Keep-Alive", strconv.FormatBool(r.KeepAlive))
	if r.KeepAlive && r.Backlog > 1 {
		field("Backlog", strconv.Itoa(r.Backlog))
	}

	line("%s", cs.Heading.Sprint("Results:"))
	if r.Errors > 0 {
		field("Failures", cs.Error.Sprint(r.Errors))
	}
	field("Connections", fmt.Sprintf("%d connections established", r.Connects))
	field("Throughput", cs.Good.Sprintf("%d requests/second", int64(r.Rate)))
	field("Latency", fmt.Sprintf("%0.3f +/-%0.3f msecs (and stdev)", millis(r.Mean), millis(r.StdDev)))
	if len(r.Percentiles) > 0 {
		parts := make([]string, 0, len(r.Percentiles))
		for _, p := range r.Percentiles {
			parts = append(parts, fmt.Sprintf("p%s %0.3f", formatPercent(p.P), millis(p.Value)))
		}
		field("Percentiles", strings.Join(parts, ", ")+" msecs")
	}
	field("Received", fmt.Sprintf("%d responses, %d bytes", r.OK, r.Bytes))
	if s := statusSummary(r.Status); s != "" {
		field("Status", s)
	}
	if r.Dropped > 0 {
		field("Dropped", cs.Warn.Sprintf("%d scheduled requests not sent", r.Dropped))
	}

	if opts.Graph.Enabled() && r.Histogram != nil && r.Histogram.Count() > 0 {
		line("%s", cs.Heading.Sprint("Latency distribution:"))
		for _, row := range Graph(r.Histogram, opts.Graph.Width, opts.Graph.Height) {
			line("  %s", cs.Bar.Sprint(row))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// span is the active period of the run, falling back to the wall time.
func span(r *engine.Result) time.Duration {
	if r.Active > 0 {
		return r.Active
	}
	return r.Elapsed
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func formatPercent(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// statusSummary lists responses by status class when any were not 2xx.
func statusSummary(status [6]int64) string {
	var parts []string
	other := false
	for class, n := range status {
		if n == 0 {
			continue
		}
		if class != 2 {
			other = true
		}
		name := "unknown"
		if class > 0 {
			name = fmt.Sprintf("%dxx", class)
		}
		parts = append(parts, fmt.Sprintf("%s %d", name, n))
	}
	if !other {
		return ""
	}
	return strings.Join(parts, ", ")
}
