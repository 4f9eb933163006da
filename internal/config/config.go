// Package config defines the run configuration and loads it from YAML or
// JSON files.
package config

import (
	"fmt"
	"time"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultThreads     = 1
	DefaultConnections = 1
	DefaultBacklog     = 1
	DefaultDuration    = time.Second
	DefaultPollTimeout = 10 * time.Millisecond

	// MaxBacklog is one less than the pipeline ring capacity.
	MaxBacklog = 15

	// MaxPollTimeout bounds the readiness wait.
	MaxPollTimeout = 999 * time.Millisecond
)

// DefaultPercentiles are reported when none are configured.
var DefaultPercentiles = []float64{50, 90, 99, 99.9}

// RunConfig is everything a run needs. It is not modified once the run
// starts.
//
// Example YAML:
//
//	url: http://127.0.0.1:8080/
//	threads: 2
//	connections: 64
//	backlog: 4
//	keepAlive: true
//	duration: 10s
type RunConfig struct {
	// URL of the target, http only
	URL string `json:"url" yaml:"url"`

	// Threads is the number of pools, each with two OS threads
	Threads int `json:"threads,omitempty" yaml:"threads,omitempty"`

	// Connections is the total across all pools
	Connections int `json:"connections,omitempty" yaml:"connections,omitempty"`

	// Backlog is the number of requests allowed in flight per connection
	Backlog int `json:"backlog,omitempty" yaml:"backlog,omitempty"`

	KeepAlive bool `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`

	// Duration of the run. Zero with Number set means no time limit.
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Number of requests to send, rounded down to a multiple of Threads
	Number int64 `json:"number,omitempty" yaml:"number,omitempty"`

	// Meter switches to open-loop sending at this many requests per second
	Meter float64 `json:"meter,omitempty" yaml:"meter,omitempty"`

	// Request is a file holding a raw request, sent verbatim
	Request string `json:"request,omitempty" yaml:"request,omitempty"`

	Method  string   `json:"method,omitempty" yaml:"method,omitempty"`
	Body    string   `json:"body,omitempty" yaml:"body,omitempty"`
	Headers []string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Percentiles []float64 `json:"percentiles,omitempty" yaml:"percentiles,omitempty"`
	Graph       Graph     `json:"graph,omitempty" yaml:"graph,omitempty"`

	PollTimeout Duration `json:"pollTimeout,omitempty" yaml:"pollTimeout,omitempty"`

	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	JSON    bool `json:"json,omitempty" yaml:"json,omitempty"`
	NoColor bool `json:"noColor,omitempty" yaml:"noColor,omitempty"`

	// MetricsAddr serves Prometheus metrics during the run when set
	MetricsAddr string `json:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"`

	// HDR adds an encoded HdrHistogram to the JSON report
	HDR bool `json:"hdr,omitempty" yaml:"hdr,omitempty"`
}

// Graph sizes the latency chart. A zero dimension turns it off.
type Graph struct {
	Width  int `json:"width,omitempty" yaml:"width,omitempty"`
	Height int `json:"height,omitempty" yaml:"height,omitempty"`
}

// Enabled reports whether a graph should be drawn.
func (g Graph) Enabled() bool { return g.Width > 0 && g.Height > 0 }

// ApplyDefaults fills unset fields.
func ApplyDefaults(c *RunConfig) {
	if c.Threads == 0 {
		c.Threads = DefaultThreads
	}
	if c.Connections == 0 {
		c.Connections = c.Threads
		if c.Connections < DefaultConnections {
			c.Connections = DefaultConnections
		}
	}
	if c.Backlog == 0 {
		c.Backlog = DefaultBacklog
	}
	// a request cannot be pipelined behind one that closes the connection;
	// a request file decides keep-alive for itself
	if !c.KeepAlive && c.Request == "" {
		c.Backlog = 1
	}
	if c.Duration == 0 && c.Number == 0 {
		c.Duration = Duration(DefaultDuration)
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = Duration(DefaultPollTimeout)
	}
	if len(c.Percentiles) == 0 {
		c.Percentiles = append([]float64(nil), DefaultPercentiles...)
	}
}

// Timed reports whether the run has a time limit.
func (c *RunConfig) Timed() bool { return c.Duration > 0 }

// Counted reports whether the run stops after a number of requests.
func (c *RunConfig) Counted() bool { return c.Number > 0 }

// Metered reports whether requests are sent on a fixed schedule.
func (c *RunConfig) Metered() bool { return c.Meter > 0 }

// PerThreadNumber is the request count each pool sends in a counted run.
func (c *RunConfig) PerThreadNumber() int64 {
	if c.Threads < 1 {
		return c.Number
	}
	return c.Number / int64(c.Threads)
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if empty.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" {
		s = ""
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}
