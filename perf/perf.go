package perf

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/report"
)

// Config describes a run. Zero fields take the command line defaults.
type Config = config.RunConfig

// Result is the outcome of a run.
type Result = engine.Result

// LiveStats is a snapshot of the counters while a run is in progress.
type LiveStats = engine.LiveStats

// Seconds converts a number of seconds to a Config duration.
func Seconds(n float64) config.Duration {
	return config.Duration(time.Duration(n * float64(time.Second)))
}

// LoadConfig reads a YAML or JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// Option adjusts a Runner.
type Option func(*engine.Options)

// WithLogger sets the diagnostic logger. Nothing is logged by default.
func WithLogger(log *zap.Logger) Option {
	return func(o *engine.Options) { o.Logger = log }
}

// WithProbeOutput receives the probe response when Config.Verbose is set.
func WithProbeOutput(w io.Writer) Option {
	return func(o *engine.Options) { o.Output = w }
}

// Runner runs a single benchmark. It cannot be reused.
type Runner struct {
	engine *engine.Engine
}

// NewRunner validates cfg, resolves the target and prepares the
// connections. Nothing is sent until Run.
func NewRunner(ctx context.Context, cfg *Config, opts ...Option) (*Runner, error) {
	var eo engine.Options
	for _, opt := range opts {
		opt(&eo)
	}
	e, err := engine.New(ctx, cfg, eo)
	if err != nil {
		return nil, err
	}
	return &Runner{engine: e}, nil
}

// Run executes the benchmark. On cancellation the partial result is
// returned along with the error.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	return r.engine.Run(ctx)
}

// Stop ends sending. A second call also abandons the drain.
func (r *Runner) Stop() { r.engine.Stop() }

// Stats returns the live counters.
func (r *Runner) Stats() LiveStats { return r.engine.Stats() }

// Config returns the configuration with defaults applied.
func (r *Runner) Config() Config { return r.engine.Config() }

// Run is NewRunner followed by Runner.Run.
func Run(ctx context.Context, cfg *Config, opts ...Option) (*Result, error) {
	r, err := NewRunner(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx)
}

// WriteText writes the human readable summary without colors.
func WriteText(w io.Writer, res *Result) error {
	return report.WriteText(w, res, report.Options{NoColor: true})
}

// WriteJSON writes the JSON report.
func WriteJSON(w io.Writer, res *Result) error {
	return report.WriteJSON(w, res, report.Options{})
}
