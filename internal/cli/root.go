package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/config"
)

var version = "0.1.0"

// NewRootCmd returns the volley command with its flags registered.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "volley [flags] <url>",
		Short:   "A pipelining HTTP/1.1 load generator",
		Version: version,
		Long: `Volley keeps many HTTP/1.1 connections busy against a single URL and
reports throughput, latency and errors.

Timed run:
  volley -d 10s -c 64 -k http://127.0.0.1:8080/

Counted run with pipelining:
  volley -n 100000 -c 16 -b 8 -k http://127.0.0.1:8080/

Metered run at a fixed rate:
  volley -m 5000 -d 30s -c 100 -k http://127.0.0.1:8080/`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromFlags(cmd, args)
			if err != nil {
				return err
			}
			return runBenchmark(cmd, cfg)
		},
	}

	f := cmd.Flags()
	f.StringP("duration", "d", "", "Test duration, e.g. 30s or 2m (default 1s unless --number is set)")
	f.Int64P("number", "n", 0, "Number of requests to send, rounded down to a multiple of --threads")
	f.IntP("threads", "t", config.DefaultThreads, "Number of threads, each running one connection pool")
	f.IntP("connections", "c", 0, "Total connections across all threads (default --threads)")
	f.IntP("backlog", "b", config.DefaultBacklog, fmt.Sprintf("Requests in flight per connection, 1-%d; needs --keep-alive", config.MaxBacklog))
	f.StringP("request", "r", "", "File holding a raw HTTP request to send verbatim")
	f.BoolP("keep-alive", "k", false, "Reuse connections")
	f.StringArrayP("add", "a", nil, "Extra header line, e.g. \"Accept: */*\" (repeatable)")
	f.StringP("post", "p", "", "Request body; switches the method to POST")
	f.String("method", "", "Request method (default GET, or POST with --post)")
	f.BoolP("json", "j", false, "Write the report as JSON")
	f.BoolP("verbose", "v", false, "Print the probe response and diagnostic logs")
	f.Float64P("meter", "m", 0, "Send at this many requests per second instead of as fast as possible")
	f.Float64Slice("percentiles", nil, "Latency percentiles to report (default 50,90,99,99.9)")
	f.Int("graph-width", 0, "Width of the latency graph in columns (0 disables)")
	f.Int("graph-height", 0, "Height of the latency graph in rows (0 disables)")
	f.String("poll-timeout", "", "Readiness wait per poll, e.g. 10ms")
	f.String("config", "", "YAML or JSON configuration file; flags that are set override it")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	f.Bool("hdr", false, "Add the encoded HdrHistogram to the JSON report")
	f.Bool("no-color", false, "Disable colored output")
	f.SortFlags = false

	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}

// configFromFlags loads the config file, if any, and applies every flag the
// user set on top of it. The URL argument wins over the file.
func configFromFlags(cmd *cobra.Command, args []string) (*config.RunConfig, error) {
	f := cmd.Flags()

	cfg := &config.RunConfig{}
	if path, _ := f.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
		cfg = loaded
	}

	if len(args) > 0 {
		cfg.URL = args[0]
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("a URL is required")
	}

	if f.Changed("duration") {
		s, _ := f.GetString("duration")
		d, err := config.ParseDurationString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --duration: %w", err)
		}
		cfg.Duration = config.Duration(d)
	}
	if f.Changed("poll-timeout") {
		s, _ := f.GetString("poll-timeout")
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --poll-timeout: %w", err)
		}
		cfg.PollTimeout = config.Duration(d)
	}
	if f.Changed("number") {
		cfg.Number, _ = f.GetInt64("number")
	}
	if f.Changed("threads") || cfg.Threads == 0 {
		cfg.Threads, _ = f.GetInt("threads")
	}
	if f.Changed("connections") {
		cfg.Connections, _ = f.GetInt("connections")
	}
	if f.Changed("backlog") {
		cfg.Backlog, _ = f.GetInt("backlog")
	}
	if f.Changed("request") {
		cfg.Request, _ = f.GetString("request")
	}
	if f.Changed("keep-alive") {
		cfg.KeepAlive, _ = f.GetBool("keep-alive")
	}
	if f.Changed("add") {
		cfg.Headers, _ = f.GetStringArray("add")
	}
	if f.Changed("post") {
		cfg.Body, _ = f.GetString("post")
	}
	if f.Changed("method") {
		cfg.Method, _ = f.GetString("method")
	}
	if f.Changed("json") {
		cfg.JSON, _ = f.GetBool("json")
	}
	if f.Changed("verbose") {
		cfg.Verbose, _ = f.GetBool("verbose")
	}
	if f.Changed("meter") {
		cfg.Meter, _ = f.GetFloat64("meter")
	}
	if f.Changed("percentiles") {
		cfg.Percentiles, _ = f.GetFloat64Slice("percentiles")
	}
	if f.Changed("graph-width") {
		cfg.Graph.Width, _ = f.GetInt("graph-width")
	}
	if f.Changed("graph-height") {
		cfg.Graph.Height, _ = f.GetInt("graph-height")
	}
	if f.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = f.GetString("metrics-addr")
	}
	if f.Changed("hdr") {
		cfg.HDR, _ = f.GetBool("hdr")
	}
	if f.Changed("no-color") {
		cfg.NoColor, _ = f.GetBool("no-color")
	}
	return cfg, nil
}
