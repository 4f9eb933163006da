package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/logging"
	"github.com/wesleyorama2/volley/internal/report"
	"github.com/wesleyorama2/volley/internal/telemetry"
)

const metricsShutdownTimeout = 2 * time.Second

// runBenchmark creates the engine, runs it to completion and writes the
// report. An interrupt stops sending and drains; a second one abandons the
// drain. Either way the report is still written.
func runBenchmark(cmd *cobra.Command, cfg *config.RunConfig) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	log := logging.New(logging.Options{Verbose: cfg.Verbose, JSON: cfg.JSON, Output: stderr})
	defer log.Sync() //nolint:errcheck

	// keep stdout parseable in JSON mode
	var probeOut io.Writer = stdout
	if cfg.JSON {
		probeOut = stderr
	}

	e, err := engine.New(ctx, cfg, engine.Options{Logger: log, Output: probeOut})
	if err != nil {
		return err
	}
	eff := e.Config()

	if eff.MetricsAddr != "" {
		quantiles := make([]float64, len(eff.Percentiles))
		for i, p := range eff.Percentiles {
			quantiles[i] = p / 100
		}
		srv, err := telemetry.Serve(eff.MetricsAddr, log, telemetry.NewCollector(e, quantiles))
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("failed to stop metrics server", zap.Error(err))
			}
		}()
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	watchCtx, stopWatching := context.WithCancel(ctx)
	defer stopWatching()
	go watchSignals(watchCtx, sigs, e.Stop, log)

	result, err := e.Run(ctx)
	if result == nil {
		return err
	}
	if err != nil {
		log.Warn("run ended with an error", zap.Error(err))
	}

	opts := report.Options{NoColor: eff.NoColor, Graph: eff.Graph, HDR: eff.HDR}
	if eff.JSON {
		return report.WriteJSON(stdout, result, opts)
	}
	return report.WriteText(stdout, result, opts)
}

// watchSignals calls stop once per signal until ctx ends.
func watchSignals(ctx context.Context, sigs <-chan os.Signal, stop func(), log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			log.Debug("stopping", zap.Stringer("signal", sig))
			stop()
		}
	}
}
