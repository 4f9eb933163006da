// Package logging builds the zap logger used for diagnostics. The report
// itself is never logged; it goes to stdout.
package logging

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the logger.
type Options struct {
	// Verbose enables debug output. Without it New returns a no-op logger.
	Verbose bool

	// JSON encodes entries as JSON lines instead of console text.
	JSON bool

	// Output defaults to stderr.
	Output io.Writer
}

// New returns a logger for opts.
func New(opts Options) *zap.Logger {
	if !opts.Verbose {
		return zap.NewNop()
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var enc zapcore.Encoder
	if opts.JSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(cfg)
	} else {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		enc = zapcore.NewConsoleEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), zapcore.DebugLevel)
	return zap.New(core).Named("volley")
}
