// Package engine orchestrates a run: it builds the pools, drives the timed,
// counted or metered schedule, stops the pools and aggregates the result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/conn"
	"github.com/wesleyorama2/volley/internal/histogram"
	"github.com/wesleyorama2/volley/internal/pool"
	"github.com/wesleyorama2/volley/internal/rate"
	"github.com/wesleyorama2/volley/internal/request"
)

const (
	// ProbeTimeout bounds the single request sent before the run.
	ProbeTimeout = 2 * time.Second

	// DrainGrace is how long pools may keep receiving after the run ends.
	DrainGrace = 2 * time.Second

	// StopGrace is how long pools get to exit once the done flag is set
	// before their context is cancelled.
	StopGrace = time.Second

	// WarmupTimeout bounds the wait for connections before a metered run.
	WarmupTimeout = 2 * time.Second

	resolveTimeout = 10 * time.Second
	watchInterval  = time.Millisecond
)

// Options configures an Engine beyond the run configuration.
type Options struct {
	Logger *zap.Logger

	// Output receives the probe response in verbose mode. Defaults to
	// io.Discard.
	Output io.Writer

	// Sequence backs ${sequence} substitution. A fresh counter is used when
	// nil.
	Sequence *atomic.Uint64
}

// Engine runs one load test against one target.
//
// Example usage:
//
//	cfg := &config.RunConfig{URL: "http://127.0.0.1:8080/", Connections: 16}
//	e, _ := engine.New(ctx, cfg, engine.Options{})
//	result, _ := e.Run(ctx)
//	fmt.Printf("%.0f requests/second\n", result.Rate)
type Engine struct {
	cfg    config.RunConfig
	log    *zap.Logger
	out    io.Writer
	target *request.Target

	connOpts *conn.Options
	hist     *histogram.Histogram
	state    *conn.State
	pools    []*pool.Pool

	stopOnce sync.Once
	stopped  chan struct{}
	stops    atomic.Int32

	mu        sync.Mutex
	running   bool
	ran       bool
	startTime time.Time
}

// New resolves the target, prepares the request and creates the pools.
// Nothing is connected until Run.
func New(ctx context.Context, cfg *config.RunConfig, opts Options) (*Engine, error) {
	c := *cfg
	config.ApplyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Sequence == nil {
		opts.Sequence = &atomic.Uint64{}
	}

	target, err := request.ParseTarget(c.URL)
	if err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()
	addr, err := target.Resolve(rctx)
	if err != nil {
		return nil, err
	}

	var tmpl *request.Template
	if c.Request != "" {
		tmpl, err = request.Load(c.Request)
		if err != nil {
			return nil, err
		}
		c.KeepAlive = tmpl.KeepAlive()
		if !c.KeepAlive {
			c.Backlog = 1
		}
	} else {
		tmpl = request.Build(target, request.BuildOptions{
			Method:    c.Method,
			Headers:   c.Headers,
			Body:      c.Body,
			KeepAlive: c.KeepAlive,
		})
	}

	e := &Engine{
		cfg:     c,
		log:     opts.Logger,
		out:     opts.Output,
		target:  target,
		hist:    histogram.New(),
		state:   &conn.State{},
		stopped: make(chan struct{}),
	}
	e.connOpts = &conn.Options{
		Address:   addr,
		Request:   tmpl,
		Backlog:   c.Backlog,
		KeepAlive: c.KeepAlive,
		Histogram: e.hist,
		State:     e.state,
		Sequence:  opts.Sequence,
	}

	var limit int64
	if c.Counted() && !c.Metered() {
		limit = c.PerThreadNumber()
	}
	for i, n := range split(c.Connections, c.Threads) {
		p, err := pool.New(i, pool.Options{
			Conn:        e.connOpts,
			Connections: n,
			PollTimeout: time.Duration(c.PollTimeout),
			Limit:       limit,
			Metered:     c.Metered(),
			Logger:      e.log,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create pool: %w", err)
		}
		e.pools = append(e.pools, p)
	}

	e.log.Debug("engine ready",
		zap.String("target", target.String()),
		zap.String("address", addr.IP.String()),
		zap.Int("threads", c.Threads),
		zap.Int("connections", c.Connections),
		zap.Int("backlog", c.Backlog),
		zap.Bool("keepAlive", c.KeepAlive),
		zap.Bool("sequenced", tmpl.Sequenced()),
	)
	return e, nil
}

// split divides total connections over n pools, the first pools taking the
// remainder.
func split(total, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = total / n
		if i < total%n {
			out[i]++
		}
	}
	return out
}

// Config returns the effective configuration, defaults applied.
func (e *Engine) Config() config.RunConfig { return e.cfg }

// Target returns the parsed target.
func (e *Engine) Target() *request.Target { return e.target }

// Histogram returns the latency histogram shared by every connection.
func (e *Engine) Histogram() *histogram.Histogram { return e.hist }

// IsRunning reports whether Run is in progress.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stop ends the run early. The first call stops sending and lets
// outstanding responses drain; a second call abandons them.
func (e *Engine) Stop() {
	if e.stops.Add(1) == 1 {
		e.state.SetEnough()
	} else {
		e.state.SetDone()
	}
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Stats returns the live counters summed over every pool.
func (e *Engine) Stats() LiveStats {
	var s LiveStats
	for _, p := range e.pools {
		s.Stats.Add(p.Stats())
		s.Dropped += p.Dropped()
		s.Open += p.Open()
	}
	return s
}

// LiveStats is a snapshot taken while the run is in progress.
type LiveStats struct {
	conn.Stats
	Dropped int64 `json:"dropped"`
	Open    int   `json:"open"`
}

// Run executes the test and returns the aggregated result. It returns
// early, with the partial result, when ctx is cancelled.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	if e.ran {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine has already run")
	}
	e.running = true
	e.ran = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	probe := e.probe(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	for _, p := range e.pools {
		p := p
		g.Go(func() error { return p.Run(gctx) })
	}
	finished := make(chan error, 1)
	go func() { finished <- g.Wait() }()

	start := time.Now()
	var meterStats *rate.MeterStats
	if e.cfg.Metered() {
		ms, err := e.meter(runCtx, finished)
		if err != nil && !errors.Is(err, context.Canceled) {
			e.log.Warn("metered run ended early", zap.Error(err))
		}
		meterStats = &ms
	} else {
		e.wait(runCtx, start, finished)
	}

	e.state.SetEnough()
	err := e.drain(runCtx, start, finished, cancel)
	elapsed := time.Since(start)

	res := e.result(elapsed)
	res.Probe = probe
	res.Meter = meterStats
	e.log.Debug("run complete",
		zap.Int64("sent", res.Sent),
		zap.Int64("ok", res.OK),
		zap.Int64("errors", res.Errors),
		zap.Duration("elapsed", elapsed),
	)
	return res, err
}

// probe sends one request ahead of the run and remembers the response so
// identical responses can be recognised without parsing.
func (e *Engine) probe(ctx context.Context) []byte {
	c := conn.New(e.connOpts)
	resp, err := c.Probe(ctx, ProbeTimeout)
	if err != nil {
		e.log.Warn("no response to probe request", zap.String("target", e.target.String()), zap.Error(err))
		return nil
	}
	if e.cfg.Verbose {
		fmt.Fprintf(e.out, "%s\n", resp)
	}

	msg, err := conn.Frame(resp)
	if err == nil && msg.Size == len(resp) && !msg.Chunked {
		e.connOpts.Known = resp
		e.connOpts.KnownStatus = msg.Status
	}
	return resp
}


// wait blocks until the duration has passed, every pool has finished its
// share, Stop is called or ctx is done.
func (e *Engine) wait(ctx context.Context, start time.Time, finished chan error) {
	var deadline <-chan time.Time
	if e.cfg.Timed() {
		timer := time.NewTimer(time.Until(start.Add(time.Duration(e.cfg.Duration))))
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-deadline:
	case <-e.stopped:
	case <-ctx.Done():
	case err := <-finished:
		// hand the result back for drain
		finished <- err
	}
}

// meter sends one request per tick, round robin over every connection,
// until the duration or count is reached.
func (e *Engine) meter(ctx context.Context, finished chan error) (rate.MeterStats, error) {
	if err := e.warmup(ctx); err != nil {
		return rate.MeterStats{}, err
	}

	m := rate.NewMeter(e.cfg.Meter)
	start := time.Now()
	npools := len(e.pools)

	for i := 0; ; i++ {
		if e.state.Enough() {
			return m.Stats(), nil
		}
		if e.cfg.Timed() && time.Since(start) >= time.Duration(e.cfg.Duration) {
			return m.Stats(), nil
		}
		if e.cfg.Counted() && int64(i) >= e.cfg.Number {
			return m.Stats(), nil
		}
		select {
		case err := <-finished:
			finished <- err
			return m.Stats(), err
		case <-e.stopped:
			return m.Stats(), nil
		default:
		}

		if err := m.Wait(ctx); err != nil {
			return m.Stats(), err
		}
		p := e.pools[i%npools]
		if err := p.SendOn(i / npools); err != nil {
			e.log.Debug("metered send dropped", zap.Int("tick", i), zap.Error(err))
		}
	}
}

// warmup waits for every connection to finish connecting, giving up after
// WarmupTimeout.
func (e *Engine) warmup(ctx context.Context) error {
	deadline := time.Now().Add(WarmupTimeout)
	for {
		ready := 0
		for _, p := range e.pools {
			ready += p.Connected()
		}
		if ready >= e.cfg.Connections {
			return nil
		}
		if time.Now().After(deadline) {
			e.log.Warn("not all connections ready", zap.Int("ready", ready), zap.Int("connections", e.cfg.Connections))
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopped:
			return nil
		case <-time.After(watchInterval):
		}
	}
}

// drain waits for the pools to collect outstanding responses. The wait is
// bounded by the run duration plus DrainGrace from start; after that the
// done flag is set, and if the pools still have not exited their context is
// cancelled.
func (e *Engine) drain(ctx context.Context, start time.Time, finished chan error, cancel context.CancelFunc) error {
	limit := DrainGrace
	if e.cfg.Timed() {
		limit = time.Until(start.Add(time.Duration(e.cfg.Duration) + DrainGrace))
		if limit < 0 {
			limit = 0
		}
	}

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
	case <-time.After(limit):
		e.log.Debug("responses still outstanding, stopping pools")
	}

	e.state.SetDone()
	select {
	case err := <-finished:
		return err
	case <-time.After(StopGrace):
		e.log.Warn("pools did not stop in time, cancelling")
		cancel()
		return <-finished
	}
}
