// Package pool multiplexes a shard of connections over two goroutines.
//
// The polling goroutine connects, sends while the backlog allows and waits
// for socket readiness with unix.Poll. Readable connections are stamped and
// handed to the processing goroutine through a handoff.Queue, which reads
// and frames the responses. Each goroutine is locked to its own OS thread.
package pool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/wesleyorama2/volley/internal/conn"
	"github.com/wesleyorama2/volley/internal/handoff"
)

const (
	// DefaultPollTimeout bounds each wait for socket readiness.
	DefaultPollTimeout = 10 * time.Millisecond

	// popTimeout bounds each wait for a ready connection so the processing
	// goroutine re-checks the stop conditions.
	popTimeout = 10 * time.Millisecond

	// queueSlack is added to the connection count to size the hand-off queue.
	queueSlack = 4
)

// ErrBusy is returned by SendOn when every connection is being serviced.
var ErrBusy = errors.New("all connections busy")

// Options configures a Pool.
type Options struct {
	// Conn is shared by every connection in the pool.
	Conn *conn.Options

	// Connections is the number of connections the pool owns.
	Connections int

	// PollTimeout bounds each readiness wait. Defaults to DefaultPollTimeout.
	PollTimeout time.Duration

	// Limit stops sending once the pool has sent this many requests. Zero
	// means no limit.
	Limit int64

	// Metered leaves sending to SendOn; the polling goroutine only connects
	// and polls.
	Metered bool

	Logger *zap.Logger
}

// Pool owns a fixed set of connections and the goroutines driving them.
type Pool struct {
	id    int
	opts  Options
	conns []*conn.Conn
	queue *handoff.Queue[*conn.Conn]
	wake  *waker
	log   *zap.Logger

	sent     atomic.Int64
	dropped  atomic.Int64
	finished atomic.Bool
}

// New creates a pool and its connections. Nothing is connected until Run.
func New(id int, opts Options) (*Pool, error) {
	if opts.Connections < 1 {
		return nil, fmt.Errorf("pool %d: at least one connection is required", id)
	}
	if opts.Conn == nil || opts.Conn.State == nil {
		return nil, fmt.Errorf("pool %d: connection options with a run state are required", id)
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	w, err := newWaker()
	if err != nil {
		return nil, err
	}

	p := &Pool{
		id:    id,
		opts:  opts,
		conns: make([]*conn.Conn, opts.Connections),
		queue: handoff.New[*conn.Conn](opts.Connections + queueSlack),
		wake:  w,
		log:   opts.Logger.With(zap.Int("pool", id)),
	}
	for i := range p.conns {
		p.conns[i] = conn.New(opts.Conn)
	}
	return p, nil
}

// Run drives the pool until its share of the run is complete, the run state
// is done or ctx is cancelled. All sockets are closed when it returns.
func (p *Pool) Run(ctx context.Context) error {
	defer p.wake.Close()
	defer p.closeAll()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.finished.Store(true)
		return p.pollLoop(gctx)
	})
	g.Go(func() error {
		return p.recvLoop(gctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) state() *conn.State { return p.opts.Conn.State }

// enough reports whether this pool should stop sending.
func (p *Pool) enough() bool {
	if p.state().Enough() {
		return true
	}
	return p.opts.Limit > 0 && p.sent.Load() >= p.opts.Limit
}

func (p *Pool) pollLoop(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	timeout := int(p.opts.PollTimeout / time.Millisecond)
	fds := make([]unix.PollFd, 0, len(p.conns)+1)
	owners := make([]*conn.Conn, 0, len(p.conns))

	for {
		if ctx.Err() != nil || p.state().Done() {
			return nil
		}
		enough := p.enough()
		if enough && p.Drained() {
			p.log.Debug("pool drained")
			return nil
		}
		if p.allFinished() {
			p.log.Debug("no usable connections left")
			return nil
		}

		fds = append(fds[:0], p.wake.pollFd())
		owners = owners[:0]

		for _, c := range p.conns {
			// owned by the processing goroutine or a metered send
			if c.Queued() {
				continue
			}
			if c.FD() == 0 {
				if enough || c.Finished() {
					continue
				}
				if err := c.Connect(); err != nil {
					p.log.Debug("connect failed", zap.Error(err))
					continue
				}
			}
			if !p.opts.Metered {
				p.fill(c)
			}

			fd := c.FD()
			if fd == 0 {
				continue
			}
			events := int16(unix.POLLIN)
			if c.Connecting() {
				events = unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
			owners = append(owners, c)
		}

		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
				continue
			}
			return fmt.Errorf("pool %d: poll failed: %w", p.id, err)
		}
		if n == 0 {
			continue
		}

		if fds[0].Revents != 0 {
			p.wake.drain()
		}
		now := conn.Now()
		for i, pfd := range fds[1:] {
			p.dispatch(owners[i], pfd, now)
		}
	}
}

// fill sends on c until its backlog is full or the pool has sent enough.
func (p *Pool) fill(c *conn.Conn) {
	for c.CanSend() && !p.enough() {
		if err := c.Send(conn.Now()); err != nil {
			if !errors.Is(err, conn.ErrTransient) {
				p.log.Debug("send failed", zap.Error(err))
			}
			return
		}
		p.sent.Add(1)
	}
}

func (p *Pool) dispatch(c *conn.Conn, pfd unix.PollFd, now int64) {
	re := pfd.Revents
	if re == 0 || re&unix.POLLNVAL != 0 || c.FD() != int(pfd.Fd) {
		return
	}

	if c.Connecting() {
		if err := c.FinishConnect(); err != nil {
			p.log.Debug("connect failed", zap.Error(err))
			return
		}
		if !p.opts.Metered {
			p.fill(c)
		}
		return
	}

	if re&unix.POLLIN != 0 {
		if c.MarkQueued() {
			c.MarkReady(now)
			p.queue.Enqueue(c)
		}
		return
	}

	if re&(unix.POLLERR|unix.POLLHUP) != 0 {
		p.log.Debug("socket error", zap.Int("fd", int(pfd.Fd)), zap.Int16("revents", re))
		c.Abort()
	}
}

func (p *Pool) recvLoop(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		c, ok := p.queue.Pop(popTimeout)
		if !ok {
			if ctx.Err() != nil || p.state().Done() || p.finished.Load() {
				return nil
			}
			continue
		}

		if err := c.Recv(c.ReadyAt()); err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Debug("peer closed connection")
			} else {
				p.log.Debug("receive failed", zap.Error(err))
			}
		}
		c.Release()
		p.wake.Wake()
	}
}

// SendOn sends one request on connection i (modulo the pool size) without
// looking at the backlog. It is meant for metered runs, where the polling
// goroutine does not send. When connection i is busy the next free one is
// used. A send that cannot go out is counted as dropped.
func (p *Pool) SendOn(i int) error {
	n := len(p.conns)
	for k := 0; k < n; k++ {
		c := p.conns[(i+k)%n]
		if !c.MarkQueued() {
			continue
		}
		err := c.Send(conn.Now())
		c.Release()
		p.wake.Wake()
		if err != nil {
			p.dropped.Add(1)
			return err
		}
		p.sent.Add(1)
		return nil
	}
	p.dropped.Add(1)
	return ErrBusy
}

// Len returns the number of connections.
func (p *Pool) Len() int { return len(p.conns) }

// Sent returns the number of requests sent.
func (p *Pool) Sent() int64 { return p.sent.Load() }

// Dropped returns the number of metered sends that could not go out.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

// Finished reports whether the pool's goroutines have stopped polling.
func (p *Pool) Finished() bool { return p.finished.Load() }

// Drained reports whether no open connection has a request in flight.
func (p *Pool) Drained() bool {
	for _, c := range p.conns {
		if c.FD() != 0 && c.Pending() > 0 {
			return false
		}
	}
	return true
}

// Connected returns the number of connections ready to send.
func (p *Pool) Connected() int {
	n := 0
	for _, c := range p.conns {
		if c.Connected() {
			n++
		}
	}
	return n
}

// Open returns the number of connections with an open socket.
func (p *Pool) Open() int {
	n := 0
	for _, c := range p.conns {
		if c.FD() != 0 {
			n++
		}
	}
	return n
}

func (p *Pool) allFinished() bool {
	for _, c := range p.conns {
		if !c.Finished() {
			return false
		}
	}
	return true
}

// Stats sums the counters of every connection in the pool.
func (p *Pool) Stats() conn.Stats {
	var s conn.Stats
	for _, c := range p.conns {
		s.Add(c.Stats())
	}
	return s
}

func (p *Pool) closeAll() {
	for _, c := range p.conns {
		c.Close()
	}
}
