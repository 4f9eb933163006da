// Package conn implements one pipelined HTTP/1.1 client connection: a raw
// non-blocking socket, the response framer and the ring of send timestamps
// that matches responses to requests.
//
// A Conn is shared by two goroutines. The sending side (Connect, Send) owns
// the ring tail and the socket setup; the receiving side (Recv) owns the
// receive buffer and the ring head. Whichever side holds the queued flag
// may tear the connection down; the other side asks for it with Abort.
package conn

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wesleyorama2/volley/internal/histogram"
	"github.com/wesleyorama2/volley/internal/request"
)

const (
	// PipelineSize is the capacity of the send timestamp ring. At most
	// PipelineSize-1 requests can be outstanding on one connection.
	PipelineSize = 16

	// BufferSize is the receive buffer size. Bodies larger than this are
	// counted and discarded as they arrive.
	BufferSize = 64000
)

var (
	// ErrFatal marks a failure that makes the connection unusable.
	ErrFatal = errors.New("connection failed")

	// ErrTransient marks a failure that can be retried later.
	ErrTransient = errors.New("temporarily unavailable")

	// ErrProtocol marks a response that could not be framed.
	ErrProtocol = errors.New("protocol error")

	// ErrPipelineFull is returned by Send when the ring has no free slot.
	ErrPipelineFull = errors.New("pipeline full")

	// ErrNotConnected is returned by Send before the socket is writable.
	ErrNotConnected = errors.New("not connected")
)

// State is the run-wide stop state shared by every connection.
type State struct {
	enough atomic.Bool
	done   atomic.Bool
}

// Enough reports whether sending should stop.
func (s *State) Enough() bool { return s.enough.Load() }

// SetEnough stops further sends. Responses still in flight are drained.
func (s *State) SetEnough() { s.enough.Store(true) }

// Done reports whether the run is over.
func (s *State) Done() bool { return s.done.Load() }

// SetDone ends the run. It implies Enough.
func (s *State) SetDone() {
	s.enough.Store(true)
	s.done.Store(true)
}

// Options is the immutable configuration shared by the connections of a run.
type Options struct {
	Address   *request.Address
	Request   *request.Template
	Backlog   int
	KeepAlive bool
	Histogram *histogram.Histogram
	State     *State
	Sequence  *atomic.Uint64

	// Known is a complete response captured by a probe. A buffer starting
	// with exactly these bytes is framed without parsing.
	Known       []byte
	KnownStatus int
}

type phase int32

const (
	idle phase = iota
	connecting
	connected
)

// Conn is one pipelined TCP session.
type Conn struct {
	opts *Options
	sa   unix.Sockaddr

	fd    atomic.Int32
	phase atomic.Int32

	finished atomic.Bool // connect failed, never reconnect
	queued   atomic.Bool
	abort    atomic.Bool
	readyAt  atomic.Int64

	// send side
	pipeline [PipelineSize]atomic.Int64
	tail     atomic.Int32
	scratch  []byte

	// receive side
	head     atomic.Int32
	buf      []byte
	rcnt     int
	expected int
	status   int
	skipped  int

	connects atomic.Int64
	sent     atomic.Int64
	ok       atomic.Int64
	errs     atomic.Int64
	received atomic.Int64
	classes  [6]atomic.Int64
	start    atomic.Int64
	end      atomic.Int64

	mu      sync.Mutex
	latency Latency
}

// New creates an unconnected Conn.
func New(opts *Options) *Conn {
	c := &Conn{
		opts: opts,
		buf:  make([]byte, BufferSize),
	}
	if opts.Address != nil {
		c.sa = opts.Address.Sockaddr()
	}
	if opts.Request != nil && opts.Request.Sequenced() {
		c.scratch = make([]byte, opts.Request.Len())
	}
	return c
}

// FD returns the socket descriptor, or 0 when unconnected.
func (c *Conn) FD() int { return int(c.fd.Load()) }

// Connecting reports whether a non-blocking connect is still in progress.
func (c *Conn) Connecting() bool { return phase(c.phase.Load()) == connecting }

// Connected reports whether the socket is ready for sending.
func (c *Conn) Connected() bool { return phase(c.phase.Load()) == connected }

// Finished reports whether the connection failed to connect and is out of
// the run.
func (c *Conn) Finished() bool { return c.finished.Load() }

// Pending returns the number of requests sent without a response yet.
func (c *Conn) Pending() int {
	return pending(int(c.head.Load()), int(c.tail.Load()))
}

func pending(head, tail int) int {
	n := tail - head
	if n < 0 {
		n += PipelineSize
	}
	return n
}

// CanSend reports whether a request may be sent without exceeding the
// backlog.
func (c *Conn) CanSend() bool {
	return c.Connected() && c.Pending() < c.opts.Backlog
}

// MarkQueued takes the queued flag. It reports false if it was already held.
func (c *Conn) MarkQueued() bool { return c.queued.CompareAndSwap(false, true) }

// ClearQueued releases the queued flag.
func (c *Conn) ClearQueued() { c.queued.Store(false) }

// Queued reports whether the receiving side holds the connection.
func (c *Conn) Queued() bool { return c.queued.Load() }

// MarkReady records when the socket was seen readable.
func (c *Conn) MarkReady(now int64) { c.readyAt.Store(now) }

// ReadyAt returns the last readiness time.
func (c *Conn) ReadyAt() int64 { return c.readyAt.Load() }

// Release ends a round of processing by the holder of the queued flag,
// closing the connection first if another goroutine asked for that.
func (c *Conn) Release() {
	if c.abort.CompareAndSwap(true, false) {
		c.fail()
	}
	c.ClearQueued()
}

// Abort closes the connection and counts an error. If the receiving side
// currently holds the connection the close is deferred to its Release.
func (c *Conn) Abort() {
	if c.MarkQueued() {
		c.fail()
		c.ClearQueued()
		return
	}
	c.abort.Store(true)
}

func (c *Conn) fail() {
	if c.FD() != 0 {
		c.errs.Add(1)
	}
	c.Close()
}

// Close shuts the socket and drops any state for an in-progress response.
// Requests still pending are abandoned and show up as unanswered.
func (c *Conn) Close() {
	if fd := c.fd.Swap(0); fd != 0 {
		closeFD(int(fd))
	}
	c.phase.Store(int32(idle))
	c.rcnt = 0
	c.expected = 0
	c.status = 0
	c.skipped = 0
	c.head.Store(c.tail.Load())
}

// push records a send time at the ring tail.
func (c *Conn) push(sentAt int64) {
	tail := c.tail.Load()
	c.pipeline[tail].Store(sentAt)
	c.tail.Store((tail + 1) % PipelineSize)
	c.start.CompareAndSwap(0, sentAt)
	c.sent.Add(1)
}

// feed frames the n newly read bytes at the end of the buffer.
func (c *Conn) feed(n int, recvAt int64) error {
	c.rcnt += n
	for c.rcnt > 0 {
		if c.expected == 0 {
			if err := c.frame(); err != nil {
				c.errs.Add(1)
				c.Close()
				return err
			}
			if c.expected == 0 {
				if c.rcnt == len(c.buf) {
					c.errs.Add(1)
					c.Close()
					return errHeadersTooLarge
				}
				return nil
			}
		}

		if c.expected > c.rcnt {
			if c.rcnt == len(c.buf) {
				c.skipped += c.rcnt
				c.expected -= c.rcnt
				c.rcnt = 0
			}
			return nil
		}

		size := c.expected
		if c.complete(size+c.skipped, recvAt) {
			return nil
		}
		copy(c.buf, c.buf[size:c.rcnt])
		c.rcnt -= size
		c.expected = 0
		c.skipped = 0
	}
	return nil
}

var errHeadersTooLarge = fmt.Errorf("%w: response headers exceed receive buffer", ErrProtocol)

func (c *Conn) frame() error {
	data := c.buf[:c.rcnt]
	if known := c.opts.Known; len(known) > 0 && bytes.HasPrefix(data, known) {
		c.expected = len(known)
		c.status = c.opts.KnownStatus
		return nil
	}
	msg, err := Frame(data)
	if err != nil {
		return err
	}
	c.expected = msg.Size
	c.status = msg.Status
	return nil
}

// complete accounts one full response of size bytes. It reports whether the
// connection was closed.
func (c *Conn) complete(size int, recvAt int64) bool {
	c.received.Add(int64(size))
	c.end.Store(recvAt)

	head := c.head.Load()
	if pending(int(head), int(c.tail.Load())) == 0 {
		// response without a matching request
		c.errs.Add(1)
	} else {
		lat := recvAt - c.pipeline[head].Load()
		if lat < 0 {
			lat = 0
		}
		if h := c.opts.Histogram; h != nil {
			h.Add(uint64(lat))
		}
		c.mu.Lock()
		c.latency.Add(float64(lat))
		c.mu.Unlock()

		c.ok.Add(1)
		c.classes[statusClass(c.status)].Add(1)
		c.head.Store((head + 1) % PipelineSize)
	}

	stopping := !c.opts.KeepAlive || (c.opts.State != nil && c.opts.State.Enough())
	if stopping && c.Pending() == 0 {
		c.Close()
		return true
	}
	return false
}

func statusClass(code int) int {
	if code < 100 || code > 599 {
		return 0
	}
	return code / 100
}

// Latency accumulates a running mean and sum of squared deviations with
// Welford's method. Values are nanoseconds.
type Latency struct {
	N    int64   `json:"n"`
	Mean float64 `json:"mean"`
	M2   float64 `json:"m2"`
}

// Add folds one value into the accumulator.
func (l *Latency) Add(x float64) {
	l.N++
	d := x - l.Mean
	l.Mean += d / float64(l.N)
	l.M2 += d * (x - l.Mean)
}

// Merge combines two accumulators.
func (l *Latency) Merge(o Latency) {
	if o.N == 0 {
		return
	}
	if l.N == 0 {
		*l = o
		return
	}
	n := l.N + o.N
	d := o.Mean - l.Mean
	l.Mean += d * float64(o.N) / float64(n)
	l.M2 += o.M2 + d*d*float64(l.N)*float64(o.N)/float64(n)
	l.N = n
}

// StdDev returns the population standard deviation.
func (l Latency) StdDev() float64 {
	if l.N == 0 {
		return 0
	}
	return math.Sqrt(l.M2 / float64(l.N))
}

// Stats is a snapshot of a connection's counters.
type Stats struct {
	Connects int64    `json:"connects"`
	Sent     int64    `json:"sent"`
	OK       int64    `json:"ok"`
	Errors   int64    `json:"errors"`
	Bytes    int64    `json:"bytes"`
	Status   [6]int64 `json:"status"` // index by code/100, 0 for unknown
	Latency  Latency  `json:"latency"`
	Start    int64    `json:"start"` // first send, clock nanoseconds
	End      int64    `json:"end"`   // last response, clock nanoseconds
}

// Add sums o into s, merging latency accumulators.
func (s *Stats) Add(o Stats) {
	s.Connects += o.Connects
	s.Sent += o.Sent
	s.OK += o.OK
	s.Errors += o.Errors
	s.Bytes += o.Bytes
	for i := range s.Status {
		s.Status[i] += o.Status[i]
	}
	s.Latency.Merge(o.Latency)
	if o.Start != 0 && (s.Start == 0 || o.Start < s.Start) {
		s.Start = o.Start
	}
	if o.End > s.End {
		s.End = o.End
	}
}

// Stats returns the connection's counters.
func (c *Conn) Stats() Stats {
	s := Stats{
		Connects: c.connects.Load(),
		Sent:     c.sent.Load(),
		OK:       c.ok.Load(),
		Errors:   c.errs.Load(),
		Bytes:    c.received.Load(),
		Start:    c.start.Load(),
		End:      c.end.Load(),
	}
	for i := range c.classes {
		s.Status[i] = c.classes[i].Load()
	}
	c.mu.Lock()
	s.Latency = c.latency
	c.mu.Unlock()
	return s
}

var epoch = time.Now()

// Now returns the clock used for send and receive timestamps: monotonic
// nanoseconds, always positive.
func Now() int64 {
	return int64(time.Since(epoch)) + 1
}
