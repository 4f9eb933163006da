package conn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sys/unix"
)

// Connect opens a non-blocking socket to the target and starts connecting.
// The connection is usable once FinishConnect succeeds, which the caller
// drives when the socket polls writable.
//
// A fatal failure counts an error and takes the connection out of the run.
func (c *Conn) Connect() error {
	addr := c.opts.Address

	// requests abandoned by the previous socket are no longer pending
	c.head.Store(c.tail.Load())

	fd, err := unix.Socket(addr.Family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return c.connectFailed(err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		closeFD(fd)
		return c.connectFailed(err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		closeFD(fd)
		return c.connectFailed(err)
	}

	err = unix.Connect(fd, c.sa)
	switch {
	case err == nil:
		c.fd.Store(int32(fd))
		c.phase.Store(int32(connected))
		c.connects.Add(1)
	case errors.Is(err, unix.EINPROGRESS):
		c.fd.Store(int32(fd))
		c.phase.Store(int32(connecting))
	default:
		closeFD(fd)
		return c.connectFailed(err)
	}
	return nil
}

// FinishConnect completes a non-blocking connect once the socket is
// writable.
func (c *Conn) FinishConnect() error {
	fd := c.FD()
	if fd == 0 || !c.Connecting() {
		return nil
	}
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err == nil && soerr != 0 {
		err = unix.Errno(soerr)
	}
	if err != nil {
		c.Close()
		return c.connectFailed(err)
	}
	c.phase.Store(int32(connected))
	c.connects.Add(1)
	return nil
}

func (c *Conn) connectFailed(err error) error {
	if transient(err) {
		return fmt.Errorf("%w: connect: %v", ErrTransient, err)
	}
	c.errs.Add(1)
	c.finished.Store(true)
	return fmt.Errorf("%w: connect: %v", ErrFatal, err)
}

// Send writes one request and records its send time. The whole request must
// go out in one write; a short write aborts the connection.
//
// The caller is responsible for the backlog limit; Send only refuses when
// the ring itself is full.
func (c *Conn) Send(now int64) error {
	fd := c.FD()
	if fd == 0 || !c.Connected() {
		return ErrNotConnected
	}
	if c.Pending() >= PipelineSize-1 {
		return ErrPipelineFull
	}

	data := c.opts.Request.Bytes()
	if c.scratch != nil {
		data = c.opts.Request.Render(c.scratch, c.opts.Sequence.Add(1))
	}

	n, err := unix.Write(fd, data)
	if err != nil {
		if transient(err) {
			return fmt.Errorf("%w: send: %v", ErrTransient, err)
		}
		c.Abort()
		return fmt.Errorf("%w: send: %v", ErrFatal, err)
	}
	if n != len(data) {
		c.Abort()
		return fmt.Errorf("%w: short write of %d/%d bytes", ErrFatal, n, len(data))
	}

	c.push(now)
	return nil
}

// Recv reads whatever is available and frames complete responses. The
// caller must hold the queued flag. recvAt is the time the socket was seen
// readable.
//
// A read of zero bytes means the peer closed the connection; it is closed
// without counting an error and io.EOF is returned.
func (c *Conn) Recv(recvAt int64) error {
	fd := c.FD()
	if fd == 0 {
		return nil
	}
	n, err := unix.Read(fd, c.buf[c.rcnt:])
	if err != nil {
		if transient(err) {
			return nil
		}
		c.errs.Add(1)
		c.Close()
		return fmt.Errorf("%w: recv: %v", ErrFatal, err)
	}
	if n == 0 {
		c.Close()
		return io.EOF
	}
	return c.feed(n, recvAt)
}

// Probe sends a single request on a fresh socket and returns the first
// complete response, giving up after timeout. The probe does not touch the
// counters or the histogram.
func (c *Conn) Probe(ctx context.Context, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer c.Close()

	if err := c.Connect(); err != nil {
		return nil, err
	}
	if c.Connecting() {
		if err := c.waitWritable(ctx); err != nil {
			return nil, err
		}
		if err := c.FinishConnect(); err != nil {
			return nil, err
		}
	}

	data := c.opts.Request.Bytes()
	if c.scratch != nil {
		data = c.opts.Request.Render(c.scratch, c.opts.Sequence.Add(1))
	}
	if n, err := unix.Write(c.FD(), data); err != nil || n != len(data) {
		return nil, fmt.Errorf("%w: probe send: %d/%d bytes: %v", ErrFatal, n, len(data), err)
	}

	rcnt := 0
	for {
		n, err := unix.Read(c.FD(), c.buf[rcnt:])
		switch {
		case err != nil && !transient(err):
			return nil, fmt.Errorf("%w: probe recv: %v", ErrFatal, err)
		case err == nil && n == 0:
			return nil, fmt.Errorf("%w: connection closed before a response", ErrFatal)
		case err == nil:
			rcnt += n
			msg, err := Frame(c.buf[:rcnt])
			if err != nil {
				return nil, err
			}
			if msg.Size > 0 && msg.Size <= rcnt {
				out := make([]byte, msg.Size)
				copy(out, c.buf[:msg.Size])
				return out, nil
			}
			if rcnt == len(c.buf) {
				return nil, errHeadersTooLarge
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for a response: %w", ctx.Err())
		case <-time.After(time.Millisecond):
		}
	}
}

func (c *Conn) waitWritable(ctx context.Context) error {
	fds := []unix.PollFd{{Fd: int32(c.FD()), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(fds, 10)
		if err != nil && !errors.Is(err, unix.EINTR) {
			return fmt.Errorf("%w: poll: %v", ErrFatal, err)
		}
		if n > 0 {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("timed out connecting: %w", ctx.Err())
		}
	}
}

func transient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

func closeFD(fd int) {
	_ = unix.Close(fd)
}
