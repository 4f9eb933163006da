package pool

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// waker interrupts a blocked unix.Poll through a self-pipe.
type waker struct {
	r, w int

	mu     sync.RWMutex
	closed bool
}

func newWaker() (*waker, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("failed to create wake pipe: %w", err)
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("failed to configure wake pipe: %w", err)
		}
	}
	return &waker{r: fds[0], w: fds[1]}, nil
}

// Wake makes the next or current poll on the read end return. A full pipe
// already guarantees that, so EAGAIN is ignored.
func (w *waker) Wake() {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.closed {
		_, _ = unix.Write(w.w, []byte{1})
	}
}

// drain empties the pipe after a wake-up.
func (w *waker) drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(w.r, buf[:])
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (w *waker) pollFd() unix.PollFd {
	return unix.PollFd{Fd: int32(w.r), Events: unix.POLLIN}
}

// Close is idempotent; Wake after Close does nothing.
func (w *waker) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	unix.Close(w.r)
	unix.Close(w.w)
}
