// Package stubserver runs a minimal pipelining HTTP/1.1 responder on
// loopback for tests. Every request (anything ending in a blank line) is
// answered with the same canned response.
//
// It is for tests only: Start takes a testing.TB and ties the listener to
// the test's lifetime.
package stubserver

import (
	"bytes"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/volley/internal/request"
)

// OK is a minimal keep-alive response.
const OK = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK"

// Server is a running stub.
type Server struct {
	Target *request.Target

	ln       net.Listener
	resp     []byte
	close    bool
	delay    time.Duration
	requests atomic.Int64
	accepted atomic.Int64
}

// Option adjusts a Server before it starts.
type Option func(*Server)

// CloseAfterResponse closes each connection after its first response.
func CloseAfterResponse() Option {
	return func(s *Server) { s.close = true }
}

// Delay holds every response back by d.
func Delay(d time.Duration) Option {
	return func(s *Server) { s.delay = d }
}

// Start listens on 127.0.0.1 and serves resp until the test ends.
func Start(t testing.TB, resp string, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}

	s := &Server{
		ln:   ln,
		resp: []byte(resp),
		Target: &request.Target{
			Host: "127.0.0.1",
			Port: ln.Addr().(*net.TCPAddr).Port,
			Path: "/",
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	t.Cleanup(func() { ln.Close() })

	go s.accept()
	return s
}

// Requests returns the number of requests answered.
func (s *Server) Requests() int64 { return s.requests.Load() }

// Accepted returns the number of connections accepted.
func (s *Server) Accepted() int64 { return s.accepted.Load() }

func (s *Server) accept() {
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		go s.serve(c)
	}
}

func (s *Server) serve(c net.Conn) {
	defer c.Close()

	var pending []byte
	buf := make([]byte, 4096)
	for {
		n, err := c.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.Index(pending, []byte("\r\n\r\n"))
			if i < 0 {
				break
			}
			pending = pending[i+4:]
			if s.delay > 0 {
				time.Sleep(s.delay)
			}
			if _, err := c.Write(s.resp); err != nil {
				return
			}
			s.requests.Add(1)
			if s.close {
				return
			}
		}
	}
}
