// Package request turns a target URL and request options into the literal
// bytes written on every connection.
package request

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrUnsupportedScheme is returned for any URL scheme other than http.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrResolve is returned when the target host cannot be resolved.
	ErrResolve = errors.New("failed to resolve target")
)

const defaultPort = 80

// Target is a parsed http URL.
type Target struct {
	Host string
	Port int
	Path string // always starts with "/"
}

// ParseTarget parses http://host[:port][/path]. The scheme may be omitted.
// https is rejected because TLS is not supported.
func ParseTarget(raw string) (*Target, error) {
	rest := strings.TrimSpace(raw)
	if rest == "" {
		return nil, errors.New("URL is required")
	}

	lower := strings.ToLower(rest)
	switch {
	case strings.HasPrefix(lower, "http://"):
		rest = rest[len("http://"):]
	case strings.HasPrefix(lower, "https://"):
		return nil, fmt.Errorf("%w: TLS (https) is not supported", ErrUnsupportedScheme)
	case strings.Contains(rest, "://"):
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, rest[:strings.Index(rest, "://")])
	}

	hostport, path := rest, "/"
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		hostport, path = rest[:i], rest[i:]
	}

	host, port, err := splitHostPort(hostport)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", raw, err)
	}

	return &Target{Host: host, Port: port, Path: path}, nil
}

func splitHostPort(hostport string) (string, int, error) {
	if hostport == "" {
		return "", 0, errors.New("missing host")
	}

	hasPort := false
	if strings.HasPrefix(hostport, "[") {
		hasPort = strings.Contains(hostport, "]:")
	} else {
		hasPort = strings.Contains(hostport, ":")
	}
	if !hasPort {
		return strings.Trim(hostport, "[]"), defaultPort, nil
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, errors.New("missing host")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, port, nil
}

// HostHeader returns the value for the Host request header.
func (t *Target) HostHeader() string {
	host := t.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if t.Port == defaultPort {
		return host
	}
	return host + ":" + strconv.Itoa(t.Port)
}

// String returns the canonical form of the URL.
func (t *Target) String() string {
	return "http://" + net.JoinHostPort(t.Host, strconv.Itoa(t.Port)) + t.Path
}

// Address is a resolved socket address.
type Address struct {
	Family int
	IP     net.IP
	Port   int
}

// Sockaddr returns a new socket address for a connect call. unix.Connect
// writes into the value it is given, so every connection needs its own.
func (a *Address) Sockaddr() unix.Sockaddr {
	if a.Family == unix.AF_INET {
		sa := &unix.SockaddrInet4{Port: a.Port}
		copy(sa.Addr[:], a.IP.To4())
		return sa
	}
	sa := &unix.SockaddrInet6{Port: a.Port}
	copy(sa.Addr[:], a.IP.To16())
	return sa
}

// Resolve looks up the target host, preferring an IPv4 address.
func (t *Target) Resolve(ctx context.Context) (*Address, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, t.Host)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrResolve, t.Host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w %s: no addresses", ErrResolve, t.Host)
	}

	chosen := addrs[0].IP
	for _, a := range addrs {
		if a.IP.To4() != nil {
			chosen = a.IP
			break
		}
	}

	if ip4 := chosen.To4(); ip4 != nil {
		return &Address{Family: unix.AF_INET, IP: ip4, Port: t.Port}, nil
	}
	return &Address{Family: unix.AF_INET6, IP: chosen.To16(), Port: t.Port}, nil
}
