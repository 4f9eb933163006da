package request

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantPath string
		wantErr  error
	}{
		{"default port", "http://localhost/index.html", "localhost", 80, "/index.html", nil},
		{"explicit port", "http://127.0.0.1:6464/", "127.0.0.1", 6464, "/", nil},
		{"no path", "http://example.com:8080", "example.com", 8080, "/", nil},
		{"no scheme", "example.com/a?b=c", "example.com", 80, "/a?b=c", nil},
		{"upper case scheme", "HTTP://example.com", "example.com", 80, "/", nil},
		{"ipv6", "http://[::1]:9000/x", "::1", 9000, "/x", nil},
		{"ipv6 default port", "http://[::1]/", "::1", 80, "/", nil},
		{"https rejected", "https://example.com", "", 0, "", ErrUnsupportedScheme},
		{"other scheme rejected", "ftp://example.com", "", 0, "", ErrUnsupportedScheme},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target, err := ParseTarget(tt.url)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParseTarget(%q) error = %v, want %v", tt.url, err, tt.wantErr)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, target.Host)
			assert.Equal(t, tt.wantPort, target.Port)
			assert.Equal(t, tt.wantPath, target.Path)
		})
	}
}

func TestParseTarget_Invalid(t *testing.T) {
	for _, raw := range []string{"", "http://", "http://:80/", "http://host:99999/", "http://host:abc"} {
		if _, err := ParseTarget(raw); err == nil {
			t.Errorf("ParseTarget(%q) expected error", raw)
		}
	}
}

func TestTarget_StringAndHostHeader(t *testing.T) {
	target := &Target{Host: "example.com", Port: 80, Path: "/"}
	assert.Equal(t, "http://example.com:80/", target.String())
	assert.Equal(t, "example.com", target.HostHeader())

	target.Port = 8080
	assert.Equal(t, "example.com:8080", target.HostHeader())

	v6 := &Target{Host: "::1", Port: 8080, Path: "/"}
	assert.Equal(t, "[::1]:8080", v6.HostHeader())
}

func TestTarget_ResolveLiteral(t *testing.T) {
	target := &Target{Host: "127.0.0.1", Port: 6464, Path: "/"}

	addr, err := target.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, unix.AF_INET, addr.Family)

	sa, ok := addr.Sockaddr().(*unix.SockaddrInet4)
	require.True(t, ok)
	assert.Equal(t, 6464, sa.Port)
	assert.Equal(t, [4]byte{127, 0, 0, 1}, sa.Addr)
	assert.NotSame(t, sa, addr.Sockaddr(), "each call returns its own value")
}

func TestAddress_SockaddrIPv6(t *testing.T) {
	addr := &Address{Family: unix.AF_INET6, IP: net.ParseIP("::1"), Port: 8080}
	sa, ok := addr.Sockaddr().(*unix.SockaddrInet6)
	require.True(t, ok)
	assert.Equal(t, 8080, sa.Port)
	assert.Equal(t, byte(1), sa.Addr[15])
}

func TestTarget_ResolveFailure(t *testing.T) {
	target := &Target{Host: "no-such-host.invalid", Port: 80, Path: "/"}
	_, err := target.Resolve(context.Background())
	assert.ErrorIs(t, err, ErrResolve)
}

func TestBuild_Get(t *testing.T) {
	target := &Target{Host: "localhost", Port: 6464, Path: "/index.html"}
	tmpl := Build(target, BuildOptions{KeepAlive: true})

	want := "GET /index.html HTTP/1.1\r\nHost: localhost:6464\r\nConnection: Keep-Alive\r\n\r\n"
	assert.Equal(t, want, string(tmpl.Bytes()))
	assert.True(t, tmpl.KeepAlive())
	assert.False(t, tmpl.Sequenced())
}

func TestBuild_PostWithHeaders(t *testing.T) {
	target := &Target{Host: "localhost", Port: 80, Path: "/graphql"}
	tmpl := Build(target, BuildOptions{
		Headers: []string{"Content-Type: application/graphql", "X-Test: 1"},
		Body:    "{ hello }",
	})

	want := "POST /graphql HTTP/1.1\r\nHost: localhost\r\nConnection: Close\r\n" +
		"Content-Type: application/graphql\r\nX-Test: 1\r\n" +
		"Content-Length: 9\r\n\r\n{ hello }"
	assert.Equal(t, want, string(tmpl.Bytes()))
	assert.Equal(t, len(want), tmpl.Len())
	assert.False(t, tmpl.KeepAlive())
}

func TestBuild_ExplicitMethod(t *testing.T) {
	target := &Target{Host: "h", Port: 80, Path: "/"}
	tmpl := Build(target, BuildOptions{Method: "PUT", Body: "x"})
	assert.True(t, strings.HasPrefix(string(tmpl.Bytes()), "PUT / HTTP/1.1\r\n"))
}

func TestRender_Sequence(t *testing.T) {
	tmpl := NewTemplate([]byte("GET /item/${sequence} HTTP/1.1\r\nX-Seq: ${sequence}\r\n\r\n"), true)
	require.True(t, tmpl.Sequenced())

	scratch := make([]byte, tmpl.Len())
	out := tmpl.Render(scratch, 42)

	assert.Equal(t, "GET /item/00000000042 HTTP/1.1\r\nX-Seq: 00000000042\r\n\r\n", string(out))
	assert.Equal(t, tmpl.Len(), len(out))
	// Template itself is untouched.
	assert.Contains(t, string(tmpl.Bytes()), SequenceToken)
}

func TestRender_UniquePerSequence(t *testing.T) {
	tmpl := NewTemplate([]byte("GET /${sequence} HTTP/1.1\r\n\r\n"), false)
	scratch := make([]byte, tmpl.Len())

	seen := make(map[string]bool)
	for seq := uint64(0); seq < 1000; seq++ {
		s := string(tmpl.Render(scratch, seq))
		if seen[s] {
			t.Fatalf("duplicate rendering for sequence %d", seq)
		}
		seen[s] = true
	}
}

func TestRender_NoTokenReturnsTemplate(t *testing.T) {
	data := []byte("GET / HTTP/1.1\r\n\r\n")
	tmpl := NewTemplate(data, false)
	out := tmpl.Render(nil, 7)
	assert.Equal(t, data, out)
}

func TestFormatSequence_Overflow(t *testing.T) {
	dst := make([]byte, sequenceDigits)
	formatSequence(dst, 123456789012345)
	assert.Equal(t, "56789012345", string(dst))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "req.txt")
	content := "GET /${sequence} HTTP/1.1\r\nHost: x\r\nConnection: KEEP-ALIVE\r\n\r\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tmpl, err := Load(path)
	require.NoError(t, err)
	assert.True(t, tmpl.KeepAlive())
	assert.True(t, tmpl.Sequenced())
	assert.Equal(t, content, string(tmpl.Bytes()))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = Load(empty)
	assert.Error(t, err)
}
