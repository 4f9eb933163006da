package request

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
)

// SequenceToken is replaced in every sent request by a unique, zero padded
// sequence number. The number has the same width as the token so rendering
// never changes the request length.
const SequenceToken = "${sequence}"

const sequenceDigits = len(SequenceToken)

// Template holds the literal bytes of a request.
type Template struct {
	data      []byte
	offsets   []int
	keepAlive bool
}

// NewTemplate wraps raw request bytes.
func NewTemplate(data []byte, keepAlive bool) *Template {
	t := &Template{data: data, keepAlive: keepAlive}
	token := []byte(SequenceToken)
	for i := 0; ; {
		j := bytes.Index(data[i:], token)
		if j < 0 {
			break
		}
		t.offsets = append(t.offsets, i+j)
		i += j + len(token)
	}
	return t
}

// BuildOptions describes a synthesized request.
type BuildOptions struct {
	Method    string // defaults to POST with a body, GET otherwise
	Headers   []string
	Body      string
	KeepAlive bool
}

// Build synthesizes a request for target.
func Build(target *Target, opts BuildOptions) *Template {
	method := opts.Method
	if method == "" {
		method = "GET"
		if opts.Body != "" {
			method = "POST"
		}
	}
	connection := "Close"
	if opts.KeepAlive {
		connection = "Keep-Alive"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s HTTP/1.1\r\nHost: %s\r\nConnection: %s\r\n",
		method, target.Path, target.HostHeader(), connection)
	for _, h := range opts.Headers {
		buf.WriteString(h)
		buf.WriteString("\r\n")
	}
	if opts.Body != "" {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(opts.Body))
	}
	buf.WriteString("\r\n")
	buf.WriteString(opts.Body)

	return NewTemplate(buf.Bytes(), opts.KeepAlive)
}

// Load reads a complete request from a file. Keep-alive is enabled when the
// file mentions keep-alive in any letter case.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("request file %s is empty", path)
	}
	keepAlive := bytes.Contains(bytes.ToLower(data), []byte("keep-alive"))
	return NewTemplate(data, keepAlive), nil
}

// Len returns the request length in bytes.
func (t *Template) Len() int { return len(t.data) }

// Bytes returns the request as written, tokens included.
func (t *Template) Bytes() []byte { return t.data }

// KeepAlive reports whether the request keeps its connection open.
func (t *Template) KeepAlive() bool { return t.keepAlive }

// Sequenced reports whether the request carries a sequence token.
func (t *Template) Sequenced() bool { return len(t.offsets) > 0 }

// Render returns the request with every sequence token replaced by seq.
// dst is used as scratch space and must hold at least Len bytes. Requests
// without tokens are returned as is.
func (t *Template) Render(dst []byte, seq uint64) []byte {
	if len(t.offsets) == 0 {
		return t.data
	}
	out := dst[:len(t.data)]
	copy(out, t.data)

	var digits [sequenceDigits]byte
	formatSequence(digits[:], seq)
	for _, off := range t.offsets {
		copy(out[off:], digits[:])
	}
	return out
}

// formatSequence writes seq zero padded into dst, keeping the low digits
// when it does not fit.
func formatSequence(dst []byte, seq uint64) {
	for i := range dst {
		dst[i] = '0'
	}
	s := strconv.FormatUint(seq, 10)
	if len(s) > len(dst) {
		s = s[len(s)-len(dst):]
	}
	copy(dst[len(dst)-len(s):], s)
}
