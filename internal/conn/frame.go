package conn

import (
	"bytes"
	"fmt"
)

var (
	headerEnd        = []byte("\r\n\r\n")
	contentLength    = []byte("Content-Length:")
	transferEncoding = []byte("Transfer-Encoding:")
	chunked          = []byte("chunked")
)

// Message describes the response at the front of a receive buffer.
type Message struct {
	// Size is the full message length, headers included. Zero means the
	// headers are not complete yet.
	Size int

	// HeaderLen is the offset of the blank line ending the headers.
	HeaderLen int

	// Status is the response status code, or 0 if the status line could not
	// be read.
	Status int

	// Chunked is set when Size is only what was buffered.
	Chunked bool
}

// Frame works out the size of the response at the start of buf.
//
// A Content-Length header gives the exact size. A chunked response is
// assumed to be entirely in buf already, since chunk boundaries are not
// decoded; that only holds when every chunk arrives in a single read.
// Without either header the body is empty.
func Frame(buf []byte) (Message, error) {
	end := bytes.Index(buf, headerEnd)
	if end < 0 {
		return Message{}, nil
	}

	msg := Message{HeaderLen: end, Status: parseStatus(buf)}
	headers := buf[:end+2]

	if v := headerValue(headers, contentLength); v != nil {
		n, err := parseLength(v)
		if err != nil {
			return Message{}, err
		}
		msg.Size = end + len(headerEnd) + n
		return msg, nil
	}

	if v := headerValue(headers, transferEncoding); v != nil && isChunked(v) {
		msg.Size = len(buf)
		msg.Chunked = true
		return msg, nil
	}

	msg.Size = end + len(headerEnd)
	return msg, nil
}

// headerValue returns the bytes following name on the first header line that
// starts with name, ignoring case. Leading spaces are skipped and the value
// still ends with "\r\n". Returns nil if no line matches.
func headerValue(headers, name []byte) []byte {
	// skip the status line
	i := bytes.Index(headers, []byte("\r\n"))
	if i < 0 {
		return nil
	}
	for i += 2; i < len(headers); {
		line := headers[i:]
		next := bytes.Index(line, []byte("\r\n"))
		if next < 0 {
			return nil
		}
		if hasPrefixFold(line, name) {
			v := line[len(name):]
			for len(v) > 0 && v[0] == ' ' {
				v = v[1:]
			}
			return v
		}
		i += next + 2
	}
	return nil
}

// isChunked reports whether chunked is the last coding in a
// Transfer-Encoding value such as "gzip, chunked\r\n".
func isChunked(v []byte) bool {
	if i := bytes.IndexByte(v, '\r'); i >= 0 {
		v = v[:i]
	}
	if i := bytes.LastIndexByte(v, ','); i >= 0 {
		v = v[i+1:]
	}
	return bytes.EqualFold(bytes.Trim(v, " \t"), chunked)
}

func hasPrefixFold(s, prefix []byte) bool {
	return len(s) >= len(prefix) && bytes.EqualFold(s[:len(prefix)], prefix)
}

// parseLength reads decimal digits that must be terminated by '\r'.
func parseLength(v []byte) (int, error) {
	n := 0
	i := 0
	for ; i < len(v) && v[i] >= '0' && v[i] <= '9'; i++ {
		n = n*10 + int(v[i]-'0')
		if n > maxLength {
			return 0, fmt.Errorf("%w: content length too large", ErrProtocol)
		}
	}
	if i >= len(v) || v[i] != '\r' {
		return 0, fmt.Errorf("%w: malformed content length", ErrProtocol)
	}
	return n, nil
}

const maxLength = 1 << 40

// parseStatus reads the three digit code from "HTTP/1.x NNN".
func parseStatus(buf []byte) int {
	const prefix = len("HTTP/1.1 ")
	if len(buf) < prefix+3 || !bytes.HasPrefix(buf, []byte("HTTP/")) {
		return 0
	}
	code := 0
	for _, c := range buf[prefix : prefix+3] {
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	return code
}
