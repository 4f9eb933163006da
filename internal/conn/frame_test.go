package conn

import (
	"errors"
	"testing"
)

func TestFrame(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantSize   int
		wantStatus int
	}{
		{
			name:       "incomplete headers",
			input:      "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n",
			wantSize:   0,
			wantStatus: 0,
		},
		{
			name:       "content length",
			input:      "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nOK",
			wantSize:   38 + 2,
			wantStatus: 200,
		},
		{
			name:       "content length body not yet read",
			input:      "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\nabc",
			wantSize:   40 + 100,
			wantStatus: 200,
		},
		{
			name:       "lower case header",
			input:      "HTTP/1.1 201 Created\r\ncontent-length: 5\r\n\r\nhello",
			wantSize:   len("HTTP/1.1 201 Created\r\ncontent-length: 5\r\n\r\n") + 5,
			wantStatus: 201,
		},
		{
			name:       "no spaces before length",
			input:      "HTTP/1.1 200 OK\r\nContent-Length:3\r\n\r\nabc",
			wantSize:   len("HTTP/1.1 200 OK\r\nContent-Length:3\r\n\r\n") + 3,
			wantStatus: 200,
		},
		{
			name:       "no length info",
			input:      "HTTP/1.1 204 No Content\r\nServer: x\r\n\r\n",
			wantSize:   len("HTTP/1.1 204 No Content\r\nServer: x\r\n\r\n"),
			wantStatus: 204,
		},
		{
			name:       "chunked takes everything buffered",
			input:      "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n",
			wantSize:   len("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"),
			wantStatus: 200,
		},
		{
			name:       "chunked after another coding",
			input:      "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\n\r\n3\r\nzzz\r\n0\r\n\r\n",
			wantSize:   len("HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip, chunked\r\n\r\n3\r\nzzz\r\n0\r\n\r\n"),
			wantStatus: 200,
		},
		{
			name:       "chunked is not the last coding",
			input:      "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked, gzip\r\n\r\nzzz",
			wantSize:   len("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked, gzip\r\n\r\n"),
			wantStatus: 200,
		},
		{
			name:       "other transfer encoding",
			input:      "HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\n\r\nzzz",
			wantSize:   len("HTTP/1.1 200 OK\r\nTransfer-Encoding: gzip\r\n\r\n"),
			wantStatus: 200,
		},
		{
			name:       "header name only in body is ignored",
			input:      "HTTP/1.1 200 OK\r\nServer: x\r\n\r\nContent-Length: 9\r\n",
			wantSize:   len("HTTP/1.1 200 OK\r\nServer: x\r\n\r\n"),
			wantStatus: 200,
		},
		{
			name:       "not an http status line",
			input:      "garbage\r\n\r\n",
			wantSize:   len("garbage\r\n\r\n"),
			wantStatus: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Frame([]byte(tt.input))
			if err != nil {
				t.Fatalf("Frame() error = %v", err)
			}
			if msg.Size != tt.wantSize {
				t.Errorf("Size = %d, want %d", msg.Size, tt.wantSize)
			}
			if msg.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", msg.Status, tt.wantStatus)
			}
		})
	}
}

func TestFrame_ExpectedSizeIsHeaderEndPlusFourPlusLength(t *testing.T) {
	input := []byte("HTTP/1.1 200 OK\r\nContent-Length: 13\r\n\r\nHello, World!")

	msg, err := Frame(input)
	if err != nil {
		t.Fatalf("Frame() error = %v", err)
	}
	if msg.Size != msg.HeaderLen+4+13 {
		t.Errorf("Size = %d, want HeaderLen(%d)+4+13", msg.Size, msg.HeaderLen)
	}
	if msg.Size != len(input) {
		t.Errorf("Size = %d, want %d", msg.Size, len(input))
	}
}

func TestFrame_MalformedContentLength(t *testing.T) {
	inputs := []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 12x\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: abc\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 5 \r\n\r\n",
	}
	for _, in := range inputs {
		_, err := Frame([]byte(in))
		if !errors.Is(err, ErrProtocol) {
			t.Errorf("Frame(%q) error = %v, want ErrProtocol", in, err)
		}
	}
}
