package http

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aptutil/aptcore"
	"github.com/aptutil/aptcore/method"
)

// readHeaders parses one response's status line and headers into req.
func readHeaders(br *bufio.Reader, req *requestState) error {
	*req = requestState{enc: encCloses, downloadSize: -1, totalSize: -1}

	status, err := readHeaderLine(br)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(status, "HTTP/") {
		// HTTP/0.9 style body-only answer.
		req.status = 200
		req.haveContent = true
		return fmt.Errorf("%w: pre-HTTP/1.0 response", method.ErrProtocol)
	}
	var code int
	if _, err := fmt.Sscanf(status, "HTTP/%d.%d %d", &req.major, &req.minor, &code); err != nil {
		return fmt.Errorf("%w: bad status line %q", method.ErrProtocol, status)
	}
	req.status = code

	for {
		line, err := readHeaderLine(br)
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		colon := strings.IndexByte(line, ':')
		if colon == -1 {
			return fmt.Errorf("%w: bad header %q", method.ErrProtocol, line)
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		switch strings.ToLower(name) {
		case "content-length":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad Content-Length %q", method.ErrProtocol, value)
			}
			if req.enc == encCloses {
				req.enc = encStream
			}
			req.downloadSize = n
			req.junkSize = n
			req.haveContent = req.haveContent || n > 0
		case "transfer-encoding":
			if strings.EqualFold(value, "chunked") {
				req.enc = encChunked
				req.haveContent = true
			}
		case "content-range":
			// "bytes N-M/T" or "bytes */T"
			var start, end, total int64
			if _, err := fmt.Sscanf(value, "bytes %d-%d/%d", &start, &end, &total); err == nil {
				req.startPos = start
				req.totalSize = total
				req.haveContent = true
			} else if _, err := fmt.Sscanf(value, "bytes */%d", &total); err == nil {
				req.totalSize = total
			} else {
				return fmt.Errorf("%w: bad Content-Range %q", method.ErrProtocol, value)
			}
		case "location":
			req.location = value
		case "last-modified":
			if t, err := aptcore.ParseRFC1123(value); err == nil {
				req.date = t
			}
		case "accept-ranges":
			req.acceptRanges = value
		case "connection":
			if strings.EqualFold(value, "close") {
				req.connClose = true
			}
		}
	}
	return nil
}

func readHeaderLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return "", fmt.Errorf("%w: connection closed before response", method.ErrProtocol)
		}
		if !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: reading response: %v", method.ErrProtocol, err)
		}
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// bodyReader returns a reader delimited per the response's encoding.
func bodyReader(br *bufio.Reader, req *requestState) io.Reader {
	switch req.enc {
	case encChunked:
		return &chunkedReader{br: br}
	case encStream:
		n := req.downloadSize
		if n < 0 {
			n = 0
		}
		return io.LimitReader(br, n)
	default:
		return br
	}
}

// chunkedReader decodes RFC 7230 chunked framing, including the
// trailing blank line after the last chunk.
type chunkedReader struct {
	br      *bufio.Reader
	remain  int64
	done    bool
	started bool
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.remain == 0 {
		if c.started {
			// Chunk data is followed by CRLF.
			if err := c.expectCRLF(); err != nil {
				return 0, err
			}
		}
		c.started = true
		line, err := c.br.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("%w: truncated chunk header: %v", method.ErrProtocol, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if i := strings.IndexByte(line, ';'); i != -1 {
			line = line[:i]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: bad chunk size %q", method.ErrProtocol, line)
		}
		if size == 0 {
			// Trailers until the blank line.
			for {
				t, err := c.br.ReadString('\n')
				if err != nil {
					return 0, fmt.Errorf("%w: truncated chunk trailer: %v", method.ErrProtocol, err)
				}
				if t == "\r\n" || t == "\n" {
					break
				}
			}
			c.done = true
			return 0, io.EOF
		}
		c.remain = size
	}
	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.br.Read(p)
	c.remain -= int64(n)
	if err != nil && errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: truncated chunked body", method.ErrProtocol)
	}
	return n, err
}

func (c *chunkedReader) expectCRLF() error {
	b1, err := c.br.ReadByte()
	if err != nil {
		return fmt.Errorf("%w: truncated chunk: %v", method.ErrProtocol, err)
	}
	if b1 == '\r' {
		b1, err = c.br.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: truncated chunk: %v", method.ErrProtocol, err)
		}
	}
	if b1 != '\n' {
		return fmt.Errorf("%w: chunk not terminated by CRLF", method.ErrProtocol)
	}
	return nil
}
